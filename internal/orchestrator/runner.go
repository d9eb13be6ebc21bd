// Package orchestrator owns the active-position and working-order indices and
// drives selection, execution, monitoring and housekeeping once per tick.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_spreads/internal/broker"
	"github.com/eddiefleurent/scranton_spreads/internal/events"
	"github.com/eddiefleurent/scranton_spreads/internal/execution"
	"github.com/eddiefleurent/scranton_spreads/internal/models"
	"github.com/eddiefleurent/scranton_spreads/internal/monitor"
	"github.com/eddiefleurent/scranton_spreads/internal/pricing"
	"github.com/eddiefleurent/scranton_spreads/internal/retry"
	"github.com/eddiefleurent/scranton_spreads/internal/storage"
	"github.com/eddiefleurent/scranton_spreads/internal/strategy"
)

// ErrUnknownFill is returned for a fill no working order owns.
var ErrUnknownFill = errors.New("fill does not belong to a working order")

// Market is the option-chain collaborator.
type Market interface {
	Expiries(now time.Time) []time.Time
	Chain(ctx context.Context, underlying string, now time.Time) ([]*models.Contract, error)
	Contract(symbol string) (*models.Contract, bool)
}

// Settler books expired holdings at their settlement value. The paper broker
// implements it; live brokers settle on their own.
type Settler interface {
	Settle(symbol string, value float64)
}

// Deps are the collaborators of a Runner. Fills and Settler are optional.
type Deps struct {
	Market    Market
	Broker    broker.Broker
	Account   broker.Account
	Fills     broker.FillSource
	Settler   Settler
	Engine    *execution.Engine
	Canceller *retry.Client
	Monitor   *monitor.Monitor
	Pricer    pricing.Pricer
	Storage   storage.Interface
	Events    *events.Emitter
	Logger    logrus.FieldLogger
}

// Config tunes the runner.
type Config struct {
	// IncludeCancelled keeps cancelled positions in History.
	IncludeCancelled bool
	// CallTimeout bounds each account query.
	CallTimeout time.Duration
}

// Runner is the single owner of the position indices. Every exported method
// takes the runner lock, so a dashboard may read snapshots while the tick
// loop runs.
type Runner struct {
	mu sync.RWMutex

	strategies []*strategy.Strategy
	byName     map[string]*strategy.Strategy

	market    Market
	broker    broker.Broker
	account   broker.Account
	fills     broker.FillSource
	settler   Settler
	engine    *execution.Engine
	canceller *retry.Client
	monitor   *monitor.Monitor
	pricer    pricing.Pricer
	storage   storage.Interface
	events    *events.Emitter
	logger    logrus.FieldLogger
	config    Config

	positions     map[string]*models.Position
	working       map[string]*models.WorkingOrder
	lastOpened    map[string]time.Time
	lastClosedTag map[string]string
}

// New creates a runner for the given strategies. Strategy names must be
// unique: positions find their strategy again by name after a restart.
func New(strategies []*strategy.Strategy, deps Deps, cfg Config) (*Runner, error) {
	if deps.Market == nil || deps.Broker == nil || deps.Account == nil || deps.Storage == nil {
		return nil, errors.New("orchestrator: market, broker, account and storage are required")
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Canceller == nil {
		deps.Canceller = retry.NewClient(deps.Broker, deps.Logger)
	}
	if deps.Engine == nil {
		deps.Engine = execution.NewEngine(deps.Broker, deps.Canceller, deps.Logger)
	}
	if deps.Monitor == nil {
		deps.Monitor = monitor.New(deps.Logger, time.Time{})
	}
	if deps.Events == nil {
		deps.Events = events.NewEmitter(events.Noop{}, deps.Logger)
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}

	byName := make(map[string]*strategy.Strategy, len(strategies))
	for _, s := range strategies {
		if _, dup := byName[s.Name()]; dup {
			return nil, fmt.Errorf("orchestrator: duplicate strategy name %q", s.Name())
		}
		byName[s.Name()] = s
	}

	return &Runner{
		strategies:    strategies,
		byName:        byName,
		market:        deps.Market,
		broker:        deps.Broker,
		account:       deps.Account,
		fills:         deps.Fills,
		settler:       deps.Settler,
		engine:        deps.Engine,
		canceller:     deps.Canceller,
		monitor:       deps.Monitor,
		pricer:        deps.Pricer,
		storage:       deps.Storage,
		events:        deps.Events,
		logger:        deps.Logger.WithField("component", "runner"),
		config:        cfg,
		positions:     make(map[string]*models.Position),
		working:       make(map[string]*models.WorkingOrder),
		lastOpened:    make(map[string]time.Time),
		lastClosedTag: make(map[string]string),
	}, nil
}

// Tick runs one scheduling cycle: fills, housekeeping, risk monitoring, new
// entries and finally execution, so a close triggered this tick is routed
// this tick.
func (r *Runner) Tick(ctx context.Context, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refreshQuotes()

	var errs []error
	if r.fills != nil {
		fills, err := r.fills.Match(ctx, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("matching fills: %w", err))
		}
		for _, f := range fills {
			if err := r.handleFill(ctx, f); err != nil {
				r.logger.WithError(err).WithField("tag", f.Tag).Warn("fill not applied")
			}
		}
	}

	r.housekeeping(ctx, now)
	r.evaluateRisk(ctx, now)

	for _, s := range r.strategies {
		if err := r.enter(ctx, s, now); err != nil {
			errs = append(errs, fmt.Errorf("strategy %s: %w", s.Name(), err))
		}
	}

	r.advanceExecution(ctx, now)
	return errors.Join(errs...)
}

// refreshQuotes swaps every leg's contract for the market's current quote.
func (r *Runner) refreshQuotes() {
	for _, pos := range r.positions {
		for i := range pos.Legs {
			if c, ok := r.market.Contract(pos.Legs[i].Symbol); ok {
				pos.Legs[i].Contract = c
			}
		}
	}
}

// active returns the indexed positions ordered by creation time.
func (r *Runner) active() []*models.Position {
	out := make([]*models.Position, 0, len(r.positions))
	for _, pos := range r.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// activeFor returns the indexed positions of one strategy.
func (r *Runner) activeFor(name string) []*models.Position {
	var out []*models.Position
	for _, pos := range r.active() {
		if pos.StrategyName == name {
			out = append(out, pos)
		}
	}
	return out
}

func (r *Runner) track(pos *models.Position, wo *models.WorkingOrder) {
	r.positions[pos.ID] = pos
	if wo != nil {
		r.working[pos.ID] = wo
	}
}

func (r *Runner) persist(pos *models.Position) {
	if err := r.storage.SavePosition(pos); err != nil {
		r.logger.WithError(err).WithField("position", pos.ID).Warn("failed to persist position")
	}
}

// retire archives a terminal position and drops it from both indices.
func (r *Runner) retire(ctx context.Context, pos *models.Position, t events.Type, now time.Time) {
	if _, ok := r.positions[pos.ID]; !ok {
		r.logger.WithField("position", pos.ID).Warn("retiring a position that is not indexed")
		return
	}
	delete(r.positions, pos.ID)
	delete(r.working, pos.ID)

	if err := r.storage.ClosePosition(pos); err != nil {
		r.logger.WithError(err).WithField("position", pos.ID).Warn("failed to archive position")
	}
	if pos.State == models.StateClosed {
		r.lastClosedTag[pos.StrategyName] = pos.Tag
	}
	if f, ok := pos.Strategy.(interface{ Forget(id string) }); ok {
		f.Forget(pos.ID)
	}
	r.events.Emit(ctx, events.New(t, pos, now))
}

// Positions returns snapshots of the active positions.
func (r *Runner) Positions() []models.Position {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := r.active()
	out := make([]models.Position, 0, len(active))
	for _, pos := range active {
		out = append(out, snapshot(pos))
	}
	return out
}

// Position returns a snapshot of one active position.
func (r *Runner) Position(id string) (models.Position, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pos, ok := r.positions[id]
	if !ok {
		return models.Position{}, false
	}
	return snapshot(pos), true
}

// WorkingOrders returns copies of the working orders, oldest first.
func (r *Runner) WorkingOrders() []models.WorkingOrder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.WorkingOrder, 0, len(r.working))
	for _, wo := range r.working {
		out = append(out, *wo)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].PositionID < out[j].PositionID
	})
	return out
}

// History returns the archived positions. Cancelled positions are included
// only with IncludeCancelled.
func (r *Runner) History() ([]models.Position, error) {
	all, err := r.storage.GetHistory()
	if err != nil {
		return nil, err
	}
	if r.config.IncludeCancelled {
		return all, nil
	}
	out := make([]models.Position, 0, len(all))
	for i := range all {
		if all[i].State != models.StateCancelled {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// Statistics returns the closed-trade statistics.
func (r *Runner) Statistics() (*storage.Statistics, error) {
	return r.storage.GetStatistics()
}

// DailyPnL returns the P&L booked on date (YYYY-MM-DD).
func (r *Runner) DailyPnL(date string) (float64, error) {
	return r.storage.GetDailyPnL(date)
}

func snapshot(pos *models.Position) models.Position {
	cp := *pos
	cp.StateMachine = nil
	cp.Strategy = nil
	cp.Legs = append([]models.Leg(nil), pos.Legs...)
	for i := range cp.Legs {
		cp.Legs[i].Contract = nil
	}
	cp.CloseReasons = append([]string(nil), pos.CloseReasons...)
	cp.PriceProgress = append([]float64(nil), pos.PriceProgress...)
	return cp
}
