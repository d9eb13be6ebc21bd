package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_spreads/internal/broker"
	"github.com/eddiefleurent/scranton_spreads/internal/events"
	"github.com/eddiefleurent/scranton_spreads/internal/execution"
	"github.com/eddiefleurent/scranton_spreads/internal/models"
	"github.com/eddiefleurent/scranton_spreads/internal/monitor"
	"github.com/eddiefleurent/scranton_spreads/internal/util"
)

// Cancellation reasons recorded on the position.
const (
	ReasonOrderExpired = "Order expired"
	ReasonLegExpired   = "Leg expired"
)

// AdvanceExecution moves every working order forward by at most one broker
// action.
func (r *Runner) AdvanceExecution(ctx context.Context, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshQuotes()
	r.advanceExecution(ctx, now)
}

func (r *Runner) workingOrders() []*models.WorkingOrder {
	out := make([]*models.WorkingOrder, 0, len(r.working))
	for _, wo := range r.working {
		out = append(out, wo)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].PositionID < out[j].PositionID
	})
	return out
}

func (r *Runner) advanceExecution(ctx context.Context, now time.Time) {
	for _, wo := range r.workingOrders() {
		pos, ok := r.positions[wo.PositionID]
		if !ok {
			r.logger.WithField("position", wo.PositionID).Warn("working order without an active position, dropping it")
			delete(r.working, wo.PositionID)
			continue
		}
		params := pos.Params()
		if params == nil || !execution.ShouldRun(params.SpeedOfFill, now) {
			continue
		}

		flagged := wo.NeedsAttention
		outcome, err := r.engine.Advance(ctx, pos, wo, now)
		if err != nil {
			r.logger.WithError(err).WithFields(logrus.Fields{
				"position": pos.ID,
				"tag":      pos.Tag,
			}).Warn("execution step failed")
			continue
		}

		switch {
		case outcome == execution.OutcomeSubmitted:
			r.events.Emit(ctx, events.New(events.OrderSubmitted, pos, now))
		case outcome.Retried():
			r.events.Emit(ctx, events.New(events.OrderRetried, pos, now))
		case outcome == execution.OutcomeExhausted && !flagged:
			ev := events.New(events.OrderAttention, pos, now)
			ev.Message = fmt.Sprintf("%s order gave up after %d retries", wo.Kind, wo.Retries)
			r.events.Emit(ctx, ev)
		case outcome == execution.OutcomeWaiting || outcome == execution.OutcomeSkipped || outcome == execution.OutcomeExhausted:
			continue
		}
		r.persist(pos)
	}
}

// EvaluateRisk checks every open position that is due and hands the ones
// that must close to execution.
func (r *Runner) EvaluateRisk(ctx context.Context, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshQuotes()
	r.evaluateRisk(ctx, now)
}

func (r *Runner) evaluateRisk(ctx context.Context, now time.Time) {
	for _, pos := range r.active() {
		params := pos.Params()
		if params == nil || pos.State != models.StateOpen || !monitor.Due(params, now) {
			continue
		}
		d := r.monitor.Evaluate(pos, now)
		if !d.Close {
			continue
		}
		wo, err := r.monitor.Close(pos, d, now)
		if err != nil {
			r.logger.WithError(err).WithField("position", pos.ID).Warn("close not triggered")
			continue
		}
		r.working[pos.ID] = wo
		r.persist(pos)

		ev := events.New(events.CloseTriggered, pos, now)
		ev.Message = fmt.Sprintf("%v", pos.CloseReasons)
		r.events.Emit(ctx, ev)
	}
}

// HandleFill applies one broker execution to the position whose working
// order owns the handle. A fill completing the close side archives the
// position.
func (r *Runner) HandleFill(ctx context.Context, fill broker.Fill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handleFill(ctx, fill)
}

func (r *Runner) handleFill(ctx context.Context, fill broker.Fill) error {
	pos, kind, ok := r.owner(fill.Handle)
	if !ok {
		return fmt.Errorf("%w: handle %s", ErrUnknownFill, fill.Handle)
	}

	done, err := pos.ApplyFill(kind, fill.Symbol, fill.Quantity, fill.Price, fill.Time, fill.StalePrice)
	if err != nil {
		return err
	}
	if wo, ok := r.working[pos.ID]; ok {
		wo.Fills = pos.Order(kind).Fills
	}
	log := r.logger.WithFields(logrus.Fields{
		"position": pos.ID,
		"tag":      pos.Tag,
		"symbol":   fill.Symbol,
		"quantity": fill.Quantity,
		"price":    fill.Price,
	})
	if fill.StalePrice {
		log.Warn("fill at stale price")
	}
	if !done {
		r.persist(pos)
		return nil
	}

	delete(r.working, pos.ID)
	if kind == models.OrderOpen {
		log.WithField("premium", util.RoundPrice(pos.OpenPremium(), 2)).Info("position opened")
		r.persist(pos)
		r.events.Emit(ctx, events.New(events.PositionOpened, pos, fill.Time))
		return nil
	}

	log.WithField("pnl", util.RoundPrice(pos.PnL, 2)).Info("position closed")
	r.retire(ctx, pos, events.PositionClosed, fill.Time)
	return nil
}

// owner finds the position and side routed under a broker handle.
func (r *Runner) owner(handle string) (*models.Position, models.OrderKind, bool) {
	for id := range r.working {
		pos, ok := r.positions[id]
		if !ok {
			continue
		}
		for _, kind := range []models.OrderKind{models.OrderOpen, models.OrderClose} {
			for _, h := range pos.Order(kind).Handles {
				if h == handle {
					return pos, kind, true
				}
			}
		}
	}
	return nil, "", false
}

// Housekeeping cancels working orders whose time-to-live elapsed or whose
// legs expired, and settles open positions whose legs expired.
func (r *Runner) Housekeeping(ctx context.Context, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshQuotes()
	r.housekeeping(ctx, now)
}

func (r *Runner) housekeeping(ctx context.Context, now time.Time) {
	for _, pos := range r.active() {
		switch pos.State {
		case models.StatePendingOpen, models.StateClosing:
			r.expireOrder(ctx, pos, now)
		case models.StateOpen:
			if pos.AnyLegExpired(now) {
				r.settle(ctx, pos, now)
			}
		}
	}
}

func (r *Runner) expireOrder(ctx context.Context, pos *models.Position, now time.Time) {
	exec := pos.Order(pos.ActiveKind())
	var reason, condition string
	switch {
	case pos.AnyLegExpired(now):
		reason, condition = ReasonLegExpired, models.ConditionLegExpired
	case !exec.ExpiresAt.IsZero() && !now.Before(exec.ExpiresAt):
		reason, condition = ReasonOrderExpired, models.ConditionOrderExpired
	default:
		return
	}

	closing := pos.State == models.StateClosing
	handles, err := pos.Cancel(reason, condition, now)
	if err != nil {
		r.logger.WithError(err).WithField("position", pos.ID).Warn("cancellation rejected")
		return
	}
	log := r.logger.WithFields(logrus.Fields{
		"position": pos.ID,
		"tag":      pos.Tag,
		"reason":   reason,
	})
	if len(handles) > 0 {
		if err := r.canceller.CancelAll(ctx, handles); err != nil {
			log.WithError(err).Warn("broker cancellation failed")
		}
	}
	if closing {
		log.Warn("close order cancelled while legs are still held")
		if condition == models.ConditionLegExpired {
			r.settleHoldings(pos)
		}
	} else {
		log.Info("open order cancelled")
	}
	r.retire(ctx, pos, events.PositionCancelled, now)
}

// settle closes an open position whose legs expired at their intrinsic value.
func (r *Runner) settle(ctx context.Context, pos *models.Position, now time.Time) {
	value := 0.0
	for i := range pos.Legs {
		l := &pos.Legs[i]
		if l.Contract == nil {
			continue
		}
		value += float64(l.Side) * l.Contract.Intrinsic(l.Contract.UnderlyingPrice)
	}
	premium := value * float64(pos.Quantity) * models.SharesPerContract
	if err := pos.Settle(premium, now); err != nil {
		r.logger.WithError(err).WithField("position", pos.ID).Warn("settlement rejected")
		return
	}
	r.settleHoldings(pos)
	r.logger.WithFields(logrus.Fields{
		"position": pos.ID,
		"tag":      pos.Tag,
		"pnl":      util.RoundPrice(pos.PnL, 2),
	}).Info("position expired")
	r.retire(ctx, pos, events.PositionClosed, now)
}

func (r *Runner) settleHoldings(pos *models.Position) {
	if r.settler == nil {
		return
	}
	for i := range pos.Legs {
		l := &pos.Legs[i]
		if l.Contract == nil {
			continue
		}
		r.settler.Settle(l.Symbol, l.Contract.Intrinsic(l.Contract.UnderlyingPrice))
	}
}
