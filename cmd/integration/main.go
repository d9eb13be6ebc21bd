package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_spreads/internal/broker"
	"github.com/eddiefleurent/scranton_spreads/internal/config"
	"github.com/eddiefleurent/scranton_spreads/internal/events"
	"github.com/eddiefleurent/scranton_spreads/internal/marketdata"
	"github.com/eddiefleurent/scranton_spreads/internal/monitor"
	"github.com/eddiefleurent/scranton_spreads/internal/orchestrator"
	"github.com/eddiefleurent/scranton_spreads/internal/pricing"
	"github.com/eddiefleurent/scranton_spreads/internal/storage"
	"github.com/eddiefleurent/scranton_spreads/internal/strategy"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to configuration file")
		days       = flag.Int("days", 20, "Trading days to simulate")
		step       = flag.Duration("step", 5*time.Minute, "Simulated time between ticks")
		start      = flag.String("start", "", "First simulated day (YYYY-MM-DD), defaults to the next weekday")
		verbose    = flag.Bool("v", false, "Log every runner decision")
	)
	flag.Parse()

	fmt.Println("=== Options Runner - End-to-End Paper Simulation ===")
	fmt.Println()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	// Ensure we're in paper mode for safety
	if !cfg.IsPaperTrading() {
		logrus.Fatalf("The simulation must run in paper mode. Set environment.mode: 'paper'")
	}

	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetLevel(logrus.WarnLevel)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	first := nextWeekday(time.Now().In(cfg.Location()))
	if *start != "" {
		first, err = time.ParseInLocation("2006-01-02", *start, cfg.Location())
		if err != nil {
			logrus.Fatalf("Invalid -start: %v", err)
		}
	}

	dir, err := os.MkdirTemp("", "runner-simulation")
	if err != nil {
		logrus.Fatalf("Failed to create scratch directory: %v", err)
	}
	// Cleanup simulation storage at the end
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.WithError(err).Warn("Failed to cleanup simulation storage")
		}
	}()

	result, err := simulate(context.Background(), cfg, options{
		Start:       first,
		Days:        *days,
		Step:        *step,
		StoragePath: filepath.Join(dir, "positions.json"),
	}, logger)
	if err != nil {
		logrus.Fatalf("Simulation failed: %v", err)
	}
	result.Print()
}

type options struct {
	Start       time.Time
	Days        int
	Step        time.Duration
	StoragePath string
}

// counter tallies published events by type.
type counter struct {
	mu     sync.Mutex
	counts map[events.Type]int
}

func (c *counter) Publish(_ context.Context, ev events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[ev.Type]++
	return nil
}

// result summarizes one simulation.
type result struct {
	Ticks      int
	Errors     int
	Events     map[events.Type]int
	Open       int
	Working    int
	Statistics *storage.Statistics
	Portfolio  float64
	StartCash  float64
	From, To   time.Time
}

// simulate replays Days trading sessions against the synthetic chain, one
// tick every Step, on a fresh JSON store.
func simulate(ctx context.Context, cfg *config.Config, opts options, logger *logrus.Logger) (*result, error) {
	if opts.Days <= 0 || opts.Step <= 0 {
		return nil, fmt.Errorf("days and step must be positive")
	}

	strategies := make([]*strategy.Strategy, 0, len(cfg.Strategies))
	for _, p := range cfg.StrategyParams() {
		s, err := strategy.New(p, logger)
		if err != nil {
			return nil, fmt.Errorf("registering strategy %s: %w", p.Name, err)
		}
		strategies = append(strategies, s)
	}

	loc := cfg.Location()
	md := marketdata.New(cfg.Broker.Market, loc, logger)
	paper := broker.NewPaperBroker(md, broker.PaperConfig{
		InitialCash: cfg.Broker.StartingCash,
		StaleAfter:  cfg.Broker.StaleAfter,
	}, logger)

	store, err := storage.NewJSONStorage(opts.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	tally := &counter{counts: make(map[events.Type]int)}
	cutoff, _ := cfg.EndCutoff()
	runner, err := orchestrator.New(strategies, orchestrator.Deps{
		Market:  md,
		Broker:  broker.NewCircuitBreakerBroker(paper, logger),
		Account: paper,
		Fills:   paper,
		Settler: paper,
		Monitor: monitor.New(logger, cutoff),
		Pricer:  pricing.NewBSM(cfg.Broker.Market.RiskFreeRate),
		Storage: store,
		Events:  events.NewEmitter(tally, logger),
		Logger:  logger,
	}, orchestrator.Config{IncludeCancelled: cfg.Runner.IncludeCancelled})
	if err != nil {
		return nil, err
	}

	res := &result{StartCash: cfg.Broker.StartingCash}
	day := time.Date(opts.Start.Year(), opts.Start.Month(), opts.Start.Day(), 0, 0, 0, 0, loc)
	for simulated := 0; simulated < opts.Days; day = day.AddDate(0, 0, 1) {
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		simulated++
		for now := day; now.Before(day.AddDate(0, 0, 1)); now = now.Add(opts.Step) {
			if !cfg.IsWithinTradingHours(now) {
				continue
			}
			if res.Ticks == 0 {
				res.From = now
			}
			md.Advance(now)
			if err := runner.Tick(ctx, now); err != nil {
				logger.WithError(err).Warn("Tick completed with errors")
				res.Errors++
			}
			res.Ticks++
			res.To = now
		}
	}

	if res.Statistics, err = runner.Statistics(); err != nil {
		return nil, err
	}
	if res.Portfolio, err = paper.PortfolioValue(ctx); err != nil {
		return nil, err
	}
	res.Open = len(runner.Positions())
	res.Working = len(runner.WorkingOrders())
	tally.mu.Lock()
	res.Events = tally.counts
	tally.mu.Unlock()
	return res, nil
}

// Print writes the simulation report to stdout.
func (r *result) Print() {
	fmt.Printf("Simulated %d ticks from %s to %s (%d with errors)\n",
		r.Ticks, r.From.Format(time.RFC822), r.To.Format(time.RFC822), r.Errors)
	fmt.Println()

	fmt.Println("Events")
	fmt.Println("======")
	for _, t := range []events.Type{
		events.OrderSubmitted, events.OrderRetried, events.PositionOpened, events.CloseTriggered,
		events.PositionClosed, events.PositionCancelled, events.OrderAttention,
	} {
		fmt.Printf("  %-22s %d\n", t, r.Events[t])
	}
	fmt.Println()

	s := r.Statistics
	fmt.Println("Results")
	fmt.Println("=======")
	fmt.Printf("  Closed trades: %d (won %d, lost %d, win rate %.1f%%)\n", s.TotalTrades, s.WinningTrades, s.LosingTrades, s.WinRate)
	fmt.Printf("  Realized P&L:  $%.2f (max drawdown $%.2f)\n", s.TotalPnL, s.MaxDrawdown)
	fmt.Printf("  Still active:  %d positions, %d working orders\n", r.Open, r.Working)
	fmt.Printf("  Portfolio:     $%.2f (started with $%.2f)\n", r.Portfolio, r.StartCash)
}

func nextWeekday(t time.Time) time.Time {
	t = t.AddDate(0, 0, 1)
	for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		t = t.AddDate(0, 0, 1)
	}
	return t
}
