package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_spreads/internal/broker"
	"github.com/eddiefleurent/scranton_spreads/internal/config"
	"github.com/eddiefleurent/scranton_spreads/internal/dashboard"
	"github.com/eddiefleurent/scranton_spreads/internal/events"
	"github.com/eddiefleurent/scranton_spreads/internal/marketdata"
	"github.com/eddiefleurent/scranton_spreads/internal/monitor"
	"github.com/eddiefleurent/scranton_spreads/internal/orchestrator"
	"github.com/eddiefleurent/scranton_spreads/internal/pricing"
	"github.com/eddiefleurent/scranton_spreads/internal/storage"
	"github.com/eddiefleurent/scranton_spreads/internal/strategy"
)

// app holds the wired collaborators of one runner process.
type app struct {
	cfg       *config.Config
	logger    logrus.FieldLogger
	market    *marketdata.Provider
	paper     *broker.PaperBroker
	runner    *orchestrator.Runner
	storage   storage.Interface
	dashboard *dashboard.Server
	clock     func() time.Time
	closers   []func() error
}

// newApp wires the paper broker, storage, event publishers and strategies,
// and restores the positions persisted by a previous run.
func newApp(ctx context.Context, cfg *config.Config, env *config.EnvSettings, logger *logrus.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		clock:  time.Now,
	}
	now := a.clock()

	strategies, err := buildStrategies(cfg, logger)
	if err != nil {
		return nil, err
	}

	a.market = marketdata.New(cfg.Broker.Market, cfg.Location(), logger)
	a.market.Advance(now)

	a.paper = broker.NewPaperBroker(a.market, broker.PaperConfig{
		InitialCash: cfg.Broker.StartingCash,
		StaleAfter:  cfg.Broker.StaleAfter,
	}, logger)
	guarded := broker.NewCircuitBreakerBrokerWithSettings(a.paper, breakerSettings(cfg.Broker.CircuitBreaker), logger)

	a.storage, err = storage.NewStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.closers = append(a.closers, a.storage.Close)

	publishers := events.Multi{events.NewLogPublisher(logger)}
	if cfg.Events.Redis {
		rp, err := events.NewRedisPublisher(ctx, events.RedisConfig{
			Addr:     env.RedisAddr,
			Password: env.RedisPassword,
			DB:       env.RedisDB,
			Channel:  cfg.Events.Channel,
			Stream:   cfg.Events.Stream,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connecting event publisher: %w", err)
		}
		a.closers = append(a.closers, rp.Close)
		publishers = append(publishers, rp)
	}

	cutoff, _ := cfg.EndCutoff()
	a.runner, err = orchestrator.New(strategies, orchestrator.Deps{
		Market:  a.market,
		Broker:  guarded,
		Account: a.paper,
		Fills:   a.paper,
		Settler: a.paper,
		Monitor: monitor.New(logger, cutoff),
		Pricer:  pricing.NewBSM(cfg.Broker.Market.RiskFreeRate),
		Storage: a.storage,
		Events:  events.NewEmitter(publishers, logger).WithTimeout(cfg.Events.PublishTimeout),
		Logger:  logger,
	}, orchestrator.Config{IncludeCancelled: cfg.Runner.IncludeCancelled})
	if err != nil {
		a.Close()
		return nil, err
	}

	restored, err := a.runner.Restore(now)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("restoring positions: %w", err)
	}
	if restored > 0 && cfg.IsPaperTrading() {
		logger.Warnf("Restored %d positions; paper holdings start empty after a restart", restored)
	}

	if cfg.Dashboard.Enabled {
		a.dashboard = dashboard.NewServer(dashboard.Config{
			Port:      cfg.Dashboard.Port,
			AuthToken: env.DashboardToken,
		}, a.runner, logger)
	}
	return a, nil
}

// buildStrategies creates every configured strategy, failing on the first
// invalid one.
func buildStrategies(cfg *config.Config, logger logrus.FieldLogger) ([]*strategy.Strategy, error) {
	params := cfg.StrategyParams()
	out := make([]*strategy.Strategy, 0, len(params))
	for _, p := range params {
		s, err := strategy.New(p, logger)
		if err != nil {
			return nil, fmt.Errorf("registering strategy %s: %w", p.Name, err)
		}
		out = append(out, s)
		logger.WithField("strategy", p.Name).Infof("registered %s strategy on %s", p.Structure, p.Symbol)
	}
	return out, nil
}

func breakerSettings(c config.CircuitBreakerConfig) broker.CircuitBreakerSettings {
	s := broker.DefaultCircuitBreakerSettings
	if c.MaxRequests > 0 {
		s.MaxRequests = c.MaxRequests
	}
	if c.Interval > 0 {
		s.Interval = c.Interval
	}
	if c.Timeout > 0 {
		s.Timeout = c.Timeout
	}
	if c.MinRequests > 0 {
		s.MinRequests = c.MinRequests
	}
	if c.FailureRatio > 0 {
		s.FailureRatio = c.FailureRatio
	}
	return s
}

// Close releases storage and publisher connections in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.WithError(err).Warn("Failed to close resource")
		}
	}
	a.closers = nil
}
