package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/scranton_spreads/internal/config"
)

func main() {
	var configPath string
	var envPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&envPath, "env", ".env", "Optional dotenv file with RUNNER_* settings")
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WithError(err).Warn("Failed to read dotenv file")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	env, err := config.LoadEnv()
	if err != nil {
		logger.Fatalf("Failed to load environment: %v", err)
	}
	env.Apply(cfg)
	configureLogger(logger, cfg.Environment)

	logger.Infof("Starting options runner in %s mode", cfg.Environment.Mode)
	if cfg.IsPaperTrading() {
		logger.Info("PAPER TRADING MODE - orders fill against a synthetic chain")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, env, logger)
	if err != nil {
		logger.Fatalf("Failed to start: %v", err)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		logger.Fatalf("Runner error: %v", err)
	}
	logger.Info("Runner stopped successfully")
}

func configureLogger(logger *logrus.Logger, env config.EnvironmentConfig) {
	level, err := logrus.ParseLevel(env.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if env.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// Run ticks until ctx is cancelled and serves the dashboard alongside. The
// first tick runs immediately.
func (a *app) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		interval := a.cfg.GetTickInterval()
		a.logger.WithField("interval", interval).Info("Runner starting main loop...")

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		a.cycle(ctx, a.clock())
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				a.cycle(ctx, a.clock())
			}
		}
	})

	if a.dashboard != nil {
		g.Go(func() error {
			if err := a.dashboard.Start(); err != nil {
				return fmt.Errorf("dashboard: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.dashboard.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// cycle runs one tick when the market is open.
func (a *app) cycle(ctx context.Context, now time.Time) {
	if !a.cfg.IsWithinTradingHours(now) {
		a.logger.Debugf("Outside trading hours (%s - %s), skipping cycle",
			a.cfg.Runner.TradingStart, a.cfg.Runner.TradingEnd)
		return
	}

	a.market.Advance(now)
	if err := a.runner.Tick(ctx, now); err != nil {
		a.logger.WithError(err).Warn("Tick completed with errors")
	}
}
