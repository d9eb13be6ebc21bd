// audit_positions - A utility to audit the runner's persisted positions
// It lists live positions, flags records the runner would refuse or could no
// longer manage, and can cancel a stuck working position by hand.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_spreads/internal/config"
	"github.com/eddiefleurent/scranton_spreads/internal/models"
	"github.com/eddiefleurent/scranton_spreads/internal/storage"
)

// Report is the audit result.
type Report struct {
	Live       []*models.Position  `json:"live"`
	Statistics *storage.Statistics `json:"statistics"`
	Issues     []string            `json:"issues"`
}

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to configuration file")
		jsonOutput = flag.Bool("json", false, "Output results as JSON")
		cancelID   = flag.String("cancel", "", "Cancel the working position with this ID and archive it")
		dryRun     = flag.Bool("dry-run", false, "Show what would be done without making changes")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	env, err := config.LoadEnv()
	if err != nil {
		logrus.Fatalf("Failed to load environment: %v", err)
	}
	env.Apply(cfg)

	store, err := storage.NewStorage(cfg.Storage)
	if err != nil {
		logrus.Fatalf("Failed to open storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close storage")
		}
	}()

	now := time.Now()
	if *cancelID != "" {
		if err := cancelPosition(store, *cancelID, *dryRun, now); err != nil {
			logrus.Fatalf("Failed to cancel position: %v", err)
		}
		return
	}

	report, err := audit(store, cfg, now)
	if err != nil {
		logrus.Fatalf("Failed to audit positions: %v", err)
	}

	if *jsonOutput {
		output, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			logrus.Fatalf("Failed to marshal JSON: %v", err)
		}
		fmt.Println(string(output))
		return
	}
	printReport(report, now)
}

func audit(store storage.Interface, cfg *config.Config, now time.Time) (*Report, error) {
	live, err := store.LoadPositions()
	if err != nil {
		return nil, fmt.Errorf("loading positions: %w", err)
	}
	sort.Slice(live, func(i, j int) bool { return live[i].OpenedAt.Before(live[j].OpenedAt) })

	stats, err := store.GetStatistics()
	if err != nil {
		return nil, fmt.Errorf("loading statistics: %w", err)
	}

	configured := make(map[string]config.StrategyParams)
	for _, p := range cfg.StrategyParams() {
		configured[p.Name] = p
	}

	return &Report{
		Live:       live,
		Statistics: stats,
		Issues:     analyzePositions(live, configured, now),
	}, nil
}

// analyzePositions lists the live records the runner will skip on restore or
// that have been stuck longer than their order time-to-live.
func analyzePositions(live []*models.Position, configured map[string]config.StrategyParams, now time.Time) []string {
	var issues []string
	for _, pos := range live {
		id := pos.ID
		if !pos.IsActive() {
			issues = append(issues, fmt.Sprintf("%s: terminal state %s among live positions", id, pos.State))
			continue
		}
		params, ok := configured[pos.StrategyName]
		if !ok {
			issues = append(issues, fmt.Sprintf("%s: strategy %q is not configured, the runner will not restore it", id, pos.StrategyName))
		}
		if pos.Expiry.Before(now) {
			issues = append(issues, fmt.Sprintf("%s: expired on %s while still %s", id, pos.Expiry.Format("2006-01-02"), pos.State))
			continue
		}
		if !ok || pos.State == models.StateOpen {
			continue
		}
		exec := pos.Order(pos.ActiveKind())
		since := pos.OpenedAt
		if pos.State == models.StateClosing && !pos.ClosedAt.IsZero() {
			since = pos.ClosedAt
		}
		if exec.ExpiresAt.IsZero() && now.Sub(since) > params.LimitOrderExpiration {
			issues = append(issues, fmt.Sprintf("%s: %s for %s", id, pos.State, now.Sub(since).Round(time.Minute)))
		}
		if exec.Retries >= params.MaxRetries {
			issues = append(issues, fmt.Sprintf("%s: %s order exhausted %d retries", id, pos.ActiveKind(), exec.Retries))
		}
	}
	return issues
}

// cancelPosition cancels a pending-open or closing position and archives it.
// Broker handles are not touched: they do not survive a runner restart.
func cancelPosition(store storage.Interface, id string, dryRun bool, now time.Time) error {
	live, err := store.LoadPositions()
	if err != nil {
		return fmt.Errorf("loading positions: %w", err)
	}
	var pos *models.Position
	for _, p := range live {
		if p.ID == id {
			pos = p
			break
		}
	}
	if pos == nil {
		return fmt.Errorf("position %s not found", id)
	}
	if dryRun {
		fmt.Printf("DRY RUN: Would cancel %s (%s, %s)\n", pos.ID, pos.Tag, pos.State)
		return nil
	}
	if _, err := pos.Cancel("Cancelled by operator", models.ConditionManual, now); err != nil {
		return err
	}
	if err := store.ClosePosition(pos); err != nil {
		return fmt.Errorf("archiving position: %w", err)
	}
	fmt.Printf("Cancelled %s (%s)\n", pos.ID, pos.Tag)
	return nil
}

func printReport(r *Report, now time.Time) {
	fmt.Printf("=== LIVE POSITIONS (%d) ===\n", len(r.Live))
	for _, pos := range r.Live {
		fmt.Printf("  %s  %-28s %-12s %-8s strikes=%v qty=%d dte=%d pnl=$%.2f\n",
			pos.ID, pos.Tag, pos.State, pos.Symbol, pos.Strikes(), pos.Quantity, pos.DTE(now), pos.CurrentPnL)
	}
	fmt.Printf("\n")

	s := r.Statistics
	fmt.Printf("=== STATISTICS ===\n")
	fmt.Printf("  Trades: %d (won %d, lost %d, win rate %.1f%%)\n", s.TotalTrades, s.WinningTrades, s.LosingTrades, s.WinRate)
	fmt.Printf("  Total P&L: $%.2f  Max drawdown: $%.2f  Streak: %d\n", s.TotalPnL, s.MaxDrawdown, s.CurrentStreak)
	fmt.Printf("\n")

	fmt.Printf("=== ANALYSIS ===\n")
	if len(r.Issues) == 0 {
		fmt.Printf("No obvious issues detected.\n")
		return
	}
	fmt.Printf("POTENTIAL ISSUES FOUND:\n")
	for i, issue := range r.Issues {
		fmt.Printf("  %d. %s\n", i+1, issue)
	}
	fmt.Fprintf(os.Stderr, "\nUse -cancel <id> to abandon a stuck working position.\n")
}
