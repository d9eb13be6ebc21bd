package storage

import (
	"fmt"
	"time"

	"github.com/eddiefleurent/scranton_spreads/internal/config"
	"github.com/eddiefleurent/scranton_spreads/internal/models"
)

// Interface defines the contract for position persistence.
//
// Implementations must be safe for concurrent use. Positions passed in and
// returned are copies: mutating them never changes stored state. Restored
// positions carry no strategy and no contract quotes; the caller rebinds both.
type Interface interface {
	// Live positions
	SavePosition(pos *models.Position) error
	LoadPositions() ([]*models.Position, error)
	ClosePosition(pos *models.Position) error

	// Historical data and analytics
	GetHistory() ([]models.Position, error)
	HasInHistory(id string) (bool, error)
	GetStatistics() (*Statistics, error)
	GetDailyPnL(date string) (float64, error)

	Close() error
}

// NewStorage creates the storage backend selected by the configuration.
func NewStorage(cfg config.StorageConfig) (Interface, error) {
	switch cfg.Driver {
	case "", "json":
		return NewJSONStorage(cfg.Path)
	case "sqlite", "postgres":
		return NewSQLStorage(cfg.Driver, cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// closeDate returns the day a terminal position's P&L is booked on.
func closeDate(pos *models.Position) string {
	at := pos.CloseFilledAt
	if at.IsZero() {
		at = pos.ClosedAt
	}
	if at.IsZero() {
		at = time.Now()
	}
	return at.Format("2006-01-02")
}

func checkTerminal(pos *models.Position) error {
	if !models.IsTerminalState(pos.State) {
		return fmt.Errorf("position %s in state %s: %w", pos.ID, pos.State, ErrNotTerminal)
	}
	return nil
}

// Ensure implementations satisfy Interface
var (
	_ Interface = (*JSONStorage)(nil)
	_ Interface = (*SQLStorage)(nil)
	_ Interface = (*MockStorage)(nil)
)
