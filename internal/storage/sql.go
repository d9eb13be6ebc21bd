package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/eddiefleurent/scranton_spreads/internal/models"
)

// positionRecord is one row per position. The full position is kept as a
// JSON document; the indexed columns serve the history and statistics queries.
type positionRecord struct {
	ID           string  `gorm:"primaryKey;size:64"`
	Tag          string  `gorm:"size:128;index"`
	StrategyName string  `gorm:"size:128;index"`
	State        string  `gorm:"size:32;index"`
	Archived     bool    `gorm:"index"`
	PnL          float64 `gorm:"column:pnl"`
	ClosedAt     *time.Time
	Data         string `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (positionRecord) TableName() string { return "positions" }

type dailyPnLRecord struct {
	Date string  `gorm:"primaryKey;size:10"`
	PnL  float64 `gorm:"column:pnl"`
}

func (dailyPnLRecord) TableName() string { return "daily_pnl" }

// SQLStorage persists positions through gorm on sqlite or postgres.
type SQLStorage struct {
	db *gorm.DB
}

// NewSQLStorage opens the database, tunes the pool and migrates the schema.
func NewSQLStorage(driver, dsn string) (*SQLStorage, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		if dsn == "" {
			dsn = "positions.db"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting DB from GORM: %w", err)
	}
	if driver == "postgres" {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
	} else {
		// sqlite serializes writers
		sqlDB.SetMaxOpenConns(1)
	}

	s := NewSQLStorageWithDB(db)
	if err := s.Migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStorageWithDB wraps an already opened database.
func NewSQLStorageWithDB(db *gorm.DB) *SQLStorage {
	return &SQLStorage{db: db}
}

// Migrate creates or updates the tables.
func (s *SQLStorage) Migrate() error {
	if err := s.db.AutoMigrate(&positionRecord{}, &dailyPnLRecord{}); err != nil {
		return fmt.Errorf("migrating storage schema: %w", err)
	}
	return nil
}

func toRecord(pos *models.Position, archived bool) (*positionRecord, error) {
	raw, err := json.Marshal(pos)
	if err != nil {
		return nil, fmt.Errorf("encoding position %s: %w", pos.ID, err)
	}
	rec := &positionRecord{
		ID:           pos.ID,
		Tag:          pos.Tag,
		StrategyName: pos.StrategyName,
		State:        string(pos.State),
		Archived:     archived,
		PnL:          pos.PnL,
		Data:         string(raw),
	}
	if archived {
		at := pos.CloseFilledAt
		if at.IsZero() {
			at = pos.ClosedAt
		}
		if at.IsZero() {
			at = time.Now()
		}
		rec.ClosedAt = &at
	}
	return rec, nil
}

func (r *positionRecord) position() (*models.Position, error) {
	var pos models.Position
	if err := json.Unmarshal([]byte(r.Data), &pos); err != nil {
		return nil, fmt.Errorf("decoding position %s: %w", r.ID, err)
	}
	return &pos, nil
}

func upsert(tx *gorm.DB, rec *positionRecord) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"tag", "strategy_name", "state", "archived", "pnl", "closed_at", "data", "updated_at"}),
	}).Create(rec).Error
}

// SavePosition inserts or replaces a live position.
func (s *SQLStorage) SavePosition(pos *models.Position) error {
	rec, err := toRecord(pos, false)
	if err != nil {
		return err
	}
	if err := upsert(s.db, rec); err != nil {
		return fmt.Errorf("saving position %s: %w", pos.ID, err)
	}
	return nil
}

// LoadPositions returns every live position.
func (s *SQLStorage) LoadPositions() ([]*models.Position, error) {
	var recs []positionRecord
	if err := s.db.Where("archived = ?", false).Order("created_at, id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("loading positions: %w", err)
	}
	out := make([]*models.Position, 0, len(recs))
	for i := range recs {
		pos, err := recs[i].position()
		if err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, nil
}

// ClosePosition archives a closed or cancelled position and books the P&L of
// a closed one on its close date, in one transaction.
func (s *SQLStorage) ClosePosition(pos *models.Position) error {
	if err := checkTerminal(pos); err != nil {
		return err
	}
	rec, err := toRecord(pos, true)
	if err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := upsert(tx, rec); err != nil {
			return fmt.Errorf("archiving position %s: %w", pos.ID, err)
		}
		if pos.State != models.StateClosed {
			return nil
		}
		daily := dailyPnLRecord{Date: closeDate(pos), PnL: pos.PnL}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "date"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"pnl": gorm.Expr("daily_pnl.pnl + excluded.pnl")}),
		}).Create(&daily).Error
		if err != nil {
			return fmt.Errorf("booking daily P&L for %s: %w", pos.ID, err)
		}
		return nil
	})
}

func (s *SQLStorage) archived(states ...string) ([]positionRecord, error) {
	q := s.db.Where("archived = ?", true)
	if len(states) > 0 {
		q = q.Where("state IN ?", states)
	}
	var recs []positionRecord
	if err := q.Order("closed_at, id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	return recs, nil
}

// GetHistory returns the archived positions ordered by close time.
func (s *SQLStorage) GetHistory() ([]models.Position, error) {
	recs, err := s.archived()
	if err != nil {
		return nil, err
	}
	out := make([]models.Position, 0, len(recs))
	for i := range recs {
		pos, err := recs[i].position()
		if err != nil {
			return nil, err
		}
		out = append(out, *pos)
	}
	return out, nil
}

// HasInHistory reports whether a position with the given ID was archived.
func (s *SQLStorage) HasInHistory(id string) (bool, error) {
	var count int64
	err := s.db.Model(&positionRecord{}).Where("id = ? AND archived = ?", id, true).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("checking history for %s: %w", id, err)
	}
	return count > 0, nil
}

// GetStatistics replays the closed positions in close order.
func (s *SQLStorage) GetStatistics() (*Statistics, error) {
	recs, err := s.archived(string(models.StateClosed))
	if err != nil {
		return nil, err
	}
	stats := &Statistics{}
	for i := range recs {
		stats.Record(recs[i].PnL)
	}
	return stats, nil
}

// GetDailyPnL returns the P&L booked on date (YYYY-MM-DD).
func (s *SQLStorage) GetDailyPnL(date string) (float64, error) {
	var rec dailyPnLRecord
	err := s.db.Where("date = ?", date).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loading daily P&L for %s: %w", date, err)
	}
	return rec.PnL, nil
}

// Close releases the connection pool.
func (s *SQLStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
