package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/eddiefleurent/scranton_spreads/internal/models"
)

const defaultJSONPath = "positions.json"

// JSONStorage keeps positions in a single JSON file, rewritten atomically on
// every change.
type JSONStorage struct {
	mu       sync.RWMutex
	filepath string
	data     *storageData
}

type storageData struct {
	Positions   map[string]*models.Position `json:"positions"`
	History     []models.Position           `json:"history"`
	DailyPnL    map[string]float64          `json:"daily_pnl"`
	Statistics  *Statistics                 `json:"statistics"`
	LastUpdated time.Time                   `json:"last_updated"`
}

// NewJSONStorage opens the store at path, loading it if the file exists.
func NewJSONStorage(path string) (*JSONStorage, error) {
	if path == "" {
		path = defaultJSONPath
	}
	s := &JSONStorage{
		filepath: path,
		data:     newStorageData(),
	}

	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}
	return s, nil
}

func newStorageData() *storageData {
	return &storageData{
		Positions:  make(map[string]*models.Position),
		DailyPnL:   make(map[string]float64),
		Statistics: &Statistics{},
	}
}

func (s *JSONStorage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.filepath) // #nosec G304 -- path comes from the runner config
	if err != nil {
		return err
	}
	data := newStorageData()
	if err := json.Unmarshal(raw, data); err != nil {
		return err
	}
	if data.Positions == nil {
		data.Positions = make(map[string]*models.Position)
	}
	if data.DailyPnL == nil {
		data.DailyPnL = make(map[string]float64)
	}
	if data.Statistics == nil {
		data.Statistics = &Statistics{}
	}
	s.data = data
	return nil
}

// save writes the file; callers hold the write lock.
func (s *JSONStorage) save() error {
	s.data.LastUpdated = time.Now()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first
	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0o600); err != nil {
		return err
	}

	// Atomic rename
	return os.Rename(tmpFile, s.filepath)
}

// SavePosition inserts or replaces a live position.
func (s *JSONStorage) SavePosition(pos *models.Position) error {
	c, err := clonePosition(pos)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Positions[pos.ID] = c
	return s.save()
}

// LoadPositions returns copies of every live position.
func (s *JSONStorage) LoadPositions() ([]*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Position, 0, len(s.data.Positions))
	for _, p := range s.data.Positions {
		c, err := clonePosition(p)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ClosePosition archives a closed or cancelled position. Closed positions
// update the statistics and the daily P&L of their close date.
func (s *JSONStorage) ClosePosition(pos *models.Position) error {
	if err := checkTerminal(pos); err != nil {
		return err
	}
	c, err := clonePosition(pos)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data.Positions, pos.ID)
	s.data.History = append(s.data.History, *c)
	if pos.State == models.StateClosed {
		s.data.Statistics.Record(pos.PnL)
		s.data.DailyPnL[closeDate(pos)] += pos.PnL
	}
	return s.save()
}

// GetHistory returns the archived positions in archive order.
func (s *JSONStorage) GetHistory() ([]models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Position, len(s.data.History))
	copy(out, s.data.History)
	return out, nil
}

// HasInHistory reports whether a position with the given ID was archived.
func (s *JSONStorage) HasInHistory(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.data.History {
		if s.data.History[i].ID == id {
			return true, nil
		}
	}
	return false, nil
}

// GetStatistics returns a copy of the running statistics.
func (s *JSONStorage) GetStatistics() (*Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Statistics.Copy(), nil
}

// GetDailyPnL returns the P&L booked on date (YYYY-MM-DD).
func (s *JSONStorage) GetDailyPnL(date string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.DailyPnL[date], nil
}

// Close is a no-op; every change is already on disk.
func (s *JSONStorage) Close() error { return nil }

// clonePosition deep-copies the persisted fields of a position.
func clonePosition(pos *models.Position) (*models.Position, error) {
	if pos == nil {
		return nil, fmt.Errorf("nil position: %w", ErrPositionNotFound)
	}
	raw, err := json.Marshal(pos)
	if err != nil {
		return nil, fmt.Errorf("encoding position %s: %w", pos.ID, err)
	}
	var c models.Position
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decoding position %s: %w", pos.ID, err)
	}
	return &c, nil
}
