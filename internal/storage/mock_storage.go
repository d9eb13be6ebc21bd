package storage

import (
	"sync"

	"github.com/eddiefleurent/scranton_spreads/internal/models"
)

// MockStorage is an in-memory Interface for tests with error injection.
type MockStorage struct {
	mu             sync.Mutex
	saveError      error
	loadError      error
	positions      map[string]*models.Position
	dailyPnL       map[string]float64
	statistics     *Statistics
	history        []models.Position
	saveCallCount  int
	closeCallCount int
}

// NewMockStorage creates a new mock storage for testing
func NewMockStorage() *MockStorage {
	return &MockStorage{
		positions:  make(map[string]*models.Position),
		dailyPnL:   make(map[string]float64),
		statistics: &Statistics{},
	}
}

func (m *MockStorage) SavePosition(pos *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCallCount++
	if m.saveError != nil {
		return m.saveError
	}
	c, err := clonePosition(pos)
	if err != nil {
		return err
	}
	m.positions[pos.ID] = c
	return nil
}

func (m *MockStorage) LoadPositions() ([]*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadError != nil {
		return nil, m.loadError
	}
	out := make([]*models.Position, 0, len(m.positions))
	for _, p := range m.positions {
		c, err := clonePosition(p)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *MockStorage) ClosePosition(pos *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCallCount++
	if m.saveError != nil {
		return m.saveError
	}
	if err := checkTerminal(pos); err != nil {
		return err
	}
	c, err := clonePosition(pos)
	if err != nil {
		return err
	}
	delete(m.positions, pos.ID)
	m.history = append(m.history, *c)
	if pos.State == models.StateClosed {
		m.statistics.Record(pos.PnL)
		m.dailyPnL[closeDate(pos)] += pos.PnL
	}
	return nil
}

func (m *MockStorage) GetHistory() ([]models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Position(nil), m.history...), nil
}

func (m *MockStorage) HasInHistory(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.history {
		if m.history[i].ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockStorage) GetStatistics() (*Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statistics.Copy(), nil
}

func (m *MockStorage) GetDailyPnL(date string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyPnL[date], nil
}

func (m *MockStorage) Close() error { return nil }

// Mock control methods for testing
func (m *MockStorage) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveError = err
}

func (m *MockStorage) SetLoadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadError = err
}

func (m *MockStorage) GetSaveCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCallCount
}

func (m *MockStorage) GetCloseCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCallCount
}

func (m *MockStorage) SetDailyPnL(date string, pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyPnL[date] = pnl
}

// Position returns the stored copy of a live position, or nil.
func (m *MockStorage) Position(id string) *models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positions[id]
}
