package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/scranton_spreads/internal/models"
)

var day0 = time.Date(2024, 3, 4, 10, 30, 0, 0, time.UTC)

func testPosition(id string) *models.Position {
	expiry := time.Date(2024, 4, 19, 0, 0, 0, 0, time.UTC)
	legs := []models.Leg{
		{Key: "shortCall", Symbol: "SPX240419C05100000", Right: models.Call, Strike: 5100, Expiry: expiry, Side: -1},
		{Key: "longCall", Symbol: "SPX240419C05150000", Right: models.Call, Strike: 5150, Expiry: expiry, Side: 1},
	}
	pos := models.NewPosition(id, "tag-"+id, nil, legs, expiry, 2, day0)
	pos.StrategyName = "SPXCallSpread"
	pos.StrategyID = "BearCallSpread"
	pos.Symbol = "SPX"
	pos.Credit = true
	return pos
}

func openPosition(t *testing.T, id string) *models.Position {
	t.Helper()
	pos := testPosition(id)
	_, err := pos.ApplyFill(models.OrderOpen, pos.Legs[0].Symbol, -2, 2.00, day0, false)
	require.NoError(t, err)
	_, err = pos.ApplyFill(models.OrderOpen, pos.Legs[1].Symbol, 2, 0.80, day0, false)
	require.NoError(t, err)
	require.Equal(t, models.StateOpen, pos.State)
	return pos
}

// closedPosition returns an open position closed at the given time for pnl.
func closedPosition(t *testing.T, id string, at time.Time, pnl float64) *models.Position {
	t.Helper()
	pos := openPosition(t, id)
	require.NoError(t, pos.TransitionState(models.StateClosing, models.ConditionCloseTriggered, at))
	pos.CloseOrder.Premium = pnl - pos.OpenPremium()
	pos.PnL = pnl
	require.NoError(t, pos.TransitionState(models.StateClosed, models.ConditionCloseFilled, at))
	return pos
}

// TestInterface runs the shared contract over every implementation.
func TestInterface(t *testing.T) {
	t.Run("MockStorage", func(t *testing.T) {
		testInterface(t, NewMockStorage())
	})

	t.Run("JSONStorage", func(t *testing.T) {
		s, err := NewJSONStorage(filepath.Join(t.TempDir(), "positions.json"))
		require.NoError(t, err)
		testInterface(t, s)
	})

	t.Run("SQLStorage", func(t *testing.T) {
		s, err := NewSQLStorage("sqlite", filepath.Join(t.TempDir(), "positions.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		testInterface(t, s)
	})
}

func testInterface(t *testing.T, store Interface) {
	positions, err := store.LoadPositions()
	require.NoError(t, err)
	assert.Empty(t, positions, "new store should hold no positions")

	pos := openPosition(t, "pos-1")
	require.NoError(t, store.SavePosition(pos))

	// Mutating the caller's copy after saving must not leak into the store.
	pos.CurrentPnL = 999

	positions, err = store.LoadPositions()
	require.NoError(t, err)
	require.Len(t, positions, 1)
	got := positions[0]
	assert.Equal(t, "pos-1", got.ID)
	assert.Equal(t, models.StateOpen, got.GetCurrentState())
	assert.Equal(t, "SPXCallSpread", got.StrategyName)
	assert.InDelta(t, 240.0, got.OpenPremium(), 1e-9)
	assert.Zero(t, got.CurrentPnL)
	assert.Nil(t, got.Strategy, "restored positions are unbound")
	require.Len(t, got.Legs, 2)
	assert.Nil(t, got.Legs[0].Contract)
	assert.Equal(t, -1, got.Legs[0].Side)
	assert.True(t, got.Expiry.Equal(pos.Expiry))

	// A restored position keeps a working lifecycle.
	require.NoError(t, got.TransitionState(models.StateClosing, models.ConditionCloseTriggered, day0.Add(time.Hour)))

	// Save is an upsert.
	pos.CurrentPnL = 35
	require.NoError(t, store.SavePosition(pos))
	positions, err = store.LoadPositions()
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 35.0, positions[0].CurrentPnL, 1e-9)

	// Live positions cannot be archived.
	err = store.ClosePosition(pos)
	assert.ErrorIs(t, err, ErrNotTerminal)

	closeAt := time.Date(2024, 3, 20, 15, 0, 0, 0, time.UTC)
	winner := closedPosition(t, "pos-1", closeAt, 120)
	require.NoError(t, store.ClosePosition(winner))

	loser := closedPosition(t, "pos-2", closeAt.Add(time.Hour), -200)
	require.NoError(t, store.SavePosition(loser))
	require.NoError(t, store.ClosePosition(loser))

	cancelled := testPosition("pos-3")
	_, err = cancelled.Cancel("open order expired", models.ConditionOrderExpired, closeAt.Add(2*time.Hour))
	require.NoError(t, err)
	require.NoError(t, store.SavePosition(cancelled))
	require.NoError(t, store.ClosePosition(cancelled))

	positions, err = store.LoadPositions()
	require.NoError(t, err)
	assert.Empty(t, positions, "archived positions leave the live set")

	history, err := store.GetHistory()
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "pos-1", history[0].ID)
	assert.Equal(t, "pos-2", history[1].ID)
	assert.Equal(t, "pos-3", history[2].ID)
	assert.Equal(t, models.StateCancelled, history[2].State)

	for _, id := range []string{"pos-1", "pos-2", "pos-3"} {
		ok, err := store.HasInHistory(id)
		require.NoError(t, err)
		assert.True(t, ok, id)
	}
	ok, err := store.HasInHistory("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	stats, err := store.GetStatistics()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalTrades, "cancelled positions are not trades")
	assert.Equal(t, 1, stats.WinningTrades)
	assert.Equal(t, 1, stats.LosingTrades)
	assert.InDelta(t, -80.0, stats.TotalPnL, 1e-9)
	assert.InDelta(t, 50.0, stats.WinRate, 1e-9)
	assert.InDelta(t, -200.0, stats.MaxDrawdown, 1e-9)
	assert.Equal(t, -1, stats.CurrentStreak)

	// The returned statistics are a copy.
	stats.TotalTrades = 100
	again, err := store.GetStatistics()
	require.NoError(t, err)
	assert.Equal(t, 2, again.TotalTrades)

	daily, err := store.GetDailyPnL("2024-03-20")
	require.NoError(t, err)
	assert.InDelta(t, -80.0, daily, 1e-9)

	daily, err = store.GetDailyPnL("2024-03-21")
	require.NoError(t, err)
	assert.Zero(t, daily)

	assert.NoError(t, store.Close())
}
