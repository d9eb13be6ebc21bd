package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/scranton_spreads/internal/models"
	"github.com/eddiefleurent/scranton_spreads/internal/storage"
)

var fixedNow = time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

type fakeSource struct {
	positions []models.Position
	orders    []models.WorkingOrder
	history   []models.Position
	stats     *storage.Statistics
	daily     map[string]float64
	err       error
}

func (f *fakeSource) Positions() []models.Position { return f.positions }

func (f *fakeSource) Position(id string) (models.Position, bool) {
	for _, p := range f.positions {
		if p.ID == id {
			return p, true
		}
	}
	return models.Position{}, false
}

func (f *fakeSource) WorkingOrders() []models.WorkingOrder { return f.orders }

func (f *fakeSource) History() ([]models.Position, error) { return f.history, f.err }

func (f *fakeSource) Statistics() (*storage.Statistics, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stats, nil
}

func (f *fakeSource) DailyPnL(date string) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.daily[date], nil
}

func newSource() *fakeSource {
	pos := models.Position{
		ID:           "p-1",
		Tag:          "PutCreditSpread-p-1",
		StrategyName: "SPXpcs",
		StrategyID:   "PutCreditSpread",
		Symbol:       "SPX",
		State:        models.StateOpen,
		Expiry:       fixedNow.AddDate(0, 0, 10),
		Quantity:     2,
		OpenedAt:     fixedNow.AddDate(0, 0, -5),
		CurrentPnL:   150,
		MaxLoss:      3000,
	}
	pos.OpenOrder.Premium = 500
	return &fakeSource{
		positions: []models.Position{pos},
		orders: []models.WorkingOrder{{
			PositionID: "p-2",
			Kind:       models.OrderOpen,
			CreatedAt:  fixedNow,
		}},
		history: []models.Position{{ID: "p-0", State: models.StateClosed, PnL: 320}},
		stats:   &storage.Statistics{TotalTrades: 1, WinningTrades: 1, TotalPnL: 320},
		daily:   map[string]float64{"2024-03-04": 320},
	}
}

func newTestServer(src Source, token string) *Server {
	logger, _ := test.NewNullLogger()
	s := NewServer(Config{Port: 0, AuthToken: token}, src, logger)
	s.now = func() time.Time { return fixedNow }
	return s
}

func get(t *testing.T, s *Server, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(newSource(), "secret")
	rec := get(t, s, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, fixedNow.Unix(), body["timestamp"])
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(newSource(), "secret")

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"missing token", "/api/positions", nil, http.StatusUnauthorized},
		{"wrong token", "/api/positions", map[string]string{"X-Auth-Token": "nope"}, http.StatusUnauthorized},
		{"header token", "/api/positions", map[string]string{"X-Auth-Token": "secret"}, http.StatusOK},
		{"query token", "/api/positions?token=secret", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, get(t, s, tt.path, tt.header).Code)
		})
	}
}

func TestPositions(t *testing.T) {
	s := newTestServer(newSource(), "")
	rec := get(t, s, "/api/positions", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var views []PositionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	v := views[0]
	assert.Equal(t, "p-1", v.ID)
	assert.Equal(t, "SPXpcs", v.Strategy)
	assert.Equal(t, 10, v.DTE)
	assert.InDelta(t, 30.0, v.PnLPercent, 1e-9)
	assert.True(t, v.IsProfit)
}

func TestPosition(t *testing.T) {
	s := newTestServer(newSource(), "")

	rec := get(t, s, "/api/positions/p-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pos models.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pos))
	assert.Equal(t, "PutCreditSpread-p-1", pos.Tag)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/positions/missing", nil).Code)
}

func TestOrdersAndHistory(t *testing.T) {
	s := newTestServer(newSource(), "")

	rec := get(t, s, "/api/orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var orders []models.WorkingOrder
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, "p-2", orders[0].PositionID)

	rec = get(t, s, "/api/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []models.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.InDelta(t, 320.0, history[0].PnL, 1e-9)
}

func TestStats(t *testing.T) {
	s := newTestServer(newSource(), "")
	rec := get(t, s, "/api/stats", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body["total_trades"])
	assert.EqualValues(t, 320, body["total_pnl"])
	assert.EqualValues(t, 1, body["current_open"])
	assert.EqualValues(t, 1, body["working_orders"])
}

func TestDailyPnL(t *testing.T) {
	s := newTestServer(newSource(), "")

	tests := []struct {
		name string
		path string
		code int
		pnl  float64
	}{
		{"defaults to today", "/api/daily-pnl", http.StatusOK, 320},
		{"explicit date", "/api/daily-pnl?date=2024-03-01", http.StatusOK, 0},
		{"bad date", "/api/daily-pnl?date=03/01/2024", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, s, tt.path, nil)
			require.Equal(t, tt.code, rec.Code)
			if tt.code != http.StatusOK {
				return
			}
			var body struct {
				Date string  `json:"date"`
				PnL  float64 `json:"pnl"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.InDelta(t, tt.pnl, body.PnL, 1e-9)
		})
	}
}

func TestSourceErrors(t *testing.T) {
	src := newSource()
	src.err = errors.New("disk gone")
	s := newTestServer(src, "")

	for _, path := range []string{"/api/stats", "/api/history", "/api/daily-pnl"} {
		t.Run(path, func(t *testing.T) {
			assert.Equal(t, http.StatusInternalServerError, get(t, s, path, nil).Code)
		})
	}
}
