package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/scranton_spreads/internal/config"
	"github.com/eddiefleurent/scranton_spreads/internal/events"
)

const simulationYAML = `
environment:
  mode: paper
runner:
  timezone: America/New_York
broker:
  starting_cash: 100000
  market:
    underlying: SPX
    spot: 5000
    strikes: 80
    seed: 11
storage:
  driver: json
  path: unused.json
strategies:
  - name: SPXsp
    structure: short_put
    symbol: SPX
    dte: 46
    dte_window: 7
    delta: 20
`

func TestSimulate(t *testing.T) {
	cfg, err := config.Parse([]byte(simulationYAML))
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	monday := time.Date(2024, 3, 4, 0, 0, 0, 0, cfg.Location())
	res, err := simulate(context.Background(), cfg, options{
		Start:       monday,
		Days:        2,
		Step:        30 * time.Minute,
		StoragePath: filepath.Join(t.TempDir(), "positions.json"),
	}, logger)
	require.NoError(t, err)

	// 09:30 through 15:30 every half hour, two sessions
	assert.Equal(t, 26, res.Ticks)
	assert.Equal(t, 0, res.Errors)
	assert.Equal(t, time.Date(2024, 3, 4, 9, 30, 0, 0, cfg.Location()), res.From)
	assert.Equal(t, time.Date(2024, 3, 5, 15, 30, 0, 0, cfg.Location()), res.To)
	assert.GreaterOrEqual(t, res.Events[events.OrderSubmitted], 1)
	assert.GreaterOrEqual(t, res.Events[events.PositionOpened], res.Events[events.PositionClosed])
	assert.Greater(t, res.Portfolio, 0.0)
}

func TestSimulate_SkipsWeekends(t *testing.T) {
	cfg, err := config.Parse([]byte(simulationYAML))
	require.NoError(t, err)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	friday := time.Date(2024, 3, 8, 0, 0, 0, 0, cfg.Location())
	res, err := simulate(context.Background(), cfg, options{
		Start:       friday,
		Days:        2,
		Step:        time.Hour,
		StoragePath: filepath.Join(t.TempDir(), "positions.json"),
	}, logger)
	require.NoError(t, err)

	assert.Equal(t, friday.Weekday(), res.From.Weekday())
	assert.Equal(t, time.Monday, res.To.Weekday())
	// 09:30 is not on the hour grid: 10:00 through 15:00
	assert.Equal(t, 12, res.Ticks)
}

func TestSimulate_InvalidOptions(t *testing.T) {
	cfg, err := config.Parse([]byte(simulationYAML))
	require.NoError(t, err)
	_, err = simulate(context.Background(), cfg, options{Days: 0, Step: time.Minute}, logrus.New())
	assert.Error(t, err)
}

func TestNextWeekday(t *testing.T) {
	tests := []struct {
		from time.Time
		want time.Weekday
	}{
		{time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC), time.Tuesday},
		{time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC), time.Monday},
		{time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC), time.Monday},
	}
	for _, tt := range tests {
		t.Run(tt.from.Weekday().String(), func(t *testing.T) {
			assert.Equal(t, tt.want, nextWeekday(tt.from).Weekday())
		})
	}
}
