package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendarDays(t *testing.T) {
	tests := []struct {
		name     string
		from, to time.Time
		expected int
	}{
		{
			name:     "same day different hours",
			from:     time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC),
			to:       time.Date(2025, 3, 10, 15, 45, 0, 0, time.UTC),
			expected: 0,
		},
		{
			name:     "late evening to next morning counts one day",
			from:     time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC),
			to:       time.Date(2025, 3, 11, 0, 1, 0, 0, time.UTC),
			expected: 1,
		},
		{
			name:     "negative when to precedes from",
			from:     time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC),
			to:       time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
			expected: -7,
		},
		{
			name:     "forty five days",
			from:     time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
			to:       time.Date(2025, 2, 15, 10, 0, 0, 0, time.UTC),
			expected: 45,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CalendarDays(tt.from, tt.to))
		})
	}
}

func TestSameDay(t *testing.T) {
	open := time.Date(2025, 3, 21, 9, 30, 0, 0, time.UTC)
	assert.True(t, SameDay(open, time.Date(2025, 3, 21, 16, 0, 0, 0, time.UTC)))
	assert.False(t, SameDay(open, time.Date(2025, 3, 22, 0, 0, 0, 0, time.UTC)))
}

func TestLastTradingDay(t *testing.T) {
	friday := time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, friday, LastTradingDay(friday))
	assert.Equal(t, friday, LastTradingDay(time.Date(2025, 3, 22, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, friday, LastTradingDay(time.Date(2025, 3, 23, 16, 0, 0, 0, time.UTC)))
}

func TestAtClock(t *testing.T) {
	day := time.Date(2025, 3, 21, 8, 0, 0, 0, time.UTC)
	got, err := AtClock(day, "15:45")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 21, 15, 45, 0, 0, time.UTC), got)

	_, err = AtClock(day, "quarter to four")
	assert.Error(t, err)
}
