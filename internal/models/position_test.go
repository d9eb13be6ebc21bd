package models

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/scranton_spreads/internal/config"
)

type stubStrategy struct {
	name   string
	params config.StrategyParams
}

func (s *stubStrategy) Name() string                   { return s.name }
func (s *stubStrategy) Params() *config.StrategyParams { return &s.params }

var testExpiry = time.Date(2024, 4, 19, 0, 0, 0, 0, time.UTC)

func testContract(right OptionRight, strike, bid, ask float64) *Contract {
	return &Contract{
		Symbol:          fmt.Sprintf("SPX240419%s%05.0f", strings.ToUpper(string(right[:1])), strike),
		Underlying:      "SPX",
		UnderlyingPrice: 5000,
		Strike:          strike,
		Expiry:          testExpiry,
		Right:           right,
		Bid:             bid,
		Ask:             ask,
		Tradable:        true,
	}
}

func newTestSpread(t *testing.T, qty int) (*Position, Leg, Leg) {
	t.Helper()
	params := config.DefaultStrategyParams()
	params.Structure = config.StructurePutCreditSpread
	strat := &stubStrategy{name: "SPXpcs", params: params}

	short := NewLeg(testContract(Put, 4900, 9.8, 10.2), -1, "")
	long := NewLeg(testContract(Put, 4880, 5.8, 6.2), 1, "")
	p := NewPosition("pos-1", "SPXpcs-1", strat, []Leg{short, long}, testExpiry, qty, t0)
	p.Credit = true
	return p, short, long
}

func TestNewPosition(t *testing.T) {
	p, short, long := newTestSpread(t, 2)

	assert.Equal(t, StatePendingOpen, p.GetCurrentState())
	assert.Equal(t, "SPXpcs", p.StrategyName)
	assert.Equal(t, "SPX", p.Symbol)
	assert.Equal(t, 46, p.OpenDTE)
	assert.Equal(t, -1, p.Sides[short.Symbol])
	assert.Equal(t, 1, p.Sides[long.Symbol])
	assert.Equal(t, "shortPut", short.Key)
	assert.Equal(t, 4, p.ExpectedFills())
	assert.Equal(t, []float64{4900, 4880}, p.Strikes())
	assert.Equal(t, []int{-1, 1}, p.SideList())
	assert.Equal(t, OrderOpen, p.ActiveKind())
	require.NotNil(t, p.Params())
	assert.Equal(t, config.StructurePutCreditSpread, p.Params().Structure)
}

func TestPosition_ApplyFill_OpenAndClose(t *testing.T) {
	p, short, long := newTestSpread(t, 2)

	done, err := p.ApplyFill(OrderOpen, short.Symbol, -2, 10.0, t0, false)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 2, p.OpenOrder.Fills)
	assert.Equal(t, StatePendingOpen, p.State)

	done, err = p.ApplyFill(OrderOpen, long.Symbol, 2, 6.0, t0, false)
	require.NoError(t, err)
	assert.True(t, done)
	assert.InDelta(t, 4.0, p.OpenOrder.FillPrice, 1e-9)
	assert.InDelta(t, 800.0, p.OpenPremium(), 1e-9)
	assert.Equal(t, StateOpen, p.State)
	assert.True(t, p.Filled)
	assert.Equal(t, t0, p.OpenFilledAt)
	assert.Equal(t, OrderClose, p.ActiveKind())
	require.NoError(t, p.ValidateState())

	closeAt := t0.Add(72 * time.Hour)
	p.CloseReasons = append(p.CloseReasons, "Profit target")
	require.NoError(t, p.TransitionState(StateClosing, ConditionCloseTriggered, closeAt))
	require.NoError(t, p.ValidateState())

	_, err = p.ApplyFill(OrderClose, short.Symbol, 2, 5.0, closeAt, false)
	require.NoError(t, err)
	done, err = p.ApplyFill(OrderClose, long.Symbol, -2, 3.0, closeAt, true)
	require.NoError(t, err)
	assert.True(t, done)

	assert.InDelta(t, -400.0, p.ClosePremium(), 1e-9)
	assert.InDelta(t, 400.0, p.PnL, 1e-9)
	assert.True(t, p.CloseOrder.StalePrice)
	assert.Equal(t, StateClosed, p.State)
	assert.Equal(t, 3, p.DIT)
	assert.False(t, p.IsActive())
	require.NoError(t, p.ValidateState())
}

func TestPosition_ApplyFill_Errors(t *testing.T) {
	p, short, _ := newTestSpread(t, 1)

	_, err := p.ApplyFill(OrderOpen, "UNKNOWN", 1, 1.0, t0, false)
	assert.ErrorIs(t, err, ErrUnknownLeg)

	_, err = p.ApplyFill(OrderOpen, short.Symbol, -3, 10.0, t0, false)
	assert.ErrorIs(t, err, ErrOverfill)
	assert.Equal(t, 0, p.OpenOrder.Fills, "rejected fill must not be recorded")
}

func TestPosition_Cancel(t *testing.T) {
	p, _, _ := newTestSpread(t, 1)
	p.OpenOrder.Handles = []string{"h1", "h2"}

	handles, err := p.Cancel("order expired", ConditionOrderExpired, t0)
	require.NoError(t, err)
	assert.Equal(t, []string{"h1", "h2"}, handles)
	assert.Empty(t, p.OpenOrder.Handles)
	assert.True(t, p.Cancelled)
	assert.Equal(t, StateCancelled, p.State)
	require.NoError(t, p.ValidateState())

	_, err = p.Cancel("again", ConditionManual, t0)
	assert.Error(t, err, "cancelled is terminal")
}

func TestPosition_Settle(t *testing.T) {
	p, short, long := newTestSpread(t, 1)
	_, err := p.ApplyFill(OrderOpen, short.Symbol, -1, 10.0, t0, false)
	require.NoError(t, err)
	_, err = p.ApplyFill(OrderOpen, long.Symbol, 1, 6.0, t0, false)
	require.NoError(t, err)

	at := testExpiry.Add(17 * time.Hour)
	require.NoError(t, p.Settle(-1000, at))
	assert.Equal(t, StateClosed, p.State)
	assert.InDelta(t, -600.0, p.PnL, 1e-9)
	assert.Contains(t, p.CloseReasons, "Expired")
	require.NoError(t, p.ValidateState())
}

func TestPosition_UpdatePnLRange(t *testing.T) {
	p, _, _ := newTestSpread(t, 1)
	p.OpenFilledAt = t0

	p.UpdatePnLRange(t0.Add(24*time.Hour), -150)
	p.UpdatePnLRange(t0.Add(48*time.Hour), 220)
	p.UpdatePnLRange(t0.Add(72*time.Hour), 100)

	assert.Equal(t, -150.0, p.PnLMin)
	assert.Equal(t, 1, p.PnLMinDIT)
	assert.Equal(t, 220.0, p.PnLMax)
	assert.Equal(t, 2, p.PnLMaxDIT)
}

func TestPosition_TimeHelpers(t *testing.T) {
	p, _, _ := newTestSpread(t, 1)

	assert.Equal(t, 0, p.DaysInTrade(t0.Add(48*time.Hour)), "no fill yet")
	p.OpenFilledAt = t0
	assert.Equal(t, 2, p.DaysInTrade(t0.Add(48*time.Hour)))
	assert.Equal(t, 0, p.DTE(testExpiry.Add(72*time.Hour)))

	assert.False(t, p.AnyLegExpired(testExpiry.Add(15*time.Hour)))
	assert.True(t, p.AnyLegExpired(testExpiry.Add(17*time.Hour)))

	cutoff, ok := p.ExpiryCutoff()
	require.True(t, ok)
	// 2024-04-19 is a Friday
	assert.Equal(t, time.Date(2024, 4, 19, 15, 45, 0, 0, time.UTC), cutoff)
}

func TestPosition_ValidateState(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Position)
		wantErr bool
	}{
		{"fresh pending", func(p *Position) {}, false},
		{"no legs", func(p *Position) { p.Legs = nil }, true},
		{"zero quantity", func(p *Position) { p.Quantity = 0 }, true},
		{"pending with close reasons", func(p *Position) { p.CloseReasons = []string{"x"} }, true},
		{"open without fill", func(p *Position) {
			p.State = StateOpen
			p.StateMachine = NewStateMachineFromState(StateOpen)
		}, true},
		{"credit with negative premium", func(p *Position) {
			p.State = StateOpen
			p.StateMachine = NewStateMachineFromState(StateOpen)
			p.OpenOrder.Filled = true
			p.OpenFilledAt = t0
			p.OpenOrder.Premium = -50
		}, true},
		{"cancelled without flag", func(p *Position) {
			p.State = StateCancelled
			p.StateMachine = NewStateMachineFromState(StateCancelled)
		}, true},
		{"unknown state", func(p *Position) {
			p.State = "limbo"
			p.StateMachine = NewStateMachineFromState("limbo")
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _, _ := newTestSpread(t, 1)
			tt.mutate(p)
			err := p.ValidateState()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPosition_RestoredWithoutMachine(t *testing.T) {
	p, _, _ := newTestSpread(t, 1)
	p.StateMachine = nil
	p.Strategy = nil
	p.State = StateOpen

	assert.Nil(t, p.Params())
	_, ok := p.ExpiryCutoff()
	assert.False(t, ok)
	require.NoError(t, p.TransitionState(StateClosing, ConditionCloseTriggered, t0))
	assert.Equal(t, StateClosing, p.State)
}

func TestExecutionOrder_RetryBase(t *testing.T) {
	tests := []struct {
		name  string
		order ExecutionOrder
		want  float64
	}{
		{"base limit wins over live limit", ExecutionOrder{LimitPrice: 39.0, BaseLimit: 38.9}, 38.9},
		{"records without base fall back", ExecutionOrder{LimitPrice: 39.0}, 39.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.order.RetryBase())
		})
	}
}
