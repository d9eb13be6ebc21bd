package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/eddiefleurent/scranton_spreads/internal/config"
	"github.com/eddiefleurent/scranton_spreads/internal/util"
)

// ErrOverfill is returned when a fill would exceed the expected contract count.
var ErrOverfill = errors.New("fill exceeds expected quantity")

// ErrUnknownLeg is returned when a fill references a symbol the position does not hold.
var ErrUnknownLeg = errors.New("fill symbol not part of position")

// StrategyRef is the owning strategy of a position. It is stored on the
// position at construction so parameters never have to be looked up by name.
type StrategyRef interface {
	Name() string
	Params() *config.StrategyParams
}

// Position is the long-lived record of a multi-leg trade from order creation
// through closure. Premiums and P&L are total dollars.
type Position struct {
	StateMachine *StateMachine  `json:"-"`
	Strategy     StrategyRef    `json:"-"`
	State        PositionState  `json:"state"`
	ID           string         `json:"id"`
	Tag          string         `json:"tag"`
	StrategyID   string         `json:"strategy_id"`   // structure, e.g. IronCondor
	StrategyName string         `json:"strategy_name"` // configured instance name
	Symbol       string         `json:"symbol"`
	LinkedTag    string         `json:"linked_tag,omitempty"`
	Legs         []Leg          `json:"legs"`
	Sides        map[string]int `json:"sides"`
	Expiry       time.Time      `json:"expiry"`
	Credit       bool           `json:"credit"`

	Quantity      int      `json:"quantity"`
	MaxQuantity   int      `json:"max_quantity"`
	TargetPremium float64  `json:"target_premium,omitempty"`
	TargetProfit  *float64 `json:"target_profit,omitempty"`
	MaxLoss       float64  `json:"max_loss"`
	LimitOrder    bool     `json:"limit_order"`

	OpenOrder  ExecutionOrder `json:"open_order"`
	CloseOrder ExecutionOrder `json:"close_order"`

	OpenedAt          time.Time `json:"opened_at"`
	OpenFilledAt      time.Time `json:"open_filled_at,omitempty"`
	ClosedAt          time.Time `json:"closed_at,omitempty"`
	CloseFilledAt     time.Time `json:"close_filled_at,omitempty"`
	OpenDTE           int       `json:"open_dte"`
	CloseDTE          int       `json:"close_dte"`
	DIT               int       `json:"dit"`
	UnderlyingAtOpen  float64   `json:"underlying_at_open"`
	UnderlyingAtClose float64   `json:"underlying_at_close,omitempty"`

	// Latest valuation of the close side
	OrderMidPrice float64 `json:"order_mid_price"`
	LimitPrice    float64 `json:"limit_price"`
	BidAskSpread  float64 `json:"bid_ask_spread"`
	CurrentPnL    float64 `json:"current_pnl"`
	Valued        bool    `json:"valued"`

	PnL       float64 `json:"pnl"`
	PnLMin    float64 `json:"pnl_min"`
	PnLMax    float64 `json:"pnl_max"`
	PnLMinDIT int     `json:"pnl_min_dit"`
	PnLMaxDIT int     `json:"pnl_max_dit"`

	CloseReasons  []string  `json:"close_reasons,omitempty"`
	Cancelled     bool      `json:"cancelled"`
	CancelReason  string    `json:"cancel_reason,omitempty"`
	Filled        bool      `json:"filled"`
	PriceProgress []float64 `json:"price_progress,omitempty"`
}

// NewPosition creates a pending-open position with an initialized state machine.
func NewPosition(id, tag string, strategy StrategyRef, legs []Leg, expiry time.Time, quantity int, openedAt time.Time) *Position {
	sides := make(map[string]int, len(legs))
	for _, l := range legs {
		sides[l.Symbol] = l.Side
	}
	p := &Position{
		ID:           id,
		Tag:          tag,
		Strategy:     strategy,
		Legs:         legs,
		Sides:        sides,
		Expiry:       expiry,
		Quantity:     quantity,
		OpenedAt:     openedAt,
		OpenDTE:      util.CalendarDays(openedAt, expiry),
		StateMachine: NewStateMachine(),
		State:        StatePendingOpen,
	}
	if strategy != nil {
		p.StrategyName = strategy.Name()
	}
	if len(legs) > 0 && legs[0].Contract != nil {
		p.Symbol = legs[0].Contract.Underlying
	}
	return p
}

// Params returns the owning strategy's parameters, or nil when the position
// was restored without its strategy.
func (p *Position) Params() *config.StrategyParams {
	if p.Strategy == nil {
		return nil
	}
	return p.Strategy.Params()
}

// OpenPremium returns the premium collected (+) or paid (-) on the open side.
func (p *Position) OpenPremium() float64 { return p.OpenOrder.Premium }

// ClosePremium returns the premium collected (+) or paid (-) on the close side.
func (p *Position) ClosePremium() float64 { return p.CloseOrder.Premium }

// Order returns the execution record for the given side.
func (p *Position) Order(kind OrderKind) *ExecutionOrder {
	if kind == OrderClose {
		return &p.CloseOrder
	}
	return &p.OpenOrder
}

// ActiveKind returns the side currently being executed: open until the open
// side fills, close afterwards.
func (p *Position) ActiveKind() OrderKind {
	if !p.OpenOrder.Filled {
		return OrderOpen
	}
	return OrderClose
}

// ExpectedFills returns the contract count that completes one side.
func (p *Position) ExpectedFills() int {
	n := 0
	for i := range p.Legs {
		n += p.Legs[i].Ratio()
	}
	return n * p.Quantity
}

// Contracts returns the current contract quote of each leg.
func (p *Position) Contracts() []*Contract {
	out := make([]*Contract, 0, len(p.Legs))
	for i := range p.Legs {
		out = append(out, p.Legs[i].Contract)
	}
	return out
}

// SideList returns the leg sides in leg order.
func (p *Position) SideList() []int {
	out := make([]int, 0, len(p.Legs))
	for i := range p.Legs {
		out = append(out, p.Legs[i].Side)
	}
	return out
}

// Strikes returns the leg strikes in leg order.
func (p *Position) Strikes() []float64 {
	out := make([]float64, 0, len(p.Legs))
	for i := range p.Legs {
		out = append(out, p.Legs[i].Strike)
	}
	return out
}

// FindLeg returns the leg holding symbol.
func (p *Position) FindLeg(symbol string) *Leg {
	for i := range p.Legs {
		if p.Legs[i].Symbol == symbol {
			return &p.Legs[i]
		}
	}
	return nil
}

// DaysInTrade returns calendar days since the open fill.
func (p *Position) DaysInTrade(now time.Time) int {
	if p.OpenFilledAt.IsZero() {
		return 0
	}
	return util.CalendarDays(p.OpenFilledAt, now)
}

// DTE returns calendar days to expiry, never negative.
func (p *Position) DTE(now time.Time) int {
	days := util.CalendarDays(now, p.Expiry)
	if days < 0 {
		return 0
	}
	return days
}

// AnyLegExpired reports whether any leg's contract has expired by now.
func (p *Position) AnyLegExpired(now time.Time) bool {
	for i := range p.Legs {
		if p.Legs[i].ExpiredAt(now) {
			return true
		}
	}
	return false
}

// LastTradingDay returns the last weekday on or before expiry.
func (p *Position) LastTradingDay() time.Time {
	return util.LastTradingDay(p.Expiry)
}

// ExpiryCutoff returns the time on the last trading day by which the position
// must be closed. The second result is false when no cutoff is configured.
func (p *Position) ExpiryCutoff() (time.Time, bool) {
	params := p.Params()
	if params == nil || params.MarketCloseCutoffTime == "" {
		return time.Time{}, false
	}
	t, err := util.AtClock(p.LastTradingDay(), params.MarketCloseCutoffTime)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ApplyFill records a fill of fillQty contracts (signed: + bought, - sold) at
// fillPrice per share on the given side. It returns true when the fill
// completes the side. A completed open side moves the position to open; a
// completed close side freezes the P&L and closes it.
func (p *Position) ApplyFill(kind OrderKind, symbol string, fillQty int, fillPrice float64, at time.Time, stale bool) (bool, error) {
	if p.FindLeg(symbol) == nil {
		return false, fmt.Errorf("position %s: %w: %s", p.ID, ErrUnknownLeg, symbol)
	}
	exec := p.Order(kind)
	if exec.Filled {
		return false, fmt.Errorf("position %s: %s side already filled: %w", p.ID, kind, ErrOverfill)
	}
	qty := absInt(fillQty)
	if exec.Fills+qty > p.ExpectedFills() {
		return false, fmt.Errorf("position %s: %s fill of %d after %d of %d: %w",
			p.ID, kind, qty, exec.Fills, p.ExpectedFills(), ErrOverfill)
	}

	if stale {
		exec.StalePrice = true
	}
	exec.Fills += qty
	exec.FillPrice -= sign(fillQty) * fillPrice
	exec.Premium -= float64(fillQty) * fillPrice * SharesPerContract

	if exec.Fills != p.ExpectedFills() {
		return false, nil
	}

	exec.Filled = true
	exec.FilledAt = at
	exec.Handles = nil
	switch kind {
	case OrderOpen:
		p.Filled = true
		if err := p.TransitionState(StateOpen, ConditionOpenFilled, at); err != nil {
			return true, err
		}
	case OrderClose:
		p.PnL = p.OpenPremium() + p.ClosePremium()
		if err := p.TransitionState(StateClosed, ConditionCloseFilled, at); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Settle closes an open position whose legs expired, booking closePremium as
// the settlement value.
func (p *Position) Settle(closePremium float64, at time.Time) error {
	p.CloseOrder.Premium = closePremium
	p.CloseOrder.Filled = true
	p.CloseOrder.FilledAt = at
	p.PnL = p.OpenPremium() + p.ClosePremium()
	p.CloseReasons = append(p.CloseReasons, "Expired")
	return p.TransitionState(StateClosed, ConditionExpired, at)
}

// Cancel flags the position cancelled and returns the broker handles of the
// active side that must be cancelled.
func (p *Position) Cancel(reason, condition string, at time.Time) ([]string, error) {
	kind := p.ActiveKind()
	if err := p.TransitionState(StateCancelled, condition, at); err != nil {
		return nil, err
	}
	p.CancelReason = reason
	exec := p.Order(kind)
	handles := exec.Handles
	exec.Handles = nil
	return handles, nil
}

// UpdatePnLRange tracks the running high and low P&L watermarks and the day
// in trade each was set.
func (p *Position) UpdatePnLRange(now time.Time, pnl float64) {
	dit := p.DaysInTrade(now)
	if pnl < p.PnLMin {
		p.PnLMin = pnl
		p.PnLMinDIT = dit
	}
	if pnl > p.PnLMax {
		p.PnLMax = pnl
		p.PnLMaxDIT = dit
	}
}

// TransitionState moves the position to a new state
func (p *Position) TransitionState(to PositionState, condition string, at time.Time) error {
	if err := p.ensureMachine().Transition(to, condition, at); err != nil {
		return fmt.Errorf("position %s state transition failed: %w", p.ID, err)
	}

	p.State = to

	switch to {
	case StateOpen:
		if p.OpenFilledAt.IsZero() {
			p.OpenFilledAt = at
		}
	case StateClosing:
		if p.ClosedAt.IsZero() {
			p.ClosedAt = at
		}
	case StateClosed:
		if p.CloseFilledAt.IsZero() {
			p.CloseFilledAt = at
		}
		p.DIT = p.DaysInTrade(at)
	case StateCancelled:
		p.Cancelled = true
	}
	return nil
}

// GetCurrentState returns the canonical persisted state
func (p *Position) GetCurrentState() PositionState {
	return p.State
}

// IsActive reports whether the position still belongs in the active index.
func (p *Position) IsActive() bool {
	return !IsTerminalState(p.State)
}

func (p *Position) ensureMachine() *StateMachine {
	if p.StateMachine == nil {
		p.StateMachine = NewStateMachineFromState(p.State)
	}
	return p.StateMachine
}

// GetStateDescription returns a human-readable state description
func (p *Position) GetStateDescription() string {
	return p.ensureMachine().GetStateDescription()
}

// ValidateState ensures the position state is consistent with strong invariants
func (p *Position) ValidateState() error {
	if err := p.ensureMachine().ValidateStateConsistency(); err != nil {
		return fmt.Errorf("position %s state validation failed: %w", p.ID, err)
	}

	currentState := p.State
	if len(p.Legs) == 0 {
		return fmt.Errorf("position %s in state %s: Legs must not be empty", p.ID, currentState)
	}
	if p.Quantity <= 0 {
		return fmt.Errorf("position %s in state %s: Quantity must be > 0 (current: %d)",
			p.ID, currentState, p.Quantity)
	}
	if p.OpenOrder.Filled && p.CloseOrder.Filled && currentState != StateClosed {
		return fmt.Errorf("position %s in state %s: both sides filled but position not closed", p.ID, currentState)
	}

	switch currentState {
	case StatePendingOpen:
		if p.OpenOrder.Filled {
			return fmt.Errorf("position %s in state %s: open order must not be filled", p.ID, currentState)
		}
		if len(p.CloseReasons) > 0 {
			return fmt.Errorf("position %s in state %s: CloseReasons must be empty (current: %s)",
				p.ID, currentState, strings.Join(p.CloseReasons, ", "))
		}
	case StateOpen:
		if !p.OpenOrder.Filled || p.OpenFilledAt.IsZero() {
			return fmt.Errorf("position %s in state %s: open order must be filled", p.ID, currentState)
		}
		if p.CloseOrder.Fills > 0 {
			return fmt.Errorf("position %s in state %s: close order must have no fills (current: %d)",
				p.ID, currentState, p.CloseOrder.Fills)
		}
		if err := p.checkPremiumSign(); err != nil {
			return err
		}
	case StateClosing:
		if !p.OpenOrder.Filled {
			return fmt.Errorf("position %s in state %s: open order must be filled", p.ID, currentState)
		}
		if len(p.CloseReasons) == 0 {
			return fmt.Errorf("position %s in state %s: CloseReasons must be set", p.ID, currentState)
		}
	case StateClosed:
		if !p.OpenOrder.Filled || !p.CloseOrder.Filled {
			return fmt.Errorf("position %s in state %s: both sides must be filled", p.ID, currentState)
		}
		if len(p.CloseReasons) == 0 {
			return fmt.Errorf("position %s in state %s: CloseReasons must be set", p.ID, currentState)
		}
		if math.Abs(p.PnL-(p.OpenPremium()+p.ClosePremium())) > 1e-6 {
			return fmt.Errorf("position %s in state %s: PnL %.2f != open %.2f + close %.2f",
				p.ID, currentState, p.PnL, p.OpenPremium(), p.ClosePremium())
		}
		if !p.CloseFilledAt.IsZero() && p.CloseFilledAt.Before(p.OpenFilledAt) {
			return fmt.Errorf("position %s in state %s: close fill (%v) precedes open fill (%v)",
				p.ID, currentState, p.CloseFilledAt, p.OpenFilledAt)
		}
	case StateCancelled:
		if !p.Cancelled {
			return fmt.Errorf("position %s in state %s: Cancelled flag must be set", p.ID, currentState)
		}
	default:
		return fmt.Errorf("position %s: unknown state %q", p.ID, currentState)
	}
	return nil
}

// checkPremiumSign verifies the open premium agrees with the credit/debit
// direction of the structure.
func (p *Position) checkPremiumSign() error {
	prem := p.OpenPremium()
	if p.Credit && prem < 0 {
		return fmt.Errorf("position %s: credit structure with negative open premium %.2f", p.ID, prem)
	}
	if !p.Credit && prem > 0 {
		return fmt.Errorf("position %s: debit structure with positive open premium %.2f", p.ID, prem)
	}
	return nil
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
