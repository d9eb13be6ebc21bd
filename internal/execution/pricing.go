// Package execution drives working orders to a fill: combination limit orders
// re-priced on a retry schedule, and combination market orders.
package execution

import (
	"errors"
	"math"
	"time"

	"github.com/eddiefleurent/scranton_spreads/internal/config"
	"github.com/eddiefleurent/scranton_spreads/internal/util"
)

// ErrNoAdjustment is returned when neither an order adjustment percentage nor
// an adjustment increment is configured. Limit orders cannot converge without
// one of them.
var ErrNoAdjustment = errors.New("execution: order_adjustment_pct or adjustment_increment must be set")

const (
	// defaultTick is the price grid used when no adjustment increment is set.
	defaultTick = 0.05
	// minStep is the smallest retry step.
	minStep = 0.01
)

// ValidateParams checks the execution preconditions of a strategy.
func ValidateParams(p *config.StrategyParams) error {
	if p.UseLimitOrders && p.OrderAdjustmentPct == nil && p.AdjustmentIncrement == nil {
		return ErrNoAdjustment
	}
	return nil
}

// PriceInput is what a limit price is computed from. Prices are per share and
// positive in the direction of the order: Mid is what the order would
// receive (credit) or pay (debit) at the mid-point.
type PriceInput struct {
	Mid       float64
	Spread    float64
	BaseLimit float64 // limit price set when the order was created
	Retries   int
	Receiving bool
}

// Tick returns the price grid of a strategy's orders.
func Tick(p *config.StrategyParams) float64 {
	if p.AdjustmentIncrement != nil {
		return *p.AdjustmentIncrement
	}
	return defaultTick
}

// Step returns the per-retry price change: the configured increment, or the
// bid/ask spread divided across the allowed retries.
func Step(p *config.StrategyParams, spread float64) float64 {
	var step float64
	if p.AdjustmentIncrement != nil {
		step = *p.AdjustmentIncrement
	} else if p.MaxRetries > 0 {
		step = math.Abs(spread) / float64(p.MaxRetries)
	}
	return math.Max(step, minStep)
}

// LimitPrice returns the price magnitude for the given retry. A receiving
// order starts one step above the mid and concedes one step per retry down to
// min_price_pct of the adjusted base limit. A paying order starts one step
// below the mid and concedes upward to max_price_pct of it. The result is on
// the tick grid, never crosses the bound, and is never below one tick.
func LimitPrice(p *config.StrategyParams, in PriceInput) (float64, error) {
	if p.OrderAdjustmentPct == nil && p.AdjustmentIncrement == nil {
		return 0, ErrNoAdjustment
	}
	tick := Tick(p)

	adjustment := 0.0
	if p.OrderAdjustmentPct != nil {
		adjustment = *p.OrderAdjustmentPct
	}
	base := math.Abs(in.BaseLimit)
	if base == 0 {
		base = math.Max(math.Abs(in.Mid), tick)
	}
	base *= 1 + adjustment

	step := Step(p, in.Spread)
	mid := math.Abs(in.Mid)
	concession := float64(in.Retries) * step

	var price float64
	if in.Receiving {
		floor := p.MinPricePct * base
		price = util.RoundToTick(math.Max(mid+step-concession, floor), tick)
		if price < floor {
			price = util.CeilToTick(floor, tick)
		}
	} else {
		ceiling := p.MaxPricePct * base
		price = util.RoundToTick(math.Min(mid-step+concession, ceiling), tick)
		if price > ceiling {
			price = util.FloorToTick(ceiling, tick)
		}
	}
	return math.Max(price, tick), nil
}

// ShouldRun reports whether the execution pass runs at now for the given
// speed of fill: fast every tick, normal every third minute, patient every
// fifth minute.
func ShouldRun(speed string, now time.Time) bool {
	switch speed {
	case config.SpeedNormal:
		return now.Minute()%3 == 0
	case config.SpeedPatient:
		return now.Minute()%5 == 0
	default:
		return true
	}
}
