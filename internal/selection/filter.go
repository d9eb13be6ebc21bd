// Package selection filters option chains and assembles multi-leg structures
// from them. Every function is pure over its inputs apart from lazily caching
// Greeks on the contracts it inspects. A failed selection returns nil, never an
// error.
package selection

import (
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_spreads/internal/models"
	"github.com/eddiefleurent/scranton_spreads/internal/pricing"
)

// strikeOffset nudges a delta-derived strike bound past a contract that lies
// outside the requested delta range.
const strikeOffset = 0.01

// Premium ordering for unanchored spread scans.
const (
	PremiumMax = "max"
	PremiumMin = "min"
)

// Filter narrows a chain. Nil bounds are unconstrained. Deltas are in percent.
type Filter struct {
	Right      models.OptionRight // empty selects both rights
	FromDelta  *float64
	ToDelta    *float64
	FromStrike *float64
	ToStrike   *float64
	FromPrice  *float64
	ToPrice    *float64
	Descending bool
}

// Builder selects contracts using a pricer for on-demand Greeks.
type Builder struct {
	pricer pricing.Pricer
	now    time.Time
	logger logrus.FieldLogger
}

// NewBuilder creates a builder evaluating Greeks at now.
func NewBuilder(pricer pricing.Pricer, now time.Time, logger logrus.FieldLogger) *Builder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Builder{pricer: pricer, now: now, logger: logger}
}

func (b *Builder) delta(c *models.Contract) float64 {
	if c.Greeks == nil {
		b.pricer.Greeks(c, b.now)
	}
	if c.Greeks == nil {
		return 0
	}
	return c.Greeks.Delta
}

func valueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func sortByStrike(contracts []*models.Contract, descending bool) {
	sort.SliceStable(contracts, func(i, j int) bool {
		if descending {
			return contracts[i].Strike > contracts[j].Strike
		}
		return contracts[i].Strike < contracts[j].Strike
	})
}

// Contracts filters by right, strike range, tradability and mid-price range,
// then optionally by a delta range, and returns the result sorted by strike.
func (b *Builder) Contracts(contracts []*models.Contract, f Filter) []*models.Contract {
	fromStrike := valueOr(f.FromStrike, 0)
	toStrike := valueOr(f.ToStrike, math.Inf(1))
	fromPrice := valueOr(f.FromPrice, 0)
	toPrice := valueOr(f.ToPrice, math.Inf(1))

	var puts, calls []*models.Contract
	for _, c := range contracts {
		if f.Right != "" && c.Right != f.Right {
			continue
		}
		if c.Strike < fromStrike || c.Strike > toStrike || !c.Tradable {
			continue
		}
		mid := c.MidPrice()
		if mid < fromPrice || mid > toPrice {
			continue
		}
		if c.IsPut() {
			puts = append(puts, c)
		} else {
			calls = append(calls, c)
		}
	}
	sortByStrike(puts, false)
	sortByStrike(calls, false)

	if f.FromDelta != nil || f.ToDelta != nil {
		putFrom := b.fromDeltaStrike(puts, f.FromDelta, 0)
		putTo := b.toDeltaStrike(puts, f.ToDelta, math.Inf(1))
		puts = strikeWindow(puts, putFrom, putTo)

		// Call delta falls as the strike rises, so the bounds swap
		callFrom := b.fromDeltaStrike(calls, f.FromDelta, math.Inf(1))
		callTo := b.toDeltaStrike(calls, f.ToDelta, 0)
		calls = strikeWindow(calls, callTo, callFrom)
	}

	out := make([]*models.Contract, 0, len(puts)+len(calls))
	out = append(out, puts...)
	out = append(out, calls...)
	sortByStrike(out, f.Descending)
	return out
}

func strikeWindow(contracts []*models.Contract, from, to float64) []*models.Contract {
	var out []*models.Contract
	for _, c := range contracts {
		if c.Strike >= from && c.Strike <= to {
			out = append(out, c)
		}
	}
	return out
}

// Puts returns puts sorted by descending strike, nearest the money first for
// OTM puts.
func (b *Builder) Puts(contracts []*models.Contract, f Filter) []*models.Contract {
	f.Right = models.Put
	f.Descending = true
	return b.Contracts(contracts, f)
}

// Calls returns calls sorted by ascending strike.
func (b *Builder) Calls(contracts []*models.Contract, f Filter) []*models.Contract {
	f.Right = models.Call
	f.Descending = false
	return b.Contracts(contracts, f)
}

// DeltaContract returns the contract of an ascending-strike, single-right list
// whose |delta| is closest to delta (percent). Targets outside the range
// spanned by the two extremes clamp to the nearer extreme.
func (b *Builder) DeltaContract(contracts []*models.Contract, delta float64) *models.Contract {
	if len(contracts) == 0 {
		return nil
	}
	target := delta / 100
	left, right := 0, len(contracts)-1
	lc, rc := contracts[left], contracts[right]

	if rc.IsCall() {
		// Call |delta| decreases with strike: left is deepest ITM
		if math.Abs(b.delta(rc)) > target {
			return rc
		}
		if math.Abs(b.delta(lc)) < target {
			return lc
		}
	} else {
		// Put |delta| increases with strike: left is furthest OTM
		if math.Abs(b.delta(lc)) > target {
			return lc
		}
		if math.Abs(b.delta(rc)) < target {
			return rc
		}
	}

	for right-left > 1 {
		mid := (left + right + 1) / 2
		mc := contracts[mid]
		above := math.Abs(b.delta(mc)) > target
		switch {
		case above && mc.IsCall(), !above && mc.IsPut():
			left = mid
		default:
			right = mid
		}
	}

	l, r := contracts[left], contracts[right]
	if math.Abs(math.Abs(b.delta(r))-target) < math.Abs(math.Abs(b.delta(l))-target) {
		return r
	}
	return l
}

// fromDeltaStrike converts a lower |delta| bound into a strike bound. A nil
// delta or empty list yields def.
func (b *Builder) fromDeltaStrike(contracts []*models.Contract, delta *float64, def float64) float64 {
	if delta == nil {
		return def
	}
	c := b.DeltaContract(contracts, *delta)
	if c == nil {
		return def
	}
	if math.Abs(b.delta(c)) >= *delta/100 {
		return c.Strike
	}
	// Outside the range: step past it (+ for puts, - for calls)
	return c.Strike - c.Direction()*strikeOffset
}

// toDeltaStrike converts an upper |delta| bound into a strike bound.
func (b *Builder) toDeltaStrike(contracts []*models.Contract, delta *float64, def float64) float64 {
	if delta == nil {
		return def
	}
	c := b.DeltaContract(contracts, *delta)
	if c == nil {
		return def
	}
	if math.Abs(b.delta(c)) <= *delta/100 {
		return c.Strike
	}
	// Outside the range: step past it (+ for calls, - for puts)
	return c.Strike + c.Direction()*strikeOffset
}

// ATM returns contracts of the given right (empty for both) ordered by
// distance of the strike from the underlying price.
func ATM(contracts []*models.Contract, right models.OptionRight) []*models.Contract {
	var out []*models.Contract
	for _, c := range contracts {
		if right == "" || c.Right == right {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Strike-out[i].UnderlyingPrice) < math.Abs(out[j].Strike-out[j].UnderlyingPrice)
	})
	return out
}

// ATMStrike returns the strike nearest the underlying price.
func ATMStrike(contracts []*models.Contract) (float64, bool) {
	atm := ATM(contracts, "")
	if len(atm) == 0 {
		return 0, false
	}
	return atm[0].Strike, true
}

// Wing returns the contract whose strike distance from contracts[0] is closest
// to wingSize without exceeding it, unless the first contract past wingSize is
// strictly closer. The list must be ordered by distance from the first
// contract.
func Wing(contracts []*models.Contract, wingSize float64) *models.Contract {
	if len(contracts) < 2 || wingSize <= 0 {
		return nil
	}
	first := contracts[0].Strike
	var wing *models.Contract
	current := 0.0
	for _, c := range contracts[1:] {
		dist := math.Abs(c.Strike - first)
		if dist <= wingSize {
			current = dist
			wing = c
			continue
		}
		if dist-wingSize < wingSize-current {
			wing = c
		}
		break
	}
	return wing
}

// SpreadOptions anchors or scans a vertical spread.
type SpreadOptions struct {
	Strike       *float64
	Delta        *float64
	WingSize     float64
	SortByStrike bool
	FromPrice    *float64
	ToPrice      *float64
	PremiumOrder string
}

// Spread returns [primary, wing] for a vertical spread of the given right.
// With a strike or delta anchor the primary is the first contract at or beyond
// the anchor; otherwise every primary is scanned and the spread with the
// extremal net premium inside [FromPrice, ToPrice] wins. Nil is returned when
// either leg is missing.
func (b *Builder) Spread(contracts []*models.Contract, right models.OptionRight, opts SpreadOptions) []*models.Contract {
	var sorted []*models.Contract
	switch right {
	case models.Put:
		sorted = b.Puts(contracts, Filter{ToDelta: opts.Delta, ToStrike: opts.Strike})
	case models.Call:
		sorted = b.Calls(contracts, Filter{ToDelta: opts.Delta, FromStrike: opts.Strike})
	default:
		b.logger.WithField("right", right).Error("spread requires put or call")
		return nil
	}

	var best []*models.Contract
	if opts.Strike != nil || opts.Delta != nil {
		if wing := Wing(sorted, opts.WingSize); wing != nil {
			best = []*models.Contract{sorted[0], wing}
		}
	} else {
		fromPrice := valueOr(opts.FromPrice, 0)
		toPrice := valueOr(opts.ToPrice, math.Inf(1))
		useMin := opts.PremiumOrder == PremiumMin
		bestPremium := math.Inf(-1)
		if useMin {
			bestPremium = math.Inf(1)
		}
		for i := 0; i < len(sorted)-1; i++ {
			wing := Wing(sorted[i:], opts.WingSize)
			if wing == nil {
				continue
			}
			net := math.Abs(sorted[i].MidPrice() - wing.MidPrice())
			if net < fromPrice || net > toPrice {
				continue
			}
			if (!useMin && net > bestPremium) || (useMin && net < bestPremium) {
				best = []*models.Contract{sorted[i], wing}
				bestPremium = net
			}
		}
	}

	b.logger.WithFields(logrus.Fields{
		"right":     right,
		"wing_size": opts.WingSize,
		"legs":      len(best),
	}).Debug("spread selected")

	if best == nil {
		return nil
	}
	if opts.SortByStrike {
		sortByStrike(best, false)
	}
	return best
}
