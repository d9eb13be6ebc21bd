package selection

import (
	"fmt"
	"math"
	"strings"

	"github.com/eddiefleurent/scranton_spreads/internal/models"
)

// Candidate is an assembled structure ready for sizing.
type Candidate struct {
	Strategy  string // display name, e.g. "Iron Condor"
	Contracts []*models.Contract
	Sides     []int
	Keys      []string // leg descriptions; empty entries default to <long|short><Call|Put>
	Credit    bool
}

// StrategyID returns the display name without spaces, e.g. "IronCondor".
func (c *Candidate) StrategyID() string {
	return strings.ReplaceAll(c.Strategy, " ", "")
}

// Legs binds each contract to its side.
func (c *Candidate) Legs() []models.Leg {
	legs := make([]models.Leg, 0, len(c.Contracts))
	for i, contract := range c.Contracts {
		key := ""
		if i < len(c.Keys) {
			key = c.Keys[i]
		}
		legs = append(legs, models.NewLeg(contract, c.Sides[i], key))
	}
	return legs
}

func newCandidate(strategy string, contracts []*models.Contract, sides []int, credit bool) *Candidate {
	if len(contracts) == 0 || len(contracts) != len(sides) {
		return nil
	}
	for _, c := range contracts {
		if c == nil {
			return nil
		}
	}
	return &Candidate{Strategy: strategy, Contracts: contracts, Sides: sides, Credit: credit}
}

func title(right models.OptionRight) string {
	if right == models.Put {
		return "Put"
	}
	return "Call"
}

// netDeltaTarget turns a net delta offset into a 50-centred target delta. Net
// deltas of 50 or more are ignored.
func netDeltaTarget(netDelta *float64, sign float64) *float64 {
	if netDelta == nil || math.Abs(*netDelta) >= 50 {
		return nil
	}
	d := 50 + sign*(*netDelta)
	return &d
}

// Naked returns a single short (sell) or long option.
func (b *Builder) Naked(contracts []*models.Contract, right models.OptionRight, strike, delta, fromPrice, toPrice *float64, sell bool) *Candidate {
	sides, name := []int{1}, "Long "+title(right)
	if sell {
		sides, name = []int{-1}, "Short "+title(right)
	}

	var sorted []*models.Contract
	switch right {
	case models.Put:
		sorted = b.Puts(contracts, Filter{ToDelta: delta, ToStrike: strike, FromPrice: fromPrice, ToPrice: toPrice})
	case models.Call:
		sorted = b.Calls(contracts, Filter{ToDelta: delta, FromStrike: strike, FromPrice: fromPrice, ToPrice: toPrice})
	default:
		return nil
	}
	if len(sorted) == 0 {
		return nil
	}
	return newCandidate(name, sorted[:1], sides, sell)
}

// Straddle returns a put and a call at the same strike: the ATM strike unless a
// strike or net delta moves the centre.
func (b *Builder) Straddle(contracts []*models.Contract, strike, netDelta *float64, sell bool) *Candidate {
	sides, name := []int{1, 1}, "Long Straddle"
	if sell {
		sides, name = []int{-1, -1}, "Short Straddle"
	}

	delta := netDeltaTarget(netDelta, 1)
	if strike == nil && delta == nil {
		atm, ok := ATMStrike(contracts)
		if !ok {
			return nil
		}
		strike = &atm
	}

	puts := b.Puts(contracts, Filter{ToDelta: delta, ToStrike: strike})
	if len(puts) == 0 {
		return nil
	}
	put := puts[0]
	calls := b.Calls(contracts, Filter{FromStrike: &put.Strike})
	if len(calls) == 0 {
		return nil
	}
	return newCandidate(name, []*models.Contract{put, calls[0]}, sides, sell)
}

// Strangle returns an OTM put and an OTM call.
func (b *Builder) Strangle(contracts []*models.Contract, callDelta, putDelta, callStrike, putStrike *float64, sell bool) *Candidate {
	sides, name := []int{1, 1}, "Long Strangle"
	if sell {
		sides, name = []int{-1, -1}, "Short Strangle"
	}
	puts := b.Puts(contracts, Filter{ToDelta: putDelta, ToStrike: putStrike})
	calls := b.Calls(contracts, Filter{ToDelta: callDelta, FromStrike: callStrike})
	if len(puts) == 0 || len(calls) == 0 {
		return nil
	}
	return newCandidate(name, []*models.Contract{puts[0], calls[0]}, sides, sell)
}

// VerticalSpread returns a credit ([-1, 1]) or debit ([1, -1]) spread.
func (b *Builder) VerticalSpread(contracts []*models.Contract, right models.OptionRight, opts SpreadOptions, sell bool) *Candidate {
	sides, name := []int{1, -1}, title(right)+" Debit Spread"
	if sell {
		sides, name = []int{-1, 1}, title(right)+" Credit Spread"
	}
	legs := b.Spread(contracts, right, opts)
	if len(legs) != 2 {
		return nil
	}
	return newCandidate(name, legs, sides, sell)
}

// IronCondor returns [longPut, shortPut, shortCall, longCall] for the sold
// condor and the mirror for the bought one.
func (b *Builder) IronCondor(contracts []*models.Contract, callDelta, putDelta, callStrike, putStrike *float64, callWing, putWing float64, sell bool) *Candidate {
	sides, name := []int{-1, 1, 1, -1}, "Reverse Iron Condor"
	if sell {
		sides, name = []int{1, -1, -1, 1}, "Iron Condor"
	}
	puts := b.Spread(contracts, models.Put, SpreadOptions{Strike: putStrike, Delta: putDelta, WingSize: putWing, SortByStrike: true})
	calls := b.Spread(contracts, models.Call, SpreadOptions{Strike: callStrike, Delta: callDelta, WingSize: callWing})
	legs := append(append([]*models.Contract{}, puts...), calls...)
	if len(legs) != 4 {
		return nil
	}
	return newCandidate(name, legs, sides, sell)
}

// IronFly returns an iron condor whose short legs share the centre strike.
func (b *Builder) IronFly(contracts []*models.Contract, netDelta, strike *float64, callWing, putWing float64, sell bool) *Candidate {
	sides, name := []int{-1, 1, 1, -1}, "Reverse Iron Fly"
	if sell {
		sides, name = []int{1, -1, -1, 1}, "Iron Fly"
	}

	delta := netDeltaTarget(netDelta, 1)
	if strike == nil && delta == nil {
		atm, ok := ATMStrike(contracts)
		if !ok {
			return nil
		}
		strike = &atm
	}

	puts := b.Spread(contracts, models.Put, SpreadOptions{Strike: strike, Delta: delta, WingSize: putWing, SortByStrike: true})
	if len(puts) != 2 {
		return nil
	}
	centre := puts[1].Strike
	calls := b.Spread(contracts, models.Call, SpreadOptions{Strike: &centre, WingSize: callWing})
	legs := append(append([]*models.Contract{}, puts...), calls...)
	if len(legs) != 4 {
		return nil
	}
	return newCandidate(name, legs, sides, sell)
}

// Butterfly returns a three-strike put or call butterfly: [1, -2, 1] when
// bought and [-1, 2, -1] when sold.
func (b *Builder) Butterfly(contracts []*models.Contract, right models.OptionRight, netDelta, strike *float64, leftWing, rightWing float64, sell bool) *Candidate {
	if leftWing <= 0 {
		leftWing = rightWing
	}
	if rightWing <= 0 {
		rightWing = leftWing
	}
	if leftWing <= 0 {
		leftWing, rightWing = 1, 1
	}

	sides, name := []int{1, -2, 1}, "Debit Butterfly"
	if sell {
		sides, name = []int{-1, 2, -1}, "Credit Butterfly"
	}
	keys := make([]string, 3)
	for i, prefix := range []string{"left", "", "right"} {
		key := models.LegKey(sides[i], right)
		if prefix != "" {
			key = prefix + strings.ToUpper(key[:1]) + key[1:]
		}
		keys[i] = key
	}

	// Put deltas grow toward the centre from below, call deltas from above
	sign := 1.0
	if right == models.Call {
		sign = -1
	}
	delta := netDeltaTarget(netDelta, sign)
	if strike == nil && delta == nil {
		atm, ok := ATMStrike(contracts)
		if !ok {
			return nil
		}
		strike = &atm
	}

	var legs []*models.Contract
	switch right {
	case models.Put:
		spread := b.Spread(contracts, models.Put, SpreadOptions{Strike: strike, Delta: delta, WingSize: leftWing, SortByStrike: true})
		if len(spread) != 2 {
			return nil
		}
		middle := spread[1].Strike
		from, to := middle+0.1, middle+rightWing
		wings := b.Puts(contracts, Filter{FromStrike: &from, ToStrike: &to})
		if len(wings) == 0 {
			return nil
		}
		legs = []*models.Contract{spread[0], spread[1], wings[0]}
	case models.Call:
		spread := b.Spread(contracts, models.Call, SpreadOptions{Strike: strike, Delta: delta, WingSize: rightWing})
		if len(spread) != 2 {
			return nil
		}
		middle := spread[0].Strike
		from, to := middle-leftWing, middle-0.1
		wings := b.Calls(contracts, Filter{FromStrike: &from, ToStrike: &to})
		if len(wings) == 0 {
			return nil
		}
		legs = []*models.Contract{wings[0], spread[0], spread[1]}
	default:
		return nil
	}

	c := newCandidate(name, legs, sides, sell)
	if c != nil {
		c.Keys = keys
	}
	return c
}

// CustomLeg describes one leg of a custom structure: its right, target delta
// in percent, and signed ratio.
type CustomLeg struct {
	Right models.OptionRight
	Delta float64
	Side  int
}

// Custom picks the first contract at or beyond each leg's delta. The
// credit/debit direction is inferred from the net mid-price unless sell is set.
func (b *Builder) Custom(contracts []*models.Contract, legs []CustomLeg, name string, sell *bool) *Candidate {
	if len(legs) == 0 {
		return nil
	}
	if name == "" {
		name = "Custom"
	}
	picked := make([]*models.Contract, 0, len(legs))
	sides := make([]int, 0, len(legs))
	mid := 0.0
	for _, l := range legs {
		delta := l.Delta
		matches := b.Contracts(contracts, Filter{Right: l.Right, ToDelta: &delta, Descending: l.Right == models.Put})
		if len(matches) == 0 {
			b.logger.WithField("leg", fmt.Sprintf("%s %+d @%.0f", l.Right, l.Side, l.Delta)).Debug("custom leg not found")
			return nil
		}
		picked = append(picked, matches[0])
		sides = append(sides, l.Side)
		mid -= matches[0].MidPrice() * float64(l.Side)
	}
	credit := mid > 0
	if sell != nil {
		credit = *sell
	}
	return newCandidate(name, picked, sides, credit)
}
