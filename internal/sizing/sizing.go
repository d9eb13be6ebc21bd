// Package sizing turns a selected structure into a priced, quantified order
// specification, or explains why it must not be traded.
package sizing

import (
	"math"
	"time"

	"github.com/eddiefleurent/scranton_spreads/internal/config"
	"github.com/eddiefleurent/scranton_spreads/internal/models"
	"github.com/eddiefleurent/scranton_spreads/internal/pricing"
	"github.com/eddiefleurent/scranton_spreads/internal/selection"
	"github.com/eddiefleurent/scranton_spreads/internal/util"
)

// Rejection names why a candidate was not sized. The empty value means
// accepted.
type Rejection string

const (
	RejectNoLegs            Rejection = "no legs"
	RejectDuplicate         Rejection = "duplicate of a working order"
	RejectDuplicatePosition Rejection = "duplicate of an active position"
	RejectZeroQuantity      Rejection = "quantity resolved to zero"
	RejectSignMismatch      Rejection = "mid-price sign does not match credit/debit direction"
	RejectQuantityLimit     Rejection = "quantity exceeds max order quantity"
	RejectSpreadTooWide     Rejection = "bid/ask spread too wide for a market order"
)

// zeroPrice is the magnitude below which a price is treated as zero.
const zeroPrice = 1e-5

// Account is a point-in-time snapshot of the account collaborator.
type Account struct {
	PortfolioValue  float64
	MarginRemaining float64
	RealizedProfit  float64
}

// InitialValue returns the account value at inception.
func (a Account) InitialValue() float64 {
	return a.PortfolioValue - a.RealizedProfit
}

// OrderSpec is a validated, sized order. It is consumed once to build a
// position.
type OrderSpec struct {
	StrategyID      string
	Strategy        string
	Expiry          time.Time
	Legs            []models.Leg
	MidPrice        float64 // per share, positive for credit
	BidAskSpread    float64
	LimitPrice      float64
	Quantity        int
	MaxQuantity     int
	TargetPremium   *float64
	MaxLoss         float64 // per-share points times quantity, <= 0
	TargetProfit    *float64
	Credit          bool
	UnderlyingPrice float64
	UseLimit        bool
}

// Sizer sizes candidates for one strategy.
type Sizer struct {
	params *config.StrategyParams
	pricer pricing.Pricer
	now    time.Time
}

// NewSizer creates a sizer. The pricer may be nil when no Greeks-based profit
// target is configured.
func NewSizer(params *config.StrategyParams, pricer pricing.Pricer, now time.Time) *Sizer {
	return &Sizer{params: params, pricer: pricer, now: now}
}

// Input is everything Size needs besides the parameters.
type Input struct {
	Candidate   *selection.Candidate
	Account     Account
	Outstanding [][]models.Leg // legs of orders still working
}

// MidPrice returns the per-share combination mid: positive when the
// structure collects premium.
func MidPrice(legs []models.Leg) float64 {
	mid := 0.0
	for i := range legs {
		mid -= float64(legs[i].Side) * legs[i].Contract.MidPrice()
	}
	return mid
}

// BidAskSpread returns the sum of the legs' spreads.
func BidAskSpread(legs []models.Leg) float64 {
	spread := 0.0
	for i := range legs {
		spread += legs[i].Contract.Spread()
	}
	return spread
}

// LimitPrice derives the opening limit price from the mid: the absolute price
// when configured, otherwise a relative adjustment of the mid, then less the
// slippage allowance, clamped to the premium bounds.
func LimitPrice(params *config.StrategyParams, legs []models.Leg, mid float64) float64 {
	var price float64
	if params.LimitOrderAbsolutePrice != nil {
		price = *params.LimitOrderAbsolutePrice
	} else {
		price = mid * (1 + params.LimitOrderRelativePriceAdjustment)
	}

	ratio := 0
	for i := range legs {
		ratio += legs[i].Ratio()
	}
	price -= float64(ratio) * params.Slippage

	if params.MinPremium != nil && price < *params.MinPremium {
		price = *params.MinPremium
	}
	if params.MaxPremium != nil && price > *params.MaxPremium {
		price = *params.MaxPremium
	}
	return price
}

// MaxQuantity returns the order quantity cap. With percentage premium
// targeting it grows with realized profit and never falls below the base.
func MaxQuantity(params *config.StrategyParams, acct Account) int {
	base := params.MaxOrderQuantity
	if params.TargetPremiumPct == nil {
		return base
	}
	initial := acct.InitialValue()
	if initial <= 0 {
		return base
	}
	scaled := int(math.Round(float64(base) * (1 + acct.RealizedProfit/initial)))
	if scaled < base {
		return base
	}
	return scaled
}

// TargetPremium returns the premium to collect or pay in dollars, or nil when
// sizing is by fixed quantity.
func TargetPremium(params *config.StrategyParams, acct Account) *float64 {
	var target float64
	switch {
	case params.TargetPremiumPct != nil:
		pct := math.Max(0, math.Min(1, *params.TargetPremiumPct))
		target = acct.PortfolioValue * pct
	case params.TargetPremium != nil:
		target = *params.TargetPremium
	default:
		return nil
	}
	return &target
}

// Quantity solves the contract count for a dollar target at the given
// per-share price. Credit orders trade at least one contract; debit orders
// never exceed the target and may resolve to zero.
func Quantity(target, price float64, credit bool) int {
	if math.Abs(price) <= zeroPrice {
		return 1
	}
	q := math.Abs(target / (price * models.SharesPerContract))
	if credit {
		return int(math.Max(1, math.Round(q)))
	}
	return int(math.Floor(q))
}

// IsDuplicateOrder reports whether legs match the leg/side/expiry set of any
// outstanding order.
func IsDuplicateOrder(legs []models.Leg, outstanding [][]models.Leg) bool {
	for _, other := range outstanding {
		if len(other) != len(legs) {
			continue
		}
		sides := make(map[string]models.Leg, len(other))
		for _, l := range other {
			sides[l.Symbol] = l
		}
		dup := true
		for _, l := range legs {
			o, ok := sides[l.Symbol]
			if !ok || o.Side != l.Side || !util.SameDay(o.Expiry, l.Expiry) {
				dup = false
				break
			}
		}
		if dup {
			return true
		}
	}
	return false
}

// Size prices and quantifies a candidate. A nil spec comes with the reason.
func (s *Sizer) Size(in Input) (*OrderSpec, Rejection) {
	c := in.Candidate
	if c == nil || len(c.Contracts) == 0 {
		return nil, RejectNoLegs
	}
	legs := c.Legs()
	if IsDuplicateOrder(legs, in.Outstanding) {
		return nil, RejectDuplicate
	}
	p := s.params

	rawMid := MidPrice(legs)
	limit := util.RoundPrice(LimitPrice(p, legs, rawMid), 2)
	mid := util.RoundPrice(rawMid, 2)
	spread := BidAskSpread(legs)

	maxQty := MaxQuantity(p, in.Account)
	target := TargetPremium(p, in.Account)

	qtyPrice := mid
	if p.UseLimitOrders {
		qtyPrice = limit
	}
	qty := maxQty
	if target != nil {
		capped := math.Min(in.Account.MarginRemaining, *target)
		target = &capped
		qty = Quantity(capped, qtyPrice, c.Credit)
	}

	underlying := legs[0].Contract.UnderlyingPrice
	maxLossPerUnit := MaxLoss(legs, underlying)

	spec := &OrderSpec{
		StrategyID:      c.StrategyID(),
		Strategy:        c.Strategy,
		Expiry:          legs[0].Expiry,
		Legs:            legs,
		MidPrice:        mid,
		BidAskSpread:    spread,
		LimitPrice:      limit,
		Quantity:        qty,
		MaxQuantity:     maxQty,
		TargetPremium:   target,
		MaxLoss:         maxLossPerUnit * float64(qty),
		Credit:          c.Credit,
		UnderlyingPrice: underlying,
		UseLimit:        p.UseLimitOrders,
	}
	if r := s.Validate(spec); r != "" {
		return nil, r
	}

	spec.TargetProfit = ProfitTarget(p, ProfitTargetInput{
		Pricer:         s.pricer,
		Legs:           legs,
		Underlying:     underlying,
		Now:            s.now,
		MidPrice:       mid,
		MaxLossPerUnit: maxLossPerUnit,
		Quantity:       qty,
	})
	return spec, ""
}

// Validate applies the hard preconditions on a sized order.
func (s *Sizer) Validate(spec *OrderSpec) Rejection {
	p := s.params
	if spec.Quantity == 0 {
		return RejectZeroQuantity
	}
	if (spec.Credit && spec.MidPrice <= 0) || (!spec.Credit && spec.MidPrice >= 0) {
		return RejectSignMismatch
	}
	if p.ValidateQuantity && spec.Quantity > spec.MaxQuantity {
		return RejectQuantityLimit
	}
	// Limit orders check the spread at execution time instead
	if !p.UseLimitOrders && p.ValidateBidAskSpread &&
		math.Abs(spec.BidAskSpread) > p.BidAskSpreadRatio*math.Abs(spec.MidPrice) {
		return RejectSpreadTooWide
	}
	return ""
}

// HasDuplicateLegs reports whether an active position of the same structure
// and expiry already covers the order. Multiple entries per expiry are allowed
// only when configured, and then only if no leg repeats a (strike, side) pair.
func HasDuplicateLegs(params *config.StrategyParams, spec *OrderSpec, active []*models.Position) bool {
	if !params.CheckForDuplicatePositions {
		return false
	}
	for _, pos := range active {
		if pos.StrategyID != spec.StrategyID || !util.SameDay(pos.Expiry, spec.Expiry) {
			continue
		}
		if !params.AllowMultipleEntriesPerExpiry {
			return true
		}
		for _, held := range pos.Legs {
			for _, l := range spec.Legs {
				if held.Strike == l.Strike && held.Side == l.Side && held.Right == l.Right {
					return true
				}
			}
		}
	}
	return false
}
