package models

import (
	"fmt"
	"math"
	"time"
)

// SharesPerContract is the standard equity option multiplier.
const SharesPerContract = 100.0

// OptionRight is the call/put flag of a contract.
type OptionRight string

const (
	// Call is the right to buy the underlying.
	Call OptionRight = "call"
	// Put is the right to sell the underlying.
	Put OptionRight = "put"
)

// ParseOptionRight converts "put"/"call" (any case) to an OptionRight.
func ParseOptionRight(s string) (OptionRight, error) {
	switch s {
	case "call", "Call", "CALL", "c", "C":
		return Call, nil
	case "put", "Put", "PUT", "p", "P":
		return Put, nil
	}
	return "", fmt.Errorf("invalid option right %q", s)
}

// Greeks holds the model sensitivities of a contract. Delta is a decimal
// (0.16, -0.16), not a percentage.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`
}

// Contract is a point-in-time quote of one listed option. It is read-only for
// the duration of a decision cycle; Greeks are filled lazily by the pricer.
type Contract struct {
	Symbol          string      `json:"symbol"`
	Underlying      string      `json:"underlying"`
	UnderlyingPrice float64     `json:"underlying_price"`
	Strike          float64     `json:"strike"`
	Expiry          time.Time   `json:"expiry"`
	Right           OptionRight `json:"right"`
	Bid             float64     `json:"bid"`
	Ask             float64     `json:"ask"`
	ImpliedVol      float64     `json:"implied_vol"`
	Tradable        bool        `json:"tradable"`
	Greeks          *Greeks     `json:"greeks,omitempty"`
}

// IsCall reports whether the contract is a call.
func (c *Contract) IsCall() bool { return c.Right == Call }

// IsPut reports whether the contract is a put.
func (c *Contract) IsPut() bool { return c.Right == Put }

// MidPrice returns the average of bid and ask. A one-sided quote returns the
// available side.
func (c *Contract) MidPrice() float64 {
	switch {
	case c.Bid > 0 && c.Ask > 0:
		return (c.Bid + c.Ask) / 2
	case c.Ask > 0:
		return c.Ask
	default:
		return math.Max(c.Bid, 0)
	}
}

// Spread returns ask minus bid, never negative.
func (c *Contract) Spread() float64 {
	if c.Ask <= 0 || c.Bid <= 0 {
		return 0
	}
	return math.Max(c.Ask-c.Bid, 0)
}

// Direction returns +1 for calls and -1 for puts, the sign of the intrinsic
// value as a function of spot.
func (c *Contract) Direction() float64 {
	if c.IsCall() {
		return 1
	}
	return -1
}

// Intrinsic returns the exercise value of one share at the given spot.
func (c *Contract) Intrinsic(spot float64) float64 {
	return math.Max(0, c.Direction()*(spot-c.Strike))
}
