package models

import (
	"fmt"
	"time"
)

// Leg is one contract of a position bound to a transaction side. The strike
// and expiry are copied at construction so the record stays auditable after
// the contract quote is replaced.
type Leg struct {
	Key      string      `json:"key"` // e.g. "shortCall", "leftLongPut"
	Symbol   string      `json:"symbol"`
	Right    OptionRight `json:"right"`
	Strike   float64     `json:"strike"`
	Expiry   time.Time   `json:"expiry"`
	Side     int         `json:"side"` // +n long, -n short
	Contract *Contract   `json:"-"`
}

// NewLeg binds a contract to a side. An empty key is derived from the side and
// right, e.g. "shortPut".
func NewLeg(c *Contract, side int, key string) Leg {
	if key == "" {
		key = LegKey(side, c.Right)
	}
	return Leg{
		Key:      key,
		Symbol:   c.Symbol,
		Right:    c.Right,
		Strike:   c.Strike,
		Expiry:   c.Expiry,
		Side:     side,
		Contract: c,
	}
}

// LegKey returns the default description of a leg: <long|short><Call|Put>.
func LegKey(side int, right OptionRight) string {
	prefix := "long"
	if side < 0 {
		prefix = "short"
	}
	suffix := "Call"
	if right == Put {
		suffix = "Put"
	}
	return fmt.Sprintf("%s%s", prefix, suffix)
}

// IsCall reports whether the leg is a call.
func (l *Leg) IsCall() bool { return l.Right == Call }

// IsPut reports whether the leg is a put.
func (l *Leg) IsPut() bool { return l.Right == Put }

// IsBought reports whether the leg is long.
func (l *Leg) IsBought() bool { return l.Side > 0 }

// IsSold reports whether the leg is short.
func (l *Leg) IsSold() bool { return l.Side < 0 }

// Ratio returns the absolute contract count of the leg per unit of position.
func (l *Leg) Ratio() int {
	if l.Side < 0 {
		return -l.Side
	}
	return l.Side
}

// ExpiredAt reports whether the leg's contract has expired by now. Options
// stop trading at the close of their expiry date.
func (l *Leg) ExpiredAt(now time.Time) bool {
	end := time.Date(l.Expiry.Year(), l.Expiry.Month(), l.Expiry.Day(), 16, 0, 0, 0, l.Expiry.Location())
	return now.After(end)
}
