package models

import (
	"math"
	"time"
)

// OrderKind distinguishes the side of the position lifecycle an order serves.
type OrderKind string

const (
	// OrderOpen opens a position.
	OrderOpen OrderKind = "open"
	// OrderClose closes a position.
	OrderClose OrderKind = "close"
	// OrderUpdate re-prices an outstanding order.
	OrderUpdate OrderKind = "update"
)

// Sign returns +1 for the open side and -1 for the close side. Multiplying a
// leg's side by it gives the transaction direction of that leg.
func (k OrderKind) Sign() int {
	if k == OrderClose {
		return -1
	}
	return 1
}

// ExecutionOrder tracks one side (open or close) of a position's execution.
// Premium is in total dollars: positive when received, negative when paid.
type ExecutionOrder struct {
	MidPrice      float64   `json:"mid_price"`
	MidPriceMin   float64   `json:"mid_price_min"`
	MidPriceMax   float64   `json:"mid_price_max"`
	BidAskSpread  float64   `json:"bid_ask_spread"`
	LimitPrice    float64   `json:"limit_price"`
	BaseLimit     float64   `json:"base_limit"`
	Premium       float64   `json:"premium"`
	Fills         int       `json:"fills"`
	FillPrice     float64   `json:"fill_price"`
	Filled        bool      `json:"filled"`
	FilledAt      time.Time `json:"filled_at,omitempty"`
	StalePrice    bool      `json:"stale_price"`
	MaxLoss       float64   `json:"max_loss"`
	Handles       []string  `json:"handles,omitempty"`
	PriceProgress []float64 `json:"price_progress,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
	LastRetry     time.Time `json:"last_retry,omitempty"`
	Retries       int       `json:"retries"`
}

// ObserveMid records a new mid-price and widens the min/max range. The first
// observation seeds the range.
func (o *ExecutionOrder) ObserveMid(mid float64) {
	if o.MidPriceMin == 0 && o.MidPriceMax == 0 {
		o.MidPriceMin, o.MidPriceMax = mid, mid
	}
	o.MidPrice = mid
	o.MidPriceMin = math.Min(o.MidPriceMin, mid)
	o.MidPriceMax = math.Max(o.MidPriceMax, mid)
}

// RecordProgress appends a rounded price to the audit log.
func (o *ExecutionOrder) RecordProgress(price float64) {
	o.PriceProgress = append(o.PriceProgress, math.Round(price*100)/100)
}

// RetryBase returns the limit price retries are bounded by. Records written
// before BaseLimit existed fall back to the live limit.
func (o *ExecutionOrder) RetryBase() float64 {
	if o.BaseLimit != 0 {
		return o.BaseLimit
	}
	return o.LimitPrice
}

// HasOutstanding reports whether broker handles are live for this side.
func (o *ExecutionOrder) HasOutstanding() bool {
	return len(o.Handles) > 0
}

// WorkingOrder is the live routing and retry record for a not yet filled
// order. It is dropped once the order fills or is cancelled.
type WorkingOrder struct {
	PositionID     string    `json:"position_id"`
	Tag            string    `json:"tag"`
	StrategyName   string    `json:"strategy_name"`
	Kind           OrderKind `json:"kind"`
	UseLimit       bool      `json:"use_limit"`
	LimitPrice     float64   `json:"limit_price"`
	Fills          int       `json:"fills"`
	Retries        int       `json:"retries"`
	LastRetry      time.Time `json:"last_retry,omitempty"`
	NeedsAttention bool      `json:"needs_attention"`
	CreatedAt      time.Time `json:"created_at"`
}

// SinceLastRetry returns the time elapsed since the last submission. A
// zero LastRetry reports the maximum duration.
func (w *WorkingOrder) SinceLastRetry(now time.Time) time.Duration {
	if w.LastRetry.IsZero() {
		return time.Duration(math.MaxInt64)
	}
	return now.Sub(w.LastRetry)
}
