// Package util provides common utility functions for price and calendar calculations.
package util

import (
	"math"

	"github.com/shopspring/decimal"
)

// DefaultTick is the minimum option price increment.
const DefaultTick = 0.01

// RoundToTick rounds x to the nearest tick increment, ties away from zero.
// For example, with tick=0.01, 1.235 becomes 1.24.
func RoundToTick(x, tick float64) float64 {
	return toTick(x, tick, func(d decimal.Decimal) decimal.Decimal { return d.Round(0) })
}

// FloorToTick rounds x down to the tick increment at or below it.
func FloorToTick(x, tick float64) float64 {
	return toTick(x, tick, decimal.Decimal.Floor)
}

// CeilToTick rounds x up to the tick increment at or above it.
func CeilToTick(x, tick float64) float64 {
	return toTick(x, tick, decimal.Decimal.Ceil)
}

// RoundPrice rounds x to the given number of decimal places.
func RoundPrice(x float64, places int32) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	f, _ := decimal.NewFromFloat(x).Round(places).Float64()
	return f
}

func toTick(x, tick float64, fn func(decimal.Decimal) decimal.Decimal) float64 {
	tick = math.Abs(tick)
	if tick == 0 || math.IsNaN(tick) || math.IsInf(tick, 0) || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	t := decimal.NewFromFloat(tick)
	units := fn(decimal.NewFromFloat(x).Div(t))
	f, _ := units.Mul(t).Float64()
	return f
}
