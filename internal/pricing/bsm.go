// Package pricing values European options with the Black-Scholes-Merton model
// (no dividends) and derives Greeks and implied volatility from quotes.
package pricing

import (
	"math"
	"time"

	"github.com/eddiefleurent/scranton_spreads/internal/models"
)

const (
	// DaysPerYear converts calendar days to year fractions.
	DaysPerYear = 365.0
	// sessionMinutes is the length of a regular session, 09:30 to 16:00.
	sessionMinutes = 390.0

	ivLowerBound = 0.0001
	ivUpperBound = 2.0
	ivTolerance  = 1e-6
	ivMaxIter    = 100
	ivSeed       = 0.1
)

// Pricer is the valuation capability consumed by selection and sizing.
type Pricer interface {
	// Greeks returns the contract's sensitivities at the given time,
	// computing and caching them on the contract if needed.
	Greeks(c *models.Contract, at time.Time) *models.Greeks
	// Value returns the model price of one share of the contract at the given
	// spot and time, using the contract's implied volatility.
	Value(c *models.Contract, spot float64, at time.Time) float64
}

// BSM is a Black-Scholes-Merton pricer.
type BSM struct {
	RiskFreeRate float64
}

// NewBSM creates a pricer with the given continuously compounded rate.
func NewBSM(riskFreeRate float64) *BSM {
	return &BSM{RiskFreeRate: riskFreeRate}
}

// Tau returns the time to expiry as a year fraction. Expiry is at 16:00 on the
// expiry date; on the last day the remaining session minutes are used.
func Tau(c *models.Contract, at time.Time) float64 {
	expiry := time.Date(c.Expiry.Year(), c.Expiry.Month(), c.Expiry.Day(), 16, 0, 0, 0, c.Expiry.Location())
	diff := expiry.Sub(at)
	if diff <= 0 {
		return 0
	}
	days := math.Floor(diff.Hours() / 24)
	intraday := (diff - time.Duration(days)*24*time.Hour).Minutes() / sessionMinutes
	return math.Max(days, intraday) / DaysPerYear
}

func isITM(c *models.Contract, spot float64) bool {
	if c.IsCall() {
		return c.Strike < spot
	}
	return spot < c.Strike
}

// d1 degenerates to +/-Inf when the option is expired or volatility is zero,
// which pins delta to its intrinsic limit.
func (m *BSM) d1(c *models.Contract, sigma, tau, spot float64) float64 {
	if tau == 0 || sigma == 0 {
		sign := c.Direction()
		if isITM(c, spot) {
			return sign * math.Inf(1)
		}
		return sign * math.Inf(-1)
	}
	return (math.Log(spot/c.Strike) + (m.RiskFreeRate+0.5*sigma*sigma)*tau) / (sigma * math.Sqrt(tau))
}

func d2(d1, sigma, tau float64) float64 {
	return d1 - sigma*math.Sqrt(tau)
}

// Price returns the model value of one share.
func (m *BSM) Price(c *models.Contract, sigma, tau, spot float64) float64 {
	if tau == 0 {
		return c.Intrinsic(spot)
	}
	d1 := m.d1(c, sigma, tau, spot)
	d2 := d2(d1, sigma, tau)
	xert := c.Strike * math.Exp(-m.RiskFreeRate*tau)
	if c.IsCall() {
		return normCDF(d1)*spot - normCDF(d2)*xert
	}
	return normCDF(-d2)*xert - normCDF(-d1)*spot
}

// Delta returns dV/dS.
func (m *BSM) Delta(c *models.Contract, sigma, tau, spot float64) float64 {
	d1 := m.d1(c, sigma, tau, spot)
	if c.IsCall() {
		return normCDF(d1)
	}
	return -normCDF(-d1)
}

// Gamma returns d2V/dS2.
func (m *BSM) Gamma(c *models.Contract, sigma, tau, spot float64) float64 {
	if sigma == 0 || tau == 0 {
		return math.Inf(1)
	}
	return normPDF(m.d1(c, sigma, tau, spot)) / (spot * sigma * math.Sqrt(tau))
}

// Vega returns dV/dsigma.
func (m *BSM) Vega(c *models.Contract, sigma, tau, spot float64) float64 {
	if tau == 0 {
		return 0
	}
	return spot * normPDF(m.d1(c, sigma, tau, spot)) * math.Sqrt(tau)
}

// Vomma returns d2V/dsigma2.
func (m *BSM) Vomma(c *models.Contract, sigma, tau, spot float64) float64 {
	if sigma == 0 {
		return math.Inf(1)
	}
	d1 := m.d1(c, sigma, tau, spot)
	return spot * normPDF(d1) * math.Sqrt(tau) * d1 * d2(d1, sigma, tau) / sigma
}

// Theta returns the daily time decay.
func (m *BSM) Theta(c *models.Contract, sigma, tau, spot float64) float64 {
	if tau == 0 {
		return 0
	}
	d1 := m.d1(c, sigma, tau, spot)
	d2 := d2(d1, sigma, tau)
	sns := -(spot * normPDF(d1) * sigma) / (2 * math.Sqrt(tau))
	rxert := m.RiskFreeRate * c.Strike * math.Exp(-m.RiskFreeRate*tau)
	if c.IsCall() {
		return (sns - rxert*normCDF(d2)) / DaysPerYear
	}
	return (sns + rxert*normCDF(-d2)) / DaysPerYear
}

// Rho returns dV/dr.
func (m *BSM) Rho(c *models.Contract, sigma, tau, spot float64) float64 {
	d1 := m.d1(c, sigma, tau, spot)
	d2 := d2(d1, sigma, tau)
	txert := tau * c.Strike * math.Exp(-m.RiskFreeRate*tau)
	if c.IsCall() {
		return txert * normCDF(d2)
	}
	return -txert * normCDF(-d2)
}

// ImpliedVol solves for the volatility that reprices the contract's mid.
// Halley's method is tried first; bisection over [0.0001, 2] is the fallback.
// Zero is returned when no root is found.
func (m *BSM) ImpliedVol(c *models.Contract, tau float64) float64 {
	target := c.MidPrice()
	spot := c.UnderlyingPrice
	if tau == 0 || target <= 0 || spot <= 0 {
		return 0
	}
	f := func(sigma float64) float64 { return m.Price(c, sigma, tau, spot) - target }

	x := ivSeed
	if c.ImpliedVol > 0 {
		x = c.ImpliedVol
	}
	for i := 0; i < ivMaxIter; i++ {
		fx := f(x)
		fp := m.Vega(c, x, tau, spot)
		fpp := m.Vomma(c, x, tau, spot)
		denom := 2*fp*fp - fx*fpp
		if fp == 0 || denom == 0 || math.IsNaN(denom) || math.IsInf(denom, 0) {
			break
		}
		next := x - 2*fx*fp/denom
		if next <= 0 || math.IsNaN(next) {
			break
		}
		if math.Abs(next-x) < ivTolerance {
			if math.Abs(f(next)) < 1e-4*math.Max(1, target) {
				return next
			}
			break
		}
		x = next
	}

	lo, hi := ivLowerBound, ivUpperBound
	flo, fhi := f(lo), f(hi)
	if flo*fhi > 0 {
		return 0
	}
	for i := 0; i < ivMaxIter && hi-lo > ivTolerance; i++ {
		mid := (lo + hi) / 2
		fm := f(mid)
		if fm*flo <= 0 {
			hi = mid
		} else {
			lo, flo = mid, fm
		}
	}
	return (lo + hi) / 2
}

// Greeks computes (once) and caches the contract's implied volatility and
// Greeks.
func (m *BSM) Greeks(c *models.Contract, at time.Time) *models.Greeks {
	if c.Greeks != nil {
		return c.Greeks
	}
	tau := Tau(c, at)
	sigma := c.ImpliedVol
	if sigma == 0 {
		sigma = m.ImpliedVol(c, tau)
		c.ImpliedVol = sigma
	}
	spot := c.UnderlyingPrice
	c.Greeks = &models.Greeks{
		Delta: round5(m.Delta(c, sigma, tau, spot)),
		Gamma: round5(m.Gamma(c, sigma, tau, spot)),
		Theta: round5(m.Theta(c, sigma, tau, spot)),
		Vega:  round5(m.Vega(c, sigma, tau, spot)),
		Rho:   round5(m.Rho(c, sigma, tau, spot)),
	}
	return c.Greeks
}

// Value prices the contract at an arbitrary spot and time with its implied
// volatility. Call Greeks first when at lies in the future so the volatility
// is solved against the current quote.
func (m *BSM) Value(c *models.Contract, spot float64, at time.Time) float64 {
	tau := Tau(c, at)
	if c.ImpliedVol == 0 {
		c.ImpliedVol = m.ImpliedVol(c, tau)
	}
	return m.Price(c, c.ImpliedVol, tau, spot)
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}

func round5(x float64) float64 {
	if math.IsInf(x, 0) || math.IsNaN(x) {
		return x
	}
	return math.Round(x*1e5) / 1e5
}
