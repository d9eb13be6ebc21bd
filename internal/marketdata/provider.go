// Package marketdata generates a synthetic, model-priced option chain for
// paper trading.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_spreads/internal/broker"
	"github.com/eddiefleurent/scranton_spreads/internal/config"
	"github.com/eddiefleurent/scranton_spreads/internal/models"
	"github.com/eddiefleurent/scranton_spreads/internal/pricing"
	"github.com/eddiefleurent/scranton_spreads/internal/util"
)

// ErrUnknownSymbol is returned for an underlying the provider does not list.
var ErrUnknownSymbol = errors.New("unknown underlying")

const (
	quoteTick = 0.05
	// trading minutes per year, used to scale the random walk
	minutesPerYear = 252 * 390.0
	skew           = 1.5
)

// Provider lists weekly expiries around a randomly walking spot and quotes
// each contract around its Black-Scholes value.
type Provider struct {
	mu        sync.RWMutex
	cfg       config.MarketConfig
	loc       *time.Location
	pricer    *pricing.BSM
	rng       *rand.Rand
	logger    logrus.FieldLogger
	spot      float64
	updated   time.Time
	contracts map[string]*models.Contract
}

// Ensure Provider can price the paper broker.
var _ broker.QuoteSource = (*Provider)(nil)

// New creates a provider. loc is the exchange timezone; expiries settle at
// 16:00 there.
func New(cfg config.MarketConfig, loc *time.Location, logger logrus.FieldLogger) *Provider {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Provider{
		cfg:       cfg,
		loc:       loc,
		pricer:    pricing.NewBSM(cfg.RiskFreeRate),
		rng:       rand.New(rand.NewPCG(uint64(cfg.Seed), 0x5eed)), // #nosec G404 -- simulation only
		logger:    logger.WithField("component", "marketdata"),
		spot:      cfg.Spot,
		contracts: make(map[string]*models.Contract),
	}
}

// Underlying returns the listed underlying symbol.
func (p *Provider) Underlying() string { return p.cfg.Underlying }

// Spot returns the last underlying price.
func (p *Provider) Spot() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.spot
}

// Advance moves the spot by a lognormal step for the elapsed time and
// requotes the chain. The first call only quotes.
func (p *Provider) Advance(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.updated.IsZero() && now.After(p.updated) {
		dt := now.Sub(p.updated).Minutes() / minutesPerYear
		sigma := p.cfg.Volatility
		z := p.rng.NormFloat64()
		p.spot *= math.Exp(-0.5*sigma*sigma*dt + sigma*math.Sqrt(dt)*z)
	}
	p.updated = now
	p.requote(now)
	p.logger.WithFields(logrus.Fields{
		"spot":      p.spot,
		"contracts": len(p.contracts),
	}).Debug("Requoted chain")
}

// SetSpot overrides the underlying price and requotes.
func (p *Provider) SetSpot(spot float64, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spot = spot
	p.updated = now
	p.requote(now)
}

// Expiries returns the listed weekly expiries: the next Fridays whose
// session has not closed.
func (p *Provider) Expiries(now time.Time) []time.Time {
	local := now.In(p.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, p.loc)
	for day.Weekday() != time.Friday {
		day = day.AddDate(0, 0, 1)
	}
	if settle := day.Add(16 * time.Hour); !local.Before(settle) {
		day = day.AddDate(0, 0, 7)
	}
	out := make([]time.Time, 0, p.cfg.Expiries)
	for i := 0; i < p.cfg.Expiries; i++ {
		out = append(out, day.AddDate(0, 0, 7*i))
	}
	return out
}

// Symbol returns the OCC-style option symbol.
func Symbol(underlying string, expiry time.Time, right models.OptionRight, strike float64) string {
	flag := "C"
	if right == models.Put {
		flag = "P"
	}
	return fmt.Sprintf("%s%s%s%08d", underlying, expiry.Format("060102"), flag, int(math.Round(strike*1000)))
}

// requote lists missing contracts and reprices every known one; callers hold
// the write lock.
func (p *Provider) requote(now time.Time) {
	step := p.cfg.StrikeStep
	center := math.Round(p.spot/step) * step
	for _, expiry := range p.Expiries(now) {
		for i := -p.cfg.Strikes; i <= p.cfg.Strikes; i++ {
			strike := center + float64(i)*step
			if strike <= 0 {
				continue
			}
			for _, right := range []models.OptionRight{models.Put, models.Call} {
				sym := Symbol(p.cfg.Underlying, expiry, right, strike)
				if _, ok := p.contracts[sym]; ok {
					continue
				}
				p.contracts[sym] = &models.Contract{
					Symbol:     sym,
					Underlying: p.cfg.Underlying,
					Strike:     strike,
					Expiry:     expiry,
					Right:      right,
					Tradable:   true,
				}
			}
		}
	}

	for sym, c := range p.contracts {
		if expired(c, now) && now.Sub(c.Expiry) > 72*time.Hour {
			delete(p.contracts, sym)
			continue
		}
		p.quote(c, now)
	}
}

func expired(c *models.Contract, now time.Time) bool {
	return !now.Before(time.Date(c.Expiry.Year(), c.Expiry.Month(), c.Expiry.Day(), 16, 0, 0, 0, c.Expiry.Location()))
}

// quote reprices c in place. Expired contracts quote their intrinsic value.
func (p *Provider) quote(c *models.Contract, now time.Time) {
	c.UnderlyingPrice = p.spot
	c.Greeks = nil
	if expired(c, now) {
		v := c.Intrinsic(p.spot)
		c.Bid, c.Ask = v, v
		c.Tradable = false
		return
	}

	sigma := p.cfg.Volatility * (1 - skew*math.Log(c.Strike/p.spot))
	sigma = math.Min(math.Max(sigma, 0.5*p.cfg.Volatility), 3*p.cfg.Volatility)
	c.ImpliedVol = sigma

	mid := p.pricer.Price(c, sigma, pricing.Tau(c, now), p.spot)
	half := math.Max(quoteTick/2, 0.01*mid)
	c.Bid = math.Max(util.FloorToTick(mid-half, quoteTick), 0)
	c.Ask = util.CeilToTick(mid+half, quoteTick)
	if c.Ask <= c.Bid {
		c.Ask = c.Bid + quoteTick
	}
}

// Chain returns a copy of every tradable contract of the underlying, sorted
// by expiry, right and strike.
func (p *Provider) Chain(_ context.Context, underlying string, now time.Time) ([]*models.Contract, error) {
	if underlying != p.cfg.Underlying {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, underlying)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.Contract, 0, len(p.contracts))
	for _, c := range p.contracts {
		if !c.Tradable || expired(c, now) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Expiry.Equal(b.Expiry) {
			return a.Expiry.Before(b.Expiry)
		}
		if a.Right != b.Right {
			return a.Right == models.Put
		}
		return a.Strike < b.Strike
	})
	return out, nil
}

// Contract returns a copy of a listed contract, including recently expired
// ones.
func (p *Provider) Contract(symbol string) (*models.Contract, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.contracts[symbol]
	if !ok {
		return nil, false
	}
	cp := *c
	return &cp, true
}

// Quote implements broker.QuoteSource.
func (p *Provider) Quote(symbol string) (broker.Quote, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.contracts[symbol]
	if !ok {
		return broker.Quote{}, false
	}
	return broker.Quote{Symbol: symbol, Bid: c.Bid, Ask: c.Ask, Time: p.updated}, true
}
