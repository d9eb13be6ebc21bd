// Package strategy binds a configured parameter set to the selection
// builders and carries the strategy-specific exit rules of its positions.
package strategy

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_spreads/internal/config"
	"github.com/eddiefleurent/scranton_spreads/internal/execution"
	"github.com/eddiefleurent/scranton_spreads/internal/models"
	"github.com/eddiefleurent/scranton_spreads/internal/monitor"
	"github.com/eddiefleurent/scranton_spreads/internal/selection"
	"github.com/eddiefleurent/scranton_spreads/internal/util"
)

// Close reasons of the strategy hooks.
const (
	ReasonProfitGiveBack = "Profit given back"
	ReasonShortLegITM    = "Short leg in the money"
)

// Strategy is one configured strategy instance. Positions keep a reference
// to it for their parameters and exit hooks.
type Strategy struct {
	params config.StrategyParams
	logger logrus.FieldLogger

	// first time each position was seen with a short leg in the money
	itmSince map[string]time.Time
}

// Ensure Strategy plugs into the position and monitor hooks at compile time.
var (
	_ models.StrategyRef       = (*Strategy)(nil)
	_ monitor.CloseHook        = (*Strategy)(nil)
	_ monitor.PositionObserver = (*Strategy)(nil)
)

// New validates params and creates the strategy. A strategy whose limit
// orders could never be repriced is rejected here rather than at the first
// retry.
func New(params config.StrategyParams, logger logrus.FieldLogger) (*Strategy, error) {
	if err := params.Validate("strategy " + params.Name); err != nil {
		return nil, err
	}
	if err := execution.ValidateParams(&params); err != nil {
		return nil, fmt.Errorf("strategy %s: %w", params.Name, err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Strategy{
		params:   params,
		logger:   logger.WithField("strategy", params.Name),
		itmSince: make(map[string]time.Time),
	}, nil
}

// Name returns the configured instance name.
func (s *Strategy) Name() string { return s.params.Name }

// Params returns the strategy parameters. Callers must not modify them.
func (s *Strategy) Params() *config.StrategyParams { return &s.params }

// Expiries returns the listed expiries inside the DTE window
// [dte-dte_window, dte], furthest first.
func (s *Strategy) Expiries(listed []time.Time, now time.Time) []time.Time {
	minDTE := max(0, s.params.DTE-s.params.DTEWindow)
	maxDTE := max(0, s.params.DTE)

	seen := make(map[string]bool, len(listed))
	var out []time.Time
	for _, e := range listed {
		dte := util.CalendarDays(now, e)
		key := e.Format("2006-01-02")
		if dte < minDTE || dte > maxDTE || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].After(out[j]) })
	return out
}

// Expiry picks the entry expiry: the furthest eligible one with
// use_furthest_expiry, otherwise the nearest.
func (s *Strategy) Expiry(listed []time.Time, now time.Time) (time.Time, bool) {
	eligible := s.Expiries(listed, now)
	if len(eligible) == 0 {
		return time.Time{}, false
	}
	if s.params.UseFurthestExpiry {
		return eligible[0], true
	}
	return eligible[len(eligible)-1], true
}

// FilterExpiry keeps the contracts of one expiry day.
func FilterExpiry(chain []*models.Contract, expiry time.Time) []*models.Contract {
	day := expiry.Format("2006-01-02")
	out := make([]*models.Contract, 0, len(chain))
	for _, c := range chain {
		if c.Expiry.Format("2006-01-02") == day {
			out = append(out, c)
		}
	}
	return out
}

// Select assembles the configured structure from contracts of a single
// expiry. Nil means nothing matched this tick.
func (s *Strategy) Select(b *selection.Builder, contracts []*models.Contract) *selection.Candidate {
	p := &s.params
	delta := p.Delta
	putDelta, callDelta := p.PutDelta, p.CallDelta

	var c *selection.Candidate
	switch p.Structure {
	case config.StructureShortStrangle, config.StructureLongStrangle:
		c = b.Strangle(contracts, &callDelta, &putDelta, nil, nil, p.Structure == config.StructureShortStrangle)
	case config.StructureShortStraddle, config.StructureLongStraddle:
		c = b.Straddle(contracts, nil, p.NetDelta, p.Structure == config.StructureShortStraddle)
	case config.StructureIronCondor:
		c = b.IronCondor(contracts, &callDelta, &putDelta, nil, nil, p.CallWingSize, p.PutWingSize, true)
	case config.StructureIronFly:
		c = b.IronFly(contracts, p.NetDelta, nil, p.CallWingSize, p.PutWingSize, true)
	case config.StructurePutCreditSpread:
		c = b.VerticalSpread(contracts, models.Put, s.spreadOptions(), true)
	case config.StructureCallCreditSpread:
		c = b.VerticalSpread(contracts, models.Call, s.spreadOptions(), true)
	case config.StructurePutDebitSpread:
		c = b.VerticalSpread(contracts, models.Put, s.spreadOptions(), false)
	case config.StructureCallDebitSpread:
		c = b.VerticalSpread(contracts, models.Call, s.spreadOptions(), false)
	case config.StructureButterfly:
		c = b.Butterfly(contracts, models.Put, p.NetDelta, nil,
			p.ButterflyLeftWingSize, p.ButterflyRightWingSize, p.ButterflyType == "credit")
	case config.StructureShortPut, config.StructureLongPut:
		c = b.Naked(contracts, models.Put, nil, s.nakedDelta(&delta), p.FromPrice, p.ToPrice, p.Structure == config.StructureShortPut)
	case config.StructureShortCall, config.StructureLongCall:
		c = b.Naked(contracts, models.Call, nil, s.nakedDelta(&delta), p.FromPrice, p.ToPrice, p.Structure == config.StructureShortCall)
	case config.StructureCustom:
		c = b.Custom(contracts, customLegs(p.CustomLegs), p.Name, nil)
	}
	if c == nil {
		s.logger.WithField("structure", p.Structure).Debug("no candidate selected")
	}
	return c
}

// spreadOptions anchors vertical spreads on the delta unless a premium range
// asks for a scan of every strike.
func (s *Strategy) spreadOptions() selection.SpreadOptions {
	p := &s.params
	opts := selection.SpreadOptions{
		WingSize:     p.WingSize,
		FromPrice:    p.MinSpreadPremium,
		ToPrice:      p.MaxSpreadPremium,
		PremiumOrder: p.PremiumOrder,
	}
	if p.MinSpreadPremium == nil && p.MaxSpreadPremium == nil {
		d := p.Delta
		opts.Delta = &d
	}
	return opts
}

// nakedDelta drops the delta bound when a price range selects the contract.
func (s *Strategy) nakedDelta(delta *float64) *float64 {
	if s.params.FromPrice != nil || s.params.ToPrice != nil {
		return nil
	}
	return delta
}

func customLegs(legs []config.CustomLeg) []selection.CustomLeg {
	out := make([]selection.CustomLeg, 0, len(legs))
	for _, l := range legs {
		right, err := models.ParseOptionRight(l.Type)
		if err != nil {
			// config validation only lets put and call through
			continue
		}
		out = append(out, selection.CustomLeg{Right: right, Delta: l.Delta, Side: l.Side})
	}
	return out
}

// ObservePosition tracks how long a short leg has been in the money.
func (s *Strategy) ObservePosition(pos *models.Position, now time.Time) {
	if s.params.ITMExitAfter <= 0 {
		return
	}
	if !shortLegITM(pos) {
		delete(s.itmSince, pos.ID)
		return
	}
	if _, ok := s.itmSince[pos.ID]; !ok {
		s.itmSince[pos.ID] = now
		s.logger.WithFields(logrus.Fields{
			"position": pos.ID,
			"tag":      pos.Tag,
		}).Info("short leg in the money")
	}
}

// ShouldClose fires when a position that once reached profit_give_back of
// its premium is back at a loss, or when a short leg stayed in the money for
// itm_exit_after.
func (s *Strategy) ShouldClose(pos *models.Position, now time.Time) (bool, string) {
	p := &s.params
	if p.ProfitGiveBack != nil {
		reached := pos.PnLMax >= *p.ProfitGiveBack*math.Abs(pos.OpenPremium())
		if pos.PnLMax > 0 && reached && pos.CurrentPnL <= 0 {
			return true, ReasonProfitGiveBack
		}
	}
	if p.ITMExitAfter > 0 {
		if since, ok := s.itmSince[pos.ID]; ok && now.Sub(since) >= p.ITMExitAfter {
			return true, ReasonShortLegITM
		}
	}
	return false, ""
}

// Forget drops the per-position state of a position that left the book.
func (s *Strategy) Forget(id string) {
	delete(s.itmSince, id)
}

func shortLegITM(pos *models.Position) bool {
	for i := range pos.Legs {
		l := &pos.Legs[i]
		if !l.IsSold() || l.Contract == nil {
			continue
		}
		if l.Contract.Intrinsic(l.Contract.UnderlyingPrice) > 0 {
			return true
		}
	}
	return false
}
