// Package monitor decides when an open position must be closed and with which
// kind of order.
package monitor

import (
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_spreads/internal/config"
	"github.com/eddiefleurent/scranton_spreads/internal/models"
	"github.com/eddiefleurent/scranton_spreads/internal/util"
)

// Close reasons recorded on the position.
const (
	ReasonStopLoss     = "Stop Loss trigger"
	ReasonProfitTarget = "Profit target"
	ReasonHardDIT      = "Hard Dit cutoff"
	ReasonSoftDIT      = "Soft Dit cutoff"
	ReasonHardDTE      = "Hard Dte cutoff"
	ReasonSoftDTE      = "Soft Dte cutoff"
	ReasonExpiryCutoff = "Expiration date cutoff"
	ReasonEndCutoff    = "End of run cutoff"
	ReasonCustom       = "Custom close condition"
)

// expirationClock is the latest time on the last trading day a limit order may rest.
const expirationClock = "15:40"

// CloseHook is implemented by strategies with their own exit condition.
type CloseHook interface {
	ShouldClose(pos *models.Position, now time.Time) (bool, string)
}

// PositionObserver is implemented by strategies that inspect each valued
// position before the exit conditions run.
type PositionObserver interface {
	ObservePosition(pos *models.Position, now time.Time)
}

// Decision is the outcome of evaluating one position.
type Decision struct {
	Close     bool
	Reasons   []string
	StopLoss  bool // forces a market order
	UseLimit  bool
	Valuation Valuation
	ExpiresAt time.Time // limit order time-to-live
}

// Monitor evaluates open positions against their exit conditions.
type Monitor struct {
	logger    logrus.FieldLogger
	endCutoff time.Time
}

// New creates a monitor. A zero endCutoff disables the end-of-run cutoff.
func New(logger logrus.FieldLogger, endCutoff time.Time) *Monitor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Monitor{
		logger:    logger.WithField("component", "monitor"),
		endCutoff: endCutoff,
	}
}

// Due reports whether positions of a strategy are managed at now.
func Due(params *config.StrategyParams, now time.Time) bool {
	freq := params.ManagePositionFrequency
	if freq < 1 {
		freq = 1
	}
	return now.Minute()%freq == 0
}

// Evaluate values an open position and checks every exit condition. Positions
// that are not open, or whose quotes fail the spread guard, are left alone.
func (m *Monitor) Evaluate(pos *models.Position, now time.Time) Decision {
	params := pos.Params()
	if params == nil || pos.State != models.StateOpen || !pos.OpenOrder.Filled {
		return Decision{}
	}

	v := Value(pos)
	d := Decision{Valuation: v}
	log := m.logger.WithFields(logrus.Fields{
		"position": pos.ID,
		"tag":      pos.Tag,
	})
	if !v.Valid {
		log.WithFields(logrus.Fields{
			"mid":    util.RoundPrice(v.MidPrice, 2),
			"spread": util.RoundPrice(v.Spread, 2),
		}).Debug("bid/ask spread too wide, skipping evaluation")
		return d
	}
	pos.UpdatePnLRange(now, v.PnL)

	if obs, ok := pos.Strategy.(PositionObserver); ok {
		obs.ObservePosition(pos, now)
	}

	if StopLoss(pos, params, v.PnL) {
		d.Reasons = append(d.Reasons, ReasonStopLoss)
		d.StopLoss = true
	}
	if ProfitTarget(pos, params, v.PnL) {
		d.Reasons = append(d.Reasons, ReasonProfitTarget)
	}
	if hard, soft := DITThreshold(pos, params, v.PnL, now); hard {
		d.Reasons = append(d.Reasons, ReasonHardDIT)
	} else if soft {
		d.Reasons = append(d.Reasons, ReasonSoftDIT)
	}
	if hard, soft := DTEThreshold(pos, params, v.PnL, now); hard {
		d.Reasons = append(d.Reasons, ReasonHardDTE)
	} else if soft {
		d.Reasons = append(d.Reasons, ReasonSoftDTE)
	}
	if ExpiryCutoff(pos, now) {
		d.Reasons = append(d.Reasons, ReasonExpiryCutoff)
	}
	if !m.endCutoff.IsZero() && !now.Before(m.endCutoff) {
		d.Reasons = append(d.Reasons, ReasonEndCutoff)
		d.StopLoss = true
	}
	if hook, ok := pos.Strategy.(CloseHook); ok {
		if fire, reason := hook.ShouldClose(pos, now); fire {
			if reason == "" {
				reason = ReasonCustom
			}
			d.Reasons = append(d.Reasons, reason)
		}
	}

	d.Close = len(d.Reasons) > 0
	if d.Close {
		d.UseLimit, d.ExpiresAt = orderType(pos, params, d.StopLoss, now)
	}
	return d
}

// Close moves a position to closing and returns the working order that
// executes the close.
func (m *Monitor) Close(pos *models.Position, d Decision, now time.Time) (*models.WorkingOrder, error) {
	if err := pos.TransitionState(models.StateClosing, models.ConditionCloseTriggered, now); err != nil {
		return nil, err
	}
	v := d.Valuation
	pos.CloseReasons = append(pos.CloseReasons, d.Reasons...)
	pos.LimitOrder = d.UseLimit
	pos.CloseDTE = pos.DTE(now)
	pos.DIT = pos.DaysInTrade(now)
	if len(pos.Legs) > 0 && pos.Legs[0].Contract != nil {
		pos.UnderlyingAtClose = pos.Legs[0].Contract.UnderlyingPrice
	}

	exec := &pos.CloseOrder
	exec.ObserveMid(v.MidPrice)
	exec.BidAskSpread = v.Spread
	exec.LimitPrice = v.LimitPrice
	exec.BaseLimit = v.LimitPrice
	exec.ExpiresAt = d.ExpiresAt

	kind := "market"
	if d.UseLimit {
		kind = "limit"
	}
	m.logger.WithFields(logrus.Fields{
		"position":   pos.ID,
		"tag":        pos.Tag,
		"order_type": kind,
		"strikes":    pos.Strikes(),
		"mid":        util.RoundPrice(v.MidPrice, 2),
		"spread":     util.RoundPrice(v.Spread, 2),
		"pnl":        util.RoundPrice(v.PnL, 2),
		"reasons":    pos.CloseReasons,
	}).Infof("closing %d %s", pos.Quantity, pos.Tag)

	return &models.WorkingOrder{
		PositionID:   pos.ID,
		Tag:          pos.Tag,
		StrategyName: pos.StrategyName,
		Kind:         models.OrderClose,
		UseLimit:     d.UseLimit,
		LimitPrice:   v.LimitPrice,
		CreatedAt:    now,
	}, nil
}

// StopLoss reports whether pnl breached -|openPremium| × stop_loss_multiplier.
// With cap_stop_loss the threshold is never below the worst loss the structure
// can reach at expiry, so a stop wider than the structure still fires.
func StopLoss(pos *models.Position, params *config.StrategyParams, pnl float64) bool {
	if params.StopLossMultiplier == nil {
		return false
	}
	threshold := -math.Abs(pos.OpenPremium()) * *params.StopLossMultiplier
	if params.CapStopLoss {
		netMaxLoss := pos.MaxLoss*models.SharesPerContract + pos.OpenPremium()
		if netMaxLoss < 0 {
			threshold = math.Max(threshold, netMaxLoss)
		}
	}
	return pnl <= threshold
}

// ProfitTarget reports whether pnl reached the position's target profit, or
// |openPremium| × profit_target when none was set at entry.
func ProfitTarget(pos *models.Position, params *config.StrategyParams, pnl float64) bool {
	var target float64
	switch {
	case pos.TargetProfit != nil:
		target = *pos.TargetProfit
	case params.ProfitTarget > 0:
		target = math.Abs(pos.OpenPremium()) * params.ProfitTarget
	default:
		return false
	}
	return pnl >= target*(1-params.ProfitTargetTolerance)
}

// DITThreshold checks the days-in-trade cutoff. It only applies to positions
// opened with more days to expiry than the threshold. A hard cutoff fires
// regardless of P&L, a soft one once the position is not losing.
func DITThreshold(pos *models.Position, params *config.StrategyParams, pnl float64, now time.Time) (hard, soft bool) {
	if params.DITThreshold == nil {
		return false, false
	}
	threshold := *params.DITThreshold
	dit := pos.DaysInTrade(now)
	if pos.OpenDTE <= threshold || dit < threshold {
		return false, false
	}
	if params.ForceDITThreshold || (params.HardDITThreshold != nil && dit >= *params.HardDITThreshold) {
		return true, false
	}
	return false, pnl >= 0
}

// DTEThreshold checks the days-to-expiry cutoff, with the same hard and soft
// semantics as DITThreshold.
func DTEThreshold(pos *models.Position, params *config.StrategyParams, pnl float64, now time.Time) (hard, soft bool) {
	if params.DTEThreshold == nil {
		return false, false
	}
	threshold := *params.DTEThreshold
	if pos.OpenDTE <= threshold || pos.DTE(now) > threshold {
		return false, false
	}
	if params.ForceDTEThreshold {
		return true, false
	}
	return false, pnl >= 0
}

// ExpiryCutoff reports whether now is past the market close cutoff of the
// last trading day.
func ExpiryCutoff(pos *models.Position, now time.Time) bool {
	cutoff, ok := pos.ExpiryCutoff()
	return ok && !now.Before(cutoff)
}

// orderType picks limit or market for the close and the limit order's
// expiry. Limit orders are not used for stop losses or once the expiration
// threshold on the last trading day has passed.
func orderType(pos *models.Position, params *config.StrategyParams, forceMarket bool, now time.Time) (bool, time.Time) {
	last, err := util.AtClock(pos.LastTradingDay(), expirationClock)
	if err != nil {
		panic(fmt.Sprintf("monitor: invalid expiration clock: %v", err))
	}

	threshold := last
	cutoff, hasCutoff := pos.ExpiryCutoff()
	if hasCutoff {
		threshold = minTime(threshold, cutoff.Add(params.LimitOrderExpiration))
	}
	expiresAt := minTime(now.Add(params.LimitOrderExpiration), threshold)

	useLimit := params.UseLimitOrders && !forceMarket && (!hasCutoff || !now.After(threshold))
	return useLimit, expiresAt
}

func minTime(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}
