package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_spreads/internal/models"
	"github.com/eddiefleurent/scranton_spreads/internal/selection"
	"github.com/eddiefleurent/scranton_spreads/internal/sizing"
	"github.com/eddiefleurent/scranton_spreads/internal/strategy"
	"github.com/eddiefleurent/scranton_spreads/internal/util"
)

// shortID returns a truncated ID string, safely handling IDs shorter than 8 characters
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// SelectOrder selects and sizes an entry for s from contracts of a single
// expiry. A nil spec comes with the rejection; errors are reserved for
// collaborator failures.
func (r *Runner) SelectOrder(ctx context.Context, s *strategy.Strategy, contracts []*models.Contract, now time.Time) (*sizing.OrderSpec, sizing.Rejection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selectOrder(ctx, s, contracts, now)
}

func (r *Runner) selectOrder(ctx context.Context, s *strategy.Strategy, contracts []*models.Contract, now time.Time) (*sizing.OrderSpec, sizing.Rejection, error) {
	candidate := s.Select(selection.NewBuilder(r.pricer, now, r.logger), contracts)
	if candidate == nil {
		return nil, sizing.RejectNoLegs, nil
	}

	acct, err := r.accountSnapshot(ctx)
	if err != nil {
		return nil, "", err
	}

	var outstanding [][]models.Leg
	for id, wo := range r.working {
		if wo.Kind != models.OrderOpen {
			continue
		}
		if pos, ok := r.positions[id]; ok {
			outstanding = append(outstanding, pos.Legs)
		}
	}

	params := s.Params()
	spec, rejection := sizing.NewSizer(params, r.pricer, now).Size(sizing.Input{
		Candidate:   candidate,
		Account:     acct,
		Outstanding: outstanding,
	})
	if spec == nil {
		return nil, rejection, nil
	}
	if sizing.HasDuplicateLegs(params, spec, r.activeFor(s.Name())) {
		return nil, sizing.RejectDuplicatePosition, nil
	}
	return spec, "", nil
}

func (r *Runner) accountSnapshot(ctx context.Context) (sizing.Account, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
	defer cancel()

	value, err := r.account.PortfolioValue(callCtx)
	if err != nil {
		return sizing.Account{}, fmt.Errorf("portfolio value: %w", err)
	}
	margin, err := r.account.MarginRemaining(callCtx)
	if err != nil {
		return sizing.Account{}, fmt.Errorf("margin remaining: %w", err)
	}
	realized, err := r.account.RealizedProfit(callCtx)
	if err != nil {
		return sizing.Account{}, fmt.Errorf("realized profit: %w", err)
	}
	return sizing.Account{
		PortfolioValue:  value,
		MarginRemaining: margin,
		RealizedProfit:  realized,
	}, nil
}

// BuildPosition turns a sized order into a pending-open position and the
// working order that executes it, and indexes both. A nil spec builds nothing.
func (r *Runner) BuildPosition(s *strategy.Strategy, spec *sizing.OrderSpec, now time.Time) (*models.Position, *models.WorkingOrder) {
	if s == nil || spec == nil {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	pos, wo := r.buildPosition(s, spec, now)
	r.track(pos, wo)
	r.persist(pos)
	return pos, wo
}

func (r *Runner) buildPosition(s *strategy.Strategy, spec *sizing.OrderSpec, now time.Time) (*models.Position, *models.WorkingOrder) {
	id := uuid.NewString()
	tag := fmt.Sprintf("%s-%s", spec.StrategyID, shortID(id))

	pos := models.NewPosition(id, tag, s, spec.Legs, spec.Expiry, spec.Quantity, now)
	pos.StrategyID = spec.StrategyID
	pos.Credit = spec.Credit
	pos.LinkedTag = r.lastClosedTag[s.Name()]
	pos.MaxQuantity = spec.MaxQuantity
	if spec.TargetPremium != nil {
		pos.TargetPremium = *spec.TargetPremium
	}
	pos.TargetProfit = spec.TargetProfit
	pos.MaxLoss = spec.MaxLoss
	pos.LimitOrder = spec.UseLimit
	pos.UnderlyingAtOpen = spec.UnderlyingPrice

	exec := &pos.OpenOrder
	exec.ObserveMid(spec.MidPrice)
	exec.BidAskSpread = spec.BidAskSpread
	exec.LimitPrice = spec.LimitPrice
	exec.BaseLimit = spec.LimitPrice
	exec.MaxLoss = spec.MaxLoss
	if spec.UseLimit {
		exec.ExpiresAt = now.Add(s.Params().LimitOrderExpiration)
	}

	r.lastOpened[s.Name()] = now
	r.logger.WithFields(logrus.Fields{
		"position": id,
		"tag":      tag,
		"strikes":  pos.Strikes(),
		"mid":      spec.MidPrice,
		"limit":    spec.LimitPrice,
		"quantity": spec.Quantity,
	}).Infof("opening %s", spec.StrategyID)

	return pos, &models.WorkingOrder{
		PositionID:   id,
		Tag:          tag,
		StrategyName: s.Name(),
		Kind:         models.OrderOpen,
		UseLimit:     spec.UseLimit,
		LimitPrice:   spec.LimitPrice,
		CreatedAt:    now,
	}
}

// enter opens at most one new position for s, subject to the entry limits.
func (r *Runner) enter(ctx context.Context, s *strategy.Strategy, now time.Time) error {
	params := s.Params()
	log := r.logger.WithField("strategy", s.Name())

	held := r.activeFor(s.Name())
	if len(held) >= params.MaxActivePositions {
		return nil
	}
	if last, ok := r.lastOpened[s.Name()]; ok && now.Sub(last) < params.MinimumTradeDistance {
		return nil
	}

	expiry, ok := s.Expiry(r.market.Expiries(now), now)
	if !ok {
		log.Debug("no expiry inside the DTE window")
		return nil
	}
	if !params.AllowMultipleEntriesPerExpiry {
		for _, pos := range held {
			if util.SameDay(pos.Expiry, expiry) {
				log.WithField("expiry", expiry.Format("2006-01-02")).Debug("expiry already held")
				return nil
			}
		}
	}

	chain, err := r.market.Chain(ctx, params.Symbol, now)
	if err != nil {
		return fmt.Errorf("loading chain: %w", err)
	}
	spec, rejection, err := r.selectOrder(ctx, s, strategy.FilterExpiry(chain, expiry), now)
	if err != nil {
		return err
	}
	if spec == nil {
		log.WithField("reason", string(rejection)).Debug("no entry this tick")
		return nil
	}

	pos, wo := r.buildPosition(s, spec, now)
	r.track(pos, wo)
	r.persist(pos)
	return nil
}
