package orchestrator

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_spreads/internal/models"
)

// Restore re-indexes the persisted live positions after a restart. Each
// position is bound to its strategy by name and to the current contract
// quotes. Broker handles do not survive a restart, so positions with an
// unfilled side get a fresh working order that resubmits on the next
// execution pass, keeping its base limit and retry count. Positions whose strategy is no longer configured, or whose
// legs expired while the runner was down, are left in storage and reported.
func (r *Runner) Restore(now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.storage.LoadPositions()
	if err != nil {
		return 0, fmt.Errorf("loading positions: %w", err)
	}

	restored := 0
	for _, pos := range stored {
		log := r.logger.WithFields(logrus.Fields{
			"position": pos.ID,
			"tag":      pos.Tag,
			"state":    pos.State,
		})
		if !pos.IsActive() {
			log.Warn("terminal position found among live positions, skipping")
			continue
		}
		s, ok := r.byName[pos.StrategyName]
		if !ok {
			log.WithField("strategy", pos.StrategyName).Warn("strategy not configured, position not restored")
			continue
		}
		if pos.AnyLegExpired(now) {
			log.Warn("legs expired while stopped, position not restored")
			continue
		}

		pos.Strategy = s
		pos.StateMachine = models.NewStateMachineFromState(pos.State)
		for i := range pos.Legs {
			if c, ok := r.market.Contract(pos.Legs[i].Symbol); ok {
				pos.Legs[i].Contract = c
			}
		}

		var wo *models.WorkingOrder
		if pos.State == models.StatePendingOpen || pos.State == models.StateClosing {
			kind := pos.ActiveKind()
			exec := pos.Order(kind)
			exec.Handles = nil
			wo = &models.WorkingOrder{
				PositionID:   pos.ID,
				Tag:          pos.Tag,
				StrategyName: pos.StrategyName,
				Kind:         kind,
				UseLimit:     pos.LimitOrder,
				LimitPrice:   exec.RetryBase(),
				Fills:        exec.Fills,
				Retries:      exec.Retries,
				CreatedAt:    now,
			}
		}
		r.track(pos, wo)
		if pos.OpenedAt.After(r.lastOpened[pos.StrategyName]) {
			r.lastOpened[pos.StrategyName] = pos.OpenedAt
		}
		restored++
	}

	history, err := r.storage.GetHistory()
	if err != nil {
		return restored, fmt.Errorf("loading history: %w", err)
	}
	for i := range history {
		if history[i].State == models.StateClosed {
			r.lastClosedTag[history[i].StrategyName] = history[i].Tag
		}
	}

	r.logger.WithField("positions", restored).Info("restored active positions")
	return restored, nil
}
