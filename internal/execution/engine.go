package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_spreads/internal/broker"
	"github.com/eddiefleurent/scranton_spreads/internal/models"
	"github.com/eddiefleurent/scranton_spreads/internal/retry"
	"github.com/eddiefleurent/scranton_spreads/internal/sizing"
	"github.com/eddiefleurent/scranton_spreads/internal/util"
)

// ErrNoStrategy is returned for positions restored without their strategy.
var ErrNoStrategy = errors.New("execution: position has no strategy")

// Outcome describes what one Advance call did.
type Outcome string

const (
	OutcomeWaiting     Outcome = "waiting"     // nothing to do this tick
	OutcomeSubmitted   Outcome = "submitted"   // new order routed
	OutcomeUpdated     Outcome = "updated"     // limit price changed in place
	OutcomeResubmitted Outcome = "resubmitted" // cancelled and routed again
	OutcomeFailed      Outcome = "failed"      // broker rejected the attempt
	OutcomeExhausted   Outcome = "exhausted"   // retries used up, flagged for attention
	OutcomeSkipped     Outcome = "skipped"     // spread too wide for a market order
)

// Retried reports whether the outcome re-priced an existing order.
func (o Outcome) Retried() bool {
	return o == OutcomeUpdated || o == OutcomeResubmitted
}

// Config contains configuration for the execution engine.
type Config struct {
	CallTimeout time.Duration
}

// DefaultConfig is the default configuration for the execution engine.
var DefaultConfig = Config{
	CallTimeout: 5 * time.Second,
}

// Engine advances working orders. It holds no order state of its own; every
// call reads and writes the position and working order it is given.
type Engine struct {
	broker    broker.Broker
	canceller *retry.Client
	logger    logrus.FieldLogger
	config    Config
}

// NewEngine creates an execution engine.
func NewEngine(b broker.Broker, canceller *retry.Client, logger logrus.FieldLogger, config ...Config) *Engine {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig.CallTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if b == nil {
		panic("execution.NewEngine: broker must not be nil")
	}
	if canceller == nil {
		canceller = retry.NewClient(b, logger)
	}
	return &Engine{
		broker:    b,
		canceller: canceller,
		logger:    logger.WithField("component", "execution"),
		config:    cfg,
	}
}

// OrderLegs returns the broker legs of a position for one side. The close
// side reverses every leg.
func OrderLegs(pos *models.Position, kind models.OrderKind) []broker.OrderLeg {
	legs := make([]broker.OrderLeg, 0, len(pos.Legs))
	for _, l := range pos.Legs {
		ratio := kind.Sign() * l.Side
		if ratio == 0 {
			continue
		}
		legs = append(legs, broker.OrderLeg{Symbol: l.Symbol, Ratio: ratio})
	}
	return legs
}

// Receiving reports whether the order collects premium: opening a credit
// structure or closing a debit one.
func Receiving(pos *models.Position, kind models.OrderKind) bool {
	return pos.Credit == (kind == models.OrderOpen)
}

// observe refreshes the mid and spread of the side from the legs' quotes and
// returns the per-share mid in the order's direction.
func observe(pos *models.Position, kind models.OrderKind) float64 {
	exec := pos.Order(kind)
	mid := float64(kind.Sign()) * sizing.MidPrice(pos.Legs)
	exec.ObserveMid(mid)
	exec.BidAskSpread = sizing.BidAskSpread(pos.Legs)
	return mid
}

// Advance moves a working order forward by at most one broker action. It is
// safe to call on every tick: within the retry interval of the last
// submission it does nothing.
func (e *Engine) Advance(ctx context.Context, pos *models.Position, wo *models.WorkingOrder, now time.Time) (Outcome, error) {
	params := pos.Params()
	if params == nil {
		return OutcomeWaiting, fmt.Errorf("%w: %s", ErrNoStrategy, pos.ID)
	}
	if wo.UseLimit {
		return e.advanceLimit(ctx, pos, wo, now)
	}
	return e.advanceMarket(ctx, pos, wo, now)
}

func (e *Engine) advanceLimit(ctx context.Context, pos *models.Position, wo *models.WorkingOrder, now time.Time) (Outcome, error) {
	params := pos.Params()
	exec := pos.Order(wo.Kind)
	log := e.logger.WithFields(logrus.Fields{
		"position":   pos.ID,
		"tag":        pos.Tag,
		"order_type": wo.Kind,
		"retries":    wo.Retries,
	})

	if wo.Retries >= params.MaxRetries {
		if !wo.NeedsAttention {
			wo.NeedsAttention = true
			log.Warn("max retries reached, order flagged for attention")
		}
		return OutcomeExhausted, nil
	}

	outstanding := exec.HasOutstanding()
	if outstanding && wo.SinceLastRetry(now) < params.RetryInterval {
		return OutcomeWaiting, nil
	}

	mid := observe(pos, wo.Kind)
	receiving := Receiving(pos, wo.Kind)
	retries := wo.Retries
	if outstanding {
		retries++
	}
	price, err := LimitPrice(params, PriceInput{
		Mid:       mid,
		Spread:    exec.BidAskSpread,
		BaseLimit: wo.LimitPrice,
		Retries:   retries,
		Receiving: receiving,
	})
	if err != nil {
		return OutcomeWaiting, err
	}
	// Broker prices are negative for credits
	brokerPrice := price
	signed := -price
	if receiving {
		brokerPrice = -price
		signed = price
	}
	log = log.WithFields(logrus.Fields{
		"mid":     util.RoundPrice(mid, 2),
		"price":   signed,
		"spread":  util.RoundPrice(exec.BidAskSpread, 2),
		"strikes": pos.Strikes(),
	})

	outcome := OutcomeSubmitted
	if !outstanding {
		if err := e.submitLimit(ctx, pos, wo, brokerPrice); err != nil {
			log.WithError(err).Warn("limit order submission failed")
			outcome = OutcomeFailed
		}
	} else {
		outcome = e.reprice(ctx, pos, wo, brokerPrice, log)
		if outcome == OutcomeWaiting {
			return outcome, nil
		}
	}

	if outstanding || outcome == OutcomeFailed {
		wo.Retries++
	}
	wo.LastRetry = now
	exec.Retries = wo.Retries
	exec.LastRetry = now
	if outcome != OutcomeFailed {
		exec.LimitPrice = signed
		exec.RecordProgress(mid)
		pos.PriceProgress = append(pos.PriceProgress, signed)
		log.Infof("%s %d %s", outcome, pos.Quantity, pos.Tag)
	}
	return outcome, nil
}

func (e *Engine) submitLimit(ctx context.Context, pos *models.Position, wo *models.WorkingOrder, brokerPrice float64) error {
	callCtx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
	defer cancel()

	handles, err := e.broker.SubmitComboLimitOrder(callCtx, OrderLegs(pos, wo.Kind), pos.Quantity, brokerPrice, pos.Tag)
	if err != nil {
		return err
	}
	pos.Order(wo.Kind).Handles = handles
	return nil
}

// reprice updates the outstanding combination in place, falling back to
// cancel and resubmit when the broker refuses the update.
func (e *Engine) reprice(ctx context.Context, pos *models.Position, wo *models.WorkingOrder, brokerPrice float64, log logrus.FieldLogger) Outcome {
	exec := pos.Order(wo.Kind)

	callCtx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
	err := e.broker.UpdateLimitPrice(callCtx, exec.Handles[0], brokerPrice)
	cancel()
	if err == nil {
		return OutcomeUpdated
	}
	if errors.Is(err, broker.ErrOrderClosed) {
		// Filled or cancelled at the broker; the fill or housekeeping settles it
		log.WithError(err).Debug("order no longer open, skipping update")
		return OutcomeWaiting
	}
	log.WithError(err).Warn("limit price update failed, cancelling and resubmitting")

	if err := e.canceller.CancelAll(ctx, exec.Handles); err != nil {
		log.WithError(err).Warn("cancel before resubmit failed")
		return OutcomeFailed
	}
	exec.Handles = nil
	if err := e.submitLimit(ctx, pos, wo, brokerPrice); err != nil {
		log.WithError(err).Warn("resubmission failed")
		return OutcomeFailed
	}
	return OutcomeResubmitted
}

func (e *Engine) advanceMarket(ctx context.Context, pos *models.Position, wo *models.WorkingOrder, now time.Time) (Outcome, error) {
	params := pos.Params()
	exec := pos.Order(wo.Kind)
	if exec.HasOutstanding() {
		return OutcomeWaiting, nil
	}
	log := e.logger.WithFields(logrus.Fields{
		"position":   pos.ID,
		"tag":        pos.Tag,
		"order_type": wo.Kind,
	})
	if wo.Retries >= params.MaxRetries {
		if !wo.NeedsAttention {
			wo.NeedsAttention = true
			log.Warn("max retries reached, order flagged for attention")
		}
		return OutcomeExhausted, nil
	}

	mid := observe(pos, wo.Kind)
	if params.ValidateBidAskSpread && exec.BidAskSpread > params.BidAskSpreadRatio*math.Abs(mid) {
		log.WithFields(logrus.Fields{
			"mid":    util.RoundPrice(mid, 2),
			"spread": util.RoundPrice(exec.BidAskSpread, 2),
		}).Debug("spread too wide for a market order, waiting")
		return OutcomeSkipped, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
	defer cancel()
	handles, err := e.broker.SubmitComboMarketOrder(callCtx, OrderLegs(pos, wo.Kind), pos.Quantity, pos.Tag)
	wo.LastRetry = now
	if err != nil {
		wo.Retries++
		exec.Retries = wo.Retries
		log.WithError(err).Warn("market order submission failed")
		return OutcomeFailed, nil
	}
	exec.Handles = handles
	exec.RecordProgress(mid)
	log.WithFields(logrus.Fields{
		"mid":     util.RoundPrice(mid, 2),
		"strikes": pos.Strikes(),
		"reasons": pos.CloseReasons,
	}).Infof("%s %d %s at market", wo.Kind, pos.Quantity, pos.Tag)
	return OutcomeSubmitted, nil
}
