// Package broker defines the order-routing and account collaborators of the
// runner, a circuit-breaker decorator, and an in-process paper broker.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

var (
	// ErrOrderNotFound is returned when a handle does not name a known order.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderClosed is returned when an order can no longer be changed.
	ErrOrderClosed = errors.New("order already filled or cancelled")
	// ErrInvalidOrder is returned for malformed submissions.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrNoQuote is returned when no quote is available for a symbol.
	ErrNoQuote = errors.New("no quote available")
)

// OrderLeg is one leg of a combination order. Ratio is signed per unit of
// the combination: positive buys, negative sells.
type OrderLeg struct {
	Symbol string `json:"symbol"`
	Ratio  int    `json:"ratio"`
}

// Quote is the current bid/ask of a symbol.
type Quote struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Time   time.Time `json:"time"`
}

// Mid returns the bid/ask average, or the available side of a one-sided quote.
func (q *Quote) Mid() float64 {
	switch {
	case q.Bid > 0 && q.Ask > 0:
		return (q.Bid + q.Ask) / 2
	case q.Ask > 0:
		return q.Ask
	default:
		return q.Bid
	}
}

// Fill is one execution report for a single leg. Quantity is signed: positive
// for bought contracts, negative for sold. Price is the per-share fill price.
type Fill struct {
	Handle     string    `json:"handle"`
	Tag        string    `json:"tag"`
	Symbol     string    `json:"symbol"`
	Quantity   int       `json:"quantity"`
	Price      float64   `json:"price"`
	Time       time.Time `json:"time"`
	StalePrice bool      `json:"stale_price"`
}

// Broker routes combination orders. Limit prices are per-share combination
// prices: negative receives a credit, positive pays a debit. Submissions
// return one handle per leg; price updates address the combination through
// any of its handles.
type Broker interface {
	SubmitComboLimitOrder(ctx context.Context, legs []OrderLeg, quantity int, limitPrice float64, tag string) ([]string, error)
	SubmitComboMarketOrder(ctx context.Context, legs []OrderLeg, quantity int, tag string) ([]string, error)
	Cancel(ctx context.Context, handle string) error
	UpdateLimitPrice(ctx context.Context, handle string, price float64) error
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
}

// Account reports the account values order sizing depends on.
type Account interface {
	PortfolioValue(ctx context.Context) (float64, error)
	MarginRemaining(ctx context.Context) (float64, error)
	RealizedProfit(ctx context.Context) (float64, error)
}

// FillSource delivers the executions that happened up to now.
type FillSource interface {
	Match(ctx context.Context, now time.Time) ([]Fill, error)
}

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// DefaultCircuitBreakerSettings trips at a 60% failure rate over at least
// five requests and probes again after 30 seconds.
var DefaultCircuitBreakerSettings = CircuitBreakerSettings{
	MaxRequests:  3,
	Interval:     60 * time.Second,
	Timeout:      30 * time.Second,
	MinRequests:  5,
	FailureRatio: 0.6,
}

// NewCircuitBreakerBroker creates a new CircuitBreakerBroker with default settings
func NewCircuitBreakerBroker(broker Broker, logger logrus.FieldLogger) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, DefaultCircuitBreakerSettings, logger)
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings, logger logrus.FieldLogger) *CircuitBreakerBroker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
		// A rejected price update or cancel is a business outcome, not an outage
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrOrderNotFound) ||
				errors.Is(err, ErrOrderClosed) || errors.Is(err, ErrInvalidOrder)
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// State returns the current breaker state.
func (c *CircuitBreakerBroker) State() gobreaker.State {
	return c.breaker.State()
}

// SubmitComboLimitOrder wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) SubmitComboLimitOrder(ctx context.Context, legs []OrderLeg, quantity int,
	limitPrice float64, tag string) ([]string, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]string, error) {
		return b.SubmitComboLimitOrder(ctx, legs, quantity, limitPrice, tag)
	})
}

// SubmitComboMarketOrder wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) SubmitComboMarketOrder(ctx context.Context, legs []OrderLeg, quantity int,
	tag string) ([]string, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]string, error) {
		return b.SubmitComboMarketOrder(ctx, legs, quantity, tag)
	})
}

// Cancel wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) Cancel(ctx context.Context, handle string) error {
	_, err := execCircuitBreaker(c.breaker, c.broker, func(b Broker) (struct{}, error) {
		return struct{}{}, b.Cancel(ctx, handle)
	})
	return err
}

// UpdateLimitPrice wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) UpdateLimitPrice(ctx context.Context, handle string, price float64) error {
	_, err := execCircuitBreaker(c.breaker, c.broker, func(b Broker) (struct{}, error) {
		return struct{}{}, b.UpdateLimitPrice(ctx, handle, price)
	})
	return err
}

// GetQuote wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Quote, error) {
		return b.GetQuote(ctx, symbol)
	})
}
