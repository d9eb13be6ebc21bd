// Package events publishes position lifecycle telemetry.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_spreads/internal/models"
)

// Type names a lifecycle event.
type Type string

const (
	PositionOpened    Type = "position_opened"
	PositionClosed    Type = "position_closed"
	PositionCancelled Type = "position_cancelled"
	CloseTriggered    Type = "close_triggered"
	OrderSubmitted    Type = "order_submitted"
	OrderRetried      Type = "order_retried"
	OrderAttention    Type = "order_needs_attention"
)

// Event is one telemetry record. Position and Order are snapshots taken when
// the event was created.
type Event struct {
	Type       Type                   `json:"type"`
	Time       time.Time              `json:"time"`
	PositionID string                 `json:"position_id,omitempty"`
	Tag        string                 `json:"tag,omitempty"`
	Strategy   string                 `json:"strategy,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Position   *models.Position       `json:"position,omitempty"`
	Order      *models.ExecutionOrder `json:"order,omitempty"`
}

// New builds an event for pos with copies of the position and its active order.
func New(t Type, pos *models.Position, at time.Time) Event {
	ev := Event{Type: t, Time: at}
	if pos == nil {
		return ev
	}
	snap := *pos
	snap.StateMachine = nil
	snap.Strategy = nil
	order := *pos.Order(pos.ActiveKind())

	ev.PositionID = pos.ID
	ev.Tag = pos.Tag
	ev.Strategy = pos.StrategyName
	ev.Position = &snap
	ev.Order = &order
	return ev
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

// LogPublisher writes events to a logrus logger.
type LogPublisher struct {
	logger logrus.FieldLogger
}

// NewLogPublisher creates a publisher logging at info level.
func NewLogPublisher(logger logrus.FieldLogger) *LogPublisher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogPublisher{logger: logger.WithField("component", "events")}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	fields := logrus.Fields{
		"event":    ev.Type,
		"position": ev.PositionID,
		"tag":      ev.Tag,
		"strategy": ev.Strategy,
	}
	if ev.Order != nil {
		fields["retries"] = ev.Order.Retries
		fields["price"] = ev.Order.LimitPrice
	}
	if ev.Position != nil {
		fields["state"] = ev.Position.State
		fields["pnl"] = ev.Position.PnL
	}
	entry := p.logger.WithFields(fields)
	if ev.Type == OrderAttention {
		entry.Warn(ev.Message)
		return nil
	}
	entry.Info(ev.Message)
	return nil
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DefaultPublishTimeout bounds a single Publish call.
const DefaultPublishTimeout = 2 * time.Second

// Emitter publishes fire-and-forget: failures are logged, never returned.
// Every publish runs under its own timeout so a slow sink cannot stall the
// caller.
type Emitter struct {
	pub     Publisher
	logger  logrus.FieldLogger
	timeout time.Duration
}

// NewEmitter wraps pub. A nil publisher discards events.
func NewEmitter(pub Publisher, logger logrus.FieldLogger) *Emitter {
	if pub == nil {
		pub = Noop{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Emitter{
		pub:     pub,
		logger:  logger.WithField("component", "events"),
		timeout: DefaultPublishTimeout,
	}
}

// WithTimeout sets the per-publish timeout. Non-positive values keep the
// current one.
func (e *Emitter) WithTimeout(d time.Duration) *Emitter {
	if d > 0 {
		e.timeout = d
	}
	return e
}

// Emit publishes ev and logs a failure.
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.pub.Publish(ctx, ev); err != nil {
		e.logger.WithError(err).WithField("event", ev.Type).Warn("Failed to publish event")
	}
}
