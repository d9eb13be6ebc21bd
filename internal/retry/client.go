// Package retry wraps broker calls that must not be abandoned on a transient
// failure with bounded exponential backoff.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_spreads/internal/broker"
)

// Config bounds the retry loop.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig is used when NewClient gets no config or an invalid one.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Client retries broker cancellations.
type Client struct {
	broker broker.Broker
	logger logrus.FieldLogger
	config Config
}

// NewClient creates a retry client. Invalid config values fall back to
// DefaultConfig field by field.
func NewClient(b broker.Broker, logger logrus.FieldLogger, config ...Config) *Client {
	if b == nil {
		panic("retry: broker cannot be nil")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
		if cfg.MaxRetries < 0 {
			cfg.MaxRetries = DefaultConfig.MaxRetries
		}
		if cfg.InitialBackoff <= 0 {
			cfg.InitialBackoff = DefaultConfig.InitialBackoff
		}
		if cfg.MaxBackoff <= 0 {
			cfg.MaxBackoff = DefaultConfig.MaxBackoff
		}
		if cfg.Timeout <= 0 {
			cfg.Timeout = DefaultConfig.Timeout
		}
	}

	return &Client{
		broker: b,
		logger: logger,
		config: cfg,
	}
}

// CancelWithRetry cancels one broker handle. An order that is already closed
// or unknown counts as cancelled.
func (c *Client) CancelWithRetry(ctx context.Context, handle string) error {
	cancelCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff
	log := c.logger.WithField("handle", handle)

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		}
		if cancelCtx.Err() != nil {
			return fmt.Errorf("cancel timed out after %v: %w", c.config.Timeout, cancelCtx.Err())
		}

		err := c.broker.Cancel(cancelCtx, handle)
		if err == nil || errors.Is(err, broker.ErrOrderClosed) || errors.Is(err, broker.ErrOrderNotFound) {
			if attempt > 0 {
				log.WithField("attempt", attempt+1).Info("cancel succeeded after retry")
			}
			return nil
		}

		lastErr = err
		log.WithError(err).WithField("attempt", attempt+1).Warn("cancel attempt failed")

		if !c.isTransientError(err) || attempt == c.config.MaxRetries {
			break
		}
		select {
		case <-time.After(backoff):
			backoff = c.calculateNextBackoff(backoff)
		case <-cancelCtx.Done():
			return fmt.Errorf("cancel timed out during backoff: %w", cancelCtx.Err())
		case <-ctx.Done():
			return fmt.Errorf("operation canceled during backoff: %w", ctx.Err())
		}
	}

	return fmt.Errorf("failed to cancel %s after retries: %w", handle, lastErr)
}

// CancelAll cancels every handle and returns the joined failures.
func (c *Client) CancelAll(ctx context.Context, handles []string) error {
	var errs []error
	for _, h := range handles {
		if err := c.CancelWithRetry(ctx, h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Client) calculateNextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.WithError(err).Debug("failed to generate jitter")
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

func (c *Client) isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"circuit breaker is open",
		"too many requests",
		"429", // HTTP 429 Too Many Requests
		"502", // HTTP 502 Bad Gateway
		"503", // HTTP 503 Service Unavailable
		"504", // HTTP 504 Gateway Timeout
		"network",
		"dns",
		"tcp",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
