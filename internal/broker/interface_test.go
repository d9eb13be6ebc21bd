package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/sony/gobreaker"
)

// flakyBroker fails every call after failAfter successes.
type flakyBroker struct {
	callCount  int
	shouldFail bool
	failAfter  int
	failWith   error
}

func (m *flakyBroker) fail() error {
	m.callCount++
	if m.shouldFail && m.callCount > m.failAfter {
		if m.failWith != nil {
			return m.failWith
		}
		return errors.New("mock broker error")
	}
	return nil
}

func (m *flakyBroker) SubmitComboLimitOrder(_ context.Context, legs []OrderLeg, _ int, _ float64, _ string) ([]string, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	handles := make([]string, len(legs))
	for i := range legs {
		handles[i] = "h" + legs[i].Symbol
	}
	return handles, nil
}

func (m *flakyBroker) SubmitComboMarketOrder(ctx context.Context, legs []OrderLeg, qty int, tag string) ([]string, error) {
	return m.SubmitComboLimitOrder(ctx, legs, qty, 0, tag)
}

func (m *flakyBroker) Cancel(_ context.Context, _ string) error {
	return m.fail()
}

func (m *flakyBroker) UpdateLimitPrice(_ context.Context, _ string, _ float64) error {
	return m.fail()
}

func (m *flakyBroker) GetQuote(_ context.Context, symbol string) (*Quote, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	return &Quote{Symbol: symbol, Bid: 1.0, Ask: 1.2}, nil
}

func quietLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func TestQuoteMid(t *testing.T) {
	tests := []struct {
		name  string
		quote Quote
		want  float64
	}{
		{"two sided", Quote{Bid: 1.0, Ask: 1.2}, 1.1},
		{"ask only", Quote{Ask: 0.15}, 0.15},
		{"bid only", Quote{Bid: 0.05}, 0.05},
		{"empty", Quote{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.quote.Mid()
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Mid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewCircuitBreakerBroker(t *testing.T) {
	flaky := &flakyBroker{}
	cb := NewCircuitBreakerBroker(flaky, quietLogger())

	if cb == nil {
		t.Fatal("NewCircuitBreakerBroker returned nil")
	}
	if cb.broker != flaky {
		t.Error("CircuitBreakerBroker.broker not set correctly")
	}
	if cb.breaker == nil {
		t.Error("CircuitBreakerBroker.breaker not initialized")
	}
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("new breaker state = %s, want closed", cb.State())
	}
}

func TestCircuitBreakerBroker_SuccessfulCalls(t *testing.T) {
	flaky := &flakyBroker{shouldFail: false}
	cb := NewCircuitBreakerBroker(flaky, quietLogger())
	ctx := context.Background()

	quote, err := cb.GetQuote(ctx, "SPX240419C05000")
	if err != nil {
		t.Errorf("GetQuote failed: %v", err)
	}
	if quote.Symbol != "SPX240419C05000" {
		t.Errorf("GetQuote returned symbol %s, want SPX240419C05000", quote.Symbol)
	}

	handles, err := cb.SubmitComboLimitOrder(ctx, []OrderLeg{{Symbol: "A", Ratio: -1}, {Symbol: "B", Ratio: 1}}, 1, -1.2, "tag")
	if err != nil {
		t.Errorf("SubmitComboLimitOrder failed: %v", err)
	}
	if len(handles) != 2 || handles[0] != "hA" {
		t.Errorf("SubmitComboLimitOrder returned %v, want one handle per leg", handles)
	}
}

func TestCircuitBreakerBroker_FailureScenarios(t *testing.T) {
	flaky := &flakyBroker{shouldFail: true, failAfter: 3}
	testSettings := CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     10 * time.Millisecond,
		Timeout:      20 * time.Millisecond,
		MinRequests:  1,
		FailureRatio: 0.5,
	}
	cb := NewCircuitBreakerBrokerWithSettings(flaky, testSettings, quietLogger())
	ctx := context.Background()

	// Make several calls to trip the breaker
	for i := 0; i < 8; i++ {
		_, err := cb.GetQuote(ctx, "X")
		if i < 3 {
			if err != nil {
				t.Errorf("Call %d should succeed but failed: %v", i+1, err)
			}
		} else if err == nil {
			t.Errorf("Call %d should fail but succeeded", i+1)
		}
	}

	if cb.breaker.State() != gobreaker.StateOpen {
		t.Errorf("Circuit breaker should be open, but state is %s", cb.breaker.State())
	}
}

func TestCircuitBreakerBroker_BusinessErrorsDoNotTrip(t *testing.T) {
	flaky := &flakyBroker{shouldFail: true, failWith: ErrOrderClosed}
	testSettings := CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  1,
		FailureRatio: 0.5,
	}
	cb := NewCircuitBreakerBrokerWithSettings(flaky, testSettings, quietLogger())

	for i := 0; i < 5; i++ {
		err := cb.UpdateLimitPrice(context.Background(), "h1", -1.1)
		if !errors.Is(err, ErrOrderClosed) {
			t.Fatalf("UpdateLimitPrice error = %v, want ErrOrderClosed", err)
		}
	}
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("breaker state = %s, want closed", cb.State())
	}
}

func TestCircuitBreakerBroker_RecoveryBehavior(t *testing.T) {
	flaky := &flakyBroker{shouldFail: true, failAfter: 3}
	fastSettings := CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     10 * time.Millisecond,
		Timeout:      15 * time.Millisecond,
		MinRequests:  5,
		FailureRatio: 0.6,
	}
	cb := NewCircuitBreakerBrokerWithSettings(flaky, fastSettings, quietLogger())
	ctx := context.Background()

	// Trip the breaker
	for i := 0; i < 8; i++ {
		_, _ = cb.GetQuote(ctx, "X")
	}
	if cb.breaker.State() != gobreaker.StateOpen {
		t.Fatalf("Circuit breaker should be open, but state is %s", cb.breaker.State())
	}

	// Poll for state transition instead of fixed sleep
	deadline := time.Now().Add(200 * time.Millisecond)
	for cb.breaker.State() != gobreaker.StateHalfOpen {
		if time.Now().After(deadline) {
			t.Fatalf("Circuit breaker did not transition to half-open within timeout")
		}
		time.Sleep(time.Millisecond)
	}

	flaky.shouldFail = false
	for i := 0; i < 3; i++ {
		if _, err := cb.GetQuote(ctx, "X"); err != nil {
			t.Errorf("Call %d after recovery should succeed but failed: %v", i+1, err)
		}
	}
	if cb.breaker.State() != gobreaker.StateClosed {
		t.Errorf("breaker state = %s, want closed after successful probes", cb.breaker.State())
	}
}

func TestCircuitBreakerBroker_AllMethods(t *testing.T) {
	flaky := &flakyBroker{shouldFail: false}
	cb := NewCircuitBreakerBroker(flaky, quietLogger())
	ctx := context.Background()
	legs := []OrderLeg{{Symbol: "A", Ratio: -1}, {Symbol: "B", Ratio: 1}}

	tests := []struct {
		name string
		fn   func() error
	}{
		{"SubmitComboLimitOrder", func() error { _, err := cb.SubmitComboLimitOrder(ctx, legs, 1, -1.2, "t"); return err }},
		{"SubmitComboMarketOrder", func() error { _, err := cb.SubmitComboMarketOrder(ctx, legs, 1, "t"); return err }},
		{"Cancel", func() error { return cb.Cancel(ctx, "hA") }},
		{"UpdateLimitPrice", func() error { return cb.UpdateLimitPrice(ctx, "hA", -1.1) }},
		{"GetQuote", func() error { _, err := cb.GetQuote(ctx, "A"); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Errorf("%s failed: %v", tt.name, err)
			}
		})
	}
}

func TestCircuitBreakerBroker_CircuitBreakerError(t *testing.T) {
	flaky := &flakyBroker{shouldFail: true, failAfter: 0}
	testSettings := CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     10 * time.Millisecond,
		Timeout:      50 * time.Millisecond,
		MinRequests:  1,
		FailureRatio: 0.5,
	}
	cb := NewCircuitBreakerBrokerWithSettings(flaky, testSettings, quietLogger())

	for i := 0; i < 8; i++ {
		_ = cb.Cancel(context.Background(), "h")
	}

	err := cb.Cancel(context.Background(), "h")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("Expected gobreaker.ErrOpenState but got: %v", err)
	}
}
