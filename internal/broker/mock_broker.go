package broker

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockBroker is a testify mock of Broker, Account and FillSource.
type MockBroker struct {
	mock.Mock
}

// Ensure MockBroker implements the collaborator interfaces at compile time.
var (
	_ Broker     = (*MockBroker)(nil)
	_ Account    = (*MockBroker)(nil)
	_ FillSource = (*MockBroker)(nil)
)

// NewMockBroker creates a mock with no expectations.
func NewMockBroker() *MockBroker {
	return &MockBroker{}
}

func (m *MockBroker) SubmitComboLimitOrder(ctx context.Context, legs []OrderLeg, quantity int, limitPrice float64, tag string) ([]string, error) {
	args := m.Called(ctx, legs, quantity, limitPrice, tag)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockBroker) SubmitComboMarketOrder(ctx context.Context, legs []OrderLeg, quantity int, tag string) ([]string, error) {
	args := m.Called(ctx, legs, quantity, tag)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockBroker) Cancel(ctx context.Context, handle string) error {
	args := m.Called(ctx, handle)
	return args.Error(0)
}

func (m *MockBroker) UpdateLimitPrice(ctx context.Context, handle string, price float64) error {
	args := m.Called(ctx, handle, price)
	return args.Error(0)
}

func (m *MockBroker) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	args := m.Called(ctx, symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Quote), args.Error(1)
}

func (m *MockBroker) PortfolioValue(ctx context.Context) (float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockBroker) MarginRemaining(ctx context.Context) (float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockBroker) RealizedProfit(ctx context.Context) (float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockBroker) Match(ctx context.Context, now time.Time) ([]Fill, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Fill), args.Error(1)
}
