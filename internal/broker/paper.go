package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_spreads/internal/util"
)

// staleWarning is appended to the tag of fills priced from an old quote.
const staleWarning = " - Warning: fill at stale price"

// QuoteSource supplies the current quote of a symbol.
type QuoteSource interface {
	Quote(symbol string) (Quote, bool)
}

type orderStatus string

const (
	statusWorking   orderStatus = "working"
	statusFilled    orderStatus = "filled"
	statusCancelled orderStatus = "cancelled"
)

type paperOrder struct {
	id        string
	handles   []string
	legs      []OrderLeg
	quantity  int
	limit     float64
	market    bool
	tag       string
	status    orderStatus
	submitted time.Time
}

// PaperConfig configures the paper broker.
type PaperConfig struct {
	InitialCash float64
	StaleAfter  time.Duration // quotes older than this mark fills as stale; 0 disables
}

// PaperBroker is an in-process broker that fills combination orders at the
// legs' mid-prices. A limit order fills once the combination mid is at or
// through its limit; market orders fill on the next match. Buying power is
// never a constraint.
type PaperBroker struct {
	mu       sync.Mutex
	quotes   QuoteSource
	config   PaperConfig
	logger   logrus.FieldLogger
	cash     float64
	holdings map[string]int
	marks    map[string]float64
	orders   map[string]*paperOrder
	byHandle map[string]string
	sequence []string
}

// Ensure PaperBroker implements the collaborator interfaces at compile time.
var (
	_ Broker     = (*PaperBroker)(nil)
	_ Account    = (*PaperBroker)(nil)
	_ FillSource = (*PaperBroker)(nil)
)

// NewPaperBroker creates a paper broker priced from quotes.
func NewPaperBroker(quotes QuoteSource, config PaperConfig, logger logrus.FieldLogger) *PaperBroker {
	if quotes == nil {
		panic("broker: quote source cannot be nil")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PaperBroker{
		quotes:   quotes,
		config:   config,
		logger:   logger.WithField("component", "paper_broker"),
		cash:     config.InitialCash,
		holdings: make(map[string]int),
		marks:    make(map[string]float64),
		orders:   make(map[string]*paperOrder),
		byHandle: make(map[string]string),
	}
}

func (p *PaperBroker) submit(legs []OrderLeg, quantity int, limit float64, market bool, tag string) ([]string, error) {
	if len(legs) == 0 || quantity <= 0 {
		return nil, fmt.Errorf("%w: %d legs, quantity %d", ErrInvalidOrder, len(legs), quantity)
	}
	for _, l := range legs {
		if l.Ratio == 0 || l.Symbol == "" {
			return nil, fmt.Errorf("%w: leg %q ratio %d", ErrInvalidOrder, l.Symbol, l.Ratio)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	o := &paperOrder{
		id:       uuid.NewString(),
		legs:     append([]OrderLeg(nil), legs...),
		quantity: quantity,
		limit:    limit,
		market:   market,
		tag:      tag,
		status:   statusWorking,
	}
	for range legs {
		h := uuid.NewString()
		o.handles = append(o.handles, h)
		p.byHandle[h] = o.id
	}
	p.orders[o.id] = o
	p.sequence = append(p.sequence, o.id)

	p.logger.WithFields(logrus.Fields{
		"tag":      tag,
		"legs":     len(legs),
		"quantity": quantity,
		"limit":    limit,
		"market":   market,
	}).Debug("paper order submitted")
	return append([]string(nil), o.handles...), nil
}

// SubmitComboLimitOrder queues a combination limit order.
func (p *PaperBroker) SubmitComboLimitOrder(_ context.Context, legs []OrderLeg, quantity int, limitPrice float64, tag string) ([]string, error) {
	return p.submit(legs, quantity, limitPrice, false, tag)
}

// SubmitComboMarketOrder queues a combination market order.
func (p *PaperBroker) SubmitComboMarketOrder(_ context.Context, legs []OrderLeg, quantity int, tag string) ([]string, error) {
	return p.submit(legs, quantity, 0, true, tag)
}

func (p *PaperBroker) lookup(handle string) (*paperOrder, error) {
	id, ok := p.byHandle[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, handle)
	}
	o := p.orders[id]
	if o.status != statusWorking {
		return nil, fmt.Errorf("%w: %s is %s", ErrOrderClosed, handle, o.status)
	}
	return o, nil
}

// Cancel cancels the combination the handle belongs to.
func (p *PaperBroker) Cancel(_ context.Context, handle string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, err := p.lookup(handle)
	if err != nil {
		return err
	}
	o.status = statusCancelled
	p.logger.WithField("tag", o.tag).Debug("paper order cancelled")
	return nil
}

// UpdateLimitPrice re-prices the combination the handle belongs to.
func (p *PaperBroker) UpdateLimitPrice(_ context.Context, handle string, price float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, err := p.lookup(handle)
	if err != nil {
		return err
	}
	if o.market {
		return fmt.Errorf("%w: market orders have no limit price", ErrInvalidOrder)
	}
	o.limit = price
	return nil
}

// GetQuote returns the current quote of a symbol.
func (p *PaperBroker) GetQuote(_ context.Context, symbol string) (*Quote, error) {
	q, ok := p.quotes.Quote(symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoQuote, symbol)
	}
	return &q, nil
}

// Match fills every working order that is marketable against the current
// quotes and returns the leg executions in submission order.
func (p *PaperBroker) Match(_ context.Context, now time.Time) ([]Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var fills []Fill
	working := p.sequence[:0]
	for _, id := range p.sequence {
		o := p.orders[id]
		if o.status != statusWorking {
			continue
		}
		legFills, ok := p.tryFill(o, now)
		if !ok {
			working = append(working, id)
			continue
		}
		fills = append(fills, legFills...)
	}
	p.sequence = working
	return fills, nil
}

func (p *PaperBroker) tryFill(o *paperOrder, now time.Time) ([]Fill, bool) {
	quotes := make([]Quote, len(o.legs))
	combo := 0.0
	for i, l := range o.legs {
		q, ok := p.quotes.Quote(l.Symbol)
		if !ok {
			return nil, false
		}
		quotes[i] = q
		combo += float64(l.Ratio) * util.RoundPrice(q.Mid(), 2)
	}
	// Negative limits receive: the combination must pay out at least |limit|
	if !o.market && util.RoundPrice(combo, 2) > o.limit {
		return nil, false
	}

	fills := make([]Fill, 0, len(o.legs))
	for i, l := range o.legs {
		price := util.RoundPrice(quotes[i].Mid(), 2)
		qty := l.Ratio * o.quantity
		f := Fill{
			Handle:   o.handles[i],
			Tag:      o.tag,
			Symbol:   l.Symbol,
			Quantity: qty,
			Price:    price,
			Time:     now,
		}
		if p.config.StaleAfter > 0 && !quotes[i].Time.IsZero() && now.Sub(quotes[i].Time) > p.config.StaleAfter {
			f.StalePrice = true
			f.Tag += staleWarning
		}
		p.cash -= float64(qty) * price * 100
		p.holdings[l.Symbol] += qty
		p.marks[l.Symbol] = price
		if p.holdings[l.Symbol] == 0 {
			delete(p.holdings, l.Symbol)
		}
		fills = append(fills, f)
	}
	o.status = statusFilled
	p.logger.WithFields(logrus.Fields{
		"tag":   o.tag,
		"price": util.RoundPrice(combo, 2),
	}).Info("paper order filled")
	return fills, true
}

// Settle removes an expired holding at the given per-share value.
func (p *PaperBroker) Settle(symbol string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	qty, ok := p.holdings[symbol]
	if !ok {
		return
	}
	p.cash += float64(qty) * value * 100
	delete(p.holdings, symbol)
	delete(p.marks, symbol)
}

func (p *PaperBroker) portfolioValue() float64 {
	value := p.cash
	for symbol, qty := range p.holdings {
		if q, ok := p.quotes.Quote(symbol); ok {
			p.marks[symbol] = q.Mid()
		}
		value += float64(qty) * p.marks[symbol] * 100
	}
	return value
}

// PortfolioValue returns cash plus holdings marked at mid.
func (p *PaperBroker) PortfolioValue(_ context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.portfolioValue(), nil
}

// MarginRemaining equals the portfolio value: the paper account never runs
// out of buying power.
func (p *PaperBroker) MarginRemaining(ctx context.Context) (float64, error) {
	return p.PortfolioValue(ctx)
}

// RealizedProfit returns the change in portfolio value since inception.
func (p *PaperBroker) RealizedProfit(_ context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.portfolioValue() - p.config.InitialCash, nil
}

// Holdings returns a copy of the signed contract holdings.
func (p *PaperBroker) Holdings() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.holdings))
	for k, v := range p.holdings {
		out[k] = v
	}
	return out
}
