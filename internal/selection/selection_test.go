package selection

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/scranton_spreads/internal/config"
	"github.com/eddiefleurent/scranton_spreads/internal/models"
)

type stubPricer struct{ calls int }

func (p *stubPricer) Greeks(c *models.Contract, _ time.Time) *models.Greeks {
	p.calls++
	if c.Greeks == nil {
		c.Greeks = &models.Greeks{}
	}
	return c.Greeks
}

func (p *stubPricer) Value(c *models.Contract, _ float64, _ time.Time) float64 { return c.MidPrice() }

var (
	now    = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	expiry = time.Date(2024, 4, 19, 0, 0, 0, 0, time.UTC)
	// |delta| of the call at strikes 80..120; puts mirror it
	callDeltas = []float64{0.9, 0.8, 0.7, 0.6, 0.5, 0.4, 0.3, 0.2, 0.1}
	putDeltas  = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9}
)

// testChain builds a chain around spot 100 with strikes 80..120 step 5. Mids
// grow quadratically toward the money so adjacent spreads widen as they near it.
func testChain() []*models.Contract {
	var chain []*models.Contract
	for i := 0; i < 9; i++ {
		k := 80 + 5*float64(i)
		putMid := 0.5 + 0.5*float64(i*i)
		callMid := 0.5 + 0.5*float64((8-i)*(8-i))
		chain = append(chain,
			&models.Contract{
				Symbol: fmt.Sprintf("P%.0f", k), Underlying: "SPX", UnderlyingPrice: 100, Strike: k, Expiry: expiry,
				Right: models.Put, Bid: putMid - 0.05, Ask: putMid + 0.05, Tradable: true,
				Greeks: &models.Greeks{Delta: -putDeltas[i]},
			},
			&models.Contract{
				Symbol: fmt.Sprintf("C%.0f", k), Underlying: "SPX", UnderlyingPrice: 100, Strike: k, Expiry: expiry,
				Right: models.Call, Bid: callMid - 0.05, Ask: callMid + 0.05, Tradable: true,
				Greeks: &models.Greeks{Delta: callDeltas[i]},
			},
		)
	}
	return chain
}

func newBuilder() *Builder {
	return NewBuilder(&stubPricer{}, now, nil)
}

func strikes(cs []*models.Contract) []float64 {
	out := make([]float64, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Strike)
	}
	return out
}

func ptr(v float64) *float64 { return &v }

func TestContracts_Filters(t *testing.T) {
	b := newBuilder()
	chain := testChain()

	puts := b.Contracts(chain, Filter{Right: models.Put})
	assert.Len(t, puts, 9)
	assert.Equal(t, 80.0, puts[0].Strike)

	assert.Equal(t, []float64{120, 115, 110}, strikes(b.Puts(chain, Filter{FromStrike: ptr(110)})))
	assert.Equal(t, []float64{80, 85}, strikes(b.Calls(chain, Filter{ToStrike: ptr(85)})))

	// Put mids 0.5, 1, 2.5, 5, ...
	assert.Equal(t, []float64{90, 85}, strikes(b.Puts(chain, Filter{FromPrice: ptr(0.9), ToPrice: ptr(3)})))

	chain[0].Tradable = false // P80
	assert.Len(t, b.Contracts(chain, Filter{Right: models.Put}), 8)

	assert.Len(t, b.Contracts(chain, Filter{}), 17)
}

func TestContracts_DeltaRange(t *testing.T) {
	b := newBuilder()
	chain := testChain()

	assert.Equal(t, []float64{85, 80}, strikes(b.Puts(chain, Filter{ToDelta: ptr(20)})))
	assert.Equal(t, []float64{115, 120}, strikes(b.Calls(chain, Filter{ToDelta: ptr(20)})))
	assert.Equal(t, []float64{95, 90, 85}, strikes(b.Puts(chain, Filter{FromDelta: ptr(20), ToDelta: ptr(40)})))
	assert.Equal(t, []float64{105, 110, 115}, strikes(b.Calls(chain, Filter{FromDelta: ptr(20), ToDelta: ptr(40)})))

	// 26 is nearest the 90 put (0.30), which is outside the bound, so the
	// strike bound steps just below it
	assert.Equal(t, []float64{85, 80}, strikes(b.Puts(chain, Filter{ToDelta: ptr(26)})))
}

func TestDeltaContract(t *testing.T) {
	b := newBuilder()
	chain := testChain()
	puts := b.Contracts(chain, Filter{Right: models.Put})
	calls := b.Contracts(chain, Filter{Right: models.Call})

	tests := []struct {
		name   string
		list   []*models.Contract
		target float64
		want   float64
	}{
		{"put exact", puts, 20, 85},
		{"put between picks closer", puts, 22, 85},
		{"put between picks upper", puts, 28, 90},
		{"put below range clamps", puts, 5, 80},
		{"put above range clamps", puts, 95, 120},
		{"call exact", calls, 20, 115},
		{"call between", calls, 33, 110},
		{"call below range clamps", calls, 5, 120},
		{"call above range clamps", calls, 95, 80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := b.DeltaContract(tt.list, tt.target)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Strike)
		})
	}

	assert.Nil(t, b.DeltaContract(nil, 20))
}

func TestDeltaContract_ComputesMissingGreeks(t *testing.T) {
	p := &stubPricer{}
	b := NewBuilder(p, now, nil)
	chain := testChain()
	for _, c := range chain {
		c.Greeks = nil
	}
	b.DeltaContract(b.Contracts(chain, Filter{Right: models.Put}), 20)
	assert.Positive(t, p.calls)
}

func TestWing(t *testing.T) {
	b := newBuilder()
	puts := b.Puts(testChain(), Filter{ToStrike: ptr(100)}) // 100, 95, 90, ...

	tests := []struct {
		wing float64
		want float64
	}{
		{5, 95},
		{10, 90},
		{7, 95}, // 95 is 2 short, 90 is 3 over
		{8, 90}, // 90 is 2 over, 95 is 3 short
		{100, 80},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("wing %.0f", tt.wing), func(t *testing.T) {
			got := Wing(puts, tt.wing)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Strike)
		})
	}

	assert.Nil(t, Wing(puts, 0))
	assert.Nil(t, Wing(puts[:1], 5))
}

func TestSpread(t *testing.T) {
	b := newBuilder()
	chain := testChain()

	anchored := b.Spread(chain, models.Put, SpreadOptions{Delta: ptr(30), WingSize: 5})
	assert.Equal(t, []float64{90, 85}, strikes(anchored))

	sorted := b.Spread(chain, models.Put, SpreadOptions{Delta: ptr(30), WingSize: 5, SortByStrike: true})
	assert.Equal(t, []float64{85, 90}, strikes(sorted))

	byStrike := b.Spread(chain, models.Call, SpreadOptions{Strike: ptr(103), WingSize: 10})
	assert.Equal(t, []float64{105, 115}, strikes(byStrike))

	// Adjacent put spreads net more the closer they are to the money
	scanned := b.Spread(chain, models.Put, SpreadOptions{WingSize: 5, PremiumOrder: PremiumMax})
	assert.Equal(t, []float64{120, 115}, strikes(scanned))

	wide := b.Spread(chain, models.Put, SpreadOptions{WingSize: 10, FromPrice: ptr(1.5), PremiumOrder: PremiumMin})
	assert.Equal(t, []float64{90, 80}, strikes(wide))

	assert.Nil(t, b.Spread(chain, models.Put, SpreadOptions{WingSize: 5, ToPrice: ptr(0.4)}))
	assert.Nil(t, b.Spread(chain, models.Put, SpreadOptions{Delta: ptr(30)}), "no wing size")
	assert.Nil(t, b.Spread(chain, "", SpreadOptions{WingSize: 5}))
}

func TestATM(t *testing.T) {
	chain := testChain()
	for _, c := range chain {
		c.UnderlyingPrice = 101
	}
	k, ok := ATMStrike(chain)
	require.True(t, ok)
	assert.Equal(t, 100.0, k)

	calls := ATM(chain, models.Call)
	assert.Equal(t, models.Call, calls[0].Right)
	assert.Equal(t, 100.0, calls[0].Strike)

	_, ok = ATMStrike(nil)
	assert.False(t, ok)
}

func TestBuilders(t *testing.T) {
	b := newBuilder()
	chain := testChain()

	tests := []struct {
		name       string
		build      func() *Candidate
		strategyID string
		strikes    []float64
		sides      []int
		credit     bool
	}{
		{
			name:       "short put",
			build:      func() *Candidate { return b.Naked(chain, models.Put, nil, ptr(20), nil, nil, true) },
			strategyID: "ShortPut", strikes: []float64{85}, sides: []int{-1}, credit: true,
		},
		{
			name:       "long call",
			build:      func() *Candidate { return b.Naked(chain, models.Call, nil, ptr(20), nil, nil, false) },
			strategyID: "LongCall", strikes: []float64{115}, sides: []int{1},
		},
		{
			name:       "short straddle atm",
			build:      func() *Candidate { return b.Straddle(chain, nil, nil, true) },
			strategyID: "ShortStraddle", strikes: []float64{100, 100}, sides: []int{-1, -1}, credit: true,
		},
		{
			name:       "straddle with net delta",
			build:      func() *Candidate { return b.Straddle(chain, nil, ptr(-10), false) },
			strategyID: "LongStraddle", strikes: []float64{95, 95}, sides: []int{1, 1},
		},
		{
			name:       "short strangle",
			build:      func() *Candidate { return b.Strangle(chain, ptr(20), ptr(20), nil, nil, true) },
			strategyID: "ShortStrangle", strikes: []float64{85, 115}, sides: []int{-1, -1}, credit: true,
		},
		{
			name: "put credit spread",
			build: func() *Candidate {
				return b.VerticalSpread(chain, models.Put, SpreadOptions{Delta: ptr(30), WingSize: 10}, true)
			},
			strategyID: "PutCreditSpread", strikes: []float64{90, 80}, sides: []int{-1, 1}, credit: true,
		},
		{
			name: "call debit spread",
			build: func() *Candidate {
				return b.VerticalSpread(chain, models.Call, SpreadOptions{Strike: ptr(100), WingSize: 5}, false)
			},
			strategyID: "CallDebitSpread", strikes: []float64{100, 105}, sides: []int{1, -1},
		},
		{
			name: "iron condor",
			build: func() *Candidate {
				return b.IronCondor(chain, ptr(20), ptr(20), nil, nil, 5, 5, true)
			},
			strategyID: "IronCondor", strikes: []float64{80, 85, 115, 120}, sides: []int{1, -1, -1, 1}, credit: true,
		},
		{
			name:       "iron fly atm",
			build:      func() *Candidate { return b.IronFly(chain, nil, nil, 10, 10, true) },
			strategyID: "IronFly", strikes: []float64{90, 100, 100, 110}, sides: []int{1, -1, -1, 1}, credit: true,
		},
		{
			name:       "put butterfly",
			build:      func() *Candidate { return b.Butterfly(chain, models.Put, nil, nil, 5, 5, false) },
			strategyID: "DebitButterfly", strikes: []float64{95, 100, 105}, sides: []int{1, -2, 1},
		},
		{
			name:       "call butterfly",
			build:      func() *Candidate { return b.Butterfly(chain, models.Call, nil, nil, 5, 0, true) },
			strategyID: "CreditButterfly", strikes: []float64{95, 100, 105}, sides: []int{-1, 2, -1}, credit: true,
		},
		{
			name: "custom put spread",
			build: func() *Candidate {
				return b.Custom(chain, []CustomLeg{
					{Right: models.Put, Delta: 20, Side: -1},
					{Right: models.Put, Delta: 10, Side: 1},
				}, "", nil)
			},
			strategyID: "Custom", strikes: []float64{85, 80}, sides: []int{-1, 1}, credit: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.build()
			require.NotNil(t, c)
			assert.Equal(t, tt.strategyID, c.StrategyID())
			assert.Equal(t, tt.strikes, strikes(c.Contracts))
			assert.Equal(t, tt.sides, c.Sides)
			assert.Equal(t, tt.credit, c.Credit)
			assert.Len(t, c.Legs(), len(tt.sides))
		})
	}
}

func TestButterflyKeys(t *testing.T) {
	c := newBuilder().Butterfly(testChain(), models.Put, nil, nil, 5, 5, false)
	require.NotNil(t, c)
	legs := c.Legs()
	assert.Equal(t, "leftLongPut", legs[0].Key)
	assert.Equal(t, "shortPut", legs[1].Key)
	assert.Equal(t, "rightLongPut", legs[2].Key)
}

func TestBuilders_FailWhenLegMissing(t *testing.T) {
	b := newBuilder()
	chain := testChain()

	assert.Nil(t, b.IronCondor(chain, ptr(20), ptr(20), nil, nil, 0, 5, true), "missing put wing")
	assert.Nil(t, b.Strangle(chain, nil, nil, nil, ptr(1), true), "no puts below strike 1")
	assert.Nil(t, b.Naked(nil, models.Put, nil, nil, nil, nil, true))
	assert.Nil(t, b.Custom(chain, nil, "", nil))
	assert.Nil(t, b.Butterfly(chain, models.Put, nil, ptr(120), 5, 5, false), "no right wing above 120")

	sell := false
	c := b.Custom(chain, []CustomLeg{{Right: models.Put, Delta: 20, Side: -1}}, "Lonely", &sell)
	require.NotNil(t, c)
	assert.False(t, c.Credit, "explicit direction wins")
}

func TestCustomLegRightsFromConfig(t *testing.T) {
	// Custom legs arrive from configuration as strings
	leg := config.CustomLeg{Type: "put", Delta: 20, Side: -1}
	right, err := models.ParseOptionRight(leg.Type)
	require.NoError(t, err)
	assert.Equal(t, models.Put, right)
}
