package config

import (
	"fmt"
	"strings"
	"time"
)

// Structure identifiers understood by the strategy package.
const (
	StructureShortStrangle    = "short_strangle"
	StructureLongStrangle     = "long_strangle"
	StructureShortStraddle    = "short_straddle"
	StructureLongStraddle     = "long_straddle"
	StructureIronCondor       = "iron_condor"
	StructureIronFly          = "iron_fly"
	StructurePutCreditSpread  = "put_credit_spread"
	StructureCallCreditSpread = "call_credit_spread"
	StructurePutDebitSpread   = "put_debit_spread"
	StructureCallDebitSpread  = "call_debit_spread"
	StructureButterfly        = "butterfly"
	StructureShortPut         = "short_put"
	StructureShortCall        = "short_call"
	StructureLongPut          = "long_put"
	StructureLongCall         = "long_call"
	StructureCustom           = "custom"
)

// Profit target methods.
const (
	ProfitTargetPremium = "premium"
	ProfitTargetTheta   = "theta"
	ProfitTargetTReg    = "treg"
	ProfitTargetMargin  = "margin"
)

// Execution cadences.
const (
	SpeedFast    = "fast"
	SpeedNormal  = "normal"
	SpeedPatient = "patient"
)

// CustomLeg describes one leg of a custom structure. Delta is in percent.
type CustomLeg struct {
	Type  string  `yaml:"type"` // put | call
	Delta float64 `yaml:"delta"`
	Side  int     `yaml:"side"` // -1 short, +1 long, magnitude is the ratio
}

// StrategyParams is the fully resolved parameter set of one strategy instance.
// Build it with DefaultStrategyParams and Merge; never mutate a shared copy.
type StrategyParams struct {
	Name      string
	Structure string
	Symbol    string

	// Entry
	DTE                           int
	DTEWindow                     int
	UseFurthestExpiry             bool
	MaxActivePositions            int
	MinimumTradeDistance          time.Duration
	CheckForDuplicatePositions    bool
	AllowMultipleEntriesPerExpiry bool

	// Selection (deltas in percent, e.g. 16 for a 0.16 delta)
	Delta                  float64
	PutDelta               float64
	CallDelta              float64
	NetDelta               *float64
	WingSize               float64
	PutWingSize            float64
	CallWingSize           float64
	ButterflyType          string // credit | debit
	ButterflyLeftWingSize  float64
	ButterflyRightWingSize float64
	FromPrice              *float64
	ToPrice                *float64
	MinSpreadPremium       *float64
	MaxSpreadPremium       *float64
	PremiumOrder           string // max | min
	CustomLegs             []CustomLeg

	// Sizing
	MaxOrderQuantity                  int
	ValidateQuantity                  bool
	TargetPremiumPct                  *float64
	TargetPremium                     *float64
	Slippage                          float64
	LimitOrderRelativePriceAdjustment float64
	LimitOrderAbsolutePrice           *float64
	MinPremium                        *float64
	MaxPremium                        *float64
	ValidateBidAskSpread              bool
	BidAskSpreadRatio                 float64
	ProfitTargetMethod                string
	ProfitTarget                      float64
	ThetaProfitDays                   int
	PortfolioMarginStress             float64

	// Execution
	UseLimitOrders       bool
	LimitOrderExpiration time.Duration
	MinPricePct          float64
	MaxPricePct          float64
	OrderAdjustmentPct   *float64
	AdjustmentIncrement  *float64
	MaxRetries           int
	RetryInterval        time.Duration
	SpeedOfFill          string

	// Monitoring
	ManagePositionFrequency int
	StopLossMultiplier      *float64
	CapStopLoss             bool
	ProfitTargetTolerance   float64
	DTEThreshold            *int
	ForceDTEThreshold       bool
	DITThreshold            *int
	HardDITThreshold        *int
	ForceDITThreshold       bool
	MarketCloseCutoffTime   string // "HH:MM", empty disables the expiry cutoff

	// Strategy close hooks
	ProfitGiveBack *float64      // fraction of the open premium; once reached, closing at a loss fires
	ITMExitAfter   time.Duration // close once a short leg has been in the money this long; 0 disables
}

// DefaultStrategyParams returns the base parameter set every strategy starts from.
func DefaultStrategyParams() StrategyParams {
	return StrategyParams{
		Symbol:                     "SPX",
		DTE:                        45,
		DTEWindow:                  5,
		UseFurthestExpiry:          true,
		MaxActivePositions:         1,
		MinimumTradeDistance:       24 * time.Hour,
		CheckForDuplicatePositions: true,

		Delta:                  10,
		PutDelta:               10,
		CallDelta:              10,
		WingSize:               10,
		PutWingSize:            10,
		CallWingSize:           10,
		ButterflyType:          "debit",
		ButterflyLeftWingSize:  10,
		ButterflyRightWingSize: 10,
		PremiumOrder:           "max",

		MaxOrderQuantity:      1,
		ValidateQuantity:      true,
		BidAskSpreadRatio:     0.3,
		ProfitTargetMethod:    ProfitTargetPremium,
		ProfitTarget:          0.6,
		PortfolioMarginStress: 0.1,

		UseLimitOrders:       true,
		LimitOrderExpiration: 8 * time.Hour,
		MinPricePct:          0.7,
		MaxPricePct:          1.3,
		OrderAdjustmentPct:   Float(-0.2),
		MaxRetries:           10,
		RetryInterval:        time.Minute,
		SpeedOfFill:          SpeedFast,

		ManagePositionFrequency: 1,
		StopLossMultiplier:      Float(1.9),
		CapStopLoss:             true,
		DTEThreshold:            Int(21),
		MarketCloseCutoffTime:   "15:45",
	}
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Validate checks that the parameter set is usable. The prefix names the
// strategy in error messages.
func (p *StrategyParams) Validate(prefix string) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	switch p.Structure {
	case StructureShortStrangle, StructureLongStrangle, StructureShortStraddle, StructureLongStraddle,
		StructureIronCondor, StructureIronFly, StructurePutCreditSpread, StructureCallCreditSpread,
		StructurePutDebitSpread, StructureCallDebitSpread, StructureButterfly, StructureShortPut,
		StructureShortCall, StructureLongPut, StructureLongCall:
	case StructureCustom:
		if len(p.CustomLegs) == 0 {
			return fmt.Errorf("%s.custom_legs must not be empty for a custom structure", prefix)
		}
		for i, leg := range p.CustomLegs {
			if leg.Type != "put" && leg.Type != "call" {
				return fmt.Errorf("%s.custom_legs[%d].type must be 'put' or 'call'", prefix, i)
			}
			if leg.Side == 0 {
				return fmt.Errorf("%s.custom_legs[%d].side must be non-zero", prefix, i)
			}
		}
	default:
		return fmt.Errorf("%s.structure %q is not supported", prefix, p.Structure)
	}
	if p.Symbol == "" {
		return fmt.Errorf("%s.symbol is required", prefix)
	}
	if p.DTE < 0 || p.DTEWindow < 0 {
		return fmt.Errorf("%s.dte and dte_window must be >= 0", prefix)
	}
	if p.MaxActivePositions <= 0 {
		return fmt.Errorf("%s.max_active_positions must be > 0", prefix)
	}
	if p.MaxOrderQuantity <= 0 {
		return fmt.Errorf("%s.max_order_quantity must be > 0", prefix)
	}
	if p.TargetPremiumPct != nil && (*p.TargetPremiumPct < 0 || *p.TargetPremiumPct > 1) {
		return fmt.Errorf("%s.target_premium_pct must be between 0 and 1", prefix)
	}
	if p.MinPremium != nil && p.MaxPremium != nil && *p.MinPremium > *p.MaxPremium {
		return fmt.Errorf("%s.min_premium must be <= max_premium", prefix)
	}
	switch p.ProfitTargetMethod {
	case ProfitTargetPremium, ProfitTargetTReg, ProfitTargetMargin:
	case ProfitTargetTheta:
		if p.ThetaProfitDays <= 0 {
			return fmt.Errorf("%s.theta_profit_days must be > 0 with the theta profit target", prefix)
		}
	default:
		return fmt.Errorf("%s.profit_target_method %q is not supported", prefix, p.ProfitTargetMethod)
	}
	if p.ProfitTarget < 0 {
		return fmt.Errorf("%s.profit_target must be >= 0", prefix)
	}
	if p.PremiumOrder != "max" && p.PremiumOrder != "min" {
		return fmt.Errorf("%s.premium_order must be 'max' or 'min'", prefix)
	}
	if p.ButterflyType != "credit" && p.ButterflyType != "debit" {
		return fmt.Errorf("%s.butterfly_type must be 'credit' or 'debit'", prefix)
	}
	if p.StopLossMultiplier != nil && *p.StopLossMultiplier <= 0 {
		return fmt.Errorf("%s.stop_loss_multiplier must be > 0", prefix)
	}
	if p.ProfitGiveBack != nil && (*p.ProfitGiveBack <= 0 || *p.ProfitGiveBack > 1) {
		return fmt.Errorf("%s.profit_give_back must be in (0,1]", prefix)
	}
	if p.ITMExitAfter < 0 {
		return fmt.Errorf("%s.itm_exit_after must be >= 0", prefix)
	}
	if p.LimitOrderExpiration <= 0 {
		return fmt.Errorf("%s.limit_order_expiration must be > 0", prefix)
	}
	if p.MinPricePct <= 0 || p.MinPricePct > 1 {
		return fmt.Errorf("%s.min_price_pct must be in (0,1]", prefix)
	}
	if p.MaxPricePct < 1 {
		return fmt.Errorf("%s.max_price_pct must be >= 1", prefix)
	}
	if p.MaxRetries <= 0 {
		return fmt.Errorf("%s.max_retries must be > 0", prefix)
	}
	if p.AdjustmentIncrement != nil && *p.AdjustmentIncrement <= 0 {
		return fmt.Errorf("%s.adjustment_increment must be > 0", prefix)
	}
	switch p.SpeedOfFill {
	case SpeedFast, SpeedNormal, SpeedPatient:
	default:
		return fmt.Errorf("%s.speed_of_fill must be fast, normal or patient", prefix)
	}
	if p.MarketCloseCutoffTime != "" {
		if _, err := time.Parse("15:04", p.MarketCloseCutoffTime); err != nil {
			return fmt.Errorf("%s.market_close_cutoff_time invalid: %w", prefix, err)
		}
	}
	return nil
}

// IsCredit reports whether the configured structure opens for a net credit.
func (p *StrategyParams) IsCredit() bool {
	switch p.Structure {
	case StructureShortStrangle, StructureShortStraddle, StructureIronCondor, StructureIronFly,
		StructurePutCreditSpread, StructureCallCreditSpread, StructureShortPut, StructureShortCall:
		return true
	case StructureButterfly:
		return p.ButterflyType == "credit"
	}
	return false
}
