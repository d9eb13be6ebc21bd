package config

import "time"

// StrategyOverride is the YAML shape of a strategy block. Every field is
// optional; nil means "inherit from the base parameters".
type StrategyOverride struct {
	Name      *string `yaml:"name"`
	Structure *string `yaml:"structure"`
	Symbol    *string `yaml:"symbol"`

	DTE                           *int           `yaml:"dte"`
	DTEWindow                     *int           `yaml:"dte_window"`
	UseFurthestExpiry             *bool          `yaml:"use_furthest_expiry"`
	MaxActivePositions            *int           `yaml:"max_active_positions"`
	MinimumTradeDistance          *time.Duration `yaml:"minimum_trade_distance"`
	CheckForDuplicatePositions    *bool          `yaml:"check_for_duplicate_positions"`
	AllowMultipleEntriesPerExpiry *bool          `yaml:"allow_multiple_entries_per_expiry"`

	Delta                  *float64    `yaml:"delta"`
	PutDelta               *float64    `yaml:"put_delta"`
	CallDelta              *float64    `yaml:"call_delta"`
	NetDelta               *float64    `yaml:"net_delta"`
	WingSize               *float64    `yaml:"wing_size"`
	PutWingSize            *float64    `yaml:"put_wing_size"`
	CallWingSize           *float64    `yaml:"call_wing_size"`
	ButterflyType          *string     `yaml:"butterfly_type"`
	ButterflyLeftWingSize  *float64    `yaml:"butterfly_left_wing_size"`
	ButterflyRightWingSize *float64    `yaml:"butterfly_right_wing_size"`
	FromPrice              *float64    `yaml:"from_price"`
	ToPrice                *float64    `yaml:"to_price"`
	MinSpreadPremium       *float64    `yaml:"min_spread_premium"`
	MaxSpreadPremium       *float64    `yaml:"max_spread_premium"`
	PremiumOrder           *string     `yaml:"premium_order"`
	CustomLegs             []CustomLeg `yaml:"custom_legs"`

	MaxOrderQuantity                  *int     `yaml:"max_order_quantity"`
	ValidateQuantity                  *bool    `yaml:"validate_quantity"`
	TargetPremiumPct                  *float64 `yaml:"target_premium_pct"`
	TargetPremium                     *float64 `yaml:"target_premium"`
	Slippage                          *float64 `yaml:"slippage"`
	LimitOrderRelativePriceAdjustment *float64 `yaml:"limit_order_relative_price_adjustment"`
	LimitOrderAbsolutePrice           *float64 `yaml:"limit_order_absolute_price"`
	MinPremium                        *float64 `yaml:"min_premium"`
	MaxPremium                        *float64 `yaml:"max_premium"`
	ValidateBidAskSpread              *bool    `yaml:"validate_bid_ask_spread"`
	BidAskSpreadRatio                 *float64 `yaml:"bid_ask_spread_ratio"`
	ProfitTargetMethod                *string  `yaml:"profit_target_method"`
	ProfitTarget                      *float64 `yaml:"profit_target"`
	ThetaProfitDays                   *int     `yaml:"theta_profit_days"`
	PortfolioMarginStress             *float64 `yaml:"portfolio_margin_stress"`

	UseLimitOrders       *bool          `yaml:"use_limit_orders"`
	LimitOrderExpiration *time.Duration `yaml:"limit_order_expiration"`
	MinPricePct          *float64       `yaml:"min_price_pct"`
	MaxPricePct          *float64       `yaml:"max_price_pct"`
	OrderAdjustmentPct   *float64       `yaml:"order_adjustment_pct"`
	AdjustmentIncrement  *float64       `yaml:"adjustment_increment"`
	MaxRetries           *int           `yaml:"max_retries"`
	RetryInterval        *time.Duration `yaml:"retry_interval"`
	SpeedOfFill          *string        `yaml:"speed_of_fill"`

	ManagePositionFrequency *int     `yaml:"manage_position_frequency"`
	StopLossMultiplier      *float64 `yaml:"stop_loss_multiplier"`
	CapStopLoss             *bool    `yaml:"cap_stop_loss"`
	ProfitTargetTolerance   *float64 `yaml:"profit_target_tolerance"`
	DTEThreshold            *int     `yaml:"dte_threshold"`
	ForceDTEThreshold       *bool    `yaml:"force_dte_threshold"`
	DITThreshold            *int     `yaml:"dit_threshold"`
	HardDITThreshold        *int     `yaml:"hard_dit_threshold"`
	ForceDITThreshold       *bool    `yaml:"force_dit_threshold"`
	MarketCloseCutoffTime   *string  `yaml:"market_close_cutoff_time"`

	ProfitGiveBack *float64       `yaml:"profit_give_back"`
	ITMExitAfter   *time.Duration `yaml:"itm_exit_after"`
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// setPtr replaces an optional base value. The override pointer is copied so
// the merged params never alias the override struct.
func setPtr[T any](dst **T, src *T) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

// Merge returns base with every non-nil override field applied. Base is not
// modified.
func Merge(base StrategyParams, o StrategyOverride) StrategyParams {
	p := base
	if base.CustomLegs != nil {
		p.CustomLegs = append([]CustomLeg(nil), base.CustomLegs...)
	}
	p.NetDelta = clonePtr(base.NetDelta)
	p.FromPrice = clonePtr(base.FromPrice)
	p.ToPrice = clonePtr(base.ToPrice)
	p.MinSpreadPremium = clonePtr(base.MinSpreadPremium)
	p.MaxSpreadPremium = clonePtr(base.MaxSpreadPremium)
	p.TargetPremiumPct = clonePtr(base.TargetPremiumPct)
	p.TargetPremium = clonePtr(base.TargetPremium)
	p.LimitOrderAbsolutePrice = clonePtr(base.LimitOrderAbsolutePrice)
	p.MinPremium = clonePtr(base.MinPremium)
	p.MaxPremium = clonePtr(base.MaxPremium)
	p.OrderAdjustmentPct = clonePtr(base.OrderAdjustmentPct)
	p.AdjustmentIncrement = clonePtr(base.AdjustmentIncrement)
	p.StopLossMultiplier = clonePtr(base.StopLossMultiplier)
	p.DTEThreshold = clonePtr(base.DTEThreshold)
	p.DITThreshold = clonePtr(base.DITThreshold)
	p.HardDITThreshold = clonePtr(base.HardDITThreshold)
	p.ProfitGiveBack = clonePtr(base.ProfitGiveBack)

	set(&p.Name, o.Name)
	set(&p.Structure, o.Structure)
	set(&p.Symbol, o.Symbol)

	set(&p.DTE, o.DTE)
	set(&p.DTEWindow, o.DTEWindow)
	set(&p.UseFurthestExpiry, o.UseFurthestExpiry)
	set(&p.MaxActivePositions, o.MaxActivePositions)
	set(&p.MinimumTradeDistance, o.MinimumTradeDistance)
	set(&p.CheckForDuplicatePositions, o.CheckForDuplicatePositions)
	set(&p.AllowMultipleEntriesPerExpiry, o.AllowMultipleEntriesPerExpiry)

	set(&p.Delta, o.Delta)
	set(&p.PutDelta, o.PutDelta)
	set(&p.CallDelta, o.CallDelta)
	setPtr(&p.NetDelta, o.NetDelta)
	set(&p.WingSize, o.WingSize)
	set(&p.PutWingSize, o.PutWingSize)
	set(&p.CallWingSize, o.CallWingSize)
	set(&p.ButterflyType, o.ButterflyType)
	set(&p.ButterflyLeftWingSize, o.ButterflyLeftWingSize)
	set(&p.ButterflyRightWingSize, o.ButterflyRightWingSize)
	setPtr(&p.FromPrice, o.FromPrice)
	setPtr(&p.ToPrice, o.ToPrice)
	setPtr(&p.MinSpreadPremium, o.MinSpreadPremium)
	setPtr(&p.MaxSpreadPremium, o.MaxSpreadPremium)
	set(&p.PremiumOrder, o.PremiumOrder)
	if o.CustomLegs != nil {
		p.CustomLegs = append([]CustomLeg(nil), o.CustomLegs...)
	}

	set(&p.MaxOrderQuantity, o.MaxOrderQuantity)
	set(&p.ValidateQuantity, o.ValidateQuantity)
	setPtr(&p.TargetPremiumPct, o.TargetPremiumPct)
	setPtr(&p.TargetPremium, o.TargetPremium)
	set(&p.Slippage, o.Slippage)
	set(&p.LimitOrderRelativePriceAdjustment, o.LimitOrderRelativePriceAdjustment)
	setPtr(&p.LimitOrderAbsolutePrice, o.LimitOrderAbsolutePrice)
	setPtr(&p.MinPremium, o.MinPremium)
	setPtr(&p.MaxPremium, o.MaxPremium)
	set(&p.ValidateBidAskSpread, o.ValidateBidAskSpread)
	set(&p.BidAskSpreadRatio, o.BidAskSpreadRatio)
	set(&p.ProfitTargetMethod, o.ProfitTargetMethod)
	set(&p.ProfitTarget, o.ProfitTarget)
	set(&p.ThetaProfitDays, o.ThetaProfitDays)
	set(&p.PortfolioMarginStress, o.PortfolioMarginStress)

	set(&p.UseLimitOrders, o.UseLimitOrders)
	set(&p.LimitOrderExpiration, o.LimitOrderExpiration)
	set(&p.MinPricePct, o.MinPricePct)
	set(&p.MaxPricePct, o.MaxPricePct)
	setPtr(&p.OrderAdjustmentPct, o.OrderAdjustmentPct)
	setPtr(&p.AdjustmentIncrement, o.AdjustmentIncrement)
	set(&p.MaxRetries, o.MaxRetries)
	set(&p.RetryInterval, o.RetryInterval)
	set(&p.SpeedOfFill, o.SpeedOfFill)

	set(&p.ManagePositionFrequency, o.ManagePositionFrequency)
	setPtr(&p.StopLossMultiplier, o.StopLossMultiplier)
	set(&p.CapStopLoss, o.CapStopLoss)
	set(&p.ProfitTargetTolerance, o.ProfitTargetTolerance)
	setPtr(&p.DTEThreshold, o.DTEThreshold)
	set(&p.ForceDTEThreshold, o.ForceDTEThreshold)
	setPtr(&p.DITThreshold, o.DITThreshold)
	setPtr(&p.HardDITThreshold, o.HardDITThreshold)
	set(&p.ForceDITThreshold, o.ForceDITThreshold)
	set(&p.MarketCloseCutoffTime, o.MarketCloseCutoffTime)

	setPtr(&p.ProfitGiveBack, o.ProfitGiveBack)
	set(&p.ITMExitAfter, o.ITMExitAfter)

	return p
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
