package monitor

import (
	"math"

	"github.com/eddiefleurent/scranton_spreads/internal/models"
	"github.com/eddiefleurent/scranton_spreads/internal/sizing"
)

// Valuation is the mark-to-market of an open position's close side.
type Valuation struct {
	MidPrice   float64 // per share, negative when closing pays
	LimitPrice float64 // MidPrice less slippage on every contract
	Spread     float64 // per share, summed over legs
	PnL        float64 // total dollars
	Valid      bool    // false when the spread guard rejected the quotes
}

// Value marks an open position to market from its legs' current quotes. The
// latest mark is also stored on the position. With validate_bid_ask_spread
// the valuation is invalid when the close spread exceeds bid_ask_spread_ratio
// of the open premium.
func Value(pos *models.Position) Valuation {
	params := pos.Params()

	v := Valuation{
		MidPrice: float64(models.OrderClose.Sign()) * sizing.MidPrice(pos.Legs),
		Spread:   sizing.BidAskSpread(pos.Legs),
		Valid:    true,
	}
	v.LimitPrice = v.MidPrice
	if params != nil {
		contracts := 0
		for i := range pos.Legs {
			contracts += pos.Legs[i].Ratio()
		}
		v.LimitPrice -= params.Slippage * float64(contracts)
	}

	qty := float64(pos.Quantity) * models.SharesPerContract
	v.PnL = pos.OpenPremium() + v.MidPrice*qty

	if params != nil && params.ValidateBidAskSpread &&
		v.Spread*qty > params.BidAskSpreadRatio*math.Abs(pos.OpenPremium()) {
		v.Valid = false
	}

	pos.OrderMidPrice = v.MidPrice
	pos.LimitPrice = v.LimitPrice
	pos.BidAskSpread = v.Spread
	pos.Valued = v.Valid
	if v.Valid {
		pos.CurrentPnL = v.PnL
	}
	return v
}
