package sizing

import (
	"math"
	"time"

	"github.com/eddiefleurent/scranton_spreads/internal/config"
	"github.com/eddiefleurent/scranton_spreads/internal/models"
	"github.com/eddiefleurent/scranton_spreads/internal/pricing"
)

// tailMultiple is how far above spot the upper payoff tail is evaluated.
const tailMultiple = 10.0

// Payoff returns the per-share expiry value of the legs at spot.
func Payoff(spot float64, legs []models.Leg) float64 {
	total := 0.0
	for i := range legs {
		dir := 1.0
		if legs[i].IsPut() {
			dir = -1
		}
		total += float64(legs[i].Side) * math.Max(0, dir*(spot-legs[i].Strike))
	}
	return total
}

// MaxLoss returns the worst per-share expiry value of the legs, capped at 0.
// The payoff is piecewise linear, so its extrema lie at zero, at a strike, or
// on the upper tail.
func MaxLoss(legs []models.Leg, underlying float64) float64 {
	if len(legs) == 0 {
		return 0
	}
	worst := Payoff(0, legs)
	for i := range legs {
		worst = math.Min(worst, Payoff(legs[i].Strike, legs))
	}
	worst = math.Min(worst, Payoff(underlying*tailMultiple, legs))
	return math.Min(0, worst)
}

// FairValue returns openPremium plus the side-weighted model value of the
// legs at the given spot and time, per share.
func FairValue(p pricing.Pricer, legs []models.Leg, spot float64, at time.Time, openPremium float64) float64 {
	value := openPremium
	for i := range legs {
		if legs[i].Contract == nil {
			continue
		}
		value += float64(legs[i].Side) * p.Value(legs[i].Contract, spot, at)
	}
	return value
}

// TReg approximates the per-unit Reg-T margin requirement of a structure
// from its mid-price and per-unit max loss.
func TReg(midPrice, maxLossPerUnit float64) float64 {
	return math.Min(0, midPrice+maxLossPerUnit)
}

// StressMargin returns the worst per-share fair value after shocking spot up
// and down by stress, capped at 0.
func StressMargin(p pricing.Pricer, legs []models.Leg, spot, stress float64, at time.Time, midPrice float64) float64 {
	down := FairValue(p, legs, spot*(1-stress), at, midPrice)
	up := FairValue(p, legs, spot*(1+stress), at, midPrice)
	return math.Min(0, math.Min(down, up))
}

// ProfitTargetInput carries what the profit target methods need.
type ProfitTargetInput struct {
	Pricer         pricing.Pricer
	Legs           []models.Leg
	Underlying     float64
	Now            time.Time
	MidPrice       float64
	MaxLossPerUnit float64
	Quantity       int
}

// ProfitTarget returns the target profit in total dollars, or nil when the
// premium method applies (the monitor then uses a fraction of the open
// premium).
func ProfitTarget(params *config.StrategyParams, in ProfitTargetInput) *float64 {
	scale := params.ProfitTarget * float64(in.Quantity) * models.SharesPerContract
	var amount float64
	switch params.ProfitTargetMethod {
	case config.ProfitTargetTheta:
		if params.ThetaProfitDays <= 0 || in.Pricer == nil {
			return nil
		}
		at := in.Now.AddDate(0, 0, params.ThetaProfitDays)
		amount = scale * math.Abs(FairValue(in.Pricer, in.Legs, in.Underlying, at, in.MidPrice))
	case config.ProfitTargetTReg:
		amount = scale * math.Abs(TReg(in.MidPrice, in.MaxLossPerUnit))
	case config.ProfitTargetMargin:
		if in.Pricer == nil {
			return nil
		}
		amount = scale * math.Abs(StressMargin(in.Pricer, in.Legs, in.Underlying, params.PortfolioMarginStress, in.Now, in.MidPrice))
	default:
		return nil
	}
	return &amount
}
