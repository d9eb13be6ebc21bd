package storage

import "math"

// Statistics summarizes closed positions. Cancelled positions are not trades
// and are never counted.
type Statistics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"` // percent of decided trades
	TotalPnL      float64 `json:"total_pnl"`
	AverageWin    float64 `json:"average_win"`
	AverageLoss   float64 `json:"average_loss"`
	PeakPnL       float64 `json:"peak_pnl"`
	MaxDrawdown   float64 `json:"max_drawdown"` // <= 0, from the running P&L peak
	CurrentStreak int     `json:"current_streak"`
}

// Record adds one closed trade. A zero P&L is breakeven and counts as neither
// a win nor a loss.
func (s *Statistics) Record(pnl float64) {
	s.TotalTrades++
	s.TotalPnL += pnl

	switch {
	case pnl > 0:
		s.WinningTrades++
		s.AverageWin += (pnl - s.AverageWin) / float64(s.WinningTrades)
		if s.CurrentStreak >= 0 {
			s.CurrentStreak++
		} else {
			s.CurrentStreak = 1
		}
	case pnl < 0:
		s.LosingTrades++
		s.AverageLoss += (pnl - s.AverageLoss) / float64(s.LosingTrades)
		if s.CurrentStreak <= 0 {
			s.CurrentStreak--
		} else {
			s.CurrentStreak = -1
		}
	}

	if decided := s.WinningTrades + s.LosingTrades; decided > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(decided) * 100
	}

	s.PeakPnL = math.Max(s.PeakPnL, s.TotalPnL)
	s.MaxDrawdown = math.Min(s.MaxDrawdown, s.TotalPnL-s.PeakPnL)
}

// Copy returns an independent copy.
func (s *Statistics) Copy() *Statistics {
	c := *s
	return &c
}
