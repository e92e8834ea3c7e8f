package risk

import (
	"math"

	"github.com/PiotrGNN/kraken/pkg/exchanges/common"
)

// ATR sizes positions and places stops in units of average true range.
type ATR struct {
	cfg Config
}

// NewATR builds an ATR risk model; zero fields take DefaultConfig values.
func NewATR(cfg Config) *ATR {
	def := DefaultConfig()
	if cfg.RiskPct <= 0 {
		cfg.RiskPct = def.RiskPct
	}
	if cfg.ATRMultiplier <= 0 {
		cfg.ATRMultiplier = def.ATRMultiplier
	}
	if cfg.TrailingBreakevenATR <= 0 {
		cfg.TrailingBreakevenATR = def.TrailingBreakevenATR
	}
	if cfg.TrailingStepATR <= 0 {
		cfg.TrailingStepATR = def.TrailingStepATR
	}
	return &ATR{cfg: cfg}
}

// PositionSize returns base units such that hitting the stop loses
// RiskPct of equity: equity*risk / (atr*multiplier). When MaxLeverage is
// set the notional at price is capped at equity*MaxLeverage.
func (a *ATR) PositionSize(equity, atr, price float64) float64 {
	if atr <= 0 || price <= 0 || equity <= 0 {
		return 0
	}
	size := equity * a.cfg.RiskPct / (atr * a.cfg.ATRMultiplier)
	if a.cfg.MaxLeverage > 0 {
		size = math.Min(size, equity*a.cfg.MaxLeverage/price)
	}
	return size
}

// StopLoss is entry ∓ atr*multiplier for long/short.
func (a *ATR) StopLoss(entry, atr float64, side common.PositionSide) float64 {
	dist := atr * a.cfg.ATRMultiplier
	if side == common.PositionShort {
		return entry + dist
	}
	return entry - dist
}

// TrailingStop returns a tighter stop and true, or false when the stop
// should stay. Nothing moves until profit reaches TrailingBreakevenATR;
// then a stop still behind entry jumps to breakeven, and afterwards it
// advances by TrailingStepATR per ATR of profit beyond the threshold.
func (a *ATR) TrailingStop(entry, current, stop, atr float64, side common.PositionSide) (float64, bool) {
	if atr <= 0 {
		return 0, false
	}
	dir := 1.0
	if side == common.PositionShort {
		dir = -1
	}
	profitATR := (current - entry) * dir / atr
	if profitATR < a.cfg.TrailingBreakevenATR {
		return 0, false
	}
	if (stop-entry)*dir < 0 {
		return entry, true
	}
	potential := entry + dir*(profitATR-a.cfg.TrailingBreakevenATR)*atr*a.cfg.TrailingStepATR
	if (potential-stop)*dir > 0 {
		return potential, true
	}
	return 0, false
}

// RiskReward is reward/risk for a planned trade, 0 when risk is not positive.
func RiskReward(entry, stop, takeProfit float64, side common.PositionSide) float64 {
	risk, reward := entry-stop, takeProfit-entry
	if side == common.PositionShort {
		risk, reward = stop-entry, entry-takeProfit
	}
	if risk <= 0 {
		return 0
	}
	return reward / risk
}
