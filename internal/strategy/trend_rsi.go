package strategy

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/PiotrGNN/kraken/internal/indicators"
	"github.com/PiotrGNN/kraken/internal/risk"
	"github.com/PiotrGNN/kraken/pkg/exchanges/common"
)

var log = logrus.WithField("component", "strategy")

// TrendRSIConfig parameterizes TrendRSI.
type TrendRSIConfig struct {
	FastPeriod  int     `json:"fast_period"`
	SlowPeriod  int     `json:"slow_period"`
	RSIPeriod   int     `json:"rsi_period"`
	ATRPeriod   int     `json:"atr_period"`
	LongRSIMax  float64 `json:"long_rsi_max"`  // longs only below this RSI
	ShortRSIMin float64 `json:"short_rsi_min"` // shorts only above this RSI
	RewardRatio float64 `json:"reward_ratio"`  // take-profit distance in stop distances, 0 disables
}

// DefaultTrendRSIConfig returns SMA 50/200, RSI 14 (65/35), ATR 14, 2R targets.
func DefaultTrendRSIConfig() TrendRSIConfig {
	return TrendRSIConfig{
		FastPeriod:  50,
		SlowPeriod:  200,
		RSIPeriod:   14,
		ATRPeriod:   14,
		LongRSIMax:  65,
		ShortRSIMin: 35,
		RewardRatio: 2,
	}
}

// TrendRSI follows the SMA trend and filters entries with RSI so it does
// not buy into overbought or sell into oversold markets.
type TrendRSI struct {
	cfg  TrendRSIConfig
	eng  *indicators.Engine
	risk *risk.ATR

	mu        sync.Mutex
	equity    float64
	series    map[string]indicators.Series
	positions map[string]Position
}

// NewTrendRSI creates the strategy.
func NewTrendRSI(cfg TrendRSIConfig, atr *risk.ATR) *TrendRSI {
	return &TrendRSI{
		cfg:       cfg,
		eng:       indicators.NewEngine(cfg.FastPeriod, cfg.SlowPeriod, cfg.RSIPeriod, cfg.ATRPeriod),
		risk:      atr,
		series:    make(map[string]indicators.Series),
		positions: make(map[string]Position),
	}
}

func (s *TrendRSI) Name() string {
	return fmt.Sprintf("TrendRSI_%d_%d", s.cfg.FastPeriod, s.cfg.SlowPeriod)
}

func (s *TrendRSI) UpdateData(symbol string, series indicators.Series) {
	s.mu.Lock()
	s.series[symbol] = series
	s.mu.Unlock()
}

func (s *TrendRSI) UpdateEquity(equity float64) {
	s.mu.Lock()
	s.equity = equity
	s.mu.Unlock()
}

func (s *TrendRSI) SetPosition(symbol string, pos *Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos == nil || pos.Side == common.PositionFlat {
		delete(s.positions, symbol)
		return
	}
	s.positions[symbol] = *pos
}

// GenerateSignal evaluates symbol's latest window.
func (s *TrendRSI) GenerateSignal(symbol string) Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	series := s.series[symbol]
	if series.Len() < s.eng.MinBars() {
		return Wait(ReasonInsufficientData)
	}
	snap := s.eng.Compute(series)
	longSetup := snap.SMAFast > snap.SMASlow && snap.RSI < s.cfg.LongRSIMax
	shortSetup := snap.SMAFast < snap.SMASlow && snap.RSI > s.cfg.ShortRSIMin

	log.WithFields(logrus.Fields{
		"symbol":   symbol,
		"sma_fast": snap.SMAFast,
		"sma_slow": snap.SMASlow,
		"rsi":      snap.RSI,
		"atr":      snap.ATR,
	}).Debug("indicators")

	pos, open := s.positions[symbol]
	if !open {
		switch {
		case longSetup:
			return s.entry(common.PositionLong, snap)
		case shortSetup:
			return s.entry(common.PositionShort, snap)
		}
		return Wait(ReasonNoEntrySignal)
	}

	if (pos.Side == common.PositionLong && shortSetup) || (pos.Side == common.PositionShort && longSetup) {
		return Signal{Action: ActionClose, Side: pos.Side, Size: pos.Size, Reason: ReasonTrendReversal}
	}
	if stop, ok := s.risk.TrailingStop(pos.EntryPrice, snap.Close, pos.StopLoss, snap.ATR, pos.Side); ok {
		return Signal{Action: ActionUpdateStop, Side: pos.Side, StopLoss: stop, Reason: ReasonTrailingStop}
	}
	return Hold(ReasonNoExitSignal)
}

func (s *TrendRSI) entry(side common.PositionSide, snap indicators.Snapshot) Signal {
	size := s.risk.PositionSize(s.equity, snap.ATR, snap.Close)
	if size <= 0 {
		return Wait(ReasonZeroSize)
	}
	stop := s.risk.StopLoss(snap.Close, snap.ATR, side)
	sig := Signal{
		Action:     ActionOpen,
		Side:       side,
		Size:       size,
		EntryPrice: snap.Close,
		StopLoss:   stop,
		Reason:     ReasonTrendEntry,
	}
	if s.cfg.RewardRatio > 0 {
		sig.TakeProfit = snap.Close + (snap.Close-stop)*s.cfg.RewardRatio
	}
	return sig
}
