package risk

// Config defines ATR sizing and account-level guard parameters.
type Config struct {
	// ATR sizing / stops
	RiskPct              float64 `json:"risk_pct" yaml:"risk_pct"`                             // equity fraction risked per trade
	ATRMultiplier        float64 `json:"atr_multiplier" yaml:"atr_multiplier"`                 // stop distance in ATRs
	TrailingBreakevenATR float64 `json:"trailing_breakeven_atr" yaml:"trailing_breakeven_atr"` // profit in ATRs before the stop moves to entry
	TrailingStepATR      float64 `json:"trailing_step_atr" yaml:"trailing_step_atr"`           // stop advance per ATR of further profit

	// Account guards
	MaxLeverage    float64 `json:"max_leverage" yaml:"max_leverage"`         // notional cap as a multiple of equity
	MaxDrawdownPct float64 `json:"max_drawdown_pct" yaml:"max_drawdown_pct"` // block new entries at or above this drawdown
	MaxExposurePct float64 `json:"max_exposure_pct" yaml:"max_exposure_pct"` // block new entries when open notional / equity reaches this
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RiskPct:              0.01,
		ATRMultiplier:        1.5,
		TrailingBreakevenATR: 1.0,
		TrailingStepATR:      0.5,
		MaxLeverage:          3,
		MaxDrawdownPct:       10,
		MaxExposurePct:       50,
	}
}

// Decision is the outcome of evaluating a new entry.
type Decision struct {
	Allowed      bool    `json:"allowed"`
	Reason       string  `json:"reason,omitempty"`
	AdjustedSize float64 `json:"adjusted_size"`
}

// Account is the state an entry is evaluated against.
type Account struct {
	Equity       float64 `json:"equity"`
	DrawdownPct  float64 `json:"drawdown_pct"`
	OpenNotional float64 `json:"open_notional"` // sum of |size| * entry price over open positions
}
