package indicators

// Series is a column-oriented OHLCV window, oldest first.
type Series struct {
	Timestamp []int64
	Open      []float64
	High      []float64
	Low       []float64
	Close     []float64
	Volume    []float64
}

// Len returns the number of bars.
func (s Series) Len() int { return len(s.Close) }

// Last returns the latest close, or 0 for an empty series.
func (s Series) Last() float64 {
	if len(s.Close) == 0 {
		return 0
	}
	return s.Close[len(s.Close)-1]
}

// Snapshot holds the indicator values at the latest bar.
type Snapshot struct {
	SMAFast float64
	SMASlow float64
	RSI     float64
	ATR     float64
	Close   float64
}

// Engine computes a fixed indicator set over a series.
type Engine struct {
	fast int
	slow int
	rsi  int
	atr  int
}

// NewEngine builds an indicator engine. Non-positive periods fall back to
// 50/200/14/14.
func NewEngine(fast, slow, rsiPeriod, atrPeriod int) *Engine {
	if fast <= 0 {
		fast = 50
	}
	if slow <= 0 {
		slow = 200
	}
	if rsiPeriod <= 0 {
		rsiPeriod = 14
	}
	if atrPeriod <= 0 {
		atrPeriod = 14
	}
	return &Engine{fast: fast, slow: slow, rsi: rsiPeriod, atr: atrPeriod}
}

// MinBars is the shortest series for which every indicator is defined.
func (e *Engine) MinBars() int {
	n := e.slow
	if e.rsi+1 > n {
		n = e.rsi + 1
	}
	if e.atr+1 > n {
		n = e.atr + 1
	}
	return n
}

// Compute evaluates all indicators at the latest bar.
func (e *Engine) Compute(s Series) Snapshot {
	return Snapshot{
		SMAFast: SMA(s.Close, e.fast),
		SMASlow: SMA(s.Close, e.slow),
		RSI:     RSI(s.Close, e.rsi),
		ATR:     ATR(s.High, s.Low, s.Close, e.atr),
		Close:   s.Last(),
	}
}
