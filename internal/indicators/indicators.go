// Package indicators holds the pure technical-indicator functions the
// strategies are built on. All inputs are oldest first.
package indicators

import "math"

// SMA is the simple moving average of the last period values, 0 when
// fewer than period values are available.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// RSI computes the Relative Strength Index over the last period changes
// using rolling-mean averages of gains and losses.
// It returns 0 when there is not enough data and 100 when there were no losses.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 0
	}

	var gain, loss float64
	window := values[len(values)-period-1:]
	for i := 1; i < len(window); i++ {
		switch change := window[i] - window[i-1]; {
		case change > 0:
			gain += change
		case change < 0:
			loss -= change
		}
	}

	if loss == 0 {
		return 100
	}
	return 100 - 100/(1+gain/loss)
}

// TrueRange of a bar given the previous close.
func TrueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

// ATR is the rolling mean of the true range over the last period bars.
// The first bar has no previous close, so period+1 bars are required.
func ATR(high, low, close []float64, period int) float64 {
	n := len(close)
	if period <= 0 || n < period+1 || len(high) != n || len(low) != n {
		return 0
	}
	var sum float64
	for i := n - period; i < n; i++ {
		sum += TrueRange(high[i], low[i], close[i-1])
	}
	return sum / float64(period)
}
