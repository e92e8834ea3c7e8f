package common

import (
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// FormatDecimal renders v the way exchanges expect quantities and prices:
// plain notation, no exponent, no trailing zeros.
func FormatDecimal(v float64) string {
	return decimal.NewFromFloat(v).String()
}

// RoundStep floors v to a multiple of step. A non-positive step returns v.
func RoundStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	d := decimal.NewFromFloat(v)
	s := decimal.NewFromFloat(step)
	f, _ := d.Div(s).Floor().Mul(s).Float64()
	return f
}

// ParseDecimal parses a venue numeric field that may arrive as a string,
// a JSON number or a float. Unparseable input yields 0.
func ParseDecimal(v any) float64 {
	switch t := v.(type) {
	case string:
		if t == "" {
			return 0
		}
		d, err := decimal.NewFromString(t)
		if err != nil {
			return 0
		}
		f, _ := d.Float64()
		return f
	case json.Number:
		f, _ := t.Float64()
		return f
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	default:
		return 0
	}
}

// ParseMillis parses a unix-millisecond timestamp field.
func ParseMillis(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	case json.Number:
		i, _ := t.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(t, 10, 64)
		return i
	default:
		return 0
	}
}
