package risk

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "risk")

// Guard applies account-level guards to new entries.
type Guard struct {
	cfg Config
}

// NewGuard creates an account guard.
func NewGuard(cfg Config) *Guard {
	return &Guard{cfg: cfg}
}

// Config returns the active configuration.
func (g *Guard) Config() Config {
	return g.cfg
}

// EvaluateOpen decides whether an entry of size at price may be opened.
// Exits and stop updates are never gated.
func (g *Guard) EvaluateOpen(size, price float64, acct Account) Decision {
	dec := Decision{Allowed: true, AdjustedSize: size}

	// 1. Size sanity.
	if size <= 0 || price <= 0 {
		dec.Allowed = false
		dec.Reason = fmt.Sprintf("invalid size %.8f at price %.8f", size, price)
		return dec
	}

	// 2. Drawdown protection.
	if g.cfg.MaxDrawdownPct > 0 && acct.DrawdownPct >= g.cfg.MaxDrawdownPct {
		dec.Allowed = false
		dec.Reason = fmt.Sprintf("drawdown protection: %.2f%% >= %.2f%%", acct.DrawdownPct, g.cfg.MaxDrawdownPct)
		return dec
	}

	if acct.Equity <= 0 {
		return dec
	}

	// 3. Total exposure.
	if g.cfg.MaxExposurePct > 0 {
		limit := acct.Equity * g.cfg.MaxExposurePct / 100
		if acct.OpenNotional >= limit {
			dec.Allowed = false
			dec.Reason = fmt.Sprintf("max exposure reached: %.2f >= %.2f", acct.OpenNotional, limit)
			return dec
		}
		if acct.OpenNotional+size*price > limit {
			dec.AdjustedSize = (limit - acct.OpenNotional) / price
			log.WithFields(logrus.Fields{
				"size":     size,
				"adjusted": dec.AdjustedSize,
				"limit":    limit,
			}).Info("entry size clipped to exposure limit")
		}
	}
	return dec
}
