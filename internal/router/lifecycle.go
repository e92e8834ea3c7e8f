package router

import (
	"context"
	"fmt"
	"math"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/PiotrGNN/kraken/internal/environment"
	"github.com/PiotrGNN/kraken/internal/events"
	"github.com/PiotrGNN/kraken/pkg/db"
)

// CloseAllPositions exits every open position, continuing past failures.
// The returned error aggregates the symbols that stayed open.
func (r *Router) CloseAllPositions(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeAllLocked(ctx)
}

func (r *Router) closeAllLocked(ctx context.Context) error {
	var result *multierror.Error
	for _, pos := range r.positions.All() {
		if _, err := r.exitLocked(ctx, pos); err != nil {
			log.WithError(err).WithField("symbol", pos.Symbol).Error("drain: close position failed")
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrPartialFailure, err)
	}
	return nil
}

// HandleEnvChange drains positions, switches the environment and rebuilds
// the connectors. An empty target asks the promotion gate and moves to
// mainnet when it passes. It reports whether the switch happened.
func (r *Router) HandleEnvChange(ctx context.Context, target environment.Environment) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if target == "" {
		if !r.env.ShouldSwitchToMainnet() {
			return false
		}
		target = environment.Mainnet
	}
	from := r.env.Current()
	if target == from {
		log.WithField("environment", target).Info("already in target environment")
		return false
	}
	fields := logrus.Fields{"from": from, "to": target}

	drained := true
	if err := r.closeAllLocked(ctx); err != nil {
		drained = false
		if r.cfg.RequireCleanDrain {
			log.WithError(err).WithFields(fields).Error("environment switch aborted, positions still open")
			return false
		}
		log.WithError(err).WithFields(fields).Warn("incomplete drain, switching anyway")
	}

	// A failed build leaves environment and connectors as they were.
	conns, err := r.builder.Build(ctx, target, r.names())
	if err != nil {
		log.WithError(err).WithFields(fields).Error("rebuild connectors failed, staying in current environment")
		return false
	}
	if !r.env.SwitchEnvironment(target) {
		log.WithFields(fields).Error("environment switch rejected")
		return false
	}
	r.connectors = conns
	r.active = r.cfg.Primary
	r.exchangeHealth = make(map[string]bool)

	if r.switches != nil {
		rec := db.EnvSwitch{Timestamp: r.now().UTC(), From: string(from), To: string(target), Drained: drained}
		if !drained {
			rec.Reason = "incomplete drain"
		}
		if _, err := r.switches.InsertEnvSwitch(ctx, rec); err != nil {
			log.WithError(err).Error("persist environment switch failed")
		}
	}
	r.bus.Publish(events.EventEnvSwitch, events.EnvSwitch{From: string(from), To: string(target), Drained: drained})
	log.WithFields(fields).WithField("drained", drained).Info("environment changed")
	return true
}

// UpdatePerformanceMetrics samples equity from the first responsive
// exchange, tracks peak and drawdown high-water mark, and forwards the
// figures to the environment manager and the metrics.
func (r *Router) UpdatePerformanceMetrics(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sampled := false
	for _, name := range r.ordered(r.cfg.Primary) {
		acct, err := r.accountOn(ctx, name)
		if err != nil {
			log.WithError(err).WithField("exchange", name).Debug("equity sample failed")
			continue
		}
		r.currentEquity = acct.Equity
		if r.initialEquity == 0 {
			r.initialEquity = acct.Equity
		}
		sampled = true
		break
	}
	if !sampled {
		log.Warn("no exchange returned equity, using last known value")
	}

	if r.currentEquity > r.peakEquity {
		r.peakEquity = r.currentEquity
	}
	if r.peakEquity > 0 {
		dd := (r.peakEquity - r.currentEquity) / r.peakEquity * 100
		if dd > r.maxDrawdownPct {
			r.maxDrawdownPct = dd
		}
	}

	if n := r.newTradeCountLocked(); n > 0 {
		log.WithField("new_trades", n).Debug("new order records")
	}
	r.env.UpdatePerformanceMetrics(r.currentEquity, r.totalTrades, r.maxDrawdownPct)

	openRisk := 0.0
	for _, p := range r.positions.All() {
		openRisk += math.Abs(p.EntryPrice-p.StopLoss) * math.Abs(p.Size)
	}
	r.metrics.SetPerformance(ctx, r.currentEquity, r.currentEquity-r.initialEquity, r.maxDrawdownPct)
	r.metrics.SetOpenRisk(ctx, openRisk)
}

// GetNewTradeCount returns the order records appended since the previous
// call. It has a single consumer, UpdatePerformanceMetrics.
func (r *Router) GetNewTradeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.newTradeCountLocked()
}

func (r *Router) newTradeCountLocked() int {
	n := r.history.Len() - r.totalTrades
	r.totalTrades = r.history.Len()
	return n
}
