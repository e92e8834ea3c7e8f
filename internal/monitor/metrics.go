package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/PiotrGNN/kraken"

// Metrics owns the trading instruments. A nil *Metrics is a valid no-op
// recorder so components can be built without telemetry.
type Metrics struct {
	tradeCount   metric.Int64Counter
	pnl          metric.Float64Gauge
	equity       metric.Float64Gauge
	drawdown     metric.Float64Gauge
	openRisk     metric.Float64Gauge
	execution    metric.Float64Histogram
	envSwitches  metric.Int64Counter
	currentEnv   metric.Int64Gauge
	timeInEnv    metric.Float64Gauge
	venues       *VenueWindow

	mu   sync.RWMutex
	last Snapshot
}

// Snapshot is the latest value of each gauge, served by the status API.
type Snapshot struct {
	TradeCount     int64                 `json:"trade_count"`
	PnLUSD         float64               `json:"pnl_usd"`
	EquityUSD      float64               `json:"equity_usd"`
	DrawdownPct    float64               `json:"drawdown_pct"`
	OpenRiskUSD    float64               `json:"open_risk_usd"`
	EnvSwitches    int64                 `json:"env_switch_total"`
	CurrentEnv     string                `json:"current_env"`
	TimeInEnvHours float64               `json:"time_in_env_hours"`
	Venues         map[string]VenueStats `json:"venues"`
}

// NewMetrics registers the instruments on provider.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(meterName)
	m := &Metrics{venues: NewVenueWindow(200)}
	var err error

	if m.tradeCount, err = meter.Int64Counter("trade_count", metric.WithDescription("Order operations routed")); err != nil {
		return nil, fmt.Errorf("trade_count: %w", err)
	}
	if m.pnl, err = meter.Float64Gauge("pnl_usd", metric.WithUnit("USD"), metric.WithDescription("Equity change since start")); err != nil {
		return nil, fmt.Errorf("pnl_usd: %w", err)
	}
	if m.equity, err = meter.Float64Gauge("equity_usd", metric.WithUnit("USD")); err != nil {
		return nil, fmt.Errorf("equity_usd: %w", err)
	}
	if m.drawdown, err = meter.Float64Gauge("drawdown_pct", metric.WithUnit("%")); err != nil {
		return nil, fmt.Errorf("drawdown_pct: %w", err)
	}
	if m.openRisk, err = meter.Float64Gauge("open_risk_usd", metric.WithUnit("USD"), metric.WithDescription("Loss if every open stop is hit")); err != nil {
		return nil, fmt.Errorf("open_risk_usd: %w", err)
	}
	if m.execution, err = meter.Float64Histogram("trade_execution_seconds", metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("trade_execution_seconds: %w", err)
	}
	if m.envSwitches, err = meter.Int64Counter("env_switch_total"); err != nil {
		return nil, fmt.Errorf("env_switch_total: %w", err)
	}
	if m.currentEnv, err = meter.Int64Gauge("current_env", metric.WithDescription("0 = testnet, 1 = mainnet")); err != nil {
		return nil, fmt.Errorf("current_env: %w", err)
	}
	if m.timeInEnv, err = meter.Float64Gauge("time_in_env_hours", metric.WithUnit("h")); err != nil {
		return nil, fmt.Errorf("time_in_env_hours: %w", err)
	}
	return m, nil
}

// RecordOrder counts an order operation and its latency.
func (m *Metrics) RecordOrder(ctx context.Context, exchange, kind, status string, took time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("exchange", exchange),
		attribute.String("type", kind),
		attribute.String("status", status),
	)
	m.tradeCount.Add(ctx, 1, attrs)
	m.execution.Record(ctx, took.Seconds(), attrs)
	m.venues.Observe(exchange, took, status == "success")

	m.mu.Lock()
	m.last.TradeCount++
	m.mu.Unlock()
}

// SetPerformance updates the equity, pnl and drawdown gauges.
func (m *Metrics) SetPerformance(ctx context.Context, equity, pnl, drawdownPct float64) {
	if m == nil {
		return
	}
	m.equity.Record(ctx, equity)
	m.pnl.Record(ctx, pnl)
	m.drawdown.Record(ctx, drawdownPct)

	m.mu.Lock()
	m.last.EquityUSD, m.last.PnLUSD, m.last.DrawdownPct = equity, pnl, drawdownPct
	m.mu.Unlock()
}

// SetOpenRisk records the summed distance-to-stop exposure.
func (m *Metrics) SetOpenRisk(ctx context.Context, usd float64) {
	if m == nil {
		return
	}
	m.openRisk.Record(ctx, usd)
	m.mu.Lock()
	m.last.OpenRiskUSD = usd
	m.mu.Unlock()
}

// RecordEnvSwitch counts a switch into env.
func (m *Metrics) RecordEnvSwitch(ctx context.Context, env string) {
	if m == nil {
		return
	}
	m.envSwitches.Add(ctx, 1, metric.WithAttributes(attribute.String("to", env)))
	m.mu.Lock()
	m.last.EnvSwitches++
	m.mu.Unlock()
}

// SetCurrentEnv sets the environment gauge: 1 for mainnet, 0 otherwise.
func (m *Metrics) SetCurrentEnv(ctx context.Context, env string) {
	if m == nil {
		return
	}
	var v int64
	if env == "mainnet" {
		v = 1
	}
	m.currentEnv.Record(ctx, v)
	m.mu.Lock()
	m.last.CurrentEnv = env
	m.mu.Unlock()
}

// SetTimeInEnv records hours spent in the current environment.
func (m *Metrics) SetTimeInEnv(ctx context.Context, hours float64) {
	if m == nil {
		return
	}
	m.timeInEnv.Record(ctx, hours)
	m.mu.Lock()
	m.last.TimeInEnvHours = hours
	m.mu.Unlock()
}

// Snapshot returns the latest recorded values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	s := m.last
	m.mu.RUnlock()
	s.Venues = m.venues.Stats()
	return s
}
