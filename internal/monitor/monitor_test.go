package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/PiotrGNN/kraken/internal/events"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestMetricsRecordInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m, err := NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordOrder(ctx, "bybit", "place", "success", 20*time.Millisecond)
	m.RecordOrder(ctx, "binance", "place", "failed", 40*time.Millisecond)
	m.SetPerformance(ctx, 10500, 500, 1.5)
	m.SetCurrentEnv(ctx, "mainnet")
	m.RecordEnvSwitch(ctx, "mainnet")
	m.SetOpenRisk(ctx, 120)
	m.SetTimeInEnv(ctx, 3)

	got := collect(t, reader)
	for _, name := range []string{"trade_count", "pnl_usd", "equity_usd", "drawdown_pct", "open_risk_usd", "trade_execution_seconds", "env_switch_total", "current_env", "time_in_env_hours"} {
		assert.Contains(t, got, name)
	}

	env, ok := got["current_env"].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, env.DataPoints, 1)
	assert.Equal(t, int64(1), env.DataPoints[0].Value)

	trades, ok := got["trade_count"].(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range trades.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(2), total)

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.TradeCount)
	assert.Equal(t, "mainnet", snap.CurrentEnv)
	require.Contains(t, snap.Venues, "bybit")
	assert.Equal(t, VenueStats{Calls: 1, P50Ms: 20, P95Ms: 20, MaxMs: 20}, snap.Venues["bybit"])
	assert.Equal(t, 1, snap.Venues["binance"].Failures)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordOrder(context.Background(), "x", "place", "success", time.Millisecond)
		m.SetCurrentEnv(context.Background(), "testnet")
	})
	assert.Equal(t, Snapshot{}, m.Snapshot())
}

func TestVenueWindowEvictsOldest(t *testing.T) {
	w := NewVenueWindow(3)
	assert.Empty(t, w.Stats())

	w.Observe("bybit", 5*time.Millisecond, false)
	for _, ms := range []int{1, 3, 7} {
		w.Observe("bybit", time.Duration(ms)*time.Millisecond, true)
	}
	w.Observe("okx", 2*time.Millisecond, false)

	got := w.Stats()
	assert.Equal(t, VenueStats{Calls: 3, P50Ms: 3, P95Ms: 3, MaxMs: 7}, got["bybit"])
	assert.Equal(t, VenueStats{Calls: 1, Failures: 1, FailureRate: 1, P50Ms: 2, P95Ms: 2, MaxMs: 2}, got["okx"])
}

func TestVenueWindowPartialFill(t *testing.T) {
	w := NewVenueWindow(10)
	for _, ms := range []int{4, 2, 8, 6} {
		w.Observe("binance", time.Duration(ms)*time.Millisecond, ms != 8)
	}
	s := w.Stats()["binance"]
	assert.Equal(t, 4, s.Calls)
	assert.InDelta(t, 0.25, s.FailureRate, 1e-9)
	assert.InDelta(t, 4, s.P50Ms, 1e-9)
	assert.InDelta(t, 8, s.MaxMs, 1e-9)
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs map[string][]byte
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs[subject] = data
	return nil
}

func (f *fakePublisher) get(subject string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.msgs[subject]
	return b, ok
}

func TestForwarderPublishesEnvelopes(t *testing.T) {
	bus := events.NewBus()
	pub := &fakePublisher{msgs: map[string][]byte{}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := NewForwarder(bus, pub)
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	// Run subscribes asynchronously; publish until the message lands.
	var data []byte
	require.Eventually(t, func() bool {
		bus.Publish(events.EventFailover, events.Failover{From: "bybit", To: "binance", Reason: "Health check failed"})
		var ok bool
		data, ok = pub.get("kraken.events.failover")
		return ok
	}, time.Second, 10*time.Millisecond)

	var env struct {
		Type    string          `json:"type"`
		Payload events.Failover `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "failover", env.Type)
	assert.Equal(t, "binance", env.Payload.To)

	cancel()
	<-done
}
