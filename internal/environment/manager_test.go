package environment

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(t *testing.T) (*Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := DefaultSettings()
	s.ConfigPath = filepath.Join(t.TempDir(), "env.yaml")
	return New(s, WithClock(clock.Now)), clock
}

func TestParse(t *testing.T) {
	env, err := Parse(" MAINNET ")
	require.NoError(t, err)
	assert.Equal(t, Mainnet, env)

	_, err = Parse("devnet")
	assert.ErrorIs(t, err, ErrInvalidEnvironment)
	assert.Equal(t, Testnet, Mainnet.Opposite())
}

func TestShouldSwitchToMainnet(t *testing.T) {
	tests := []struct {
		name     string
		elapsed  time.Duration
		trades   int
		drawdown float64
		mutate   func(m *Manager)
		want     bool
	}{
		{"all criteria met", 72 * time.Hour, 20, 2.0, nil, true},
		{"drawdown too high", 72 * time.Hour, 20, 5.0, nil, false},
		{"too few trades", 72 * time.Hour, 5, 2.0, nil, false},
		{"too early", 24 * time.Hour, 20, 2.0, nil, false},
		{"boundary values pass", 48 * time.Hour, 10, 4.0, nil, true},
		{"auto switch disabled", 72 * time.Hour, 20, 2.0, func(m *Manager) { m.settings.AutoSwitchEnabled = false }, false},
		{"already mainnet", 72 * time.Hour, 20, 2.0, func(m *Manager) { m.settings.Environment = Mainnet }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, clock := newTestManager(t)
			if tt.mutate != nil {
				tt.mutate(m)
			}
			clock.Advance(tt.elapsed)
			m.UpdatePerformanceMetrics(10000, tt.trades, tt.drawdown)
			assert.Equal(t, tt.want, m.ShouldSwitchToMainnet())
		})
	}
}

func TestSwitchToCurrentIsNoop(t *testing.T) {
	m, clock := newTestManager(t)
	before := m.GetStatus()

	clock.Advance(time.Hour)
	assert.False(t, m.SwitchEnvironment(Testnet))
	assert.False(t, m.SetEnvironment(Testnet))

	after := m.GetStatus()
	assert.Equal(t, before.LastSwitchTime, after.LastSwitchTime)
	assert.Zero(t, after.SwitchCount)
	_, err := os.Stat(m.Settings().ConfigPath)
	assert.True(t, os.IsNotExist(err), "no-op switch must not persist")
}

func TestSwitchPersistsAndToggles(t *testing.T) {
	m, clock := newTestManager(t)
	clock.Advance(2 * time.Hour)

	require.True(t, m.SwitchEnvironment(""))
	assert.Equal(t, Mainnet, m.Current())
	st := m.GetStatus()
	assert.Equal(t, 1, st.SwitchCount)
	assert.Equal(t, clock.t, st.LastSwitchTime)
	assert.InDelta(t, 2, st.TimeSinceStartHours, 1e-9)
	assert.Zero(t, st.TimeInCurrentEnvHours)

	loaded, err := LoadFile(m.Settings().ConfigPath, DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, Mainnet, loaded.Environment)

	// A fresh manager resumes from the state file.
	s := DefaultSettings()
	s.ConfigPath = m.Settings().ConfigPath
	assert.Equal(t, Mainnet, New(s).Current())

	assert.False(t, m.SetEnvironment("staging"))
	require.True(t, m.SwitchEnvironment(""))
	assert.Equal(t, Testnet, m.Current())
}

func TestLoadFileRejectsUnknownEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environment: staging\n"), 0o644))

	_, err := LoadFile(path, DefaultSettings())
	assert.ErrorIs(t, err, ErrInvalidEnvironment)

	s := DefaultSettings()
	s.ConfigPath = path
	assert.Equal(t, Testnet, New(s).Current())
}

func TestLoadFileOverridesPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environment: testnet\nmin_trades_for_switch: 3\nauto_switch_enabled: false\n"), 0o644))

	s, err := LoadFile(path, DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, 3, s.MinTradesForSwitch)
	assert.False(t, s.AutoSwitchEnabled)
	assert.Equal(t, 48, s.TestnetDurationHours)
}

func TestPeakEquityOnlyRises(t *testing.T) {
	m, _ := newTestManager(t)
	m.UpdatePerformanceMetrics(1200, 1, 0)
	m.UpdatePerformanceMetrics(900, 2, 25)
	st := m.GetStatus()
	assert.Equal(t, 1200.0, st.PeakEquity)
	assert.Equal(t, 900.0, st.CurrentEquity)
	assert.Equal(t, 2, st.TradeCount)
}

func TestGetConfigPath(t *testing.T) {
	m, _ := newTestManager(t)
	assert.Equal(t, filepath.Join("config", "testnet", "bybit.json"), m.GetConfigPath("bybit"))
	m.SetEnvironment(Mainnet)
	assert.Equal(t, filepath.Join("config", "mainnet", "bybit.json"), m.GetConfigPath("bybit"))
	assert.Equal(t, filepath.Join("config", "testnet", "okx.json"), m.ConfigPathFor(Testnet, "okx"))
}
