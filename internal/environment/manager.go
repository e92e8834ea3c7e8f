package environment

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PiotrGNN/kraken/internal/monitor"
)

var log = logrus.WithField("component", "environment")

// Status is a read-only projection of the manager state.
type Status struct {
	Environment             Environment `json:"environment"`
	AutoSwitchEnabled       bool        `json:"auto_switch_enabled"`
	TimeInCurrentEnvHours   float64     `json:"time_in_current_env_hours"`
	TimeSinceStartHours     float64     `json:"time_since_start_hours"`
	StartTime               time.Time   `json:"start_time"`
	LastSwitchTime          time.Time   `json:"last_switch_time"`
	TradeCount              int         `json:"trade_count"`
	CurrentEquity           float64     `json:"current_equity"`
	PeakEquity              float64     `json:"peak_equity"`
	MaxDrawdownPct          float64     `json:"max_drawdown_pct"`
	TestnetDurationHours    int         `json:"testnet_duration_hours"`
	MinTradesForSwitch      int         `json:"min_trades_for_switch"`
	MaxDrawdownPctForSwitch float64     `json:"max_drawdown_pct_for_switch"`
	SwitchCount             int         `json:"switch_count"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMetrics attaches the env_switch_total / current_env instruments.
func WithMetrics(metrics *monitor.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// Manager owns the current environment and the promotion gate.
type Manager struct {
	mu       sync.RWMutex
	settings Settings
	now      func() time.Time
	metrics  *monitor.Metrics

	startTime      time.Time
	lastSwitchTime time.Time
	switchCount    int
	tradeCount     int
	peakEquity     float64
	currentEquity  float64
	maxDrawdownPct float64
}

// New creates a manager. The state file at settings.ConfigPath, when it
// exists, overrides settings; a damaged file is logged and ignored.
func New(settings Settings, opts ...Option) *Manager {
	m := &Manager{now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	if !settings.Environment.Valid() {
		settings.Environment = Testnet
	}
	if settings.ConfigRoot == "" {
		settings.ConfigRoot = "config"
	}
	if settings.ConfigPath != "" {
		loaded, err := LoadFile(settings.ConfigPath, settings)
		if err != nil {
			log.WithError(err).Error("load environment state failed, using defaults")
		} else {
			settings = loaded
		}
	}
	m.settings = settings
	m.startTime = m.now()
	m.lastSwitchTime = m.startTime
	m.metrics.SetCurrentEnv(context.Background(), string(settings.Environment))

	log.WithFields(logrus.Fields{
		"environment": settings.Environment,
		"auto_switch": settings.AutoSwitchEnabled,
	}).Info("environment manager initialized")
	return m
}

// Current returns the active environment.
func (m *Manager) Current() Environment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings.Environment
}

// Settings returns a copy of the policy.
func (m *Manager) Settings() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// ShouldSwitchToMainnet is true only on testnet with auto-switch on, once
// the run has lasted long enough, traded enough and stayed within the
// drawdown limit. Criteria are checked in that order.
func (m *Manager) ShouldSwitchToMainnet() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.settings
	if s.Environment != Testnet || !s.AutoSwitchEnabled {
		return false
	}
	elapsed := m.now().Sub(m.startTime)
	if elapsed < time.Duration(s.TestnetDurationHours)*time.Hour {
		log.WithField("hours", elapsed.Hours()).Debug("not enough time in testnet")
		return false
	}
	if m.tradeCount < s.MinTradesForSwitch {
		log.WithField("trades", m.tradeCount).Debug("not enough trades")
		return false
	}
	if m.maxDrawdownPct > s.MaxDrawdownPctForSwitch {
		log.WithField("drawdown_pct", m.maxDrawdownPct).Debug("drawdown too high")
		return false
	}
	log.WithFields(logrus.Fields{
		"hours":        elapsed.Hours(),
		"trades":       m.tradeCount,
		"drawdown_pct": m.maxDrawdownPct,
	}).Info("all criteria met for switching to mainnet")
	return true
}

// SwitchEnvironment moves to target, or toggles when target is empty.
// It returns false when already there.
func (m *Manager) SwitchEnvironment(target Environment) bool {
	if target == "" {
		target = m.Current().Opposite()
	}
	return m.SetEnvironment(target)
}

// SetEnvironment records a switch, updates the metrics and persists the
// state file. Setting the current or an invalid environment returns false
// and changes nothing.
func (m *Manager) SetEnvironment(env Environment) bool {
	if !env.Valid() {
		log.WithField("environment", env).Error("invalid environment")
		return false
	}

	m.mu.Lock()
	from := m.settings.Environment
	if from == env {
		m.mu.Unlock()
		log.WithField("environment", env).Info("already in environment, no switch needed")
		return false
	}
	m.settings.Environment = env
	m.lastSwitchTime = m.now()
	m.switchCount++
	snapshot := m.settings
	m.mu.Unlock()

	ctx := context.Background()
	m.metrics.RecordEnvSwitch(ctx, string(env))
	m.metrics.SetCurrentEnv(ctx, string(env))

	if snapshot.ConfigPath != "" {
		if err := SaveFile(snapshot.ConfigPath, snapshot); err != nil {
			log.WithError(err).Error("persist environment state failed")
		}
	}
	log.WithFields(logrus.Fields{"from": from, "to": env}).Info("environment switched")
	return true
}

// UpdatePerformanceMetrics stores the latest figures; peak equity only rises.
func (m *Manager) UpdatePerformanceMetrics(equity float64, tradeCount int, maxDrawdownPct float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentEquity = equity
	m.tradeCount = tradeCount
	m.maxDrawdownPct = maxDrawdownPct
	if equity > m.peakEquity {
		m.peakEquity = equity
	}
}

// GetConfigPath locates the exchange config for the current environment,
// e.g. config/testnet/bybit.json.
func (m *Manager) GetConfigPath(exchange string) string {
	return m.ConfigPathFor(m.Current(), exchange)
}

// ConfigPathFor locates the exchange config for env.
func (m *Manager) ConfigPathFor(env Environment, exchange string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filepath.Join(m.settings.ConfigRoot, string(env), exchange+".json")
}

// GetStatus projects the state and refreshes the time-in-env gauge.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	now := m.now()
	s := Status{
		Environment:             m.settings.Environment,
		AutoSwitchEnabled:       m.settings.AutoSwitchEnabled,
		TimeInCurrentEnvHours:   now.Sub(m.lastSwitchTime).Hours(),
		TimeSinceStartHours:     now.Sub(m.startTime).Hours(),
		StartTime:               m.startTime,
		LastSwitchTime:          m.lastSwitchTime,
		TradeCount:              m.tradeCount,
		CurrentEquity:           m.currentEquity,
		PeakEquity:              m.peakEquity,
		MaxDrawdownPct:          m.maxDrawdownPct,
		TestnetDurationHours:    m.settings.TestnetDurationHours,
		MinTradesForSwitch:      m.settings.MinTradesForSwitch,
		MaxDrawdownPctForSwitch: m.settings.MaxDrawdownPctForSwitch,
		SwitchCount:             m.switchCount,
	}
	m.mu.RUnlock()

	m.metrics.SetTimeInEnv(context.Background(), s.TimeInCurrentEnvHours)
	return s
}
