// Package router routes orders and market data across exchanges with
// failover, tracks positions and performance, and drains and rebuilds the
// connector set on an environment change.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PiotrGNN/kraken/internal/environment"
	"github.com/PiotrGNN/kraken/internal/events"
	"github.com/PiotrGNN/kraken/internal/gateway"
	"github.com/PiotrGNN/kraken/internal/monitor"
	"github.com/PiotrGNN/kraken/internal/order"
	"github.com/PiotrGNN/kraken/internal/risk"
	"github.com/PiotrGNN/kraken/internal/state"
	"github.com/PiotrGNN/kraken/internal/strategy"
	"github.com/PiotrGNN/kraken/pkg/db"
	"github.com/PiotrGNN/kraken/pkg/exchanges/common"
)

var log = logrus.WithField("component", "router")

// EnvManager is the part of environment.Manager the router drives.
type EnvManager interface {
	Current() environment.Environment
	ShouldSwitchToMainnet() bool
	SwitchEnvironment(target environment.Environment) bool
	UpdatePerformanceMetrics(equity float64, tradeCount int, maxDrawdownPct float64)
}

// Builder creates the connector set for an environment.
type Builder interface {
	Build(ctx context.Context, env environment.Environment, names []string) (map[string]common.Connector, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(ctx context.Context, env environment.Environment, names []string) (map[string]common.Connector, error)

func (f BuilderFunc) Build(ctx context.Context, env environment.Environment, names []string) (map[string]common.Connector, error) {
	return f(ctx, env, names)
}

// SwitchLog persists environment switches.
type SwitchLog interface {
	InsertEnvSwitch(ctx context.Context, s db.EnvSwitch) (int64, error)
}

// Config is the routing policy.
type Config struct {
	Primary   string
	Failovers []string
	// CandleLimit is the window requested by ExecuteStrategy (default 500).
	CandleLimit int
	// RequireCleanDrain aborts an environment switch when any position
	// failed to close.
	RequireCleanDrain bool
	HealthTimeout     time.Duration
}

// Deps are the collaborators of a Router. Env, Builder and Strategy are
// required; the rest may be nil.
type Deps struct {
	Env       EnvManager
	Builder   Builder
	Strategy  strategy.Strategy
	Guard     *risk.Guard
	History   *order.History
	Positions *state.Book
	Bus       *events.Bus
	Metrics   *monitor.Metrics
	Switches  SwitchLog
}

// Router is the single entry point for order and market-data operations.
// One mutex guards connectors, positions, counters and history; it is held
// for the whole of every public method, connector I/O included.
type Router struct {
	mu sync.Mutex

	cfg       Config
	env       EnvManager
	builder   Builder
	strategy  strategy.Strategy
	guard     *risk.Guard
	history   *order.History
	positions *state.Book
	bus       *events.Bus
	metrics   *monitor.Metrics
	switches  SwitchLog
	health    gateway.HealthChecker
	now       func() time.Time

	connectors      map[string]common.Connector
	active          string
	exchangeHealth  map[string]bool
	failoverHistory []FailoverEvent

	totalTrades    int
	initialEquity  float64
	currentEquity  float64
	peakEquity     float64
	maxDrawdownPct float64
}

// New builds the connectors for the current environment and syncs
// restored positions into the strategy.
func New(ctx context.Context, cfg Config, deps Deps) (*Router, error) {
	if cfg.Primary == "" {
		return nil, fmt.Errorf("%w: primary exchange not configured", ErrExchangeNotFound)
	}
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = 500
	}
	if deps.History == nil {
		deps.History = order.NewHistory(nil)
	}
	if deps.Positions == nil {
		deps.Positions = state.NewBook(nil)
	}
	r := &Router{
		cfg:            cfg,
		env:            deps.Env,
		builder:        deps.Builder,
		strategy:       deps.Strategy,
		guard:          deps.Guard,
		history:        deps.History,
		positions:      deps.Positions,
		bus:            deps.Bus,
		metrics:        deps.Metrics,
		switches:       deps.Switches,
		health:         gateway.HealthChecker{Timeout: cfg.HealthTimeout},
		now:            time.Now,
		active:         cfg.Primary,
		exchangeHealth: make(map[string]bool),
	}

	conns, err := r.builder.Build(ctx, r.env.Current(), r.names())
	if err != nil {
		return nil, fmt.Errorf("build connectors: %w", err)
	}
	r.connectors = conns

	for _, p := range r.positions.All() {
		r.syncStrategy(p.Symbol)
	}
	return r, nil
}

// names is the configured exchange order: primary first, then failovers.
func (r *Router) names() []string {
	out := []string{r.cfg.Primary}
	seen := map[string]bool{r.cfg.Primary: true}
	for _, n := range r.cfg.Failovers {
		if n != "" && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// ordered returns the configured exchanges that have a connector,
// starting with first when it is one of them.
func (r *Router) ordered(first string) []string {
	out := make([]string, 0, len(r.connectors))
	if _, ok := r.connectors[first]; ok {
		out = append(out, first)
	}
	for _, n := range r.names() {
		if n == first {
			continue
		}
		if _, ok := r.connectors[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

func (r *Router) resolve(name string) string {
	if name == "" {
		return r.cfg.Primary
	}
	return name
}

// GetExchange returns the named connector; an empty name is the primary.
func (r *Router) GetExchange(name string) (common.Connector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getExchangeLocked(name)
}

func (r *Router) getExchangeLocked(name string) (common.Connector, error) {
	name = r.resolve(name)
	conn, ok := r.connectors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExchangeNotFound, name)
	}
	return conn, nil
}

// ActiveExchange is the connector the trading loop uses.
func (r *Router) ActiveExchange() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// SetActiveExchange switches the active connector.
func (r *Router) SetActiveExchange(name, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.connectors[name]; !ok {
		return fmt.Errorf("%w: %s", ErrExchangeNotFound, name)
	}
	r.switchActiveLocked(name, reason)
	return nil
}

func (r *Router) switchActiveLocked(to, reason string) {
	if to == r.active {
		return
	}
	ev := FailoverEvent{Time: r.now().UTC(), From: r.active, To: to, Reason: reason}
	r.failoverHistory = append(r.failoverHistory, ev)
	r.active = to
	log.WithFields(logrus.Fields{"from": ev.From, "to": to, "reason": reason}).Warn("active exchange switched")
	r.bus.Publish(events.EventFailover, events.Failover{From: ev.From, To: to, Reason: reason})
}

// CheckHealth probes every connector and, when the active one is down,
// fails over to the first healthy exchange in configured order.
func (r *Router) CheckHealth(ctx context.Context) map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	health := r.health.Check(ctx, r.connectors)
	r.exchangeHealth = health
	if !health[r.active] {
		switched := false
		for _, n := range r.ordered(r.cfg.Primary) {
			if health[n] {
				r.switchActiveLocked(n, "Health check failed")
				switched = true
				break
			}
		}
		if !switched {
			log.WithField("active", r.active).Error("no healthy exchange available")
		}
	}

	out := make(map[string]bool, len(health))
	for k, v := range health {
		out[k] = v
	}
	return out
}

// Positions returns the open positions.
func (r *Router) Positions() []state.Position {
	return r.positions.All()
}

// Orders returns up to n order records, newest first.
func (r *Router) Orders(n int) []order.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history.Recent(n)
}

// OrderCount is the monotonic order-history length.
func (r *Router) OrderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history.Len()
}

// Status snapshots the router.
func (r *Router) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	health := make(map[string]bool, len(r.exchangeHealth))
	for k, v := range r.exchangeHealth {
		health[k] = v
	}
	hist := make([]FailoverEvent, len(r.failoverHistory))
	copy(hist, r.failoverHistory)
	failovers := r.names()[1:]

	return Status{
		Environment:       r.env.Current(),
		CurrentExchange:   r.active,
		PrimaryExchange:   r.cfg.Primary,
		FailoverExchanges: failovers,
		ExchangeHealth:    health,
		FailoverHistory:   hist,
		ActivePositions:   r.positions.All(),
		OrderCount:        r.history.Len(),
		PeakEquity:        r.peakEquity,
		CurrentEquity:     r.currentEquity,
		MaxDrawdownPct:    r.maxDrawdownPct,
		Metrics:           r.metrics.Snapshot(),
	}
}

// syncStrategy pushes the book's view of symbol into the strategy.
func (r *Router) syncStrategy(symbol string) {
	if r.strategy == nil {
		return
	}
	p, ok := r.positions.Get(symbol)
	if !ok {
		r.strategy.SetPosition(symbol, nil)
		return
	}
	r.strategy.SetPosition(symbol, &strategy.Position{
		Side:       p.Side,
		Size:       p.Size,
		EntryPrice: p.EntryPrice,
		StopLoss:   p.StopLoss,
	})
}

// protect turns a panic inside a connector call into an error.
func protect(exchange string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s: connector panic: %v", exchange, p)
		}
	}()
	return fn()
}
