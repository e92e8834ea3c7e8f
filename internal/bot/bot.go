// Package bot drives the trading loop: a health check, then one strategy
// tick per symbol, on a fixed interval.
package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PiotrGNN/kraken/internal/events"
	"github.com/PiotrGNN/kraken/internal/router"
)

var log = logrus.WithField("component", "bot")

var (
	ErrAlreadyRunning = errors.New("bot already running")
	ErrNotRunning     = errors.New("bot not running")
)

// Trader is the router surface the loop uses.
type Trader interface {
	CheckHealth(ctx context.Context) map[string]bool
	ExecuteStrategy(ctx context.Context, symbol, timeframe string) router.Result
}

type Config struct {
	Symbols   []string
	Timeframe string
	Interval  time.Duration
}

// Bot owns the trading goroutine.
type Bot struct {
	cfg    Config
	trader Trader
	bus    *events.Bus

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	ticks   int
	results map[string]router.Result
}

func New(cfg Config, trader Trader, bus *events.Bus) *Bot {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = "15m"
	}
	return &Bot{cfg: cfg, trader: trader, bus: bus, results: make(map[string]router.Result)}
}

// Start launches the loop; the first tick runs immediately.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.loop(ctx, b.done)
	log.WithFields(logrus.Fields{"symbols": b.cfg.Symbols, "interval": b.cfg.Interval}).Info("trading bot started")
	return nil
}

// Stop cancels the loop and waits for the current tick to finish.
func (b *Bot) Stop() error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.mu.Unlock()
	if cancel == nil {
		return ErrNotRunning
	}
	cancel()
	<-done
	log.Info("trading bot stopped")
	return nil
}

func (b *Bot) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancel != nil
}

func (b *Bot) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()
	for {
		b.Tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick runs one pass over every symbol and returns the results in symbol
// order.
func (b *Bot) Tick(ctx context.Context) []router.Result {
	health := b.trader.CheckHealth(ctx)
	log.WithField("health", health).Debug("health checked")

	out := make([]router.Result, 0, len(b.cfg.Symbols))
	for _, symbol := range b.cfg.Symbols {
		if ctx.Err() != nil {
			break
		}
		res := b.trader.ExecuteStrategy(ctx, symbol, b.cfg.Timeframe)
		out = append(out, res)

		entry := log.WithFields(logrus.Fields{"symbol": symbol, "status": res.Status, "action": res.Action})
		if res.Status == router.StatusError {
			entry.WithField("message", res.Message).Error("strategy execution failed")
		} else {
			entry.Debug("strategy executed")
		}
		b.bus.Publish(events.EventSignal, events.SignalResult{
			Symbol:  symbol,
			Status:  string(res.Status),
			Action:  string(res.Action),
			Reason:  res.Reason,
			Message: res.Message,
		})
	}

	b.mu.Lock()
	b.ticks++
	for _, r := range out {
		b.results[r.Symbol] = r
	}
	b.mu.Unlock()
	return out
}

// Status is the bot snapshot served by the API.
type Status struct {
	Running     bool                     `json:"running"`
	Symbols     []string                 `json:"symbols"`
	Timeframe   string                   `json:"timeframe"`
	Interval    string                   `json:"interval"`
	Ticks       int                      `json:"ticks"`
	LastResults map[string]router.Result `json:"last_results"`
}

func (b *Bot) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	last := make(map[string]router.Result, len(b.results))
	for k, v := range b.results {
		last[k] = v
	}
	return Status{
		Running:     b.cancel != nil,
		Symbols:     append([]string(nil), b.cfg.Symbols...),
		Timeframe:   b.cfg.Timeframe,
		Interval:    b.cfg.Interval.String(),
		Ticks:       b.ticks,
		LastResults: last,
	}
}
