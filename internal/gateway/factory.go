// Package gateway builds exchange connectors for an environment and
// probes their health.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/PiotrGNN/kraken/internal/environment"
	"github.com/PiotrGNN/kraken/pkg/exchanges/binance"
	"github.com/PiotrGNN/kraken/pkg/exchanges/bybit"
	"github.com/PiotrGNN/kraken/pkg/exchanges/common"
	"github.com/PiotrGNN/kraken/pkg/exchanges/paper"
)

var (
	ErrUnknownExchange     = errors.New("unknown exchange")
	ErrUnsupportedExchange = errors.New("exchange has no connector")
	ErrNoConnectors        = errors.New("no connectors")
)

var log = logrus.WithField("component", "gateway")

// Credentials are the API keys of one venue.
type Credentials struct {
	APIKey    string
	APISecret string
}

// fileConfig is the per-environment JSON file, e.g. config/testnet/bybit.json.
type fileConfig struct {
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
	BaseURL    string `json:"base_url"`
	RecvWindow int64  `json:"recv_window"`
}

// Options configure the factory.
type Options struct {
	Credentials  map[string]Credentials
	PaperBalance float64
	// ConfigPath locates the file of an exchange for env; nil skips file overrides.
	ConfigPath func(env environment.Environment, exchange string) string
	// SyncTime starts the signing clock sync on live connectors.
	SyncTime bool
}

// Factory creates connectors. Each Build stops the time sync loops of the
// previous generation.
type Factory struct {
	opts Options

	mu     sync.Mutex
	gen    context.Context // context of the live generation
	cancel context.CancelFunc
}

// NewFactory creates a factory.
func NewFactory(opts Options) *Factory {
	return &Factory{opts: opts}
}

// Build creates one connector per name for env. An exchange that cannot
// be built is logged and skipped; the build fails only when the first
// name (the primary) or every name fails. The paper venue prices off the
// first live connector built in the same call. The previous generation's
// background work is stopped once the new set is ready.
func (f *Factory) Build(ctx context.Context, env environment.Environment, names []string) (map[string]common.Connector, error) {
	genCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	out := make(map[string]common.Connector, len(names))
	var feed paper.MarketData
	var wantPaper []string
	var primaryErr error
	for i, name := range names {
		if name == "paper" {
			wantPaper = append(wantPaper, name)
			continue
		}
		conn, err := f.buildLive(genCtx, env, name)
		if err != nil {
			if i == 0 {
				primaryErr = err
			}
			log.WithError(err).WithFields(logrus.Fields{"environment": env, "exchange": name}).Warn("skipping exchange")
			continue
		}
		if feed == nil {
			feed = conn
		}
		out[name] = conn
	}
	for _, name := range wantPaper {
		out[name] = paper.New(paper.Config{Name: name, InitialBalance: f.opts.PaperBalance}, feed)
	}

	switch {
	case primaryErr != nil:
		cancel()
		return nil, fmt.Errorf("primary exchange: %w", primaryErr)
	case len(out) == 0:
		cancel()
		return nil, fmt.Errorf("%w: no connector could be built for %s", ErrNoConnectors, env)
	}

	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
	}
	f.gen, f.cancel = genCtx, cancel
	f.mu.Unlock()

	built := make([]string, 0, len(out))
	for _, name := range names {
		if _, ok := out[name]; ok {
			built = append(built, name)
		}
	}
	log.WithFields(logrus.Fields{"environment": env, "exchanges": built}).Info("connectors built")
	return out, nil
}

// Close stops background work of the current generation.
func (f *Factory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
}

type liveConnector interface {
	common.Connector
	StartTimeSync(ctx context.Context)
}

func (f *Factory) buildLive(ctx context.Context, env environment.Environment, name string) (liveConnector, error) {
	ep, err := Lookup(name, env)
	if err != nil {
		return nil, err
	}
	cred := f.opts.Credentials[name]
	fc := fileConfig{APIKey: cred.APIKey, APISecret: cred.APISecret, BaseURL: ep.REST}
	if f.opts.ConfigPath != nil {
		if err := mergeFile(f.opts.ConfigPath(env, name), &fc); err != nil {
			return nil, err
		}
	}
	testnet := env == environment.Testnet

	var conn liveConnector
	switch name {
	case "bybit":
		conn = bybit.New(bybit.Config{APIKey: fc.APIKey, APISecret: fc.APISecret, Testnet: testnet, BaseURL: fc.BaseURL, RecvWindow: fc.RecvWindow})
	case "binance":
		conn = binance.New(binance.Config{APIKey: fc.APIKey, APISecret: fc.APISecret, Testnet: testnet, BaseURL: fc.BaseURL, RecvWindow: fc.RecvWindow})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedExchange, name)
	}
	if f.opts.SyncTime {
		go conn.StartTimeSync(ctx)
	}
	return conn, nil
}

// mergeFile overlays non-empty fields of the JSON file at path. A missing
// file is not an error.
func mergeFile(path string, fc *fileConfig) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var override fileConfig
	if err := json.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if override.APIKey != "" {
		fc.APIKey = override.APIKey
	}
	if override.APISecret != "" {
		fc.APISecret = override.APISecret
	}
	if override.BaseURL != "" {
		fc.BaseURL = override.BaseURL
	}
	if override.RecvWindow > 0 {
		fc.RecvWindow = override.RecvWindow
	}
	return nil
}
