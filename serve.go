package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/PiotrGNN/kraken/internal/api"
	"github.com/PiotrGNN/kraken/internal/bot"
	"github.com/PiotrGNN/kraken/internal/environment"
	"github.com/PiotrGNN/kraken/internal/events"
	"github.com/PiotrGNN/kraken/internal/gateway"
	"github.com/PiotrGNN/kraken/internal/monitor"
	"github.com/PiotrGNN/kraken/internal/order"
	"github.com/PiotrGNN/kraken/internal/reconciliation"
	"github.com/PiotrGNN/kraken/internal/risk"
	"github.com/PiotrGNN/kraken/internal/router"
	"github.com/PiotrGNN/kraken/internal/scheduler"
	"github.com/PiotrGNN/kraken/internal/state"
	"github.com/PiotrGNN/kraken/internal/strategy"
	"github.com/PiotrGNN/kraken/pkg/config"
	"github.com/PiotrGNN/kraken/pkg/db"
	"github.com/PiotrGNN/kraken/pkg/telemetry"
)

var log = logrus.WithField("component", "main")

type configKey struct{}

func withConfig(ctx context.Context, cfg *config.Config) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, configKey{}, cfg)
}

func configFrom(ctx context.Context) *config.Config {
	return ctx.Value(configKey{}).(*config.Config)
}

func envSettings(cfg *config.Config) environment.Settings {
	s := environment.DefaultSettings()
	if env, err := environment.Parse(cfg.Env); err == nil {
		s.Environment = env
	} else {
		log.WithError(err).Warn("invalid DEEPAGENT_ENV, using testnet")
	}
	s.AutoSwitchEnabled = cfg.AutoSwitchEnabled
	s.TestnetDurationHours = cfg.TestnetDurationHours
	s.MinTradesForSwitch = cfg.MinTradesForSwitch
	s.MaxDrawdownPctForSwitch = cfg.MaxDrawdownPctForSwitch
	s.ConfigPath = cfg.EnvConfigPath
	s.ConfigRoot = cfg.ExchangeConfigRoot
	return s
}

func riskConfig(cfg *config.Config) risk.Config {
	return risk.Config{
		RiskPct:              cfg.RiskPct,
		ATRMultiplier:        cfg.ATRMultiplier,
		TrailingBreakevenATR: cfg.TrailingBreakevenATR,
		TrailingStepATR:      cfg.TrailingStepATR,
		MaxLeverage:          cfg.MaxLeverage,
		MaxDrawdownPct:       cfg.MaxDrawdownPct,
		MaxExposurePct:       cfg.MaxExposurePct,
	}
}

// logReports logs scheduler failures until ctx is done.
func logReports(ctx context.Context, reports <-chan scheduler.Report) {
	for {
		select {
		case <-ctx.Done():
			return
		case rep := <-reports:
			log.WithError(rep.Err).WithField("task", rep.Task).Warn("scheduled task reported failure")
		}
	}
}

// serve is the composition root.
func serve(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	book := state.NewBook(database)
	if err := book.Load(ctx); err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	history := order.NewHistory(database)
	if err := history.Load(ctx, 500); err != nil {
		return fmt.Errorf("load order history: %w", err)
	}

	provider, shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{OTLPEndpoint: cfg.OTLPEndpoint, ServiceName: "kraken"})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.WithError(err).Warn("telemetry shutdown failed")
		}
	}()
	metrics, err := monitor.NewMetrics(provider)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	envMgr := environment.New(envSettings(cfg), environment.WithMetrics(metrics))
	if err := cfg.CheckJWTSecret(envMgr.Current().String()); err != nil {
		return err
	}
	factory := gateway.NewFactory(gateway.Options{
		Credentials: map[string]gateway.Credentials{
			"bybit":   {APIKey: cfg.BybitAPIKey, APISecret: cfg.BybitAPISecret},
			"binance": {APIKey: cfg.BinanceAPIKey, APISecret: cfg.BinanceAPISecret},
		},
		PaperBalance: cfg.PaperInitialBalance,
		ConfigPath:   envMgr.ConfigPathFor,
		SyncTime:     true,
	})
	defer factory.Close()

	rc := riskConfig(cfg)
	strat := strategy.NewTrendRSI(strategy.DefaultTrendRSIConfig(), risk.NewATR(rc))
	bus := events.NewBus()

	r, err := router.New(ctx, router.Config{
		Primary:           cfg.PrimaryExchange,
		Failovers:         cfg.FailoverExchanges,
		CandleLimit:       cfg.CandleLimit,
		RequireCleanDrain: cfg.RequireCleanDrain,
	}, router.Deps{
		Env:       envMgr,
		Builder:   factory,
		Strategy:  strat,
		Guard:     risk.NewGuard(rc),
		History:   history,
		Positions: book,
		Bus:       bus,
		Metrics:   metrics,
		Switches:  database,
	})
	if err != nil {
		return fmt.Errorf("init router: %w", err)
	}

	grpcHealth := api.NewHealthServer()
	recon := reconciliation.NewService(r)

	sched := scheduler.New(0)
	if err := sched.AddTask(scheduler.CheckEnvironmentSwitch, scheduler.EnvSwitchTask(r, envMgr), cfg.EnvCheckInterval); err != nil {
		return err
	}
	if err := sched.AddTask("check_exchange_health", func(ctx context.Context) error {
		health := r.CheckHealth(ctx)
		grpcHealth.Update(health[r.ActiveExchange()])
		return nil
	}, cfg.HealthCheckInterval); err != nil {
		return err
	}
	if err := sched.AddTask(reconciliation.TaskName, recon.Task(), cfg.ReconcileInterval); err != nil {
		return err
	}

	trader := bot.New(bot.Config{Symbols: cfg.Symbols, Timeframe: cfg.Timeframe, Interval: cfg.TradingInterval}, r, bus)
	server := api.NewServer(api.Deps{
		Bus:         bus,
		Trading:     r,
		Env:         envMgr,
		Bot:         trader,
		Tasks:       sched,
		Reconciler:  recon,
		JWTSecret:   cfg.JWTSecret,
		BaseContext: ctx,
	})

	var wg conc.WaitGroup
	if cfg.NATSURL != "" {
		nc, err := monitor.DialNATS(cfg.NATSURL)
		if err != nil {
			log.WithError(err).Warn("nats unavailable, event forwarding disabled")
		} else {
			defer nc.Close()
			fwd := monitor.NewForwarder(bus, nc)
			wg.Go(func() { fwd.Run(ctx) })
		}
	}
	wg.Go(func() { logReports(ctx, sched.Reports()) })

	sched.Start(ctx)
	if err := trader.Start(ctx); err != nil {
		return err
	}
	if cfg.GRPCPort != "" {
		wg.Go(func() {
			if err := grpcHealth.Serve(ctx, ":"+cfg.GRPCPort); err != nil {
				log.WithError(err).Error("grpc health server stopped")
			}
		})
	}

	log.WithFields(logrus.Fields{
		"environment": envMgr.Current(),
		"primary":     cfg.PrimaryExchange,
		"failovers":   cfg.FailoverExchanges,
		"symbols":     cfg.Symbols,
	}).Info("kraken started")

	apiErr := server.Start(ctx, ":"+cfg.Port)
	if apiErr != nil && !errors.Is(apiErr, http.ErrServerClosed) {
		log.WithError(apiErr).Error("api server failed")
	} else {
		apiErr = nil
	}
	stop()

	log.Info("shutting down")
	if err := trader.Stop(); err != nil && !errors.Is(err, bot.ErrNotRunning) {
		log.WithError(err).Warn("stop trading bot")
	}
	if err := sched.Stop(); err != nil {
		log.WithError(err).Warn("stop scheduler")
	}
	wg.Wait()
	return apiErr
}
