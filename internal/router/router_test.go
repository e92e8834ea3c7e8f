package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PiotrGNN/kraken/internal/environment"
	"github.com/PiotrGNN/kraken/internal/events"
	"github.com/PiotrGNN/kraken/internal/indicators"
	"github.com/PiotrGNN/kraken/internal/risk"
	"github.com/PiotrGNN/kraken/internal/state"
	"github.com/PiotrGNN/kraken/internal/strategy"
	"github.com/PiotrGNN/kraken/pkg/db"
	"github.com/PiotrGNN/kraken/pkg/exchanges/common"
)

var errBoom = errors.New("boom")

// callLog is shared by every fake connector of a test so ordering across
// exchanges can be asserted.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeConn struct {
	name string
	log  *callLog

	candles    []common.Candle
	klinesErr  error
	equity     float64
	accountErr error
	// placeErr decides per request; nil means success.
	placeErr  func(req common.OrderRequest) error
	updateErr error
	updateID  string
	cancelErr error
	panics    bool
	unhealthy bool

	mu     sync.Mutex
	nextID int
}

func (f *fakeConn) Name() string { return f.name }

func (f *fakeConn) GetKlines(_ context.Context, symbol, _ string, limit int) ([]common.Candle, error) {
	f.log.add("%s:klines:%s", f.name, symbol)
	if f.panics {
		panic("nil pointer")
	}
	if f.klinesErr != nil {
		return nil, f.klinesErr
	}
	return f.candles, nil
}

func (f *fakeConn) GetTicker(context.Context, string) (common.Ticker, error) {
	return common.Ticker{}, nil
}

func (f *fakeConn) PlaceOrder(_ context.Context, req common.OrderRequest) (common.OrderInfo, error) {
	f.log.add("%s:place:%s", f.name, req.Type)
	if f.panics {
		panic("nil pointer")
	}
	if f.placeErr != nil {
		if err := f.placeErr(req); err != nil {
			return common.OrderInfo{}, err
		}
	}
	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("%s-%d", f.name, f.nextID)
	f.mu.Unlock()
	return common.OrderInfo{
		OrderID: id, Symbol: req.Symbol, Side: req.Side, Type: req.Type,
		Status: common.StatusFilled, Qty: req.Qty, AvgPrice: 101, ReduceOnly: req.ReduceOnly,
	}, nil
}

func (f *fakeConn) UpdateOrder(_ context.Context, orderID string, upd common.OrderUpdate) (common.OrderInfo, error) {
	f.log.add("%s:update:%s", f.name, orderID)
	if f.updateErr != nil {
		return common.OrderInfo{}, f.updateErr
	}
	return common.OrderInfo{OrderID: f.updateID, Symbol: upd.Symbol, StopPrice: upd.StopPrice}, nil
}

func (f *fakeConn) CancelOrder(_ context.Context, orderID, _ string) error {
	f.log.add("%s:cancel:%s", f.name, orderID)
	return f.cancelErr
}

func (f *fakeConn) GetOrder(context.Context, string, string) (common.OrderInfo, error) {
	return common.OrderInfo{}, common.ErrOrderNotFound
}

func (f *fakeConn) GetOpenOrders(context.Context, string) ([]common.OrderInfo, error) {
	return nil, nil
}

func (f *fakeConn) GetPosition(context.Context, string) (common.PositionInfo, error) {
	return common.PositionInfo{}, nil
}

func (f *fakeConn) GetAccountInfo(context.Context) (common.AccountInfo, error) {
	if f.accountErr != nil {
		return common.AccountInfo{}, f.accountErr
	}
	return common.AccountInfo{Currency: "USDT", Equity: f.equity, Available: f.equity}, nil
}

func (f *fakeConn) IsHealthy(context.Context) bool { return !f.unhealthy }

type fakeEnv struct {
	mu       sync.Mutex
	current  environment.Environment
	promote  bool
	switches int
	equity   float64
	trades   int
	dd       float64
}

func (e *fakeEnv) Current() environment.Environment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

func (e *fakeEnv) ShouldSwitchToMainnet() bool { return e.promote }

func (e *fakeEnv) SwitchEnvironment(target environment.Environment) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if target == e.current {
		return false
	}
	e.current = target
	e.switches++
	return true
}

func (e *fakeEnv) UpdatePerformanceMetrics(equity float64, trades int, dd float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.equity, e.trades, e.dd = equity, trades, dd
}

type fakeStrategy struct {
	signal    strategy.Signal
	series    map[string]indicators.Series
	positions map[string]*strategy.Position
	equity    float64
}

func newFakeStrategy() *fakeStrategy {
	return &fakeStrategy{
		signal:    strategy.Wait(strategy.ReasonNoEntrySignal),
		series:    make(map[string]indicators.Series),
		positions: make(map[string]*strategy.Position),
	}
}

func (s *fakeStrategy) Name() string { return "fake" }

func (s *fakeStrategy) UpdateData(symbol string, series indicators.Series) {
	s.series[symbol] = series
}

func (s *fakeStrategy) UpdateEquity(equity float64) { s.equity = equity }

func (s *fakeStrategy) SetPosition(symbol string, p *strategy.Position) {
	s.positions[symbol] = p
}

func (s *fakeStrategy) GenerateSignal(string) strategy.Signal { return s.signal }

type recordingSwitches struct {
	rows []db.EnvSwitch
}

func (r *recordingSwitches) InsertEnvSwitch(_ context.Context, s db.EnvSwitch) (int64, error) {
	r.rows = append(r.rows, s)
	return int64(len(r.rows)), nil
}

type fixture struct {
	router   *Router
	env      *fakeEnv
	strat    *fakeStrategy
	log      *callLog
	conns    map[string]*fakeConn
	builds   []environment.Environment
	buildErr error
	switches *recordingSwitches
	bus      *events.Bus
}

func candles(n int, close float64) []common.Candle {
	out := make([]common.Candle, n)
	for i := range out {
		out[i] = common.Candle{Timestamp: int64(i) * 60000, Open: close, High: close + 1, Low: close - 1, Close: close, Volume: 1}
	}
	return out
}

func newFixture(t *testing.T, cfg Config, deps Deps) *fixture {
	t.Helper()
	if cfg.Primary == "" {
		cfg.Primary = "bybit"
		cfg.Failovers = []string{"okx", "binance"}
	}
	fx := &fixture{
		env:      &fakeEnv{current: environment.Testnet},
		strat:    newFakeStrategy(),
		log:      &callLog{},
		conns:    make(map[string]*fakeConn),
		switches: &recordingSwitches{},
		bus:      events.NewBus(),
	}
	all := append([]string{cfg.Primary}, cfg.Failovers...)
	for _, n := range all {
		fx.conns[n] = &fakeConn{name: n, log: fx.log, candles: candles(10, 100), equity: 1000}
	}
	deps.Env = fx.env
	deps.Strategy = fx.strat
	deps.Switches = fx.switches
	deps.Bus = fx.bus
	deps.Builder = BuilderFunc(func(_ context.Context, env environment.Environment, names []string) (map[string]common.Connector, error) {
		fx.builds = append(fx.builds, env)
		if fx.buildErr != nil {
			return nil, fx.buildErr
		}
		out := make(map[string]common.Connector, len(names))
		for _, n := range names {
			out[n] = fx.conns[n]
		}
		return out, nil
	})
	r, err := New(context.Background(), cfg, deps)
	require.NoError(t, err)
	fx.router = r
	return fx
}

func failAll(common.OrderRequest) error { return errBoom }

func failType(typ common.OrderType) func(common.OrderRequest) error {
	return func(req common.OrderRequest) error {
		if req.Type == typ {
			return errBoom
		}
		return nil
	}
}

func marketOrder() common.OrderRequest {
	return common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: 1}
}

func TestNewRequiresPrimary(t *testing.T) {
	_, err := New(context.Background(), Config{}, Deps{})
	assert.ErrorIs(t, err, ErrExchangeNotFound)
}

func TestGetExchange(t *testing.T) {
	fx := newFixture(t, Config{}, Deps{})

	conn, err := fx.router.GetExchange("")
	require.NoError(t, err)
	assert.Equal(t, "bybit", conn.Name())

	_, err = fx.router.GetExchange("ftx")
	assert.ErrorIs(t, err, ErrExchangeNotFound)
}

func TestPlaceOrderFailsOver(t *testing.T) {
	fx := newFixture(t, Config{}, Deps{})
	fx.conns["bybit"].placeErr = failAll

	res := fx.router.PlaceOrder(context.Background(), marketOrder(), "")
	require.True(t, res.OK())
	assert.Equal(t, "okx", res.Exchange)
	assert.True(t, res.Failover)
	assert.Equal(t, "okx-1", res.OrderID())

	require.Equal(t, 1, fx.router.OrderCount())
	rec := fx.router.Orders(1)[0]
	assert.Equal(t, "okx", rec.Exchange)
	assert.True(t, rec.Failover)
	assert.Equal(t, "testnet", rec.Environment)
	assert.Equal(t, []string{"bybit:place:MARKET", "okx:place:MARKET"}, fx.log.list())
}

func TestPlaceOrderAllFail(t *testing.T) {
	fx := newFixture(t, Config{}, Deps{})
	for _, c := range fx.conns {
		c.placeErr = failAll
	}

	res := fx.router.PlaceOrder(context.Background(), marketOrder(), "")
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Message, ErrAllExchangesFailed.Error())

	require.Equal(t, 1, fx.router.OrderCount())
	assert.False(t, fx.router.Orders(1)[0].Succeeded())
	assert.Len(t, fx.log.list(), 3)
}

func TestPlaceOrderUnknownExchangeFallsBack(t *testing.T) {
	fx := newFixture(t, Config{}, Deps{})

	res := fx.router.PlaceOrder(context.Background(), marketOrder(), "ftx")
	require.True(t, res.OK())
	assert.Equal(t, "bybit", res.Exchange)
	assert.True(t, res.Failover)
	assert.Equal(t, 1, fx.router.OrderCount())
}

func TestPlaceOrderRecoversPanic(t *testing.T) {
	fx := newFixture(t, Config{Primary: "bybit"}, Deps{})
	fx.conns["bybit"].panics = true

	var res OrderResult
	require.NotPanics(t, func() {
		res = fx.router.PlaceOrder(context.Background(), marketOrder(), "")
	})
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Message, "connector panic")
	assert.Equal(t, 1, fx.router.OrderCount())
}

func TestOrderOpsDoNotFailOver(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, Config{}, Deps{})
	fx.conns["bybit"].updateErr = errBoom
	fx.conns["bybit"].cancelErr = errBoom

	upd := fx.router.UpdateOrder(ctx, "42", common.OrderUpdate{Symbol: "BTCUSDT", StopPrice: 90}, "")
	assert.Equal(t, StatusError, upd.Status)
	assert.Equal(t, "bybit", upd.Exchange)

	cancel := fx.router.CancelOrder(ctx, "42", "BTCUSDT", "")
	assert.Equal(t, StatusError, cancel.Status)

	assert.Equal(t, []string{"bybit:update:42", "bybit:cancel:42"}, fx.log.list())
	assert.Equal(t, 2, fx.router.OrderCount())
}

func TestUpdateOrderKeepsIDWhenVenueOmitsIt(t *testing.T) {
	fx := newFixture(t, Config{}, Deps{})

	res := fx.router.UpdateOrder(context.Background(), "42", common.OrderUpdate{Symbol: "BTCUSDT", StopPrice: 90}, "okx")
	require.True(t, res.OK())
	assert.Equal(t, "42", res.OrderID())
	assert.Equal(t, "okx", res.Exchange)
}

func TestUpdateMarketDataFailsOver(t *testing.T) {
	fx := newFixture(t, Config{}, Deps{})
	fx.conns["bybit"].klinesErr = errBoom
	fx.conns["bybit"].candles = candles(500, 1)
	fx.conns["okx"].candles = candles(500, 250)

	require.True(t, fx.router.UpdateMarketData(context.Background(), "BTCUSDT", "1h", 500))

	s := fx.strat.series["BTCUSDT"]
	assert.Equal(t, 500, s.Len())
	assert.Equal(t, 250.0, s.Last())
	assert.Equal(t, []string{"bybit:klines:BTCUSDT", "okx:klines:BTCUSDT"}, fx.log.list())
}

func TestUpdateMarketDataAllFail(t *testing.T) {
	fx := newFixture(t, Config{}, Deps{})
	for _, c := range fx.conns {
		c.klinesErr = errBoom
	}
	assert.False(t, fx.router.UpdateMarketData(context.Background(), "BTCUSDT", "1h", 10))
	assert.Empty(t, fx.strat.series)
}

func TestUpdateAccountEquity(t *testing.T) {
	fx := newFixture(t, Config{}, Deps{})
	fx.conns["bybit"].accountErr = errBoom
	fx.conns["okx"].equity = 2500

	require.True(t, fx.router.UpdateAccountEquity(context.Background()))
	assert.Equal(t, 2500.0, fx.strat.equity)
	assert.Equal(t, 2500.0, fx.router.Status().CurrentEquity)
}

func openSignal() strategy.Signal {
	return strategy.Signal{
		Action:     strategy.ActionOpen,
		Side:       common.PositionLong,
		Size:       2,
		EntryPrice: 100,
		StopLoss:   95,
		TakeProfit: 110,
		Reason:     strategy.ReasonTrendEntry,
	}
}

func TestExecuteOpen(t *testing.T) {
	fx := newFixture(t, Config{}, Deps{})
	fx.strat.signal = openSignal()
	sub, unsub := fx.bus.Subscribe(4, events.EventPosition)
	defer unsub()

	res := fx.router.ExecuteStrategy(context.Background(), "BTCUSDT", "1h")
	require.Equal(t, StatusSuccess, res.Status, res.Message)
	assert.Equal(t, strategy.ActionOpen, res.Action)
	assert.Equal(t, "bybit", res.Exchange)
	assert.Equal(t, 101.0, res.EntryPrice)
	assert.Equal(t, []string{"bybit:klines:BTCUSDT", "bybit:place:MARKET", "bybit:place:STOP_MARKET"}, fx.log.list())
	require.NotNil(t, res.StopOrder)
	assert.True(t, res.StopOrder.ReduceOnly)
	assert.Equal(t, common.SideSell, res.StopOrder.Side)

	pos, ok := fx.router.positions.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, "bybit-2", pos.StopOrderID)
	assert.Equal(t, "bybit-1", pos.EntryOrderID)
	assert.Equal(t, 95.0, pos.StopLoss)
	assert.Equal(t, 110.0, pos.TakeProfit)

	require.NotNil(t, fx.strat.positions["BTCUSDT"])
	assert.Equal(t, common.PositionLong, fx.strat.positions["BTCUSDT"].Side)

	ev := <-sub
	change := ev.Payload.(events.PositionChange)
	assert.Equal(t, "opened", change.Action)
}

func TestExecuteOpenUsesActiveExchange(t *testing.T) {
	fx := newFixture(t, Config{}, Deps{})
	fx.strat.signal = openSignal()
	require.NoError(t, fx.router.SetActiveExchange("binance", "manual"))

	res := fx.router.ExecuteStrategy(context.Background(), "BTCUSDT", "1h")
	require.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "binance", res.Exchange)
}

func TestExecuteOpenEntryFailsPlacesNoStop(t *testing.T) {
	fx := newFixture(t, Config{}, Deps{})
	fx.strat.signal = openSignal()
	for _, c := range fx.conns {
		c.placeErr = failAll
	}

	res := fx.router.ExecuteStrategy(context.Background(), "BTCUSDT", "1h")
	assert.Equal(t, StatusError, res.Status)
	for _, call := range fx.log.list() {
		assert.NotContains(t, call, "STOP_MARKET")
	}
	assert.Zero(t, fx.router.positions.Len())
	assert.Equal(t, 1, fx.router.OrderCount())
}

func TestExecuteOpenStopFailsCancelsEntry(t *testing.T) {
	fx := newFixture(t, Config{}, Deps{})
	fx.strat.signal = openSignal()
	fx.conns["bybit"].placeErr = failType(common.OrderTypeStopMarket)

	res := fx.router.ExecuteStrategy(context.Background(), "BTCUSDT", "1h")
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Message, "stop loss")
	assert.Equal(t, []string{
		"bybit:klines:BTCUSDT",
		"bybit:place:MARKET",
		"bybit:place:STOP_MARKET",
		"bybit:cancel:bybit-1",
	}, fx.log.list())
	assert.Zero(t, fx.router.positions.Len())
	assert.Nil(t, fx.strat.positions["BTCUSDT"])
}

func TestExecuteOpenBlockedByGuard(t *testing.T) {
	guard := risk.NewGuard(risk.Config{MaxDrawdownPct: 10, MaxExposurePct: 50})
	fx := newFixture(t, Config{}, Deps{Guard: guard})
	fx.strat.signal = openSignal()
	fx.router.positions.Put(context.Background(), state.Position{Symbol: "ETHUSDT", Side: common.PositionLong, Size: 10, EntryPrice: 50, Exchange: "bybit"})

	res := fx.router.ExecuteStrategy(context.Background(), "BTCUSDT", "1h")
	assert.Equal(t, StatusWarning, res.Status)
	assert.NotEmpty(t, res.Message)
	assert.Zero(t, fx.router.OrderCount())
}

func TestExecuteCloseWhenFlat(t *testing.T) {
	fx := newFixture(t, Config{}, Deps{})
	fx.strat.signal = strategy.Signal{Action: strategy.ActionClose, Reason: strategy.ReasonTrendReversal}

	res := fx.router.ExecuteStrategy(context.Background(), "BTCUSDT", "1h")
	assert.Equal(t, StatusWarning, res.Status)
	assert.Zero(t, fx.router.OrderCount())
}

func seedPosition(fx *fixture, exchange string) {
	fx.router.positions.Put(context.Background(), state.Position{
		Symbol: "BTCUSDT", Side: common.PositionLong, Size: 2, EntryPrice: 100,
		StopLoss: 95, StopOrderID: "stop-1", EntryOrderID: "entry-1", Exchange: exchange,
	})
}

func TestExecuteClose(t *testing.T) {
	fx := newFixture(t, Config{}, Deps{})
	seedPosition(fx, "okx")
	fx.strat.signal = strategy.Signal{Action: strategy.ActionClose, Side: common.PositionLong, Size: 2}

	res := fx.router.ExecuteStrategy(context.Background(), "BTCUSDT", "1h")
	require.Equal(t, StatusSuccess, res.Status, res.Message)
	require.NotNil(t, res.ExitOrder)
	assert.True(t, res.ExitOrder.ReduceOnly)
	assert.Equal(t, common.SideSell, res.ExitOrder.Side)
	assert.Equal(t, []string{"bybit:klines:BTCUSDT", "okx:place:MARKET", "okx:cancel:stop-1"}, fx.log.list())
	assert.Zero(t, fx.router.positions.Len())
}

func TestExecuteCloseExitFailsKeepsPosition(t *testing.T) {
	fx := newFixture(t, Config{}, Deps{})
	seedPosition(fx, "bybit")
	fx.conns["bybit"].placeErr = failAll
	fx.strat.signal = strategy.Signal{Action: strategy.ActionClose}

	res := fx.router.ExecuteStrategy(context.Background(), "BTCUSDT", "1h")
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, 1, fx.router.positions.Len())
	for _, call := range fx.log.list() {
		assert.NotContains(t, call, "okx:place")
	}
}

func TestExecuteUpdateStop(t *testing.T) {
	fx := newFixture(t, Config{}, Deps{})
	seedPosition(fx, "bybit")
	fx.conns["bybit"].updateID = "stop-2"
	fx.strat.signal = strategy.Signal{Action: strategy.ActionUpdateStop, StopLoss: 99, Reason: strategy.ReasonTrailingStop}

	res := fx.router.ExecuteStrategy(context.Background(), "BTCUSDT", "1h")
	require.Equal(t, StatusSuccess, res.Status, res.Message)

	pos, ok := fx.router.positions.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 99.0, pos.StopLoss)
	assert.Equal(t, "stop-2", pos.StopOrderID)
	assert.Equal(t, 99.0, fx.strat.positions["BTCUSDT"].StopLoss)
}

func TestExecuteUpdateStopWarnings(t *testing.T) {
	fx := newFixture(t, Config{}, Deps{})
	fx.strat.signal = strategy.Signal{Action: strategy.ActionUpdateStop, StopLoss: 99}

	res := fx.router.ExecuteStrategy(context.Background(), "BTCUSDT", "1h")
	assert.Equal(t, StatusWarning, res.Status)

	fx.router.positions.Put(context.Background(), state.Position{Symbol: "BTCUSDT", Side: common.PositionLong, Size: 1, EntryPrice: 100, Exchange: "bybit"})
	res = fx.router.ExecuteStrategy(context.Background(), "BTCUSDT", "1h")
	assert.Equal(t, StatusWarning, res.Status)
	assert.Zero(t, fx.router.OrderCount())
}

func TestExecuteWaitAndHold(t *testing.T) {
	fx := newFixture(t, Config{}, Deps{})
	for _, sig := range []strategy.Signal{strategy.Wait(strategy.ReasonNoEntrySignal), strategy.Hold(strategy.ReasonNoExitSignal)} {
		fx.strat.signal = sig
		res := fx.router.ExecuteStrategy(context.Background(), "BTCUSDT", "1h")
		assert.Equal(t, StatusSuccess, res.Status)
		assert.Equal(t, sig.Action, res.Action)
		assert.Equal(t, sig.Reason, res.Reason)
	}
	assert.Zero(t, fx.router.OrderCount())
}

func TestExecuteMarketDataFailure(t *testing.T) {
	fx := newFixture(t, Config{}, Deps{})
	for _, c := range fx.conns {
		c.klinesErr = errBoom
	}
	fx.strat.signal = openSignal()

	res := fx.router.ExecuteStrategy(context.Background(), "BTCUSDT", "1h")
	assert.Equal(t, StatusError, res.Status)
	assert.Zero(t, fx.router.OrderCount())
}

func TestCheckHealthFailsOver(t *testing.T) {
	fx := newFixture(t, Config{}, Deps{})
	fx.conns["bybit"].unhealthy = true
	fx.conns["okx"].unhealthy = true

	health := fx.router.CheckHealth(context.Background())
	assert.False(t, health["bybit"])
	assert.True(t, health["binance"])
	assert.Equal(t, "binance", fx.router.ActiveExchange())

	st := fx.router.Status()
	require.Len(t, st.FailoverHistory, 1)
	assert.Equal(t, "Health check failed", st.FailoverHistory[0].Reason)
	assert.Equal(t, []string{"okx", "binance"}, st.FailoverExchanges)
}

func TestSetActiveExchangeUnknown(t *testing.T) {
	fx := newFixture(t, Config{}, Deps{})
	assert.ErrorIs(t, fx.router.SetActiveExchange("ftx", "manual"), ErrExchangeNotFound)
	assert.Equal(t, "bybit", fx.router.ActiveExchange())
}

func TestGetNewTradeCountConsumes(t *testing.T) {
	fx := newFixture(t, Config{}, Deps{})
	for i := 0; i < 3; i++ {
		fx.router.PlaceOrder(context.Background(), marketOrder(), "")
	}
	assert.Equal(t, 3, fx.router.GetNewTradeCount())
	assert.Equal(t, 0, fx.router.GetNewTradeCount())
}

func TestUpdatePerformanceMetricsDrawdownHighWaterMark(t *testing.T) {
	fx := newFixture(t, Config{}, Deps{})
	fx.router.PlaceOrder(context.Background(), marketOrder(), "")

	for _, eq := range []float64{1000, 1200, 900, 1100} {
		fx.conns["bybit"].equity = eq
		fx.router.UpdatePerformanceMetrics(context.Background())
	}
	st := fx.router.Status()
	assert.InDelta(t, 25.0, st.MaxDrawdownPct, 1e-9)
	assert.Equal(t, 1200.0, st.PeakEquity)
	assert.Equal(t, 1100.0, fx.env.equity)
	assert.Equal(t, 1, fx.env.trades)
	assert.InDelta(t, 25.0, fx.env.dd, 1e-9)
	assert.Zero(t, fx.router.GetNewTradeCount())
}

func TestUpdatePerformanceMetricsFallsThrough(t *testing.T) {
	fx := newFixture(t, Config{}, Deps{})
	fx.conns["bybit"].accountErr = errBoom
	fx.conns["okx"].equity = 800

	fx.router.UpdatePerformanceMetrics(context.Background())
	assert.Equal(t, 800.0, fx.env.equity)
}

func TestHandleEnvChange(t *testing.T) {
	fx := newFixture(t, Config{}, Deps{})
	seedPosition(fx, "bybit")
	require.NoError(t, fx.router.SetActiveExchange("okx", "manual"))
	sub, unsub := fx.bus.Subscribe(4, events.EventEnvSwitch)
	defer unsub()

	require.True(t, fx.router.HandleEnvChange(context.Background(), environment.Mainnet))
	assert.Equal(t, environment.Mainnet, fx.env.current)
	assert.Equal(t, []environment.Environment{environment.Testnet, environment.Mainnet}, fx.builds)
	assert.Zero(t, fx.router.positions.Len())
	assert.Equal(t, "bybit", fx.router.ActiveExchange())

	require.Len(t, fx.switches.rows, 1)
	assert.True(t, fx.switches.rows[0].Drained)
	assert.Equal(t, "mainnet", fx.switches.rows[0].To)

	ev := <-sub
	assert.Equal(t, events.EnvSwitch{From: "testnet", To: "mainnet", Drained: true}, ev.Payload)
}

func TestHandleEnvChangeNoops(t *testing.T) {
	fx := newFixture(t, Config{}, Deps{})

	assert.False(t, fx.router.HandleEnvChange(context.Background(), environment.Testnet))
	assert.False(t, fx.router.HandleEnvChange(context.Background(), ""))
	assert.Zero(t, fx.env.switches)
	assert.Len(t, fx.builds, 1)

	fx.env.promote = true
	assert.True(t, fx.router.HandleEnvChange(context.Background(), ""))
	assert.Equal(t, environment.Mainnet, fx.env.current)
}

func TestHandleEnvChangeRebuildFailureKeepsEnvironment(t *testing.T) {
	fx := newFixture(t, Config{}, Deps{})
	fx.buildErr = errBoom

	assert.False(t, fx.router.HandleEnvChange(context.Background(), environment.Mainnet))
	assert.Equal(t, environment.Testnet, fx.env.current)
	assert.Zero(t, fx.env.switches)
	assert.Empty(t, fx.switches.rows)

	res := fx.router.PlaceOrder(context.Background(), marketOrder(), "")
	require.True(t, res.OK())
	assert.Equal(t, "bybit", res.Exchange)

	// the next check retries and succeeds once the build does
	fx.buildErr = nil
	assert.True(t, fx.router.HandleEnvChange(context.Background(), environment.Mainnet))
	assert.Equal(t, environment.Mainnet, fx.env.current)
	assert.Equal(t, []environment.Environment{environment.Testnet, environment.Mainnet, environment.Mainnet}, fx.builds)
}

func TestHandleEnvChangeIncompleteDrain(t *testing.T) {
	tests := []struct {
		name         string
		requireDrain bool
		want         bool
		wantEnv      environment.Environment
	}{
		{name: "proceeds by default", want: true, wantEnv: environment.Mainnet},
		{name: "aborts when clean drain required", requireDrain: true, want: false, wantEnv: environment.Testnet},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, Config{RequireCleanDrain: tt.requireDrain}, Deps{})
			seedPosition(fx, "bybit")
			fx.conns["bybit"].placeErr = failAll

			assert.Equal(t, tt.want, fx.router.HandleEnvChange(context.Background(), environment.Mainnet))
			assert.Equal(t, tt.wantEnv, fx.env.current)
			if tt.want {
				require.Len(t, fx.switches.rows, 1)
				assert.False(t, fx.switches.rows[0].Drained)
			} else {
				assert.Empty(t, fx.switches.rows)
				assert.Equal(t, 1, fx.router.positions.Len())
			}
		})
	}
}

func TestCloseAllPositionsAggregates(t *testing.T) {
	fx := newFixture(t, Config{}, Deps{})
	ctx := context.Background()
	fx.router.positions.Put(ctx, state.Position{Symbol: "BTCUSDT", Side: common.PositionLong, Size: 1, EntryPrice: 100, Exchange: "bybit"})
	fx.router.positions.Put(ctx, state.Position{Symbol: "ETHUSDT", Side: common.PositionShort, Size: 1, EntryPrice: 10, Exchange: "okx"})
	fx.conns["bybit"].placeErr = failAll

	err := fx.router.CloseAllPositions(ctx)
	require.ErrorIs(t, err, ErrPartialFailure)
	assert.Contains(t, err.Error(), "BTCUSDT")

	_, stillOpen := fx.router.positions.Get("BTCUSDT")
	assert.True(t, stillOpen)
	_, ethOpen := fx.router.positions.Get("ETHUSDT")
	assert.False(t, ethOpen)
}

func TestSyncPosition(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, Config{}, Deps{})
	seedPosition(fx, "bybit")

	require.True(t, fx.router.SyncPosition(ctx, "BTCUSDT", 1.5))
	pos, _ := fx.router.positions.Get("BTCUSDT")
	assert.Equal(t, 1.5, pos.Size)
	assert.Equal(t, 1.5, fx.strat.positions["BTCUSDT"].Size)

	require.True(t, fx.router.SyncPosition(ctx, "BTCUSDT", 0))
	assert.Zero(t, fx.router.positions.Len())
	assert.Nil(t, fx.strat.positions["BTCUSDT"])
	assert.False(t, fx.router.SyncPosition(ctx, "BTCUSDT", 1))

	_, err := fx.router.ExchangePosition(ctx, "ftx", "BTCUSDT")
	assert.ErrorIs(t, err, ErrExchangeNotFound)
}
