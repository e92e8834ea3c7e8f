package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/PiotrGNN/kraken/internal/bot"
	"github.com/PiotrGNN/kraken/internal/environment"
	"github.com/PiotrGNN/kraken/internal/events"
	"github.com/PiotrGNN/kraken/internal/order"
	"github.com/PiotrGNN/kraken/internal/router"
)

const testSecret = "test-secret"

type fakeTrading struct {
	mu         sync.Mutex
	active     string
	limit      int
	envChanges []environment.Environment
}

func (f *fakeTrading) Status() router.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return router.Status{Environment: environment.Testnet, CurrentExchange: f.active, ExchangeHealth: map[string]bool{"bybit": true}}
}

func (f *fakeTrading) Orders(n int) []order.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = n
	return []order.Record{{ID: "01", Exchange: "bybit", Kind: order.KindPlace, Status: order.StatusSuccess}}
}

func (f *fakeTrading) SetActiveExchange(name, _ string) error {
	if name != "bybit" && name != "binance" {
		return router.ErrExchangeNotFound
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = name
	return nil
}

func (f *fakeTrading) HandleEnvChange(_ context.Context, target environment.Environment) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.envChanges = append(f.envChanges, target)
	return true
}

func (f *fakeTrading) lastLimit() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.limit
}

func (f *fakeTrading) changes() []environment.Environment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]environment.Environment(nil), f.envChanges...)
}

type fakeEnv struct{ env environment.Environment }

func (e fakeEnv) Current() environment.Environment { return e.env }

func (e fakeEnv) GetStatus() environment.Status {
	return environment.Status{Environment: e.env, AutoSwitchEnabled: true, TestnetDurationHours: 48}
}

type fakeRunner struct {
	mu      sync.Mutex
	running bool
}

func (r *fakeRunner) Start(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return bot.ErrAlreadyRunning
	}
	r.running = true
	return nil
}

func (r *fakeRunner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return bot.ErrNotRunning
	}
	r.running = false
	return nil
}

func (r *fakeRunner) Status() bot.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return bot.Status{Running: r.running}
}

type testServer struct {
	*httptest.Server
	trading *fakeTrading
	bus     *events.Bus
	token   string
}

func newTestAPIServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{trading: &fakeTrading{active: "bybit"}, bus: events.NewBus()}
	server := NewServer(Deps{
		Bus:       ts.bus,
		Trading:   ts.trading,
		Env:       fakeEnv{env: environment.Testnet},
		Bot:       &fakeRunner{},
		JWTSecret: testSecret,
	})
	ts.Server = httptest.NewServer(server.Router)
	t.Cleanup(ts.Close)

	token, err := GenerateToken("tester", testSecret, time.Hour)
	require.NoError(t, err)
	ts.token = token
	return ts
}

func doJSONRequest(t *testing.T, client *http.Client, method, url, token string, payload any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(payload))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthAndEnv(t *testing.T) {
	ts := newTestAPIServer(t)

	var health map[string]any
	require.Equal(t, http.StatusOK, doJSONRequest(t, ts.Client(), http.MethodGet, ts.URL+"/health", "", nil, &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "bybit", health["exchange"])

	var env environment.Status
	require.Equal(t, http.StatusOK, doJSONRequest(t, ts.Client(), http.MethodGet, ts.URL+"/env", "", nil, &env))
	assert.Equal(t, environment.Testnet, env.Environment)
	assert.Equal(t, 48, env.TestnetDurationHours)
}

func TestAuthRequired(t *testing.T) {
	ts := newTestAPIServer(t)
	wrong, err := GenerateToken("tester", "other-secret", time.Hour)
	require.NoError(t, err)
	expired, err := GenerateToken("tester", testSecret, -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		code  string
	}{
		{name: "missing", token: "", code: "MISSING_TOKEN"},
		{name: "wrong secret", token: wrong, code: "INVALID_TOKEN"},
		{name: "expired", token: expired, code: "INVALID_TOKEN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp struct {
				Code string `json:"code"`
			}
			status := doJSONRequest(t, ts.Client(), http.MethodPost, ts.URL+"/env/mainnet", tt.token, nil, &resp)
			assert.Equal(t, http.StatusUnauthorized, status)
			assert.Equal(t, tt.code, resp.Code)
		})
	}
	assert.Empty(t, ts.trading.changes())
}

func TestSwitchEnv(t *testing.T) {
	ts := newTestAPIServer(t)

	var resp map[string]any
	status := doJSONRequest(t, ts.Client(), http.MethodPost, ts.URL+"/env/testnet", ts.token, nil, &resp)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "no_change", resp["status"])

	status = doJSONRequest(t, ts.Client(), http.MethodPost, ts.URL+"/env/bogus", ts.token, nil, &resp)
	assert.Equal(t, http.StatusBadRequest, status)

	status = doJSONRequest(t, ts.Client(), http.MethodPost, ts.URL+"/env/mainnet", ts.token, nil, &resp)
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "switching", resp["status"])
	require.Eventually(t, func() bool { return len(ts.trading.changes()) == 1 }, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		return doJSONRequest(t, ts.Client(), http.MethodPost, ts.URL+"/env/toggle", ts.token, nil, nil) == http.StatusAccepted
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(ts.trading.changes()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []environment.Environment{environment.Mainnet, environment.Mainnet}, ts.trading.changes())
}

func TestOrdersLimit(t *testing.T) {
	ts := newTestAPIServer(t)

	var orders []order.Record
	require.Equal(t, http.StatusOK, doJSONRequest(t, ts.Client(), http.MethodGet, ts.URL+"/orders?limit=9999", "", nil, &orders))
	assert.Len(t, orders, 1)
	assert.Equal(t, 500, ts.trading.lastLimit())

	require.Equal(t, http.StatusOK, doJSONRequest(t, ts.Client(), http.MethodGet, ts.URL+"/orders", "", nil, &orders))
	assert.Equal(t, 100, ts.trading.lastLimit())
}

func TestStartStop(t *testing.T) {
	ts := newTestAPIServer(t)
	c := ts.Client()

	assert.Equal(t, http.StatusOK, doJSONRequest(t, c, http.MethodPost, ts.URL+"/start", ts.token, nil, nil))
	assert.Equal(t, http.StatusConflict, doJSONRequest(t, c, http.MethodPost, ts.URL+"/start", ts.token, nil, nil))
	assert.Equal(t, http.StatusOK, doJSONRequest(t, c, http.MethodPost, ts.URL+"/stop", ts.token, nil, nil))
	assert.Equal(t, http.StatusConflict, doJSONRequest(t, c, http.MethodPost, ts.URL+"/stop", ts.token, nil, nil))
}

func TestSetExchange(t *testing.T) {
	ts := newTestAPIServer(t)

	var resp struct {
		Code string `json:"code"`
	}
	assert.Equal(t, http.StatusNotFound, doJSONRequest(t, ts.Client(), http.MethodPost, ts.URL+"/exchange/ftx", ts.token, nil, &resp))
	assert.Equal(t, "EXCHANGE_NOT_FOUND", resp.Code)

	assert.Equal(t, http.StatusOK, doJSONRequest(t, ts.Client(), http.MethodPost, ts.URL+"/exchange/binance", ts.token, nil, nil))

	var status map[string]json.RawMessage
	require.Equal(t, http.StatusOK, doJSONRequest(t, ts.Client(), http.MethodGet, ts.URL+"/status", "", nil, &status))
	assert.Contains(t, status, "router")
	assert.Contains(t, status, "environment")
	assert.Contains(t, status, "bot")
	assert.NotContains(t, status, "tasks")

	var rs router.Status
	require.NoError(t, json.Unmarshal(status["router"], &rs))
	assert.Equal(t, "binance", rs.CurrentExchange)
}

func TestRequestID(t *testing.T) {
	ts := newTestAPIServer(t)

	resp, err := ts.Client().Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "abc")
	resp, err = ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "abc", resp.Header.Get("X-Request-ID"))
}

func TestRateLimit(t *testing.T) {
	lim := newIPLimiter(1, 2, time.Hour)
	assert.True(t, lim.get("1.2.3.4").Allow())
	assert.True(t, lim.get("1.2.3.4").Allow())
	assert.False(t, lim.get("1.2.3.4").Allow())
	assert.True(t, lim.get("5.6.7.8").Allow())
}

func TestWebsocketStreamsEvents(t *testing.T) {
	ts := newTestAPIServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?topics=failover"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Publish until the subscription is in place.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ts.bus.Publish(events.EventOrder, "ignored")
				ts.bus.Publish(events.EventFailover, events.Failover{From: "bybit", To: "binance", Reason: "test"})
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env struct {
		Type    events.Event    `json:"type"`
		Payload events.Failover `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, events.EventFailover, env.Type)
	assert.Equal(t, "binance", env.Payload.To)
}

func TestHealthServer(t *testing.T) {
	h := NewHealthServer()
	ctx := context.Background()

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := h.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.Status
	}
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(RouterService))

	h.Update(true)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(RouterService))
	h.Update(false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(RouterService))
}
