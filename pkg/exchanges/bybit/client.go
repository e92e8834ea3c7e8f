// Package bybit implements common.Connector for Bybit V5 linear futures.
package bybit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/PiotrGNN/kraken/pkg/exchanges/common"
)

const (
	mainnetURL = "https://api.bybit.com"
	testnetURL = "https://api-testnet.bybit.com"

	category = "linear"

	retOrderNotExists   = 110001
	retInvalidAPIKey    = 10003
	retPermissionDenied = 10005
	retInvalidSign      = 10004
	retRateLimit        = 10006
)

var errMissingCredentials = fmt.Errorf("bybit: API key/secret required: %w", common.ErrUnauthorized)

// Config holds Bybit credentials.
type Config struct {
	APIKey      string
	APISecret   string
	Testnet     bool
	BaseURL     string // overrides the testnet/mainnet default when set
	RecvWindow  int64  // ms
	AccountType string // UNIFIED (default) or CONTRACT
}

// Client talks to the Bybit V5 REST API.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
	retry       common.RetryPolicy
	log         *logrus.Entry
}

// New creates a Bybit client.
func New(cfg Config) *Client {
	base := mainnetURL
	if cfg.Testnet {
		base = testnetURL
	}
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	if cfg.AccountType == "" {
		cfg.AccountType = "UNIFIED"
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry:      common.DefaultRetryPolicy,
		log: logrus.WithFields(logrus.Fields{
			"component": "connector",
			"exchange":  "bybit",
			"testnet":   cfg.Testnet,
		}),
	}
	c.timeSync = common.NewTimeSync("bybit", c.GetServerTime)
	c.rateLimiter = common.NewRateLimiter("bybit", 10, 120, 5*time.Second)
	c.log.WithField("base_url", base).Info("bybit connector initialized")
	return c
}

// Name implements common.Connector.
func (c *Client) Name() string { return "bybit" }

// StartTimeSync keeps the signing clock aligned with the venue until ctx ends.
func (c *Client) StartTimeSync(ctx context.Context) {
	c.timeSync.Start(ctx)
}

func (c *Client) now() int64 {
	if c.timeSync != nil && c.timeSync.Offset() != 0 {
		return c.timeSync.Now()
	}
	return time.Now().UnixMilli()
}

// GetServerTime returns the venue clock in unix milliseconds.
func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	var res struct {
		TimeNano string `json:"timeNano"`
	}
	if err := c.get(ctx, "/v5/market/time", nil, false, &res); err != nil {
		return 0, err
	}
	nanos, err := strconv.ParseInt(res.TimeNano, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode server time: %w", err)
	}
	return nanos / int64(time.Millisecond), nil
}

type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

func (c *Client) get(ctx context.Context, path string, params url.Values, signed bool, out any) error {
	query := params.Encode()
	u := c.baseURL + path
	if query != "" {
		u += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if signed {
		if err := c.sign(req, query); err != nil {
			return err
		}
	}
	return c.send(ctx, req, out)
}

func (c *Client) post(ctx context.Context, path string, body map[string]any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.sign(req, string(payload)); err != nil {
		return err
	}
	return c.send(ctx, req, out)
}

// sign sets the V5 auth headers; payload is the query string for GET and
// the JSON body for POST.
func (c *Client) sign(req *http.Request, payload string) error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return errMissingCredentials
	}
	ts := strconv.FormatInt(c.now(), 10)
	recv := strconv.FormatInt(c.cfg.RecvWindow, 10)
	h := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	h.Write([]byte(ts + c.cfg.APIKey + recv + payload))

	req.Header.Set("X-BAPI-API-KEY", c.cfg.APIKey)
	req.Header.Set("X-BAPI-SIGN", hex.EncodeToString(h.Sum(nil)))
	req.Header.Set("X-BAPI-SIGN-TYPE", "2")
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", recv)
	return nil
}

func (c *Client) send(ctx context.Context, req *http.Request, out any) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if limit, err := strconv.Atoi(res.Header.Get("X-Bapi-Limit")); err == nil {
		if remaining, err := strconv.Atoi(res.Header.Get("X-Bapi-Limit-Status")); err == nil {
			c.rateLimiter.UpdateFromHeader(strconv.Itoa(limit - remaining))
		}
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode >= 300 {
		return &common.APIError{Exchange: "bybit", Status: res.StatusCode, Message: string(body)}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if env.RetCode != 0 {
		return retError(env)
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func retError(env envelope) error {
	apiErr := &common.APIError{Exchange: "bybit", Code: env.RetCode, Message: env.RetMsg}
	switch env.RetCode {
	case retOrderNotExists:
		return fmt.Errorf("%w: %s", common.ErrOrderNotFound, env.RetMsg)
	case retInvalidAPIKey, retInvalidSign, retPermissionDenied:
		return fmt.Errorf("%w: %w", common.ErrUnauthorized, apiErr)
	case retRateLimit:
		apiErr.Status = http.StatusTooManyRequests
	}
	return apiErr
}
