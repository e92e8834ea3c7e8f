// Package binance implements common.Connector for Binance USDT-M futures.
package binance

import (
	"context"
	"errors"
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
	mainnetURL = "https://fapi.binance.com"
	testnetURL = "https://testnet.binancefuture.com"

	errCodeUnknownOrder = -2013
	errCodeCancelReject = -2011
)

var errMissingCredentials = fmt.Errorf("binance: API key/secret required: %w", common.ErrUnauthorized)

// Config holds Binance USDT-M futures credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	BaseURL    string // overrides the testnet/mainnet default when set
	RecvWindow int64  // ms
}

// Client handles Binance USDT-M futures.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
	retry       common.RetryPolicy
	log         *logrus.Entry
}

// New creates a new USDT-M futures client.
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
	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry:      common.DefaultRetryPolicy,
		log: logrus.WithFields(logrus.Fields{
			"component": "connector",
			"exchange":  "binance",
			"testnet":   cfg.Testnet,
		}),
	}
	c.timeSync = common.NewTimeSync("binance", c.GetServerTime)
	c.rateLimiter = common.NewRateLimiter("binance", 20, 2400, time.Minute) // 2400 weight/min for futures
	c.log.WithField("base_url", base).Info("binance connector initialized")
	return c
}

// Name implements common.Connector.
func (c *Client) Name() string { return "binance" }

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

// GetServerTime fetches futures server time.
func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	body, err := c.doPublic(ctx, "/fapi/v1/time", nil)
	if err != nil {
		return 0, err
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("decode server time: %w", err)
	}
	return res.ServerTime, nil
}

func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, req)
}

// doSigned handles signing and sending requests.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, errMissingCredentials
	}
	// Copy so retried calls re-sign with a fresh timestamp.
	signed := url.Values{}
	for k, v := range params {
		signed[k] = append([]string(nil), v...)
	}
	signed.Set("timestamp", strconv.FormatInt(c.now(), 10))
	signed.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	payload := signed.Encode()

	var (
		req *http.Request
		err error
	)
	encoded := payload + "&signature=" + sign(payload, c.cfg.APISecret)
	endpoint := c.baseURL + path
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	return c.send(ctx, req)
}

func (c *Client) send(ctx context.Context, req *http.Request) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 300 {
		apiErr := &common.APIError{Exchange: "binance", Status: res.StatusCode, Message: string(body)}
		var payload struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Msg != "" {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Msg
		}
		return nil, apiErr
	}
	return body, nil
}

// isUnknownOrder reports whether err is Binance's "order does not exist".
func isUnknownOrder(err error) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr) && (apiErr.Code == errCodeUnknownOrder || apiErr.Code == errCodeCancelReject)
}
