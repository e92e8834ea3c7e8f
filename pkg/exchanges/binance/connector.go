package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/PiotrGNN/kraken/pkg/exchanges/common"
)

var _ common.Connector = (*Client)(nil)

// GetKlines fetches recent candles, oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]common.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	return common.Retry(ctx, c.retry, func(ctx context.Context) ([]common.Candle, error) {
		body, err := c.doPublic(ctx, "/fapi/v1/klines", params)
		if err != nil {
			return nil, err
		}
		var raw [][]any
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("decode klines: %w", err)
		}
		candles := make([]common.Candle, 0, len(raw))
		for _, item := range raw {
			if len(item) < 6 {
				continue
			}
			candles = append(candles, common.Candle{
				Timestamp: common.ParseMillis(item[0]),
				Open:      common.ParseDecimal(item[1]),
				High:      common.ParseDecimal(item[2]),
				Low:       common.ParseDecimal(item[3]),
				Close:     common.ParseDecimal(item[4]),
				Volume:    common.ParseDecimal(item[5]),
			})
		}
		return candles, nil
	})
}

// GetTicker merges the 24h statistics with the top of book.
func (c *Client) GetTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	return common.Retry(ctx, c.retry, func(ctx context.Context) (common.Ticker, error) {
		body, err := c.doPublic(ctx, "/fapi/v1/ticker/24hr", params)
		if err != nil {
			return common.Ticker{}, err
		}
		var stats ticker24h
		if err := json.Unmarshal(body, &stats); err != nil {
			return common.Ticker{}, fmt.Errorf("decode ticker: %w", err)
		}
		body, err = c.doPublic(ctx, "/fapi/v1/ticker/bookTicker", params)
		if err != nil {
			return common.Ticker{}, err
		}
		var book bookTicker
		if err := json.Unmarshal(body, &book); err != nil {
			return common.Ticker{}, fmt.Errorf("decode book ticker: %w", err)
		}
		return common.Ticker{
			Symbol:    symbol,
			Last:      common.ParseDecimal(stats.LastPrice),
			Bid:       common.ParseDecimal(book.BidPrice),
			Ask:       common.ParseDecimal(book.AskPrice),
			High:      common.ParseDecimal(stats.HighPrice),
			Low:       common.ParseDecimal(stats.LowPrice),
			Volume:    common.ParseDecimal(stats.Volume),
			Timestamp: stats.CloseTime,
		}, nil
	})
}

// PlaceOrder submits a new order. It is never retried.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderInfo, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("type", strings.ToUpper(string(req.Type)))
	params.Set("quantity", common.FormatDecimal(req.Qty))

	switch req.Type {
	case common.OrderTypeLimit:
		params.Set("price", common.FormatDecimal(req.Price))
		params.Set("timeInForce", string(toBinanceTIF(req.TimeInForce)))
	case common.OrderTypeStopMarket, common.OrderTypeTakeProfitMarket:
		params.Set("stopPrice", common.FormatDecimal(req.StopPrice))
		params.Set("workingType", "MARK_PRICE")
	}
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	params.Set("newOrderRespType", "RESULT")

	body, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return common.OrderInfo{}, err
	}
	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderInfo{}, fmt.Errorf("decode order: %w", err)
	}
	return resp.toInfo(), nil
}

// UpdateOrder amends price/qty of a LIMIT order in place. Binance cannot
// amend trigger orders, so stop orders are cancelled and re-submitted; the
// returned OrderInfo then carries the new order id.
func (c *Client) UpdateOrder(ctx context.Context, orderID string, upd common.OrderUpdate) (common.OrderInfo, error) {
	current, err := c.GetOrder(ctx, orderID, upd.Symbol)
	if err != nil {
		return common.OrderInfo{}, err
	}

	qty := current.Qty
	if upd.Qty > 0 {
		qty = upd.Qty
	}

	if current.Type != common.OrderTypeLimit {
		stop := current.StopPrice
		if upd.StopPrice > 0 {
			stop = upd.StopPrice
		}
		if err := c.CancelOrder(ctx, orderID, upd.Symbol); err != nil {
			return common.OrderInfo{}, fmt.Errorf("replace %s: cancel: %w", orderID, err)
		}
		return c.PlaceOrder(ctx, common.OrderRequest{
			Symbol:     upd.Symbol,
			Side:       current.Side,
			Type:       current.Type,
			Qty:        qty,
			StopPrice:  stop,
			ReduceOnly: current.ReduceOnly,
		})
	}

	price := current.Price
	if upd.Price > 0 {
		price = upd.Price
	}
	params := url.Values{}
	params.Set("symbol", upd.Symbol)
	params.Set("orderId", orderID)
	params.Set("side", string(current.Side))
	params.Set("quantity", common.FormatDecimal(qty))
	params.Set("price", common.FormatDecimal(price))
	body, err := c.doSigned(ctx, http.MethodPut, "/fapi/v1/order", params)
	if err != nil {
		return common.OrderInfo{}, err
	}
	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderInfo{}, fmt.Errorf("decode order: %w", err)
	}
	return resp.toInfo(), nil
}

// CancelOrder cancels an order by symbol and ID.
func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	_, err := c.doSigned(ctx, http.MethodDelete, "/fapi/v1/order", params)
	if isUnknownOrder(err) {
		return fmt.Errorf("%w: %s", common.ErrOrderNotFound, orderID)
	}
	return err
}

// GetOrder queries a single order.
func (c *Client) GetOrder(ctx context.Context, orderID, symbol string) (common.OrderInfo, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	return common.Retry(ctx, c.retry, func(ctx context.Context) (common.OrderInfo, error) {
		body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v1/order", params)
		if isUnknownOrder(err) {
			return common.OrderInfo{}, fmt.Errorf("%w: %s", common.ErrOrderNotFound, orderID)
		}
		if err != nil {
			return common.OrderInfo{}, err
		}
		var resp orderResp
		if err := json.Unmarshal(body, &resp); err != nil {
			return common.OrderInfo{}, fmt.Errorf("decode order: %w", err)
		}
		return resp.toInfo(), nil
	})
}

// GetOpenOrders returns open orders; symbol optional.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]common.OrderInfo, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	return common.Retry(ctx, c.retry, func(ctx context.Context) ([]common.OrderInfo, error) {
		body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v1/openOrders", params)
		if err != nil {
			return nil, err
		}
		var raw []orderResp
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("decode open orders: %w", err)
		}
		out := make([]common.OrderInfo, 0, len(raw))
		for _, o := range raw {
			out = append(out, o.toInfo())
		}
		return out, nil
	})
}

// GetPosition returns the one-way-mode position for symbol.
func (c *Client) GetPosition(ctx context.Context, symbol string) (common.PositionInfo, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	return common.Retry(ctx, c.retry, func(ctx context.Context) (common.PositionInfo, error) {
		body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/positionRisk", params)
		if err != nil {
			return common.PositionInfo{}, err
		}
		var raw []positionRisk
		if err := json.Unmarshal(body, &raw); err != nil {
			return common.PositionInfo{}, fmt.Errorf("decode positions: %w", err)
		}
		for _, p := range raw {
			if p.Symbol == symbol {
				return p.toInfo(), nil
			}
		}
		return common.PositionInfo{Symbol: symbol}, nil
	})
}

// GetAccountInfo returns margin-balance equity in USDT.
func (c *Client) GetAccountInfo(ctx context.Context) (common.AccountInfo, error) {
	return common.Retry(ctx, c.retry, func(ctx context.Context) (common.AccountInfo, error) {
		body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/account", nil)
		if err != nil {
			return common.AccountInfo{}, err
		}
		var acct accountResp
		if err := json.Unmarshal(body, &acct); err != nil {
			return common.AccountInfo{}, fmt.Errorf("decode account info: %w", err)
		}
		return common.AccountInfo{
			Currency:      "USDT",
			Equity:        common.ParseDecimal(acct.TotalMarginBalance),
			Available:     common.ParseDecimal(acct.AvailableBalance),
			UnrealizedPnL: common.ParseDecimal(acct.TotalUnrealizedProfit),
		}, nil
	})
}

// IsHealthy pings the REST endpoint.
func (c *Client) IsHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := c.doPublic(ctx, "/fapi/v1/ping", nil); err != nil {
		c.log.WithError(err).Warn("health check failed")
		return false
	}
	return true
}
