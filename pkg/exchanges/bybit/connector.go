package bybit

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PiotrGNN/kraken/pkg/exchanges/common"
)

var _ common.Connector = (*Client)(nil)

// GetKlines returns candles oldest first; Bybit lists them newest first.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]common.Candle, error) {
	params := url.Values{}
	params.Set("category", category)
	params.Set("symbol", symbol)
	params.Set("interval", toInterval(interval))
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	return common.Retry(ctx, c.retry, func(ctx context.Context) ([]common.Candle, error) {
		var res struct {
			List [][]string `json:"list"`
		}
		if err := c.get(ctx, "/v5/market/kline", params, false, &res); err != nil {
			return nil, err
		}
		candles := make([]common.Candle, 0, len(res.List))
		for _, row := range res.List {
			if len(row) < 6 {
				continue
			}
			candles = append(candles, common.Candle{
				Timestamp: common.ParseMillis(row[0]),
				Open:      common.ParseDecimal(row[1]),
				High:      common.ParseDecimal(row[2]),
				Low:       common.ParseDecimal(row[3]),
				Close:     common.ParseDecimal(row[4]),
				Volume:    common.ParseDecimal(row[5]),
			})
		}
		sort.Slice(candles, func(i, j int) bool { return candles[i].Timestamp < candles[j].Timestamp })
		return candles, nil
	})
}

// GetTicker returns the 24h ticker for symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	params := url.Values{}
	params.Set("category", category)
	params.Set("symbol", symbol)
	return common.Retry(ctx, c.retry, func(ctx context.Context) (common.Ticker, error) {
		var res struct {
			List []tickerRow `json:"list"`
		}
		if err := c.get(ctx, "/v5/market/tickers", params, false, &res); err != nil {
			return common.Ticker{}, err
		}
		if len(res.List) == 0 {
			return common.Ticker{}, fmt.Errorf("bybit: no ticker for %s", symbol)
		}
		t := res.List[0]
		return common.Ticker{
			Symbol:    symbol,
			Last:      common.ParseDecimal(t.LastPrice),
			Bid:       common.ParseDecimal(t.Bid1Price),
			Ask:       common.ParseDecimal(t.Ask1Price),
			High:      common.ParseDecimal(t.HighPrice24h),
			Low:       common.ParseDecimal(t.LowPrice24h),
			Volume:    common.ParseDecimal(t.Volume24h),
			Timestamp: time.Now().UnixMilli(),
		}, nil
	})
}

// PlaceOrder submits a new order. Stop orders are sent as conditional
// market orders triggered at StopPrice.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderInfo, error) {
	body := map[string]any{
		"category":    category,
		"symbol":      req.Symbol,
		"side":        toSide(req.Side),
		"orderType":   "Market",
		"qty":         common.FormatDecimal(req.Qty),
		"reduceOnly":  req.ReduceOnly,
		"timeInForce": string(common.TIFGTC),
	}
	switch req.Type {
	case common.OrderTypeLimit:
		body["orderType"] = "Limit"
		body["price"] = common.FormatDecimal(req.Price)
		if req.TimeInForce != "" {
			body["timeInForce"] = string(req.TimeInForce)
		}
	case common.OrderTypeStopMarket, common.OrderTypeTakeProfitMarket:
		body["triggerPrice"] = common.FormatDecimal(req.StopPrice)
		body["triggerDirection"] = triggerDirection(req.Side, req.Type)
		body["triggerBy"] = "MarkPrice"
		if req.ReduceOnly {
			body["closeOnTrigger"] = true
		}
	default:
		body["timeInForce"] = string(common.TIFIOC)
	}
	if req.StopLoss > 0 {
		body["stopLoss"] = common.FormatDecimal(req.StopLoss)
	}
	if req.TakeProfit > 0 {
		body["takeProfit"] = common.FormatDecimal(req.TakeProfit)
	}
	if req.ClientID != "" {
		body["orderLinkId"] = req.ClientID
	}

	var res orderAck
	if err := c.post(ctx, "/v5/order/create", body, &res); err != nil {
		return common.OrderInfo{}, err
	}
	return common.OrderInfo{
		OrderID:    res.OrderID,
		ClientID:   res.OrderLinkID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Type:       req.Type,
		Status:     common.StatusNew,
		Qty:        req.Qty,
		Price:      req.Price,
		StopPrice:  req.StopPrice,
		ReduceOnly: req.ReduceOnly,
		UpdatedAt:  time.Now(),
	}, nil
}

// UpdateOrder amends a resting or conditional order in place.
func (c *Client) UpdateOrder(ctx context.Context, orderID string, upd common.OrderUpdate) (common.OrderInfo, error) {
	body := map[string]any{
		"category": category,
		"symbol":   upd.Symbol,
		"orderId":  orderID,
	}
	if upd.Qty > 0 {
		body["qty"] = common.FormatDecimal(upd.Qty)
	}
	if upd.Price > 0 {
		body["price"] = common.FormatDecimal(upd.Price)
	}
	if upd.StopPrice > 0 {
		body["triggerPrice"] = common.FormatDecimal(upd.StopPrice)
	}
	if upd.StopLoss > 0 {
		body["stopLoss"] = common.FormatDecimal(upd.StopLoss)
	}
	if upd.TakeProfit > 0 {
		body["takeProfit"] = common.FormatDecimal(upd.TakeProfit)
	}

	var res orderAck
	if err := c.post(ctx, "/v5/order/amend", body, &res); err != nil {
		return common.OrderInfo{}, err
	}
	return c.GetOrder(ctx, res.OrderID, upd.Symbol)
}

// CancelOrder cancels an order by id.
func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string) error {
	body := map[string]any{
		"category": category,
		"symbol":   symbol,
		"orderId":  orderID,
	}
	return c.post(ctx, "/v5/order/cancel", body, nil)
}

// GetOrder looks the order up among open and recent orders.
func (c *Client) GetOrder(ctx context.Context, orderID, symbol string) (common.OrderInfo, error) {
	params := url.Values{}
	params.Set("category", category)
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	return common.Retry(ctx, c.retry, func(ctx context.Context) (common.OrderInfo, error) {
		var res struct {
			List []orderRow `json:"list"`
		}
		if err := c.get(ctx, "/v5/order/realtime", params, true, &res); err != nil {
			return common.OrderInfo{}, err
		}
		if len(res.List) == 0 {
			return common.OrderInfo{}, fmt.Errorf("%w: %s", common.ErrOrderNotFound, orderID)
		}
		return res.List[0].toInfo(), nil
	})
}

// GetOpenOrders returns open orders for symbol, or all USDT-settled ones.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]common.OrderInfo, error) {
	params := url.Values{}
	params.Set("category", category)
	if symbol != "" {
		params.Set("symbol", symbol)
	} else {
		params.Set("settleCoin", "USDT")
	}
	params.Set("openOnly", "0")
	return common.Retry(ctx, c.retry, func(ctx context.Context) ([]common.OrderInfo, error) {
		var res struct {
			List []orderRow `json:"list"`
		}
		if err := c.get(ctx, "/v5/order/realtime", params, true, &res); err != nil {
			return nil, err
		}
		out := make([]common.OrderInfo, 0, len(res.List))
		for _, o := range res.List {
			out = append(out, o.toInfo())
		}
		return out, nil
	})
}

// GetPosition returns the one-way-mode position for symbol.
func (c *Client) GetPosition(ctx context.Context, symbol string) (common.PositionInfo, error) {
	params := url.Values{}
	params.Set("category", category)
	params.Set("symbol", symbol)
	return common.Retry(ctx, c.retry, func(ctx context.Context) (common.PositionInfo, error) {
		var res struct {
			List []positionRow `json:"list"`
		}
		if err := c.get(ctx, "/v5/position/list", params, true, &res); err != nil {
			return common.PositionInfo{}, err
		}
		if len(res.List) == 0 {
			return common.PositionInfo{Symbol: symbol}, nil
		}
		return res.List[0].toInfo(), nil
	})
}

// GetAccountInfo returns wallet equity in USDT.
func (c *Client) GetAccountInfo(ctx context.Context) (common.AccountInfo, error) {
	params := url.Values{}
	params.Set("accountType", c.cfg.AccountType)
	return common.Retry(ctx, c.retry, func(ctx context.Context) (common.AccountInfo, error) {
		var res struct {
			List []walletRow `json:"list"`
		}
		if err := c.get(ctx, "/v5/account/wallet-balance", params, true, &res); err != nil {
			return common.AccountInfo{}, err
		}
		if len(res.List) == 0 {
			return common.AccountInfo{}, fmt.Errorf("bybit: empty wallet balance for %s", c.cfg.AccountType)
		}
		return res.List[0].toInfo(), nil
	})
}

// IsHealthy calls the public server-time endpoint.
func (c *Client) IsHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := c.GetServerTime(ctx); err != nil {
		c.log.WithError(err).Warn("health check failed")
		return false
	}
	return true
}

// toInterval maps 1m/15m/1h/4h/1d style intervals to Bybit's notation.
func toInterval(interval string) string {
	switch strings.ToLower(interval) {
	case "1d":
		return "D"
	case "1w":
		return "W"
	case "1mo", "1mth":
		return "M"
	}
	n := len(interval)
	if n < 2 {
		return interval
	}
	v, err := strconv.Atoi(interval[:n-1])
	if err != nil {
		return interval
	}
	switch interval[n-1] {
	case 'm':
		return strconv.Itoa(v)
	case 'h':
		return strconv.Itoa(v * 60)
	}
	return interval
}

func toSide(s common.Side) string {
	if s == common.SideSell {
		return "Sell"
	}
	return "Buy"
}

// triggerDirection is 1 when the trigger fires on a rising price, 2 on a
// falling one. A sell stop protects a long and fires on a fall.
func triggerDirection(side common.Side, typ common.OrderType) int {
	falling := side == common.SideSell
	if typ == common.OrderTypeTakeProfitMarket {
		falling = !falling
	}
	if falling {
		return 2
	}
	return 1
}
