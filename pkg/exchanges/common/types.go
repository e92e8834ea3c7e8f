package common

import "time"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionFlat  PositionSide = ""
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// EntrySide is the order side that opens a position in this direction.
func (p PositionSide) EntrySide() Side {
	if p == PositionShort {
		return SideSell
	}
	return SideBuy
}

// ExitSide is the order side that reduces a position in this direction.
func (p PositionSide) ExitSide() Side {
	return p.EntrySide().Opposite()
}

// OrderType denotes the order types the router issues.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFFOK TimeInForce = "FOK" // Fill Or Kill
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew         OrderStatus = "NEW"
	StatusPartial     OrderStatus = "PARTIAL"
	StatusFilled      OrderStatus = "FILLED"
	StatusCanceled    OrderStatus = "CANCELED"
	StatusRejected    OrderStatus = "REJECTED"
	StatusExpired     OrderStatus = "EXPIRED"
	StatusUntriggered OrderStatus = "UNTRIGGERED"
	StatusUnknown     OrderStatus = "UNKNOWN"
)

// Candle is one OHLCV bar. Timestamp is the open time in unix milliseconds.
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Ticker is a 24h market snapshot.
type Ticker struct {
	Symbol    string  `json:"symbol"`
	Last      float64 `json:"last"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Volume    float64 `json:"volume"`
	Timestamp int64   `json:"timestamp"`
}

// OrderRequest captures an order intent to be sent to an exchange.
// Zero prices mean "not set".
type OrderRequest struct {
	Symbol      string      `json:"symbol"`
	Side        Side        `json:"side"`
	Type        OrderType   `json:"type"`
	Qty         float64     `json:"qty"`
	Price       float64     `json:"price,omitempty"`      // required for LIMIT
	StopPrice   float64     `json:"stop_price,omitempty"` // trigger for STOP_MARKET / TAKE_PROFIT_MARKET
	TimeInForce TimeInForce `json:"time_in_force,omitempty"`
	ReduceOnly  bool        `json:"reduce_only"`
	StopLoss    float64     `json:"stop_loss,omitempty"`
	TakeProfit  float64     `json:"take_profit,omitempty"`
	ClientID    string      `json:"client_id,omitempty"`
}

// OrderUpdate amends a resting order. Zero fields are left unchanged.
type OrderUpdate struct {
	Symbol     string  `json:"symbol"`
	Price      float64 `json:"price,omitempty"`
	Qty        float64 `json:"qty,omitempty"`
	StopPrice  float64 `json:"stop_price,omitempty"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
}

// OrderInfo is the normalized exchange view of an order.
type OrderInfo struct {
	OrderID    string      `json:"order_id"`
	ClientID   string      `json:"client_id,omitempty"`
	Symbol     string      `json:"symbol"`
	Side       Side        `json:"side"`
	Type       OrderType   `json:"type"`
	Status     OrderStatus `json:"status"`
	Qty        float64     `json:"qty"`
	FilledQty  float64     `json:"filled_qty"`
	Price      float64     `json:"price,omitempty"`
	AvgPrice   float64     `json:"avg_price,omitempty"`
	StopPrice  float64     `json:"stop_price,omitempty"`
	ReduceOnly bool        `json:"reduce_only"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// PositionInfo is the exchange view of a position; Side is flat when Size is zero.
type PositionInfo struct {
	Symbol        string       `json:"symbol"`
	Side          PositionSide `json:"side"`
	Size          float64      `json:"size"`
	EntryPrice    float64      `json:"entry_price"`
	MarkPrice     float64      `json:"mark_price"`
	UnrealizedPnL float64      `json:"unrealized_pnl"`
	Leverage      float64      `json:"leverage"`
}

// AccountInfo summarizes the margin account in quote currency.
type AccountInfo struct {
	Currency      string  `json:"currency"`
	Equity        float64 `json:"equity"`
	Available     float64 `json:"available"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}
