package bybit

import (
	"strings"
	"time"

	"github.com/PiotrGNN/kraken/pkg/exchanges/common"
)

type orderAck struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

type tickerRow struct {
	Symbol       string `json:"symbol"`
	LastPrice    string `json:"lastPrice"`
	Bid1Price    string `json:"bid1Price"`
	Ask1Price    string `json:"ask1Price"`
	HighPrice24h string `json:"highPrice24h"`
	LowPrice24h  string `json:"lowPrice24h"`
	Volume24h    string `json:"volume24h"`
}

type orderRow struct {
	OrderID      string `json:"orderId"`
	OrderLinkID  string `json:"orderLinkId"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	OrderType    string `json:"orderType"`
	OrderStatus  string `json:"orderStatus"`
	Qty          string `json:"qty"`
	CumExecQty   string `json:"cumExecQty"`
	Price        string `json:"price"`
	AvgPrice     string `json:"avgPrice"`
	TriggerPrice string `json:"triggerPrice"`
	ReduceOnly   bool   `json:"reduceOnly"`
	UpdatedTime  string `json:"updatedTime"`
}

func (o orderRow) toInfo() common.OrderInfo {
	info := common.OrderInfo{
		OrderID:    o.OrderID,
		ClientID:   o.OrderLinkID,
		Symbol:     o.Symbol,
		Side:       common.Side(strings.ToUpper(o.Side)),
		Type:       common.OrderTypeMarket,
		Status:     mapStatus(o.OrderStatus),
		Qty:        common.ParseDecimal(o.Qty),
		FilledQty:  common.ParseDecimal(o.CumExecQty),
		Price:      common.ParseDecimal(o.Price),
		AvgPrice:   common.ParseDecimal(o.AvgPrice),
		StopPrice:  common.ParseDecimal(o.TriggerPrice),
		ReduceOnly: o.ReduceOnly,
		UpdatedAt:  time.UnixMilli(common.ParseMillis(o.UpdatedTime)),
	}
	switch {
	case info.StopPrice > 0:
		info.Type = common.OrderTypeStopMarket
	case strings.EqualFold(o.OrderType, "Limit"):
		info.Type = common.OrderTypeLimit
	}
	return info
}

type positionRow struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	AvgPrice      string `json:"avgPrice"`
	MarkPrice     string `json:"markPrice"`
	UnrealisedPnl string `json:"unrealisedPnl"`
	Leverage      string `json:"leverage"`
}

func (p positionRow) toInfo() common.PositionInfo {
	info := common.PositionInfo{
		Symbol:        p.Symbol,
		Size:          common.ParseDecimal(p.Size),
		EntryPrice:    common.ParseDecimal(p.AvgPrice),
		MarkPrice:     common.ParseDecimal(p.MarkPrice),
		UnrealizedPnL: common.ParseDecimal(p.UnrealisedPnl),
		Leverage:      common.ParseDecimal(p.Leverage),
	}
	if info.Size > 0 {
		switch p.Side {
		case "Buy":
			info.Side = common.PositionLong
		case "Sell":
			info.Side = common.PositionShort
		}
	}
	return info
}

type walletRow struct {
	TotalEquity           string `json:"totalEquity"`
	TotalAvailableBalance string `json:"totalAvailableBalance"`
	TotalPerpUPL          string `json:"totalPerpUPL"`
	Coin                  []struct {
		Coin                string `json:"coin"`
		Equity              string `json:"equity"`
		AvailableToWithdraw string `json:"availableToWithdraw"`
		UnrealisedPnl       string `json:"unrealisedPnl"`
	} `json:"coin"`
}

// toInfo prefers the unified totals and falls back to the USDT coin row
// for classic contract accounts.
func (w walletRow) toInfo() common.AccountInfo {
	info := common.AccountInfo{
		Currency:      "USDT",
		Equity:        common.ParseDecimal(w.TotalEquity),
		Available:     common.ParseDecimal(w.TotalAvailableBalance),
		UnrealizedPnL: common.ParseDecimal(w.TotalPerpUPL),
	}
	if info.Equity > 0 {
		return info
	}
	for _, c := range w.Coin {
		if c.Coin == "USDT" {
			info.Equity = common.ParseDecimal(c.Equity)
			info.Available = common.ParseDecimal(c.AvailableToWithdraw)
			info.UnrealizedPnL = common.ParseDecimal(c.UnrealisedPnl)
		}
	}
	return info
}

func mapStatus(s string) common.OrderStatus {
	switch s {
	case "New":
		return common.StatusNew
	case "PartiallyFilled":
		return common.StatusPartial
	case "Filled":
		return common.StatusFilled
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return common.StatusCanceled
	case "Rejected":
		return common.StatusRejected
	case "Untriggered", "Triggered":
		return common.StatusUntriggered
	default:
		return common.StatusUnknown
	}
}
