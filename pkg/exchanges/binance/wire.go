package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/PiotrGNN/kraken/pkg/exchanges/common"
)

type orderResp struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Price         string `json:"price"`
	AvgPrice      string `json:"avgPrice"`
	StopPrice     string `json:"stopPrice"`
	ReduceOnly    bool   `json:"reduceOnly"`
	UpdateTime    int64  `json:"updateTime"`
}

func (o orderResp) toInfo() common.OrderInfo {
	return common.OrderInfo{
		OrderID:    strconv.FormatInt(o.OrderID, 10),
		ClientID:   o.ClientOrderID,
		Symbol:     o.Symbol,
		Side:       common.Side(strings.ToUpper(o.Side)),
		Type:       common.OrderType(strings.ToUpper(o.Type)),
		Status:     mapStatus(o.Status),
		Qty:        common.ParseDecimal(o.OrigQty),
		FilledQty:  common.ParseDecimal(o.ExecutedQty),
		Price:      common.ParseDecimal(o.Price),
		AvgPrice:   common.ParseDecimal(o.AvgPrice),
		StopPrice:  common.ParseDecimal(o.StopPrice),
		ReduceOnly: o.ReduceOnly,
		UpdatedAt:  time.UnixMilli(o.UpdateTime),
	}
}

type positionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Leverage         string `json:"leverage"`
}

func (p positionRisk) toInfo() common.PositionInfo {
	amt := common.ParseDecimal(p.PositionAmt)
	info := common.PositionInfo{
		Symbol:        p.Symbol,
		EntryPrice:    common.ParseDecimal(p.EntryPrice),
		MarkPrice:     common.ParseDecimal(p.MarkPrice),
		UnrealizedPnL: common.ParseDecimal(p.UnRealizedProfit),
		Leverage:      common.ParseDecimal(p.Leverage),
	}
	switch {
	case amt > 0:
		info.Side, info.Size = common.PositionLong, amt
	case amt < 0:
		info.Side, info.Size = common.PositionShort, -amt
	}
	return info
}

type accountResp struct {
	TotalWalletBalance    string `json:"totalWalletBalance"`
	TotalMarginBalance    string `json:"totalMarginBalance"`
	TotalUnrealizedProfit string `json:"totalUnrealizedProfit"`
	AvailableBalance      string `json:"availableBalance"`
}

type ticker24h struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	HighPrice string `json:"highPrice"`
	LowPrice  string `json:"lowPrice"`
	Volume    string `json:"volume"`
	CloseTime int64  `json:"closeTime"`
}

type bookTicker struct {
	BidPrice string `json:"bidPrice"`
	AskPrice string `json:"askPrice"`
}

func mapStatus(s string) common.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW":
		return common.StatusNew
	case "PARTIALLY_FILLED":
		return common.StatusPartial
	case "FILLED":
		return common.StatusFilled
	case "CANCELED":
		return common.StatusCanceled
	case "REJECTED":
		return common.StatusRejected
	case "EXPIRED":
		return common.StatusExpired
	default:
		return common.StatusUnknown
	}
}

func toBinanceTIF(tif common.TimeInForce) common.TimeInForce {
	if tif == "" {
		return common.TIFGTC
	}
	return tif
}

func sign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}
