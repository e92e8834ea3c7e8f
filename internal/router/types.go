package router

import (
	"time"

	"github.com/PiotrGNN/kraken/internal/environment"
	"github.com/PiotrGNN/kraken/internal/monitor"
	"github.com/PiotrGNN/kraken/internal/state"
	"github.com/PiotrGNN/kraken/internal/strategy"
	"github.com/PiotrGNN/kraken/pkg/exchanges/common"
)

// ResultStatus is the outcome tag of every router result.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusWarning ResultStatus = "warning"
	StatusError   ResultStatus = "error"
)

// OrderResult is returned by PlaceOrder, UpdateOrder and CancelOrder.
type OrderResult struct {
	Status   ResultStatus      `json:"status"`
	Exchange string            `json:"exchange,omitempty"`
	Failover bool              `json:"failover,omitempty"`
	Order    *common.OrderInfo `json:"order,omitempty"`
	Message  string            `json:"message,omitempty"`
}

// OK reports success.
func (r OrderResult) OK() bool { return r.Status == StatusSuccess }

// OrderID is the venue id of the result's order, empty when unknown.
func (r OrderResult) OrderID() string {
	if r.Order == nil {
		return ""
	}
	return r.Order.OrderID
}

// Result is the outcome of one strategy tick for a symbol.
type Result struct {
	Status     ResultStatus        `json:"status"`
	Symbol     string              `json:"symbol"`
	Action     strategy.Action     `json:"action,omitempty"`
	Reason     string              `json:"reason,omitempty"`
	Message    string              `json:"message,omitempty"`
	Exchange   string              `json:"exchange,omitempty"`
	Side       common.PositionSide `json:"side,omitempty"`
	Size       float64             `json:"size,omitempty"`
	EntryPrice float64             `json:"entry_price,omitempty"`
	StopLoss   float64             `json:"stop_loss,omitempty"`
	EntryOrder *common.OrderInfo   `json:"entry_order,omitempty"`
	StopOrder  *common.OrderInfo   `json:"stop_order,omitempty"`
	ExitOrder  *common.OrderInfo   `json:"exit_order,omitempty"`
}

// FailoverEvent is one change of the active exchange.
type FailoverEvent struct {
	Time   time.Time `json:"time"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason"`
}

// Status is the router snapshot served by the API.
type Status struct {
	Environment       environment.Environment `json:"environment"`
	CurrentExchange   string                  `json:"current_exchange"`
	PrimaryExchange   string                  `json:"primary_exchange"`
	FailoverExchanges []string                `json:"failover_exchanges"`
	ExchangeHealth    map[string]bool         `json:"exchange_health"`
	FailoverHistory   []FailoverEvent         `json:"failover_history"`
	ActivePositions   []state.Position        `json:"active_positions"`
	OrderCount        int                     `json:"order_count"`
	PeakEquity        float64                 `json:"peak_equity"`
	CurrentEquity     float64                 `json:"current_equity"`
	MaxDrawdownPct    float64                 `json:"max_drawdown_pct"`
	Metrics           monitor.Snapshot        `json:"metrics"`
}
