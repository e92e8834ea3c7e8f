package order

import (
	"time"

	"github.com/PiotrGNN/kraken/pkg/exchanges/common"
)

// Kind is the router operation a record audits.
type Kind string

const (
	KindPlace  Kind = "place"
	KindUpdate Kind = "update"
	KindCancel Kind = "cancel"
)

// Status is the outcome of the audited operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Params is the request side of a record; exactly one of Request or
// Update is set for place and update records, cancels carry only Symbol.
type Params struct {
	Symbol  string               `json:"symbol"`
	Request *common.OrderRequest `json:"request,omitempty"`
	Update  *common.OrderUpdate  `json:"update,omitempty"`
}

// Record is an immutable audit entry for one router order operation.
type Record struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	Environment string            `json:"environment,omitempty"`
	Exchange    string            `json:"exchange"`
	OrderID     string            `json:"order_id,omitempty"`
	Kind        Kind              `json:"type"`
	Status      Status            `json:"status"`
	Failover    bool              `json:"failover"`
	Params      Params            `json:"params"`
	Response    *common.OrderInfo `json:"response,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Succeeded reports a success record.
func (r Record) Succeeded() bool { return r.Status == StatusSuccess }
