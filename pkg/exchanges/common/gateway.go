package common

import "context"

// Connector is the uniform capability surface every exchange adapter exposes.
// Implementations must be safe for concurrent use.
type Connector interface {
	Name() string

	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	GetTicker(ctx context.Context, symbol string) (Ticker, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (OrderInfo, error)
	UpdateOrder(ctx context.Context, orderID string, upd OrderUpdate) (OrderInfo, error)
	CancelOrder(ctx context.Context, orderID, symbol string) error
	// GetOrder returns ErrOrderNotFound when the exchange does not know the id.
	GetOrder(ctx context.Context, orderID, symbol string) (OrderInfo, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]OrderInfo, error)

	GetPosition(ctx context.Context, symbol string) (PositionInfo, error)
	GetAccountInfo(ctx context.Context) (AccountInfo, error)

	// IsHealthy never returns an error; any failure reads as unhealthy.
	IsHealthy(ctx context.Context) bool
}
