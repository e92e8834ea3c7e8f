package router

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/PiotrGNN/kraken/internal/events"
	"github.com/PiotrGNN/kraken/pkg/exchanges/common"
)

// ExchangePosition asks exchange what it holds for symbol.
func (r *Router) ExchangePosition(ctx context.Context, exchange, symbol string) (common.PositionInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := r.getExchangeLocked(exchange)
	if err != nil {
		return common.PositionInfo{}, err
	}
	var info common.PositionInfo
	err = protect(exchange, func() error {
		var err error
		info, err = conn.GetPosition(ctx, symbol)
		return err
	})
	return info, err
}

// SyncPosition overwrites the booked size of symbol. A zero size removes
// the position, for when the exchange closed it (a triggered stop).
func (r *Router) SyncPosition(ctx context.Context, symbol string, size float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.positions.Get(symbol)
	if !ok {
		return false
	}
	fields := logrus.Fields{"symbol": symbol, "from": pos.Size, "to": size}
	if size <= 0 {
		r.positions.Delete(ctx, symbol)
		r.bus.Publish(events.EventPosition, events.PositionChange{
			Symbol: symbol, Action: "closed", Side: string(pos.Side), Size: pos.Size, Exchange: pos.Exchange,
		})
	} else {
		pos.Size = size
		r.positions.Put(ctx, pos)
	}
	r.syncStrategy(symbol)
	log.WithFields(fields).Info("position synced from exchange")
	return true
}
