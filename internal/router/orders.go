package router

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PiotrGNN/kraken/internal/events"
	"github.com/PiotrGNN/kraken/internal/order"
	"github.com/PiotrGNN/kraken/pkg/exchanges/common"
)

// PlaceOrder places req on exchange (primary when empty). When that
// exchange is missing or fails, every other configured exchange is tried
// in order. Exactly one order record is written per call.
func (r *Router) PlaceOrder(ctx context.Context, req common.OrderRequest, exchange string) OrderResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.placeLocked(ctx, req, exchange, true)
}

func (r *Router) placeLocked(ctx context.Context, req common.OrderRequest, exchange string, failover bool) OrderResult {
	start := r.now()
	name := r.resolve(exchange)
	params := order.Params{Symbol: req.Symbol, Request: &req}

	info, firstErr := r.placeOn(ctx, name, req)
	if firstErr == nil {
		return r.orderSuccess(ctx, start, order.KindPlace, name, false, params, info)
	}
	log.WithError(firstErr).WithFields(logrus.Fields{"exchange": name, "symbol": req.Symbol}).Error("place order failed")

	if failover {
		tried := 0
		for _, other := range r.ordered(name) {
			if other == name {
				continue
			}
			tried++
			log.WithField("exchange", other).Info("trying failover exchange")
			info, err := r.placeOn(ctx, other, req)
			if err != nil {
				log.WithError(err).WithField("exchange", other).Error("failover exchange failed")
				continue
			}
			return r.orderSuccess(ctx, start, order.KindPlace, other, true, params, info)
		}
		if tried > 0 {
			firstErr = fmt.Errorf("%w: %w", ErrAllExchangesFailed, firstErr)
		}
	}
	return r.orderFailure(ctx, start, order.KindPlace, name, "", params, firstErr)
}

func (r *Router) placeOn(ctx context.Context, name string, req common.OrderRequest) (common.OrderInfo, error) {
	conn, err := r.getExchangeLocked(name)
	if err != nil {
		return common.OrderInfo{}, err
	}
	var info common.OrderInfo
	err = protect(name, func() error {
		var err error
		info, err = conn.PlaceOrder(ctx, req)
		return err
	})
	return info, err
}

// UpdateOrder amends an order on the exchange that holds it. There is no
// failover: orders are not portable across exchanges.
func (r *Router) UpdateOrder(ctx context.Context, orderID string, upd common.OrderUpdate, exchange string) OrderResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateLocked(ctx, orderID, upd, exchange)
}

func (r *Router) updateLocked(ctx context.Context, orderID string, upd common.OrderUpdate, exchange string) OrderResult {
	start := r.now()
	name := r.resolve(exchange)
	params := order.Params{Symbol: upd.Symbol, Update: &upd}

	conn, err := r.getExchangeLocked(name)
	if err != nil {
		return r.orderFailure(ctx, start, order.KindUpdate, name, orderID, params, err)
	}
	var info common.OrderInfo
	err = protect(name, func() error {
		var err error
		info, err = conn.UpdateOrder(ctx, orderID, upd)
		return err
	})
	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{"exchange": name, "order_id": orderID}).Error("update order failed")
		return r.orderFailure(ctx, start, order.KindUpdate, name, orderID, params, err)
	}
	if info.OrderID == "" {
		info.OrderID = orderID
	}
	return r.orderSuccess(ctx, start, order.KindUpdate, name, false, params, info)
}

// CancelOrder cancels an order on the exchange that holds it, without failover.
func (r *Router) CancelOrder(ctx context.Context, orderID, symbol, exchange string) OrderResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelLocked(ctx, orderID, symbol, exchange)
}

func (r *Router) cancelLocked(ctx context.Context, orderID, symbol, exchange string) OrderResult {
	start := r.now()
	name := r.resolve(exchange)
	params := order.Params{Symbol: symbol}

	conn, err := r.getExchangeLocked(name)
	if err != nil {
		return r.orderFailure(ctx, start, order.KindCancel, name, orderID, params, err)
	}
	err = protect(name, func() error { return conn.CancelOrder(ctx, orderID, symbol) })
	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{"exchange": name, "order_id": orderID}).Error("cancel order failed")
		return r.orderFailure(ctx, start, order.KindCancel, name, orderID, params, err)
	}
	info := common.OrderInfo{OrderID: orderID, Symbol: symbol, Status: common.StatusCanceled}
	return r.orderSuccess(ctx, start, order.KindCancel, name, false, params, info)
}

func (r *Router) orderSuccess(ctx context.Context, start time.Time, kind order.Kind, exchange string, failover bool, params order.Params, info common.OrderInfo) OrderResult {
	r.record(ctx, start, order.Record{
		Exchange: exchange,
		OrderID:  info.OrderID,
		Kind:     kind,
		Status:   order.StatusSuccess,
		Failover: failover,
		Params:   params,
		Response: &info,
	})
	return OrderResult{Status: StatusSuccess, Exchange: exchange, Failover: failover, Order: &info}
}

func (r *Router) orderFailure(ctx context.Context, start time.Time, kind order.Kind, exchange, orderID string, params order.Params, err error) OrderResult {
	r.record(ctx, start, order.Record{
		Exchange: exchange,
		OrderID:  orderID,
		Kind:     kind,
		Status:   order.StatusFailed,
		Params:   params,
		Error:    err.Error(),
	})
	return OrderResult{Status: StatusError, Exchange: exchange, Message: err.Error()}
}

func (r *Router) record(ctx context.Context, start time.Time, rec order.Record) {
	rec.Environment = string(r.env.Current())
	rec = r.history.Append(ctx, rec)
	r.metrics.RecordOrder(ctx, rec.Exchange, string(rec.Kind), string(rec.Status), r.now().Sub(start))
	r.bus.Publish(events.EventOrder, rec)
}
