package router

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/PiotrGNN/kraken/internal/events"
	"github.com/PiotrGNN/kraken/internal/indicators"
	"github.com/PiotrGNN/kraken/internal/risk"
	"github.com/PiotrGNN/kraken/internal/state"
	"github.com/PiotrGNN/kraken/internal/strategy"
	"github.com/PiotrGNN/kraken/pkg/exchanges/common"
)

// UpdateMarketData loads candles from the primary, then each other
// configured exchange until one answers, and pushes them into the
// strategy. It returns false only if every exchange fails.
func (r *Router) UpdateMarketData(ctx context.Context, symbol, timeframe string, limit int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateMarketDataLocked(ctx, symbol, timeframe, limit, r.cfg.Primary)
}

func (r *Router) updateMarketDataLocked(ctx context.Context, symbol, timeframe string, limit int, first string) bool {
	for _, name := range r.ordered(first) {
		conn := r.connectors[name]
		var candles []common.Candle
		err := protect(name, func() error {
			var err error
			candles, err = conn.GetKlines(ctx, symbol, timeframe, limit)
			return err
		})
		if err != nil {
			log.WithError(err).WithFields(logrus.Fields{"exchange": name, "symbol": symbol}).Error("fetch market data failed")
			continue
		}
		if r.strategy != nil {
			r.strategy.UpdateData(symbol, toSeries(candles))
		}
		log.WithFields(logrus.Fields{"exchange": name, "symbol": symbol, "candles": len(candles)}).Debug("market data updated")
		return true
	}
	return false
}

func toSeries(candles []common.Candle) indicators.Series {
	n := len(candles)
	s := indicators.Series{
		Timestamp: make([]int64, n),
		Open:      make([]float64, n),
		High:      make([]float64, n),
		Low:       make([]float64, n),
		Close:     make([]float64, n),
		Volume:    make([]float64, n),
	}
	for i, c := range candles {
		s.Timestamp[i] = c.Timestamp
		s.Open[i] = c.Open
		s.High[i] = c.High
		s.Low[i] = c.Low
		s.Close[i] = c.Close
		s.Volume[i] = c.Volume
	}
	return s
}

// UpdateAccountEquity reads equity with the same failover order and
// pushes it into the strategy.
func (r *Router) UpdateAccountEquity(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateAccountEquityLocked(ctx, r.cfg.Primary)
}

func (r *Router) updateAccountEquityLocked(ctx context.Context, first string) bool {
	for _, name := range r.ordered(first) {
		acct, err := r.accountOn(ctx, name)
		if err != nil {
			log.WithError(err).WithField("exchange", name).Error("fetch account equity failed")
			continue
		}
		r.currentEquity = acct.Equity
		if r.initialEquity == 0 {
			r.initialEquity = acct.Equity
		}
		if r.strategy != nil {
			r.strategy.UpdateEquity(acct.Equity)
		}
		return true
	}
	return false
}

func (r *Router) accountOn(ctx context.Context, name string) (common.AccountInfo, error) {
	conn := r.connectors[name]
	var acct common.AccountInfo
	err := protect(name, func() error {
		var err error
		acct, err = conn.GetAccountInfo(ctx)
		return err
	})
	return acct, err
}

// ExecuteStrategy runs one strategy tick for symbol on the active
// exchange and dispatches the resulting signal.
func (r *Router) ExecuteStrategy(ctx context.Context, symbol, timeframe string) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.strategy == nil {
		return Result{Status: StatusError, Symbol: symbol, Message: ErrNoStrategy.Error()}
	}
	first := r.active
	if !r.updateMarketDataLocked(ctx, symbol, timeframe, r.cfg.CandleLimit, first) {
		return Result{Status: StatusError, Symbol: symbol, Message: "failed to update market data"}
	}
	if !r.updateAccountEquityLocked(ctx, first) {
		log.WithField("equity", r.currentEquity).Warn("failed to update account equity, using last known value")
	}

	sig := r.strategy.GenerateSignal(symbol)
	log.WithFields(logrus.Fields{"symbol": symbol, "action": sig.Action, "reason": sig.Reason}).Info("strategy signal")

	switch sig.Action {
	case strategy.ActionOpen:
		return r.openLocked(ctx, symbol, sig, first)
	case strategy.ActionClose:
		return r.closeLocked(ctx, symbol)
	case strategy.ActionUpdateStop:
		return r.updateStopLocked(ctx, symbol, sig.StopLoss)
	default:
		return Result{Status: StatusSuccess, Symbol: symbol, Action: sig.Action, Reason: sig.Reason}
	}
}

func (r *Router) openLocked(ctx context.Context, symbol string, sig strategy.Signal, exchange string) Result {
	res := Result{Symbol: symbol, Action: strategy.ActionOpen, Reason: sig.Reason, Side: sig.Side, EntryPrice: sig.EntryPrice, StopLoss: sig.StopLoss}

	size := sig.Size
	if r.guard != nil {
		dec := r.guard.EvaluateOpen(size, sig.EntryPrice, risk.Account{
			Equity:       r.currentEquity,
			DrawdownPct:  r.maxDrawdownPct,
			OpenNotional: r.positions.OpenNotional(),
		})
		if !dec.Allowed {
			log.WithFields(logrus.Fields{"symbol": symbol, "reason": dec.Reason}).Warn("entry blocked by risk guard")
			res.Status, res.Message = StatusWarning, dec.Reason
			return res
		}
		size = dec.AdjustedSize
	}
	res.Size = size

	entry := r.placeLocked(ctx, common.OrderRequest{
		Symbol:   symbol,
		Side:     sig.Side.EntrySide(),
		Type:     common.OrderTypeMarket,
		Qty:      size,
		ClientID: uuid.NewString(),
	}, exchange, true)
	if !entry.OK() {
		res.Status, res.Message = StatusError, "failed to place entry order: "+entry.Message
		return res
	}
	res.Exchange, res.EntryOrder = entry.Exchange, entry.Order

	// The stop must sit on the venue that filled the entry.
	stop := r.placeLocked(ctx, common.OrderRequest{
		Symbol:     symbol,
		Side:       sig.Side.ExitSide(),
		Type:       common.OrderTypeStopMarket,
		Qty:        size,
		StopPrice:  sig.StopLoss,
		ReduceOnly: true,
		ClientID:   uuid.NewString(),
	}, entry.Exchange, false)
	if !stop.OK() {
		log.WithField("symbol", symbol).Error("stop order failed, cancelling entry")
		r.cancelLocked(ctx, entry.OrderID(), symbol, entry.Exchange)
		res.Status, res.Message = StatusError, "failed to place stop loss order: "+stop.Message
		return res
	}
	res.StopOrder = stop.Order

	entryPrice := sig.EntryPrice
	if entry.Order.AvgPrice > 0 {
		entryPrice = entry.Order.AvgPrice
	}
	pos := state.Position{
		Symbol:       symbol,
		Side:         sig.Side,
		Size:         size,
		EntryPrice:   entryPrice,
		StopLoss:     sig.StopLoss,
		TakeProfit:   sig.TakeProfit,
		StopOrderID:  stop.OrderID(),
		EntryOrderID: entry.OrderID(),
		EntryTime:    r.now().UTC(),
		Exchange:     entry.Exchange,
	}
	r.positions.Put(ctx, pos)
	r.syncStrategy(symbol)
	r.bus.Publish(events.EventPosition, events.PositionChange{
		Symbol: symbol, Action: "opened", Side: string(pos.Side), Size: size,
		Price: entryPrice, StopLoss: pos.StopLoss, Exchange: pos.Exchange,
	})

	res.Status, res.EntryPrice = StatusSuccess, entryPrice
	return res
}

func (r *Router) closeLocked(ctx context.Context, symbol string) Result {
	pos, ok := r.positions.Get(symbol)
	if !ok {
		log.WithField("symbol", symbol).Warn("no active position found")
		return Result{Status: StatusWarning, Symbol: symbol, Action: strategy.ActionClose, Message: "no active position found for " + symbol}
	}
	res := Result{Symbol: symbol, Action: strategy.ActionClose, Side: pos.Side, Size: pos.Size, Exchange: pos.Exchange}
	exit, err := r.exitLocked(ctx, pos)
	if err != nil {
		res.Status, res.Message = StatusError, err.Error()
		return res
	}
	res.Status, res.ExitOrder = StatusSuccess, exit.Order
	return res
}

// exitLocked closes pos with a reduce-only market order on its venue,
// then cancels its stop and removes it from the book.
func (r *Router) exitLocked(ctx context.Context, pos state.Position) (OrderResult, error) {
	exit := r.placeLocked(ctx, common.OrderRequest{
		Symbol:     pos.Symbol,
		Side:       pos.Side.ExitSide(),
		Type:       common.OrderTypeMarket,
		Qty:        pos.Size,
		ReduceOnly: true,
		ClientID:   uuid.NewString(),
	}, pos.Exchange, false)
	if !exit.OK() {
		return exit, fmt.Errorf("failed to close position %s: %s", pos.Symbol, exit.Message)
	}
	if pos.StopOrderID != "" {
		r.cancelLocked(ctx, pos.StopOrderID, pos.Symbol, pos.Exchange)
	}
	r.positions.Delete(ctx, pos.Symbol)
	r.syncStrategy(pos.Symbol)

	price := 0.0
	if exit.Order != nil {
		price = exit.Order.AvgPrice
	}
	r.bus.Publish(events.EventPosition, events.PositionChange{
		Symbol: pos.Symbol, Action: "closed", Side: string(pos.Side), Size: pos.Size, Price: price, Exchange: pos.Exchange,
	})
	return exit, nil
}

func (r *Router) updateStopLocked(ctx context.Context, symbol string, stopLoss float64) Result {
	pos, ok := r.positions.Get(symbol)
	if !ok {
		return Result{Status: StatusWarning, Symbol: symbol, Action: strategy.ActionUpdateStop, Message: "no active position found for " + symbol}
	}
	if pos.StopOrderID == "" {
		return Result{Status: StatusWarning, Symbol: symbol, Action: strategy.ActionUpdateStop, Message: "no stop order id found for " + symbol}
	}
	res := Result{Symbol: symbol, Action: strategy.ActionUpdateStop, Side: pos.Side, StopLoss: stopLoss, Exchange: pos.Exchange}

	upd := r.updateLocked(ctx, pos.StopOrderID, common.OrderUpdate{Symbol: symbol, StopPrice: stopLoss}, pos.Exchange)
	if !upd.OK() {
		res.Status, res.Message = StatusError, "failed to update stop loss: "+upd.Message
		return res
	}
	pos.StopLoss = stopLoss
	if id := upd.OrderID(); id != "" {
		pos.StopOrderID = id // venues that cancel-and-replace return a new id
	}
	r.positions.Put(ctx, pos)
	r.syncStrategy(symbol)
	r.bus.Publish(events.EventPosition, events.PositionChange{
		Symbol: symbol, Action: "stop_moved", Side: string(pos.Side), Size: pos.Size, StopLoss: stopLoss, Exchange: pos.Exchange,
	})

	res.Status, res.StopOrder = StatusSuccess, upd.Order
	return res
}
