// Package paper is an in-memory futures venue that fills market orders at
// the last known price. It backs dry runs and stands in as a failover leg
// when no second live venue is configured.
package paper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/PiotrGNN/kraken/pkg/exchanges/common"
)

var (
	ErrUnhealthy  = errors.New("paper: exchange marked unhealthy")
	ErrNoPrice    = errors.New("paper: no price for symbol")
	ErrReduceOnly = errors.New("paper: reduce-only order would increase position")
	ErrNotOpen    = errors.New("paper: order is not open")
)

// MarketData supplies real prices; when nil the exchange generates a
// random walk per symbol.
type MarketData interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]common.Candle, error)
	GetTicker(ctx context.Context, symbol string) (common.Ticker, error)
}

// Config tunes the simulation.
type Config struct {
	Name           string
	InitialBalance float64
	FeeRate        float64 // decimal, e.g. 0.0004 = 4 bps
	SlippageBps    float64 // basis points applied against the taker
	StartPrice     float64 // random walk seed price
	Step           float64 // random walk step size
	Seed           int64
}

type position struct {
	side       common.PositionSide
	qty        decimal.Decimal
	entryPrice decimal.Decimal
}

// Exchange implements common.Connector in memory.
type Exchange struct {
	cfg  Config
	feed MarketData
	log  *logrus.Entry

	mu        sync.Mutex
	balance   decimal.Decimal
	positions map[string]*position
	orders    map[string]*common.OrderInfo
	prices    map[string]float64
	candles   map[string][]common.Candle
	healthy   bool
	seq       int
	rng       *rand.Rand
}

var _ common.Connector = (*Exchange)(nil)

// New builds a paper exchange.
func New(cfg Config, feed MarketData) *Exchange {
	if cfg.Name == "" {
		cfg.Name = "paper"
	}
	if cfg.InitialBalance == 0 {
		cfg.InitialBalance = 10000
	}
	if cfg.StartPrice == 0 {
		cfg.StartPrice = 100
	}
	if cfg.Step == 0 {
		cfg.Step = 0.5
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Exchange{
		cfg:       cfg,
		feed:      feed,
		log:       logrus.WithFields(logrus.Fields{"component": "connector", "exchange": cfg.Name}),
		balance:   decimal.NewFromFloat(cfg.InitialBalance),
		positions: make(map[string]*position),
		orders:    make(map[string]*common.OrderInfo),
		prices:    make(map[string]float64),
		candles:   make(map[string][]common.Candle),
		healthy:   true,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Name implements common.Connector.
func (e *Exchange) Name() string { return e.cfg.Name }

// SetHealthy toggles the health probe and makes every call fail while false.
func (e *Exchange) SetHealthy(ok bool) {
	e.mu.Lock()
	e.healthy = ok
	e.mu.Unlock()
}

// SetCandles replaces the synthetic series for symbol.
func (e *Exchange) SetCandles(symbol string, candles []common.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candles[symbol] = append([]common.Candle(nil), candles...)
	if n := len(candles); n > 0 {
		e.setPriceLocked(symbol, candles[n-1].Close)
	}
}

// SetPrice moves the mark price and fires any stop orders it crosses.
func (e *Exchange) SetPrice(symbol string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setPriceLocked(symbol, price)
}

func (e *Exchange) setPriceLocked(symbol string, price float64) {
	e.prices[symbol] = price
	for _, o := range e.orders {
		if o.Symbol != symbol || o.Status != common.StatusUntriggered || !crossed(o, price) {
			continue
		}
		if err := e.fillLocked(o, price); err != nil {
			o.Status = common.StatusRejected
			e.log.WithError(err).WithField("order_id", o.OrderID).Warn("stop fill rejected")
		}
	}
}

func crossed(o *common.OrderInfo, price float64) bool {
	sellTrigger := o.Side == common.SideSell
	if o.Type == common.OrderTypeTakeProfitMarket {
		sellTrigger = !sellTrigger
	}
	if sellTrigger {
		return price <= o.StopPrice
	}
	return price >= o.StopPrice
}

func (e *Exchange) check() error {
	if !e.healthy {
		return ErrUnhealthy
	}
	return nil
}

// GetKlines returns feed candles or the synthetic walk, oldest first.
func (e *Exchange) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]common.Candle, error) {
	e.mu.Lock()
	if err := e.check(); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	feed := e.feed
	e.mu.Unlock()

	if feed != nil {
		candles, err := feed.GetKlines(ctx, symbol, interval, limit)
		if err != nil {
			return nil, err
		}
		if n := len(candles); n > 0 {
			e.SetPrice(symbol, candles[n-1].Close)
		}
		return candles, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	series := e.extendLocked(symbol, limit)
	if limit > 0 && len(series) > limit {
		series = series[len(series)-limit:]
	}
	return append([]common.Candle(nil), series...), nil
}

// extendLocked grows the random walk by one bar, or up to limit bars.
func (e *Exchange) extendLocked(symbol string, limit int) []common.Candle {
	series := e.candles[symbol]
	want := len(series) + 1
	if limit > want {
		want = limit
	}
	price := e.cfg.StartPrice
	ts := time.Now().Add(-time.Duration(want) * time.Minute).UnixMilli()
	if n := len(series); n > 0 {
		price = series[n-1].Close
		ts = series[n-1].Timestamp
	}
	for len(series) < want {
		open := price
		price = math.Max(open+(e.rng.Float64()*2-1)*e.cfg.Step, e.cfg.Step)
		ts += time.Minute.Milliseconds()
		series = append(series, common.Candle{
			Timestamp: ts,
			Open:      open,
			High:      math.Max(open, price) + e.rng.Float64()*e.cfg.Step/2,
			Low:       math.Max(math.Min(open, price)-e.rng.Float64()*e.cfg.Step/2, 0),
			Close:     price,
			Volume:    1 + e.rng.Float64()*10,
		})
	}
	e.candles[symbol] = series
	e.setPriceLocked(symbol, price)
	return series
}

// GetTicker returns the last price as a flat ticker.
func (e *Exchange) GetTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	e.mu.Lock()
	if err := e.check(); err != nil {
		e.mu.Unlock()
		return common.Ticker{}, err
	}
	feed := e.feed
	e.mu.Unlock()

	if feed != nil {
		t, err := feed.GetTicker(ctx, symbol)
		if err == nil {
			e.SetPrice(symbol, t.Last)
		}
		return t, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	price, ok := e.prices[symbol]
	if !ok {
		return common.Ticker{}, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}
	return common.Ticker{
		Symbol: symbol, Last: price, Bid: price, Ask: price,
		High: price, Low: price, Timestamp: time.Now().UnixMilli(),
	}, nil
}

// PlaceOrder fills MARKET orders immediately and rests trigger and LIMIT orders.
func (e *Exchange) PlaceOrder(_ context.Context, req common.OrderRequest) (common.OrderInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(); err != nil {
		return common.OrderInfo{}, err
	}
	if req.Qty <= 0 {
		return common.OrderInfo{}, fmt.Errorf("paper: invalid quantity %v", req.Qty)
	}

	e.seq++
	o := &common.OrderInfo{
		OrderID:    e.cfg.Name + "-" + strconv.Itoa(e.seq),
		ClientID:   req.ClientID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Type:       req.Type,
		Status:     common.StatusNew,
		Qty:        req.Qty,
		Price:      req.Price,
		StopPrice:  req.StopPrice,
		ReduceOnly: req.ReduceOnly,
		UpdatedAt:  time.Now(),
	}

	switch req.Type {
	case common.OrderTypeMarket:
		price, ok := e.prices[req.Symbol]
		if !ok {
			return common.OrderInfo{}, fmt.Errorf("%w: %s", ErrNoPrice, req.Symbol)
		}
		if err := e.fillLocked(o, price); err != nil {
			return common.OrderInfo{}, err
		}
	case common.OrderTypeStopMarket, common.OrderTypeTakeProfitMarket:
		if req.StopPrice <= 0 {
			return common.OrderInfo{}, errors.New("paper: stop price required")
		}
		o.Status = common.StatusUntriggered
	case common.OrderTypeLimit:
		if req.Price <= 0 {
			return common.OrderInfo{}, errors.New("paper: limit price required")
		}
	default:
		return common.OrderInfo{}, fmt.Errorf("%w: order type %s", common.ErrNotSupported, req.Type)
	}

	e.orders[o.OrderID] = o
	return *o, nil
}

// fillLocked executes o at price with slippage and fees.
func (e *Exchange) fillLocked(o *common.OrderInfo, price float64) error {
	qty := decimal.NewFromFloat(o.Qty)
	pos := e.positions[o.Symbol]
	if o.ReduceOnly {
		if pos == nil || pos.side.ExitSide() != o.Side {
			return ErrReduceOnly
		}
		if qty.GreaterThan(pos.qty) {
			qty = pos.qty
		}
	}

	slip := e.cfg.SlippageBps / 10000 * e.rng.Float64()
	if o.Side == common.SideBuy {
		price *= 1 + slip
	} else {
		price *= 1 - slip
	}
	px := decimal.NewFromFloat(price)
	fee := px.Mul(qty).Mul(decimal.NewFromFloat(e.cfg.FeeRate))
	e.balance = e.balance.Sub(fee)

	side := common.PositionLong
	if o.Side == common.SideSell {
		side = common.PositionShort
	}
	switch {
	case pos == nil:
		e.positions[o.Symbol] = &position{side: side, qty: qty, entryPrice: px}
	case pos.side == side:
		total := pos.qty.Mul(pos.entryPrice).Add(qty.Mul(px))
		pos.qty = pos.qty.Add(qty)
		pos.entryPrice = total.Div(pos.qty)
	default:
		closed := decimal.Min(qty, pos.qty)
		e.balance = e.balance.Add(pnl(pos, px, closed))
		pos.qty = pos.qty.Sub(closed)
		rest := qty.Sub(closed)
		if pos.qty.IsZero() {
			delete(e.positions, o.Symbol)
			if rest.IsPositive() {
				e.positions[o.Symbol] = &position{side: side, qty: rest, entryPrice: px}
			}
		}
	}

	filled, _ := qty.Float64()
	avg, _ := px.Float64()
	o.Status = common.StatusFilled
	o.FilledQty = filled
	o.AvgPrice = avg
	o.UpdatedAt = time.Now()
	e.log.WithFields(logrus.Fields{
		"order_id": o.OrderID,
		"symbol":   o.Symbol,
		"side":     o.Side,
		"qty":      filled,
		"price":    avg,
	}).Debug("paper fill")
	return nil
}

func pnl(pos *position, price, qty decimal.Decimal) decimal.Decimal {
	diff := price.Sub(pos.entryPrice)
	if pos.side == common.PositionShort {
		diff = diff.Neg()
	}
	return diff.Mul(qty)
}

// UpdateOrder amends an open order.
func (e *Exchange) UpdateOrder(_ context.Context, orderID string, upd common.OrderUpdate) (common.OrderInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(); err != nil {
		return common.OrderInfo{}, err
	}
	o, ok := e.orders[orderID]
	if !ok {
		return common.OrderInfo{}, fmt.Errorf("%w: %s", common.ErrOrderNotFound, orderID)
	}
	if !isOpen(o) {
		return common.OrderInfo{}, fmt.Errorf("%w: %s is %s", ErrNotOpen, orderID, o.Status)
	}
	if upd.Qty > 0 {
		o.Qty = upd.Qty
	}
	if upd.Price > 0 {
		o.Price = upd.Price
	}
	if upd.StopPrice > 0 {
		o.StopPrice = upd.StopPrice
	}
	o.UpdatedAt = time.Now()
	return *o, nil
}

// CancelOrder cancels an open order.
func (e *Exchange) CancelOrder(_ context.Context, orderID, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(); err != nil {
		return err
	}
	o, ok := e.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrOrderNotFound, orderID)
	}
	if !isOpen(o) {
		return fmt.Errorf("%w: %s is %s", ErrNotOpen, orderID, o.Status)
	}
	o.Status = common.StatusCanceled
	o.UpdatedAt = time.Now()
	return nil
}

// GetOrder returns a copy of the order.
func (e *Exchange) GetOrder(_ context.Context, orderID, _ string) (common.OrderInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(); err != nil {
		return common.OrderInfo{}, err
	}
	o, ok := e.orders[orderID]
	if !ok {
		return common.OrderInfo{}, fmt.Errorf("%w: %s", common.ErrOrderNotFound, orderID)
	}
	return *o, nil
}

// GetOpenOrders lists orders that can still execute.
func (e *Exchange) GetOpenOrders(_ context.Context, symbol string) ([]common.OrderInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(); err != nil {
		return nil, err
	}
	var out []common.OrderInfo
	for _, o := range e.orders {
		if isOpen(o) && (symbol == "" || o.Symbol == symbol) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func isOpen(o *common.OrderInfo) bool {
	return o.Status == common.StatusNew || o.Status == common.StatusUntriggered || o.Status == common.StatusPartial
}

// GetPosition reports the net position for symbol.
func (e *Exchange) GetPosition(_ context.Context, symbol string) (common.PositionInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(); err != nil {
		return common.PositionInfo{}, err
	}
	pos, ok := e.positions[symbol]
	if !ok {
		return common.PositionInfo{Symbol: symbol}, nil
	}
	mark := decimal.NewFromFloat(e.prices[symbol])
	size, _ := pos.qty.Float64()
	entry, _ := pos.entryPrice.Float64()
	upl, _ := pnl(pos, mark, pos.qty).Float64()
	markF, _ := mark.Float64()
	return common.PositionInfo{
		Symbol:        symbol,
		Side:          pos.side,
		Size:          size,
		EntryPrice:    entry,
		MarkPrice:     markF,
		UnrealizedPnL: upl,
		Leverage:      1,
	}, nil
}

// GetAccountInfo marks open positions to the last price.
func (e *Exchange) GetAccountInfo(_ context.Context) (common.AccountInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(); err != nil {
		return common.AccountInfo{}, err
	}
	upl := decimal.Zero
	for sym, pos := range e.positions {
		upl = upl.Add(pnl(pos, decimal.NewFromFloat(e.prices[sym]), pos.qty))
	}
	bal, _ := e.balance.Float64()
	u, _ := upl.Float64()
	return common.AccountInfo{
		Currency:      "USDT",
		Equity:        bal + u,
		Available:     bal,
		UnrealizedPnL: u,
	}, nil
}

// IsHealthy implements common.Connector.
func (e *Exchange) IsHealthy(context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.healthy
}
