package state

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PiotrGNN/kraken/pkg/db"
	"github.com/PiotrGNN/kraken/pkg/exchanges/common"
)

var log = logrus.WithField("component", "state")

// Position is the router's record of an open position. A symbol holds at
// most one; an absent symbol is flat.
type Position struct {
	Symbol       string              `json:"symbol"`
	Side         common.PositionSide `json:"side"`
	Size         float64             `json:"size"`
	EntryPrice   float64             `json:"entry_price"`
	StopLoss     float64             `json:"stop_loss"`
	TakeProfit   float64             `json:"take_profit,omitempty"`
	StopOrderID  string              `json:"stop_order_id,omitempty"`
	EntryOrderID string              `json:"entry_order_id"`
	EntryTime    time.Time           `json:"entry_time"`
	Exchange     string              `json:"exchange"`
}

// Notional is |size| * entry price.
func (p Position) Notional() float64 { return math.Abs(p.Size) * p.EntryPrice }

// Book keeps an in-memory view of open positions while persisting to DB
// for durability.
type Book struct {
	mu        sync.RWMutex
	positions map[string]Position
	db        *db.Database
}

// NewBook creates a position book; database may be nil.
func NewBook(database *db.Database) *Book {
	return &Book{
		db:        database,
		positions: make(map[string]Position),
	}
}

// Load seeds in-memory state from DB on startup.
func (b *Book) Load(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	rows, err := b.db.ListActivePositions(ctx)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range rows {
		b.positions[r.Symbol] = Position{
			Symbol:       r.Symbol,
			Side:         common.PositionSide(r.Side),
			Size:         r.Size,
			EntryPrice:   r.EntryPrice,
			StopLoss:     r.StopLoss,
			TakeProfit:   r.TakeProfit,
			StopOrderID:  r.StopOrderID,
			EntryOrderID: r.EntryOrderID,
			EntryTime:    r.EntryTime,
			Exchange:     r.Exchange,
		}
	}
	log.WithField("positions", len(rows)).Info("positions restored")
	return nil
}

// Get returns the position for symbol.
func (b *Book) Get(symbol string) (Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[symbol]
	return p, ok
}

// Put creates or replaces the position for p.Symbol.
func (b *Book) Put(ctx context.Context, p Position) {
	b.mu.Lock()
	b.positions[p.Symbol] = p
	b.mu.Unlock()

	if b.db == nil {
		return
	}
	err := b.db.UpsertActivePosition(ctx, db.ActivePosition{
		Symbol:       p.Symbol,
		Side:         string(p.Side),
		Size:         p.Size,
		EntryPrice:   p.EntryPrice,
		StopLoss:     p.StopLoss,
		TakeProfit:   p.TakeProfit,
		StopOrderID:  p.StopOrderID,
		EntryOrderID: p.EntryOrderID,
		Exchange:     p.Exchange,
		EntryTime:    p.EntryTime,
	})
	if err != nil {
		log.WithError(err).WithField("symbol", p.Symbol).Warn("persist position failed")
	}
}

// Delete marks symbol flat.
func (b *Book) Delete(ctx context.Context, symbol string) {
	b.mu.Lock()
	delete(b.positions, symbol)
	b.mu.Unlock()

	if b.db == nil {
		return
	}
	if err := b.db.DeleteActivePosition(ctx, symbol); err != nil {
		log.WithError(err).WithField("symbol", symbol).Warn("delete position failed")
	}
}

// All returns a snapshot ordered by symbol.
func (b *Book) All() []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	res := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Symbol < res[j].Symbol })
	return res
}

// Len is the number of open positions.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}

// OpenNotional sums position notionals.
func (b *Book) OpenNotional() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var sum float64
	for _, p := range b.positions {
		sum += p.Notional()
	}
	return sum
}
