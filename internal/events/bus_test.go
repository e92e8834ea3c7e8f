package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusTopicFiltering(t *testing.T) {
	b := NewBus()
	orders, unsubOrders := b.Subscribe(4, EventOrder)
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()

	b.Publish(EventOrder, "o1")
	b.Publish(EventFailover, Failover{From: "bybit", To: "binance"})

	got := <-orders
	assert.Equal(t, EventOrder, got.Type)
	assert.Equal(t, "o1", got.Payload)
	assert.False(t, got.Time.IsZero())
	assert.Len(t, orders, 0)

	assert.Equal(t, EventOrder, (<-all).Type)
	assert.Equal(t, EventFailover, (<-all).Type)

	unsubOrders()
	unsubOrders()
	_, open := <-orders
	assert.False(t, open)
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(1, EventSignal)
	defer unsub()

	b.Publish(EventSignal, 1)
	b.Publish(EventSignal, 2)
	require.Len(t, ch, 1)
	assert.Equal(t, 1, (<-ch).Payload)
}

func TestNilBusPublish(t *testing.T) {
	var b *Bus
	assert.NotPanics(t, func() { b.Publish(EventOrder, nil) })
}
