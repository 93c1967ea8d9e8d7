package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventAccountAdded, 1)
	all, unsubAll := bus.SubscribeAll(4)

	bus.Publish(EventAccountAdded, AccountPayload{AccountID: "a1", ExchangeID: "binance"})
	bus.Publish(EventSessionEnded, nil)

	select {
	case got := <-ch:
		assert.Equal(t, AccountPayload{AccountID: "a1", ExchangeID: "binance"}, got)
	case <-time.After(time.Second):
		t.Fatal("expected account event")
	}

	env := <-all
	assert.Equal(t, EventAccountAdded, env.Event)
	env = <-all
	assert.Equal(t, EventSessionEnded, env.Event)

	unsub()
	unsub()
	unsubAll()
	_, open := <-ch
	assert.False(t, open)
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventOrderPlaced, 1)
	defer unsub()

	bus.Publish(EventOrderPlaced, 1)
	bus.Publish(EventOrderPlaced, 2)

	require.Len(t, ch, 1)
	assert.Equal(t, 1, <-ch)
}

func TestNilBusPublish(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Publish(EventVaultReset, nil) })
}
