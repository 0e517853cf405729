package bus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	var got []any
	sub := b.Subscribe("tick", func(e Event) { got = append(got, e.Data) })
	require.True(t, sub.IsActive())
	require.Equal(t, "tick", sub.EventType())

	b.Publish(NewEvent("tick", "test", 1))
	b.Publish(NewEvent("other", "test", 2))
	b.Publish(NewEvent("tick", "test", 3))
	require.Equal(t, []any{1, 3}, got)
}

func TestDeliveryOrderPriorityThenSubscription(t *testing.T) {
	b := New()
	var order []string
	b.SubscribePriority("e", 0, func(Event) { order = append(order, "low1") })
	b.SubscribePriority("e", 10, func(Event) { order = append(order, "high") })
	b.SubscribePriority("e", 0, func(Event) { order = append(order, "low2") })
	b.SubscribePriority("e", -5, func(Event) { order = append(order, "neg") })

	b.Publish(NewEvent("e", "test", nil))
	require.Equal(t, []string{"high", "low1", "low2", "neg"}, order)
}

func TestCancel(t *testing.T) {
	b := New()
	calls := 0
	sub := b.Subscribe("x", func(Event) { calls++ })
	require.Equal(t, 1, b.HandlerCount("x"))

	b.Publish(NewEvent("x", "test", nil))
	sub.Cancel()
	sub.Cancel() // safe twice
	require.False(t, sub.IsActive())
	require.Equal(t, 0, b.HandlerCount("x"))

	b.Publish(NewEvent("x", "test", nil))
	require.Equal(t, 1, calls)
}

func TestSubscriptionIDsUnique(t *testing.T) {
	b := New()
	s1 := b.Subscribe("x", func(Event) {})
	s2 := b.Subscribe("x", func(Event) {})
	require.NotEqual(t, s1.ID(), s2.ID())
}
