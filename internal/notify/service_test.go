package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barbrew/control-plane/pkg/contracts"
)

func TestPublish_DeliversToAllSubscribers(t *testing.T) {
	s := NewService()
	a := s.Subscribe()
	b := s.Subscribe()

	s.Publish(contracts.OrderEvent{Type: "order_status", OrderUUID: "u-1"})

	for _, ch := range []<-chan contracts.OrderEvent{a, b} {
		select {
		case evt := <-ch:
			assert.Equal(t, "u-1", evt.OrderUUID)
		case <-time.After(time.Second):
			t.Fatal("expected event on subscriber channel")
		}
	}
}

func TestPublish_BeforeAnySubscribersIsANoOp(t *testing.T) {
	s := NewService()
	assert.NotPanics(t, func() {
		s.Publish(contracts.OrderEvent{Type: "order_status"})
	})
}

func TestPublish_FullBufferDropsRatherThanBlocks(t *testing.T) {
	s := NewService()
	ch := s.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			s.Publish(contracts.OrderEvent{Type: "order_status"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish must never block on a full subscriber buffer")
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestUnsubscribe_ClosesChannelAndStopsFutureDelivery(t *testing.T) {
	s := NewService()
	ch := s.Subscribe()

	s.Unsubscribe(ch)
	s.Publish(contracts.OrderEvent{Type: "order_status"})

	_, open := <-ch
	assert.False(t, open, "unsubscribed channel is closed")
}

func TestUnsubscribe_DoesNotAffectOtherSubscribers(t *testing.T) {
	s := NewService()
	a := s.Subscribe()
	b := s.Subscribe()

	s.Unsubscribe(a)
	s.Publish(contracts.OrderEvent{Type: "mode_changed"})

	select {
	case evt, ok := <-b:
		require.True(t, ok)
		assert.Equal(t, "mode_changed", evt.Type)
	case <-time.After(time.Second):
		t.Fatal("remaining subscriber should still receive events")
	}
}
