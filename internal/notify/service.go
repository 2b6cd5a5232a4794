// Package notify fans order and mode events out to HTTP subscribers (the
// out-of-band web UI signal spec.md §2 mentions), grounded on the teacher's
// mcpgw.Gateway Subscribe/Unsubscribe/Broadcast channel pattern and its
// notify.Service's role as the single dispatch point for everything the
// core publishes.
package notify

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/barbrew/control-plane/pkg/contracts"
)

// subscriberBuffer bounds how many events a slow subscriber can lag behind
// before events start dropping, mirroring the teacher's 32-slot SSE buffer.
const subscriberBuffer = 32

// Service is the process-wide EventSink: OrderManager and the mode
// controller publish into it, and the HTTP layer's SSE handler subscribes
// out of it. There is no persistence — a subscriber that connects after an
// event fires never sees it, matching spec.md §2's "out-of-band" framing.
type Service struct {
	mu   sync.RWMutex
	subs []chan contracts.OrderEvent
}

// NewService builds an empty notification hub.
func NewService() *Service {
	return &Service{}
}

// Publish implements contracts.EventSink.
func (s *Service) Publish(evt contracts.OrderEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			log.Warn().Str("type", evt.Type).Msg("notify: subscriber buffer full, dropping event")
		}
	}
}

// Subscribe returns a channel receiving every future event. Callers must
// Unsubscribe when done (e.g. on SSE client disconnect) or the channel
// leaks.
func (s *Service) Subscribe() <-chan contracts.OrderEvent {
	ch := make(chan contracts.OrderEvent, subscriberBuffer)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch.
func (s *Service) Unsubscribe(ch <-chan contracts.OrderEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub == ch {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			close(sub)
			return
		}
	}
}
