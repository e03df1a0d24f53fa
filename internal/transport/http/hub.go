package http

import (
	"context"
	"sync"

	"quizzer/internal/domain"
)

const subscriberBuffer = 16

// Hub fans session events out to websocket clients, grouped by channel.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]map[chan outboundMessage[any]]struct{}
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]map[chan outboundMessage[any]]struct{})}
}

// Subscribe returns a channel that receives events for one chat channel.
// The caller must invoke the returned cancel function to avoid leaks.
func (h *Hub) Subscribe(channel string) (<-chan outboundMessage[any], func()) {
	ch := make(chan outboundMessage[any], subscriberBuffer)

	h.mu.Lock()
	subs, ok := h.subscribers[channel]
	if !ok {
		subs = make(map[chan outboundMessage[any]]struct{})
		h.subscribers[channel] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subscribers[channel]
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(h.subscribers, channel)
		}
	}
	return ch, cancel
}

// Notify satisfies app.Notifier.
func (h *Hub) Notify(_ context.Context, event domain.Event) {
	msg := outboundMessage[any]{Type: event.Name(), Payload: event}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers[event.ChannelID()] {
		select {
		case ch <- msg:
		default:
			// drop the oldest update so a slow client never blocks the session
			select {
			case <-ch:
			default:
			}
			ch <- msg
		}
	}
}

func (h *Hub) subscriberCount(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[channel])
}
