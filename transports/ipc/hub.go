package ipc

import (
	"sync"
)

// message is one routed unit: the raw payload plus the metadata the other
// transports carry as message properties.
type message struct {
	event         string
	body          []byte
	correlationID string
	origin        *Broker // reply destination, nil for plain publishes
}

// subscription is one broker's consumer for one queue name. The delivery
// channel is never closed; done signals the drain goroutine (and concurrent
// publishers) that the subscription ended.
type subscription struct {
	queue  string
	event  string
	broker *Broker
	ch     chan *message
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) stop() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Hub routes messages between brokers in the same process. Brokers
// subscribed under the same queue name compete round-robin, like consumers
// of a shared AMQP queue.
type Hub struct {
	mu   sync.Mutex
	subs map[string][]*subscription
	next map[string]int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string][]*subscription),
		next: make(map[string]int),
	}
}

func (h *Hub) subscribe(sub *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[sub.queue] = append(h.subs[sub.queue], sub)
}

func (h *Hub) unsubscribe(sub *subscription) {
	h.mu.Lock()
	subs := h.subs[sub.queue]
	for i, s := range subs {
		if s == sub {
			h.subs[sub.queue] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subs[sub.queue]) == 0 {
		delete(h.subs, sub.queue)
		delete(h.next, sub.queue)
	}
	h.mu.Unlock()
	sub.stop()
}

// publish hands msg to the next subscriber of queue in round-robin order.
// With no subscribers the message is dropped, like an unroutable publish.
// It reports false when the chosen subscriber's buffer was full.
func (h *Hub) publish(queue string, msg *message) bool {
	h.mu.Lock()
	subs := h.subs[queue]
	if len(subs) == 0 {
		h.mu.Unlock()
		return true
	}
	idx := h.next[queue] % len(subs)
	h.next[queue] = idx + 1
	sub := subs[idx]
	h.mu.Unlock()

	select {
	case sub.ch <- msg:
		return true
	case <-sub.done:
		return true
	default:
		return false
	}
}
