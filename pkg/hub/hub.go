package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bytedance/sonic"
)

// Hub maintains the set of active subscribers and broadcasts messages to them.
type Hub struct {
	name   string
	logger *slog.Logger

	subscribers map[*Subscriber]bool
	broadcast   chan Message
	register    chan *Subscriber
	unregister  chan *Subscriber
	done        chan struct{}

	mu      sync.RWMutex
	running atomic.Bool
	dropped atomic.Int64
}

// New creates a new Hub. A nil logger uses slog.Default.
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:        name,
		logger:      logger.With("component", "hub", "hub", name),
		subscribers: make(map[*Subscriber]bool),
		broadcast:   make(chan Message, 256),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		done:        make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is done.
// All subscriber channels are closed on return.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		h.mu.Lock()
		for s := range h.subscribers {
			close(s.send)
			delete(h.subscribers, s)
		}
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case s := <-h.register:
			h.mu.Lock()
			h.subscribers[s] = true
			count := len(h.subscribers)
			h.mu.Unlock()
			h.logger.Debug("subscriber connected", "total", count)

		case s := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[s]; ok {
				delete(h.subscribers, s)
				close(s.send)
			}
			count := len(h.subscribers)
			h.mu.Unlock()
			h.logger.Debug("subscriber disconnected", "remaining", count)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for s := range h.subscribers {
				select {
				case s.send <- msg:
				default:
					close(s.send)
					delete(h.subscribers, s)
					h.logger.Warn("dropped slow subscriber")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Broadcast queues msg for every subscriber. It never blocks; when the queue
// is full the message is dropped and counted.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.dropped.Add(1)
	}
}

// BroadcastJSON encodes v and broadcasts it.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(NewJSONMessage(data))
	return nil
}

// Subscribe registers a new subscriber with the given buffer size.
// It blocks until Run accepts it, or returns nil if the hub has stopped.
func (h *Hub) Subscribe(buffer int) *Subscriber {
	s := &Subscriber{hub: h, send: make(chan Message, buffer)}
	select {
	case h.register <- s:
		return s
	case <-h.done:
		return nil
	}
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Dropped returns how many broadcasts were discarded because the queue was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// IsRunning returns whether Run is active.
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

// Subscriber receives broadcasts on a buffered channel.
type Subscriber struct {
	hub  *Hub
	send chan Message
	once sync.Once
}

// Messages returns the receive channel. It is closed when the subscriber is
// removed or the hub stops.
func (s *Subscriber) Messages() <-chan Message {
	return s.send
}

// Close unregisters the subscriber. Safe to call more than once.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
	})
}
