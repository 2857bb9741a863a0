package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/slidesync/internal/metrics"
	"github.com/grovetools/slidesync/logging"
)

// DefaultQueueSize bounds how far a subscriber may fall behind before it is
// dropped.
const DefaultQueueSize = 256

// Subscriber is one connected viewer's ordered queue.
type Subscriber struct {
	ID          string
	Remote      string
	ConnectedAt time.Time

	events chan Event
	done   chan struct{}
}

// Events yields the subscriber's events in order. It is closed when the
// subscriber is unsubscribed or evicted.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// Done is closed together with Events.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Evicted     uint64 `json:"evicted"`
}

// Hub is the broadcast fan-out. It is safe for concurrent use.
type Hub struct {
	mu        sync.Mutex
	subs      map[string]*Subscriber
	queueSize int
	seq       uint64
	evicted   uint64
	closed    bool
	logger    *logrus.Entry
}

// New creates a Hub whose subscribers buffer up to queueSize events.
func New(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		subs:      make(map[string]*Subscriber),
		queueSize: queueSize,
		logger:    logging.NewLogger("hub"),
	}
}

// Subscribe registers a subscriber. Its first event is the connected
// acknowledgment; after that it sees only events broadcast later.
func (h *Hub) Subscribe(remote string) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscriber{
		ID:          uuid.NewString(),
		Remote:      remote,
		ConnectedAt: time.Now(),
		events:      make(chan Event, h.queueSize+1),
		done:        make(chan struct{}),
	}
	sub.events <- Event{Type: EventConnected, Seq: h.seq, Data: struct{}{}}

	if h.closed {
		close(sub.events)
		close(sub.done)
		return sub
	}
	h.subs[sub.ID] = sub
	metrics.Subscribers.Set(float64(len(h.subs)))
	h.logger.WithFields(logrus.Fields{"id": sub.ID, "remote": remote}).Debug("Subscriber connected")
	return sub
}

// Unsubscribe removes a subscriber and closes its queue. It is idempotent.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.ID]; !ok {
		return
	}
	h.removeLocked(sub)
	h.logger.WithField("id", sub.ID).Debug("Subscriber disconnected")
}

// Broadcast enqueues ev for every subscriber. All subscribers receive events
// in the same order. A subscriber whose queue is full is evicted rather than
// allowed to hold anyone up; it reconnects and resyncs.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	ev.Seq = h.seq
	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()

	for _, sub := range h.subs {
		select {
		case sub.events <- ev:
		default:
			h.evicted++
			metrics.SubscribersEvicted.Inc()
			h.logger.WithFields(logrus.Fields{"id": sub.ID, "remote": sub.Remote}).
				Warn("Subscriber queue full, dropping subscriber")
			h.removeLocked(sub)
		}
	}
}

// Stats returns counters for the admin API.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{Subscribers: len(h.subs), Published: h.seq, Evicted: h.evicted}
}

// Close disconnects every subscriber. Later subscribers are closed at once.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, sub := range h.subs {
		h.removeLocked(sub)
	}
}

func (h *Hub) removeLocked(sub *Subscriber) {
	delete(h.subs, sub.ID)
	close(sub.events)
	close(sub.done)
	metrics.Subscribers.Set(float64(len(h.subs)))
}
