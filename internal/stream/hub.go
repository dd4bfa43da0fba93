// Package stream fans events and telemetry snapshots out to websocket
// subscribers. Each subscriber owns a bounded buffer; a subscriber that
// cannot keep up is disconnected rather than allowed to stall the
// publisher or starve faster subscribers.
package stream

import (
	"sync"

	"github.com/resolvix/collector/internal/metrics"
)

// DefaultSubscriberBuffer is the per-subscriber queue depth.
const DefaultSubscriberBuffer = 256

// DefaultReplayRing is how many recent messages a new subscriber replays.
const DefaultReplayRing = 100

// Filter decides whether a subscriber receives a message. A nil filter
// receives everything.
type Filter[T any] func(T) bool

// Subscription is one attached consumer. Messages arrive on C; when the
// hub drops the subscriber for falling behind, C is closed.
type Subscription[T any] struct {
	C chan T

	mu     sync.Mutex
	filter Filter[T]
	closed bool
}

// SetFilter replaces the subscription's filter. Applies to messages
// published after the call.
func (s *Subscription[T]) SetFilter(f Filter[T]) {
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
}

func (s *Subscription[T]) wants(msg T) bool {
	s.mu.Lock()
	f := s.filter
	s.mu.Unlock()
	return f == nil || f(msg)
}

// Hub broadcasts messages of one type to all subscribers.
type Hub[T any] struct {
	endpoint string
	bufSize  int
	ringSize int

	mu   sync.Mutex
	subs map[*Subscription[T]]struct{}
	ring []T
}

// NewHub creates a hub. endpoint labels the metrics. ringSize zero
// disables replay.
func NewHub[T any](endpoint string, bufSize, ringSize int) *Hub[T] {
	if bufSize <= 0 {
		bufSize = DefaultSubscriberBuffer
	}
	return &Hub[T]{
		endpoint: endpoint,
		bufSize:  bufSize,
		ringSize: ringSize,
		subs:     make(map[*Subscription[T]]struct{}),
	}
}

// Subscribe attaches a consumer and returns its subscription plus a
// replay of the retained ring (oldest first). The replay snapshot is
// taken atomically with the attach, so no message is lost or duplicated
// between replay and live delivery.
func (h *Hub[T]) Subscribe() (*Subscription[T], []T) {
	sub := &Subscription[T]{C: make(chan T, h.bufSize)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	replay := make([]T, len(h.ring))
	copy(replay, h.ring)
	h.mu.Unlock()

	metrics.Subscribers.WithLabelValues(h.endpoint).Inc()
	return sub, replay
}

// Unsubscribe detaches a consumer. Safe to call twice.
func (h *Hub[T]) Unsubscribe(sub *Subscription[T]) {
	h.mu.Lock()
	_, present := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()

	if present {
		metrics.Subscribers.WithLabelValues(h.endpoint).Dec()
		sub.mu.Lock()
		if !sub.closed {
			sub.closed = true
			close(sub.C)
		}
		sub.mu.Unlock()
	}
}

// Publish delivers to every matching subscriber without blocking. A
// subscriber with a full buffer is dropped on the spot.
func (h *Hub[T]) Publish(msg T) {
	h.mu.Lock()
	if h.ringSize > 0 {
		h.ring = append(h.ring, msg)
		if len(h.ring) > h.ringSize {
			h.ring = h.ring[1:]
		}
	}
	targets := make([]*Subscription[T], 0, len(h.subs))
	for sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		if !sub.wants(msg) {
			continue
		}
		select {
		case sub.C <- msg:
		default:
			metrics.SubscriberDrops.WithLabelValues(h.endpoint).Inc()
			h.Unsubscribe(sub)
		}
	}
}

// SubscriberCount reports attached subscribers.
func (h *Hub[T]) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Ring returns a copy of the replay ring, oldest first.
func (h *Hub[T]) Ring() []T {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]T, len(h.ring))
	copy(out, h.ring)
	return out
}
