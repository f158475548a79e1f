// Package hub implements the Display Hub (spec.md §4.C): a
// single-producer/multi-consumer fan-out of normalized frames with a
// bounded, oldest-dropped backlog per subscriber, plus a read-mostly
// "last frame" and "dimensions" cell.
//
// Grounded on api/pkg/desktop/scanout_source.go's
// frameCh: make(chan VideoFrame, 16) single-producer channel and on
// api/pkg/desktop/shared_video_source.go's client registry
// (map + atomic id allocator), adapted from an encoded-frame GOP
// buffer to a raw frame.Normalized ring that keeps the newest 16
// frames per lagging subscriber, dropping the oldest.
package hub

import (
	"sync"
	"sync/atomic"

	"github.com/jorgecis/kvmrs/internal/frame"
)

// capacity is the Display Hub's per-subscriber channel depth
// (spec.md §4.C: "Channel capacity: 16 frames").
const capacity = 16

// Hub fans out the latest normalized frame to N concurrent
// subscribers. It exclusively owns the current-frame cell and the
// dimensions cell; subscribers hold only read-only references.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]chan frame.Normalized
	nextID  atomic.Uint64
	lastVal atomic.Pointer[frame.Normalized]
	dims    atomic.Pointer[frame.Dimensions]
}

// New creates an empty Display Hub.
func New() *Hub {
	return &Hub{subs: make(map[uint64]chan frame.Normalized)}
}

// Subscription is a consumer handle with its own receive cursor.
type Subscription struct {
	id     uint64
	frames chan frame.Normalized
	hub    *Hub
}

// Frames returns the channel subscribers should range/select over.
// Per spec.md §4.C, frames are delivered in publish order for this
// subscriber; there is no cross-subscriber ordering guarantee.
func (s *Subscription) Frames() <-chan frame.Normalized { return s.frames }

// Close releases the subscription's slot in the hub. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if ch, ok := s.hub.subs[s.id]; ok {
		delete(s.hub.subs, s.id)
		close(ch)
	}
}

// Subscribe registers a new consumer and returns its handle. A fresh
// subscriber's cursor starts empty — it receives the next published
// frame, not a backlog.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan frame.Normalized, capacity)
	id := h.nextID.Add(1)

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	return &Subscription{id: id, frames: ch, hub: h}
}

// Publish always succeeds and never blocks the producer: any
// subscriber whose channel is full has its oldest undelivered frame
// dropped to make room.
func (h *Hub) Publish(f frame.Normalized) {
	h.lastVal.Store(&f)

	d := frame.Dimensions{Width: f.Width, Height: f.Height}
	if prev := h.dims.Load(); prev == nil || *prev != d {
		h.dims.Store(&d)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- f:
		default:
			// Backlog full: drop the oldest frame, then retry once.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- f:
			default:
				// Another publish raced us and refilled the slot;
				// this subscriber simply misses this frame.
			}
		}
	}
}

// Snapshot returns the current normalized frame without consuming
// from the stream, or false if nothing has been published yet.
func (h *Hub) Snapshot() (frame.Normalized, bool) {
	v := h.lastVal.Load()
	if v == nil {
		return frame.Normalized{}, false
	}
	return *v, true
}

// Dimensions returns the hub's current (width, height), or false if
// nothing has been published yet.
func (h *Hub) Dimensions() (frame.Dimensions, bool) {
	d := h.dims.Load()
	if d == nil {
		return frame.Dimensions{}, false
	}
	return *d, true
}

// SubscriberCount reports how many subscriptions are currently
// active. Used by tests to assert cleanup on Close.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
