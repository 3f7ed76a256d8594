// FILE: src/internal/hub/hub.go
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"towl/src/internal/core"

	"github.com/lixenwraith/log"
)

// Hub is closed or the subscription was closed
var ErrClosed = errors.New("subscription closed")

// LagError reports entries dropped for a subscriber that fell behind
type LagError struct {
	Missed uint64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("subscriber lagged, %d entries missed", e.Missed)
}

// Hub fans out published entries to bounded per-subscriber buffers.
// Publish never blocks: a full buffer loses its oldest entry.
type Hub struct {
	bufferSize int
	logger     *log.Logger

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	closed bool
	nextID atomic.Uint64

	// Statistics
	published     atomic.Uint64
	dropped       atomic.Uint64
	lastPublished atomic.Value // time.Time
}

// Creates a hub with the given per-subscriber buffer size
func New(bufferSize int, logger *log.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = core.DefaultHubBuffer
	}
	h := &Hub{
		bufferSize: bufferSize,
		logger:     logger,
		subs:       make(map[uint64]*Subscription),
	}
	h.lastPublished.Store(time.Time{})
	return h
}

// Subscribe registers a subscriber that receives entries published from now on
func (h *Hub) Subscribe() (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	s := &Subscription{
		id:  h.nextID.Add(1),
		hub: h,
		ch:  make(chan core.LogEntry, h.bufferSize),
	}
	h.subs[s.id] = s

	h.logger.Debug("msg", "Subscriber registered",
		"component", "hub",
		"subscriber_id", s.id,
		"subscribers", len(h.subs))
	return s, nil
}

// Publish delivers entry to every subscriber without blocking
func (h *Hub) Publish(entry core.LogEntry) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}

	h.published.Add(1)
	h.lastPublished.Store(time.Now())

	lagging := 0
	for _, s := range h.subs {
		if !s.offer(entry) {
			lagging++
			h.dropped.Add(1)
		}
	}

	if lagging > 0 {
		h.logger.Debug("msg", "Dropped oldest entry for lagging subscriber(s)",
			"component", "hub",
			"lagging", lagging,
			"subscribers", len(h.subs))
	}
}

// Close closes every subscription; later Subscribe calls fail
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, s := range h.subs {
		close(s.ch)
		delete(h.subs, id)
	}
}

// Returns the number of registered subscribers
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Returns hub statistics
func (h *Hub) Stats() map[string]any {
	last, _ := h.lastPublished.Load().(time.Time)
	return map[string]any{
		"subscribers":    h.Subscribers(),
		"buffer_size":    h.bufferSize,
		"published":      h.published.Load(),
		"dropped":        h.dropped.Load(),
		"last_published": last,
	}
}

func (h *Hub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[s.id]; !ok {
		return
	}
	delete(h.subs, s.id)
	close(s.ch)

	h.logger.Debug("msg", "Subscriber unregistered",
		"component", "hub",
		"subscriber_id", s.id,
		"subscribers", len(h.subs))
}

// Subscription is one subscriber's receive handle
type Subscription struct {
	id     uint64
	hub    *Hub
	ch     chan core.LogEntry
	missed atomic.Uint64
}

func (s *Subscription) ID() uint64 {
	return s.id
}

// C returns the entry channel; it is closed when the subscription ends
func (s *Subscription) C() <-chan core.LogEntry {
	return s.ch
}

// Missed returns and resets the number of entries dropped since the last call
func (s *Subscription) Missed() uint64 {
	return s.missed.Swap(0)
}

// Recv returns the next entry. After a gap it first returns a *LagError.
func (s *Subscription) Recv(ctx context.Context) (core.LogEntry, error) {
	if n := s.Missed(); n > 0 {
		return core.LogEntry{}, &LagError{Missed: n}
	}

	select {
	case entry, ok := <-s.ch:
		if !ok {
			return core.LogEntry{}, ErrClosed
		}
		return entry, nil
	case <-ctx.Done():
		return core.LogEntry{}, ctx.Err()
	}
}

// Close unregisters the subscription; safe to call more than once
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Enqueues entry, evicting the oldest buffered one if full.
// Returns false if anything was dropped.
func (s *Subscription) offer(entry core.LogEntry) bool {
	select {
	case s.ch <- entry:
		return true
	default:
	}

	select {
	case <-s.ch:
		s.missed.Add(1)
	default:
	}

	select {
	case s.ch <- entry:
	default:
		s.missed.Add(1)
	}
	return false
}
