package svc

import (
	"context"
	"sync"
	"time"

	"icc.tech/svcport/internal/frame"
)

// WaitForever makes a packet retrieval block until traffic arrives.
const WaitForever time.Duration = -1

// PacketEvent is one inbound packet with its arrival timestamp.
type PacketEvent struct {
	Frame *frame.Frame
	TS    time.Time
}

// PacketStore is the per-task inbound queue. The dispatch path appends,
// the owning task retrieves. Entries keep arrival order; at most one
// retrieval may be pending at a time.
type PacketStore struct {
	mu      sync.Mutex
	entries []PacketEvent

	// waiter is non-nil while a retrieval is pending. It has capacity 1
	// and is written exactly once, under mu, by whichever of arrival or
	// timeout resolves first.
	waiter      chan []PacketEvent
	waiterLimit int
}

// Put appends an event and resolves a pending retrieval if one exists.
func (s *PacketStore) Put(f *frame.Frame, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, PacketEvent{Frame: f, TS: ts})
	if s.waiter != nil {
		s.waiter <- s.takeLocked(s.waiterLimit)
		s.waiter = nil
	}
}

// Len reports the number of queued events.
func (s *PacketStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Get returns up to limit oldest events (all of them when limit <= 0),
// removing them from the store. When the store is empty it blocks until the
// next arrival or until timeout elapses, whichever comes first; arrival wins
// when both could apply. timeout == 0 returns immediately, WaitForever (any
// negative value) blocks until arrival or context cancellation.
func (s *PacketStore) Get(ctx context.Context, timeout time.Duration, limit int) ([]PacketEvent, error) {
	s.mu.Lock()
	if len(s.entries) > 0 {
		out := s.takeLocked(limit)
		s.mu.Unlock()
		return out, nil
	}
	if timeout == 0 {
		s.mu.Unlock()
		return nil, nil
	}
	if s.waiter != nil {
		s.mu.Unlock()
		return nil, ErrGetPending
	}
	ch := make(chan []PacketEvent, 1)
	s.waiter = ch
	s.waiterLimit = limit
	s.mu.Unlock()

	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case out := <-ch:
		return out, nil
	case <-timerC:
		return s.cancelWait(ch), nil
	case <-ctx.Done():
		s.cancelWait(ch)
		return nil, ctx.Err()
	}
}

// cancelWait withdraws a pending retrieval. If an arrival resolved it in the
// same instant, the arrival wins and its events are returned.
func (s *PacketStore) cancelWait(ch chan []PacketEvent) []PacketEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waiter == ch {
		s.waiter = nil
		return nil
	}
	// Already resolved by Put; the result is sitting in ch.
	select {
	case out := <-ch:
		return out
	default:
		return nil
	}
}

func (s *PacketStore) takeLocked(limit int) []PacketEvent {
	if limit <= 0 || limit >= len(s.entries) {
		out := s.entries
		s.entries = nil
		return out
	}
	out := s.entries[:limit:limit]
	s.entries = s.entries[limit:]
	return out
}
