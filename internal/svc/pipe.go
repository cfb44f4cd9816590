package svc

import (
	"context"
	"time"

	"icc.tech/svcport/internal/frame"
)

// Pipe is the per-task handle to the engine. It is created at registration,
// owned by exactly one task for its lifetime and exposes the only three ways
// a task may suspend: timed wait, packet wait, send.
type Pipe struct {
	store *PacketStore
	tx    *TxBuffer
}

func newPipe(tx *TxBuffer) *Pipe {
	return &Pipe{
		store: &PacketStore{},
		tx:    tx,
	}
}

// Wait suspends the task for d. A zero duration is a valid wait that yields
// control once.
func (p *Pipe) Wait(ctx context.Context, d time.Duration) error {
	if d < 0 {
		d = 0
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForPacket suspends until inbound packets matching this task's filter
// arrive, up to limit of them (all when limit <= 0). It returns an empty
// slice when timeout elapses first; WaitForever blocks until arrival.
func (p *Pipe) WaitForPacket(ctx context.Context, timeout time.Duration, limit int) ([]PacketEvent, error) {
	return p.store.Get(ctx, timeout, limit)
}

// Send queues payload for the next batched transmit and returns the batch
// future. Waiting on it is optional; fire-and-forget is fine.
func (p *Pipe) Send(payload []byte) *TxDone {
	return p.tx.Push(payload)
}

// deliver enqueues an inbound frame. Called by the dispatch path only,
// never by task logic.
func (p *Pipe) deliver(f *frame.Frame, ts time.Time) {
	p.store.Put(f, ts)
}
