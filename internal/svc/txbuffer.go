package svc

import (
	"context"
	"sync"
	"time"

	"icc.tech/svcport/internal/port"
)

// TxDone is the completion future of one transmit batch. Every payload
// pushed before a flush shares the same TxDone; it resolves once, with the
// batch's single transmit timestamp.
type TxDone struct {
	done chan struct{}
	ts   time.Time
}

func newTxDone() *TxDone {
	return &TxDone{done: make(chan struct{})}
}

// Done is closed when the batch has been transmitted.
func (d *TxDone) Done() <-chan struct{} { return d.done }

// Wait blocks until the batch is transmitted and returns the transmit
// timestamp.
func (d *TxDone) Wait(ctx context.Context) (time.Time, error) {
	select {
	case <-d.done:
		return d.ts, nil
	case <-ctx.Done():
		return time.Time{}, ctx.Err()
	}
}

// TS returns the transmit timestamp. Valid only after Done is closed.
func (d *TxDone) TS() time.Time { return d.ts }

// TxBuffer accumulates outbound payloads between scheduler ticks and flushes
// them as one batched transmit.
type TxBuffer struct {
	client port.Client
	port   int

	mu       sync.Mutex
	payloads [][]byte
	current  *TxDone
}

func NewTxBuffer(client port.Client, portID int) *TxBuffer {
	return &TxBuffer{
		client:  client,
		port:    portID,
		current: newTxDone(),
	}
}

// Push queues a payload for the next flush and returns the batch future.
// The caller may wait on it for the transmit timestamp or ignore it.
func (b *TxBuffer) Push(payload []byte) *TxDone {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads = append(b.payloads, payload)
	return b.current
}

// SendAll flushes the buffer as a single transmit. With an empty buffer it
// is a no-op: nothing is sent and the current future stays unresolved. The
// transmit failure of the port client is fatal to the run and is returned
// as a TransportError.
func (b *TxBuffer) SendAll() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.payloads) == 0 {
		return nil
	}

	ts, err := b.client.Transmit(b.port, b.payloads, true)
	if err != nil {
		return &TransportError{Op: "transmit", Err: err}
	}

	b.payloads = nil
	b.current.ts = ts
	close(b.current.done)
	b.current = newTxDone()
	return nil
}

// Pending reports the number of payloads queued for the next flush.
func (b *TxBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.payloads)
}
