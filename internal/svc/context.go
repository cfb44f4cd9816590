package svc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"icc.tech/svcport/internal/log"
	"icc.tech/svcport/internal/port"
)

// DefaultBackoff is the scheduler's pause between ticks.
const DefaultBackoff = 50 * time.Millisecond

// Ctx runs a set of services on one port. A Ctx is reusable: each Run is a
// bounded session that starts, executes to quiescence and tears down.
type Ctx struct {
	client  port.Client
	port    int
	backoff time.Duration
	logger  log.Logger

	reg    *registry
	pipes  map[Service]*Pipe
	tx     *TxBuffer
	active atomic.Int64
}

// Option tunes a Ctx.
type Option func(*Ctx)

// WithBackoff overrides the tick backoff interval.
func WithBackoff(d time.Duration) Option {
	return func(c *Ctx) {
		if d > 0 {
			c.backoff = d
		}
	}
}

// NewCtx creates a service context bound to one port of the client.
func NewCtx(client port.Client, portID int, opts ...Option) *Ctx {
	c := &Ctx{
		client:  client,
		port:    portID,
		backoff: DefaultBackoff,
		logger:  log.GetLogger().WithField("port", portID),
	}
	c.reset()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Port returns the port id the context is bound to.
func (c *Ctx) Port() int { return c.port }

// Run executes services to completion. services may be a single Service or
// a []Service; anything else is a ConfigurationError. Run returns when every
// service has finished, or with the first fatal error. Port state touched by
// the run (promiscuous flag, capture sessions) is restored on every exit
// path.
func (c *Ctx) Run(ctx context.Context, services interface{}) error {
	// Nothing may have side effects on the port before validation.
	if err := c.client.Validate(c.port, port.StateUp, port.StateAcquired, port.StateService); err != nil {
		return &PreconditionError{Port: c.port, Err: err}
	}

	c.reset()
	svcs, err := collectServices(services)
	if err != nil {
		return err
	}
	for _, s := range svcs {
		if err := c.reg.register(s); err != nil {
			return err
		}
	}

	runID := uuid.NewString()[:8]
	logger := c.logger.WithField("run", runID)
	logger.Infof("starting service run with %d service(s), %d filter group(s)",
		len(svcs), len(c.reg.order))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.tx = NewTxBuffer(c.client, c.port)

	var wg sync.WaitGroup
	for _, s := range svcs {
		pipe := newPipe(c.tx)
		c.pipes[s] = pipe
		c.active.Add(1)
		wg.Add(1)
		go func(s Service, pipe *Pipe) {
			defer wg.Done()
			c.runService(runCtx, logger, s, pipe)
		}(s, pipe)
	}

	// Run state must never be reset while service goroutines are alive:
	// a straggler's completion callback would land in a later run on the
	// same Ctx and corrupt its active count.
	join := func() {
		cancel()
		wg.Wait()
	}

	// Capture must see all matching traffic, not only frames addressed
	// to the port itself. Save the prior flag so teardown can restore it.
	attrs, err := c.client.GetAttr(c.port)
	if err != nil {
		join()
		c.reset()
		return &TransportError{Op: "get port attributes", Err: err}
	}
	wasPromiscuous := attrs.Promiscuous
	if !wasPromiscuous {
		if err := c.client.SetAttr(c.port, port.Attrs{Promiscuous: true}); err != nil {
			join()
			c.reset()
			return &TransportError{Op: "enable promiscuous mode", Err: err}
		}
	}

	defer func() {
		join()
		c.teardown(logger, wasPromiscuous)
	}()

	if err := c.reg.startCaptures(c.client, c.port); err != nil {
		return err
	}

	return c.tickLoop(runCtx, logger)
}

// tickLoop drives the run: flush queued sends, dispatch captures, then
// either terminate (no active service left) or back off until the next
// tick. Sends always flush before dispatch, so a frame sent this tick can
// never be delivered back to its sender within the same tick.
func (c *Ctx) tickLoop(ctx context.Context, logger log.Logger) error {
	for {
		if err := c.tx.SendAll(); err != nil {
			return err
		}
		if err := c.reg.dispatchAll(c.client, c.pipes); err != nil {
			return err
		}
		if c.active.Load() == 0 {
			logger.Info("all services completed")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff):
		}
	}
}

// runService executes one service to completion. A service failing — by
// error or panic — ends only that service: it leaves the active count the
// same way a clean exit does and its siblings keep running.
func (c *Ctx) runService(ctx context.Context, logger log.Logger, s Service, pipe *Pipe) {
	defer c.active.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("service %T panicked: %v", s, r)
		}
	}()
	if err := s.Run(ctx, pipe); err != nil {
		logger.WithError(err).Warnf("service %T ended with error", s)
	}
}

// teardown releases everything a run holds on the port. It runs on every
// exit path, never fails and applies each step best-effort.
func (c *Ctx) teardown(logger log.Logger, wasPromiscuous bool) {
	c.reg.stopCaptures(c.client, logger)
	if !wasPromiscuous {
		if err := c.client.SetAttr(c.port, port.Attrs{Promiscuous: false}); err != nil {
			logger.WithError(err).Warn("failed to restore promiscuous flag")
		}
	}
	c.reset()
}

func (c *Ctx) reset() {
	c.reg = newRegistry()
	c.pipes = make(map[Service]*Pipe)
	c.tx = nil
	c.active.Store(0)
}

// collectServices validates the registration argument shape: one Service or
// a slice of them.
func collectServices(arg interface{}) ([]Service, error) {
	switch v := arg.(type) {
	case nil:
		return nil, nil
	case Service:
		return []Service{v}, nil
	case []Service:
		for i, s := range v {
			if s == nil {
				return nil, &ConfigurationError{Msg: fmt.Sprintf("service at index %d is nil", i)}
			}
		}
		return v, nil
	default:
		return nil, &ConfigurationError{Msg: fmt.Sprintf("services must be a Service or []Service, got %T", arg)}
	}
}
