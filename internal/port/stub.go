package port

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TransmitRecord is one batched transmit observed by the stub.
type TransmitRecord struct {
	Port     int
	Payloads [][]byte
	TS       time.Time
}

type stubSession struct {
	port   int
	filter string
	queue  []Captured
	open   bool
}

// StubClient is an in-memory Client used by tests and dry runs. Captured
// traffic is injected explicitly; transmits are recorded. All methods are
// safe for concurrent use.
type StubClient struct {
	mu sync.Mutex

	states   map[int]map[State]bool
	attrs    map[int]Attrs
	sessions map[string]*stubSession

	transmits []TransmitRecord

	// Injectable failures.
	TransmitErr error
	FetchErr    error
	StopErr     error

	stopped int
}

// NewStubClient returns a stub with port 0 up, acquired and in service mode.
func NewStubClient() *StubClient {
	c := &StubClient{
		states:   make(map[int]map[State]bool),
		attrs:    make(map[int]Attrs),
		sessions: make(map[string]*stubSession),
	}
	c.SetStates(0, StateUp, StateAcquired, StateService)
	return c
}

// SetStates replaces the state set of a port.
func (c *StubClient) SetStates(port int, states ...State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := make(map[State]bool, len(states))
	for _, s := range states {
		set[s] = true
	}
	c.states[port] = set
	if _, ok := c.attrs[port]; !ok {
		c.attrs[port] = Attrs{}
	}
}

func (c *StubClient) Validate(port int, states ...State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.states[port]
	if !ok {
		return fmt.Errorf("port %d: %w", port, ErrPortNotFound)
	}
	for _, s := range states {
		if !set[s] {
			return fmt.Errorf("port %d is not in state %q", port, s)
		}
	}
	return nil
}

func (c *StubClient) GetAttr(port int) (Attrs, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	attrs, ok := c.attrs[port]
	if !ok {
		return Attrs{}, fmt.Errorf("port %d: %w", port, ErrPortNotFound)
	}
	return attrs, nil
}

func (c *StubClient) SetAttr(port int, attrs Attrs) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.attrs[port]; !ok {
		return fmt.Errorf("port %d: %w", port, ErrPortNotFound)
	}
	c.attrs[port] = attrs
	return nil
}

func (c *StubClient) StartCapture(port int, filter string) (string, error) {
	if err := ValidateFilter(filter); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id := uuid.NewString()
	c.sessions[id] = &stubSession{port: port, filter: filter, open: true}
	return id, nil
}

func (c *StubClient) StopCapture(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.StopErr != nil {
		return c.StopErr
	}
	s, ok := c.sessions[id]
	if !ok || !s.open {
		return fmt.Errorf("session %q: %w", id, ErrSessionNotFound)
	}
	s.open = false
	c.stopped++
	return nil
}

func (c *StubClient) FetchCaptured(id string) ([]Captured, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FetchErr != nil {
		return nil, c.FetchErr
	}
	s, ok := c.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrSessionNotFound)
	}
	out := s.queue
	s.queue = nil
	return out, nil
}

func (c *StubClient) Transmit(port int, payloads [][]byte, force bool) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.TransmitErr != nil {
		return time.Time{}, c.TransmitErr
	}
	ts := time.Now()
	cp := make([][]byte, len(payloads))
	for i, p := range payloads {
		cp[i] = append([]byte(nil), p...)
	}
	c.transmits = append(c.transmits, TransmitRecord{Port: port, Payloads: cp, TS: ts})
	return ts, nil
}

// Inject appends a captured packet to every open session whose filter
// expression equals filter, returning the number of sessions hit.
func (c *StubClient) Inject(filter string, data []byte, ts time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	hits := 0
	for _, s := range c.sessions {
		if s.open && s.filter == filter {
			s.queue = append(s.queue, Captured{Data: append([]byte(nil), data...), TS: ts})
			hits++
		}
	}
	return hits
}

// Transmits returns a copy of all recorded transmit batches.
func (c *StubClient) Transmits() []TransmitRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TransmitRecord(nil), c.transmits...)
}

// OpenSessions returns the number of capture sessions not yet stopped.
func (c *StubClient) OpenSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.sessions {
		if s.open {
			n++
		}
	}
	return n
}

// StoppedSessions returns the number of successful StopCapture calls.
func (c *StubClient) StoppedSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}
