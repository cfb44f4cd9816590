// Package port defines the port client used by the service engine and its
// AF_PACKET and in-memory implementations.
package port

import (
	"errors"
	"time"
)

// State is a port precondition the engine may require before running.
type State int

const (
	// StateUp requires the link to be up.
	StateUp State = iota
	// StateAcquired requires the client to own the port.
	StateAcquired
	// StateService requires the port to be free for service traffic.
	StateService
)

func (s State) String() string {
	switch s {
	case StateUp:
		return "up"
	case StateAcquired:
		return "acquired"
	case StateService:
		return "service"
	default:
		return "unknown"
	}
}

// Attrs are the mutable port attributes the engine manipulates.
type Attrs struct {
	Promiscuous bool
}

// Captured is one packet fetched from a capture session.
type Captured struct {
	Data []byte
	TS   time.Time
}

var (
	// ErrSessionNotFound is returned for operations on an unknown
	// capture session id.
	ErrSessionNotFound = errors.New("capture session not found")
	// ErrPortNotFound is returned for operations on an unknown port id.
	ErrPortNotFound = errors.New("port not found")
)

// Client is the port collaborator. One client instance owns one physical (or
// simulated) port; the engine never touches the wire directly.
type Client interface {
	// Validate fails when the port does not satisfy all required states.
	Validate(port int, states ...State) error

	GetAttr(port int) (Attrs, error)
	SetAttr(port int, attrs Attrs) error

	// StartCapture opens a capture session restricted by a filter
	// expression and returns its id.
	StartCapture(port int, filter string) (string, error)
	StopCapture(id string) error
	// FetchCaptured drains and returns the packets captured since the
	// previous fetch, in arrival order.
	FetchCaptured(id string) ([]Captured, error)

	// Transmit sends all payloads in one batch and returns the transmit
	// timestamp. force skips rate limiting where the backend supports it.
	Transmit(port int, payloads [][]byte, force bool) (time.Time, error)
}
