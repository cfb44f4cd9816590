package svc

import (
	"errors"
	"fmt"
)

// ErrGetPending is returned when a second retrieval is started on a packet
// store that already has one pending. A store has exactly one consumer.
var ErrGetPending = errors.New("packet store already has a pending retrieval")

// PreconditionError means the port was not in a runnable state. It is
// returned before any task starts and before any port state is touched.
type PreconditionError struct {
	Port int
	Err  error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("port %d failed service preconditions: %v", e.Port, e.Err)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// ConfigurationError means the service registration argument was malformed.
// It is returned before the run environment is created.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return "invalid service configuration: " + e.Msg
}

// TransportError means a transmit, capture or attribute call on the port
// client failed mid-run. It aborts the run; teardown still executes.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("port transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError means a captured frame could not be decoded. Loss of sync with
// the capture stream aborts the run; teardown still executes.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("captured frame parse failure: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
