// Package svc implements the service scheduling engine: many logically
// concurrent service tasks sharing one port for transmit, capture and
// timing.
package svc

import (
	"context"

	"icc.tech/svcport/internal/frame"
)

// Service is one unit of service behavior bound to a port. Run executes the
// task's protocol logic against its pipe and returns when the task is done;
// the returned error ends only this task, never the run.
type Service interface {
	Run(ctx context.Context, pipe *Pipe) error
	// FilterType identifies the packet classification rule this service
	// subscribes to. Services returning the same key share one capture
	// session and one Filter instance.
	FilterType() FilterType
}

// FilterType is the identity of a packet classification rule.
type FilterType interface {
	// Key is the group identity; one filter group exists per distinct
	// key per run.
	Key() string
	// NewFilter creates the group's matcher when the first service of
	// this type registers.
	NewFilter() Filter
}

// Filter accumulates the services of one group and classifies captured
// frames against them.
type Filter interface {
	Add(svc Service)
	// Match returns every added service the frame belongs to. A frame
	// matching several services is delivered to all of them.
	Match(f *frame.Frame) []Service
	// Expression is the capture filter restricting what this group's
	// session sees.
	Expression() string
}
