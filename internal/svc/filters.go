package svc

import (
	"fmt"

	"icc.tech/svcport/internal/frame"
	"icc.tech/svcport/internal/log"
	"icc.tech/svcport/internal/port"
)

// filterGroup is the set of services sharing one classification rule: one
// Filter instance and, while the run is active, one capture session.
type filterGroup struct {
	filter    Filter
	captureID string
}

// registry groups registered services by filter type so one capture session
// serves every service with the same rule.
type registry struct {
	groups map[string]*filterGroup
	order  []string
}

func newRegistry() *registry {
	return &registry{groups: make(map[string]*filterGroup)}
}

// register adds svc to the group of its filter type, creating the group on
// first use.
func (r *registry) register(svc Service) error {
	ft := svc.FilterType()
	if ft == nil {
		return &ConfigurationError{Msg: fmt.Sprintf("service %T has no filter type", svc)}
	}
	key := ft.Key()
	if key == "" {
		return &ConfigurationError{Msg: fmt.Sprintf("service %T has an empty filter key", svc)}
	}
	g, ok := r.groups[key]
	if !ok {
		g = &filterGroup{filter: ft.NewFilter()}
		r.groups[key] = g
		r.order = append(r.order, key)
	}
	g.filter.Add(svc)
	return nil
}

// startCaptures opens one capture session per group.
func (r *registry) startCaptures(client port.Client, portID int) error {
	for _, key := range r.order {
		g := r.groups[key]
		id, err := client.StartCapture(portID, g.filter.Expression())
		if err != nil {
			return &TransportError{Op: "start capture " + key, Err: err}
		}
		g.captureID = id
	}
	return nil
}

// stopCaptures stops every active session. It is called unconditionally at
// teardown and is best-effort: groups whose session never started are
// skipped and one group's failure does not block the others.
func (r *registry) stopCaptures(client port.Client, logger log.Logger) {
	for _, key := range r.order {
		g := r.groups[key]
		if g.captureID == "" {
			continue
		}
		if err := client.StopCapture(g.captureID); err != nil {
			logger.WithError(err).Warnf("failed to stop capture for filter %q", key)
		}
		g.captureID = ""
	}
}

// dispatch fetches everything a group's session captured since the last
// tick, parses it and delivers each frame to every matching service's pipe.
func (r *registry) dispatch(client port.Client, key string, pipes map[Service]*Pipe) error {
	g := r.groups[key]
	pkts, err := client.FetchCaptured(g.captureID)
	if err != nil {
		return &TransportError{Op: "fetch capture " + key, Err: err}
	}
	for _, pkt := range pkts {
		f, err := frame.Parse(pkt.Data)
		if err != nil {
			return &ParseError{Err: err}
		}
		for _, svc := range g.filter.Match(f) {
			pipe, ok := pipes[svc]
			if !ok {
				// Matcher returned a service that never
				// registered; a filter bug, not a run failure.
				continue
			}
			pipe.deliver(f, pkt.TS)
		}
	}
	return nil
}

// dispatchAll runs dispatch for every group in registration order.
func (r *registry) dispatchAll(client port.Client, pipes map[Service]*Pipe) error {
	for _, key := range r.order {
		if err := r.dispatch(client, key, pipes); err != nil {
			return err
		}
	}
	return nil
}
