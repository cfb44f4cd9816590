// Package arp implements address resolution as a port service task.
package arp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"icc.tech/svcport/internal/frame"
	"icc.tech/svcport/internal/log"
	"icc.tech/svcport/internal/svc"
)

// Resolver resolves one IPv4 address to a MAC address by broadcasting ARP
// requests and waiting for the reply on the shared port.
type Resolver struct {
	srcIP   net.IP
	srcMAC  net.HardwareAddr
	dstIP   net.IP
	timeout time.Duration
	retries int

	mu       sync.Mutex
	resolved net.HardwareAddr
}

// New creates a resolver for dstIP. timeout bounds each attempt; retries is
// the total number of requests sent before giving up.
func New(srcIP net.IP, srcMAC net.HardwareAddr, dstIP net.IP, timeout time.Duration, retries int) *Resolver {
	if retries < 1 {
		retries = 1
	}
	return &Resolver{
		srcIP:   srcIP,
		srcMAC:  srcMAC,
		dstIP:   dstIP,
		timeout: timeout,
		retries: retries,
	}
}

// FilterType groups all resolvers under one "arp" capture session.
func (r *Resolver) FilterType() svc.FilterType { return filterType{} }

// Target returns the IPv4 address this resolver queries for.
func (r *Resolver) Target() net.IP { return r.dstIP }

// Result returns the resolved MAC address, or false while unresolved.
func (r *Resolver) Result() (net.HardwareAddr, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolved, r.resolved != nil
}

func (r *Resolver) Run(ctx context.Context, pipe *svc.Pipe) error {
	logger := log.GetLogger().WithField("service", "arp").WithField("dst", r.dstIP.String())

	request, err := r.buildRequest()
	if err != nil {
		return err
	}

	for attempt := 1; attempt <= r.retries; attempt++ {
		pipe.Send(request)
		logger.Debugf("sent who-has (attempt %d/%d)", attempt, r.retries)

		events, err := pipe.WaitForPacket(ctx, r.timeout, 1)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if ev.Frame.ARP == nil {
				continue
			}
			mac := net.HardwareAddr(ev.Frame.ARP.SourceHwAddress)
			r.mu.Lock()
			r.resolved = mac
			r.mu.Unlock()
			logger.Infof("%s is-at %s", r.dstIP, mac)
			return nil
		}
	}
	return fmt.Errorf("no arp reply from %s after %d attempt(s)", r.dstIP, r.retries)
}

func (r *Resolver) buildRequest() ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf,
		gopacket.SerializeOptions{FixLengths: true},
		&layers.Ethernet{
			SrcMAC:       r.srcMAC,
			DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
			EthernetType: layers.EthernetTypeARP,
		},
		&layers.ARP{
			AddrType:          layers.LinkTypeEthernet,
			Protocol:          layers.EthernetTypeIPv4,
			HwAddressSize:     6,
			ProtAddressSize:   4,
			Operation:         layers.ARPRequest,
			SourceHwAddress:   r.srcMAC,
			SourceProtAddress: r.srcIP.To4(),
			DstHwAddress:      net.HardwareAddr{0, 0, 0, 0, 0, 0},
			DstProtAddress:    r.dstIP.To4(),
		})
	if err != nil {
		return nil, fmt.Errorf("build arp request for %s: %w", r.dstIP, err)
	}
	return buf.Bytes(), nil
}

type filterType struct{}

func (filterType) Key() string           { return "arp" }
func (filterType) NewFilter() svc.Filter { return &filter{byIP: make(map[string][]svc.Service)} }

// filter routes ARP replies to the resolvers that asked for the replying
// address. Several resolvers for the same address all receive the reply.
type filter struct {
	byIP map[string][]svc.Service
}

func (f *filter) Add(s svc.Service) {
	r, ok := s.(*Resolver)
	if !ok {
		return
	}
	key := r.dstIP.String()
	f.byIP[key] = append(f.byIP[key], s)
}

func (f *filter) Match(fr *frame.Frame) []svc.Service {
	if fr.ARP == nil || fr.ARP.Operation != layers.ARPReply {
		return nil
	}
	return f.byIP[net.IP(fr.ARP.SourceProtAddress).String()]
}

func (f *filter) Expression() string { return "arp" }
