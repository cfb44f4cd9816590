// Package icmp implements ICMP echo probing as a port service task.
package icmp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"icc.tech/svcport/internal/frame"
	"icc.tech/svcport/internal/log"
	"icc.tech/svcport/internal/svc"
)

// nextEchoID hands out distinct echo identifiers so concurrent pingers on
// the same port never claim each other's replies.
var nextEchoID atomic.Uint32

// Result is the outcome of one echo request.
type Result struct {
	Seq  uint16
	Lost bool
	RTT  time.Duration
}

// Pinger sends count ICMP echo requests and records round-trip times. The
// round trip is measured from the batch transmit timestamp to the reply's
// capture timestamp, both taken by the port, not by this process.
type Pinger struct {
	srcIP, dstIP   net.IP
	srcMAC, dstMAC net.HardwareAddr
	count          int
	interval       time.Duration
	timeout        time.Duration
	payloadSize    int
	id             uint16

	mu      sync.Mutex
	results []Result
}

func New(srcIP net.IP, srcMAC net.HardwareAddr, dstIP net.IP, dstMAC net.HardwareAddr,
	count int, interval, timeout time.Duration, payloadSize int) *Pinger {
	if count < 1 {
		count = 1
	}
	// Echo sequence numbers are 16-bit.
	if count > 65535 {
		count = 65535
	}
	return &Pinger{
		srcIP:       srcIP,
		srcMAC:      srcMAC,
		dstIP:       dstIP,
		dstMAC:      dstMAC,
		count:       count,
		interval:    interval,
		timeout:     timeout,
		payloadSize: payloadSize,
		id:          uint16(nextEchoID.Add(1)),
	}
}

// FilterType groups all pingers under one "icmp" capture session.
func (p *Pinger) FilterType() svc.FilterType { return filterType{} }

// Target returns the IPv4 address this pinger probes.
func (p *Pinger) Target() net.IP { return p.dstIP }

// Results returns a copy of the per-request outcomes recorded so far.
func (p *Pinger) Results() []Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Result(nil), p.results...)
}

func (p *Pinger) Run(ctx context.Context, pipe *svc.Pipe) error {
	logger := log.GetLogger().WithField("service", "ping").WithField("dst", p.dstIP.String())

	for i := 0; i < p.count; i++ {
		seq := uint16(i + 1)
		request, err := p.buildEcho(seq)
		if err != nil {
			return err
		}

		txDone := pipe.Send(request)
		txTS, err := txDone.Wait(ctx)
		if err != nil {
			return err
		}

		events, err := pipe.WaitForPacket(ctx, p.timeout, 1)
		if err != nil {
			return err
		}

		res := Result{Seq: seq, Lost: true}
		for _, ev := range events {
			icmp := ev.Frame.ICMPv4
			if icmp == nil || icmp.Seq != seq {
				continue
			}
			res = Result{Seq: seq, RTT: ev.TS.Sub(txTS)}
			logger.Infof("reply from %s: seq=%d time=%s", p.dstIP, seq, res.RTT)
		}
		if res.Lost {
			logger.Warnf("no reply for seq=%d within %s", seq, p.timeout)
		}
		p.mu.Lock()
		p.results = append(p.results, res)
		p.mu.Unlock()

		if i+1 < p.count {
			if err := pipe.Wait(ctx, p.interval); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Pinger) buildEcho(seq uint16) ([]byte, error) {
	payload := make([]byte, p.payloadSize)
	for i := range payload {
		payload[i] = byte(i)
	}

	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf,
		gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
		&layers.Ethernet{SrcMAC: p.srcMAC, DstMAC: p.dstMAC, EthernetType: layers.EthernetTypeIPv4},
		&layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolICMPv4,
			SrcIP:    p.srcIP.To4(),
			DstIP:    p.dstIP.To4(),
		},
		&layers.ICMPv4{
			TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
			Id:       p.id,
			Seq:      seq,
		},
		gopacket.Payload(payload))
	if err != nil {
		return nil, fmt.Errorf("build echo request seq %d for %s: %w", seq, p.dstIP, err)
	}
	return buf.Bytes(), nil
}

type filterType struct{}

func (filterType) Key() string           { return "icmp" }
func (filterType) NewFilter() svc.Filter { return &filter{byID: make(map[uint16]svc.Service)} }

// filter routes echo replies to the pinger owning the echo identifier.
type filter struct {
	byID map[uint16]svc.Service
}

func (f *filter) Add(s svc.Service) {
	p, ok := s.(*Pinger)
	if !ok {
		return
	}
	f.byID[p.id] = s
}

func (f *filter) Match(fr *frame.Frame) []svc.Service {
	icmp := fr.ICMPv4
	if icmp == nil || icmp.TypeCode.Type() != layers.ICMPv4TypeEchoReply {
		return nil
	}
	s, ok := f.byID[icmp.Id]
	if !ok {
		return nil
	}
	return []svc.Service{s}
}

func (f *filter) Expression() string { return "icmp" }
