package icmp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icc.tech/svcport/internal/frame"
	"icc.tech/svcport/internal/port"
	"icc.tech/svcport/internal/svc"
)

var (
	srcMAC = net.HardwareAddr{0xaa, 0xbb, 0xcc, 0, 0, 1}
	dstMAC = net.HardwareAddr{0xaa, 0xbb, 0xcc, 0, 0, 2}
	srcIP  = net.IP{10, 0, 0, 1}
	dstIP  = net.IP{10, 0, 0, 2}
)

func echoReply(t *testing.T, id, seq uint16) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf,
		gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
		&layers.Ethernet{SrcMAC: dstMAC, DstMAC: srcMAC, EthernetType: layers.EthernetTypeIPv4},
		&layers.IPv4{
			Version: 4, TTL: 64, Protocol: layers.IPProtocolICMPv4,
			SrcIP: dstIP, DstIP: srcIP,
		},
		&layers.ICMPv4{
			TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoReply, 0),
			Id:       id,
			Seq:      seq,
		})
	require.NoError(t, err)
	return buf.Bytes()
}

func newPinger(count int, timeout time.Duration) *Pinger {
	return New(srcIP, srcMAC, dstIP, dstMAC, count, 10*time.Millisecond, timeout, 16)
}

func TestNew_ClampsCount(t *testing.T) {
	assert.Equal(t, 1, newPinger(0, time.Second).count)
	assert.Equal(t, 4, newPinger(4, time.Second).count)
	// Echo sequence numbers are 16-bit; a larger count must not wrap to
	// zero requests.
	assert.Equal(t, 65535, newPinger(65536, time.Second).count)
}

func TestFilter_RoutesByEchoID(t *testing.T) {
	p1 := newPinger(1, time.Second)
	p2 := newPinger(1, time.Second)

	f := filterType{}.NewFilter()
	f.Add(p1)
	f.Add(p2)

	fr, err := frame.Parse(echoReply(t, p2.id, 1))
	require.NoError(t, err)

	matched := f.Match(fr)
	require.Len(t, matched, 1)
	assert.Same(t, p2, matched[0].(*Pinger))
}

func TestFilter_IgnoresForeignAndRequests(t *testing.T) {
	p := newPinger(1, time.Second)
	f := filterType{}.NewFilter()
	f.Add(p)

	// Unknown echo id.
	fr, err := frame.Parse(echoReply(t, p.id+100, 1))
	require.NoError(t, err)
	assert.Empty(t, f.Match(fr))

	// Our own request must never match as a reply.
	req, err := p.buildEcho(1)
	require.NoError(t, err)
	fr, err = frame.Parse(req)
	require.NoError(t, err)
	assert.Empty(t, f.Match(fr))
}

func TestPinger_EndToEnd(t *testing.T) {
	client := port.NewStubClient()
	ctx := svc.NewCtx(client, 0, svc.WithBackoff(5*time.Millisecond))

	p := newPinger(2, 500*time.Millisecond)

	// Answer each transmitted request as it appears on the wire.
	replies := [][]byte{echoReply(t, p.id, 1), echoReply(t, p.id, 2)}
	go func() {
		answered := 0
		for answered < len(replies) {
			txs := client.Transmits()
			for answered < len(txs) && answered < len(replies) {
				client.Inject("icmp", replies[answered], txs[answered].TS.Add(2*time.Millisecond))
				answered++
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()

	require.NoError(t, ctx.Run(context.Background(), svc.Service(p)))

	results := p.Results()
	require.Len(t, results, 2)
	for i, res := range results {
		assert.Equal(t, uint16(i+1), res.Seq)
		assert.False(t, res.Lost, "seq %d", res.Seq)
		assert.Equal(t, 2*time.Millisecond, res.RTT)
	}
}

func TestPinger_RecordsLoss(t *testing.T) {
	client := port.NewStubClient()
	ctx := svc.NewCtx(client, 0, svc.WithBackoff(5*time.Millisecond))

	p := newPinger(1, 30*time.Millisecond)

	require.NoError(t, ctx.Run(context.Background(), svc.Service(p)))

	results := p.Results()
	require.Len(t, results, 1)
	assert.True(t, results[0].Lost)
}
