package arp

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
	gwMAC  = net.HardwareAddr{0xaa, 0xbb, 0xcc, 0, 0, 0xfe}
	srcIP  = net.IP{10, 0, 0, 1}
	gwIP   = net.IP{10, 0, 0, 254}
)

func replyFrame(t *testing.T, fromIP net.IP, fromMAC net.HardwareAddr) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf,
		gopacket.SerializeOptions{FixLengths: true},
		&layers.Ethernet{SrcMAC: fromMAC, DstMAC: srcMAC, EthernetType: layers.EthernetTypeARP},
		&layers.ARP{
			AddrType:          layers.LinkTypeEthernet,
			Protocol:          layers.EthernetTypeIPv4,
			HwAddressSize:     6,
			ProtAddressSize:   4,
			Operation:         layers.ARPReply,
			SourceHwAddress:   fromMAC,
			SourceProtAddress: fromIP.To4(),
			DstHwAddress:      srcMAC,
			DstProtAddress:    srcIP.To4(),
		})
	require.NoError(t, err)
	return buf.Bytes()
}

func TestFilter_RoutesByRepliedAddress(t *testing.T) {
	r1 := New(srcIP, srcMAC, net.IP{10, 0, 0, 2}, time.Second, 1)
	r2 := New(srcIP, srcMAC, net.IP{10, 0, 0, 3}, time.Second, 1)

	f := filterType{}.NewFilter()
	f.Add(r1)
	f.Add(r2)

	fr, err := frame.Parse(replyFrame(t, net.IP{10, 0, 0, 2}, gwMAC))
	require.NoError(t, err)

	matched := f.Match(fr)
	require.Len(t, matched, 1)
	assert.Same(t, r1, matched[0].(*Resolver))
}

func TestFilter_IgnoresRequests(t *testing.T) {
	r := New(srcIP, srcMAC, gwIP, time.Second, 1)
	f := filterType{}.NewFilter()
	f.Add(r)

	req, err := r.buildRequest()
	require.NoError(t, err)
	fr, err := frame.Parse(req)
	require.NoError(t, err)

	assert.Empty(t, f.Match(fr), "a request is not a reply")
}

func TestResolver_EndToEnd(t *testing.T) {
	client := port.NewStubClient()
	ctx := svc.NewCtx(client, 0, svc.WithBackoff(5*time.Millisecond))

	r := New(srcIP, srcMAC, gwIP, time.Second, 3)

	reply := replyFrame(t, gwIP, gwMAC)
	go func() {
		time.Sleep(50 * time.Millisecond)
		client.Inject("arp", reply, time.Now())
	}()

	require.NoError(t, ctx.Run(context.Background(), svc.Service(r)))

	mac, ok := r.Result()
	require.True(t, ok)
	assert.Equal(t, gwMAC, mac)

	// The request on the wire is a who-has for the resolver's target.
	transmits := client.Transmits()
	require.NotEmpty(t, transmits)
	fr, err := frame.Parse(transmits[0].Payloads[0])
	require.NoError(t, err)
	require.NotNil(t, fr.ARP)
	assert.Equal(t, uint16(layers.ARPRequest), fr.ARP.Operation)
	assert.Equal(t, gwIP.To4(), net.IP(fr.ARP.DstProtAddress))
}

func TestResolver_TimesOutAfterRetries(t *testing.T) {
	client := port.NewStubClient()
	ctx := svc.NewCtx(client, 0, svc.WithBackoff(5*time.Millisecond))

	r := New(srcIP, srcMAC, gwIP, 30*time.Millisecond, 2)

	// No reply is ever injected; the resolver gives up but the run
	// itself still completes cleanly.
	require.NoError(t, ctx.Run(context.Background(), svc.Service(r)))

	_, ok := r.Result()
	assert.False(t, ok)
	assert.GreaterOrEqual(t, len(client.Transmits()), 2, "one request per attempt")
}
