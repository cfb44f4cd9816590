package frame

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	macA = net.HardwareAddr{0xaa, 0xbb, 0xcc, 0x00, 0x00, 0x01}
	macB = net.HardwareAddr{0xaa, 0xbb, 0xcc, 0x00, 0x00, 0x02}
)

func serialize(t *testing.T, l ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, l...))
	return buf.Bytes()
}

func TestParse_ARPReply(t *testing.T) {
	raw := serialize(t,
		&layers.Ethernet{SrcMAC: macB, DstMAC: macA, EthernetType: layers.EthernetTypeARP},
		&layers.ARP{
			AddrType:          layers.LinkTypeEthernet,
			Protocol:          layers.EthernetTypeIPv4,
			HwAddressSize:     6,
			ProtAddressSize:   4,
			Operation:         layers.ARPReply,
			SourceHwAddress:   macB,
			SourceProtAddress: net.IP{10, 0, 0, 2}.To4(),
			DstHwAddress:      macA,
			DstProtAddress:    net.IP{10, 0, 0, 1}.To4(),
		})

	f, err := Parse(raw)
	require.NoError(t, err)
	require.NotNil(t, f.ARP)
	assert.Equal(t, uint16(layers.ARPReply), f.ARP.Operation)
	assert.Nil(t, f.IPv4)
	assert.Equal(t, raw, f.Raw)
}

func TestParse_ICMPEcho(t *testing.T) {
	raw := serialize(t,
		&layers.Ethernet{SrcMAC: macA, DstMAC: macB, EthernetType: layers.EthernetTypeIPv4},
		&layers.IPv4{
			Version: 4, TTL: 64, Protocol: layers.IPProtocolICMPv4,
			SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2},
		},
		&layers.ICMPv4{
			TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
			Id:       7, Seq: 1,
		},
		gopacket.Payload("abcdefgh"))

	f, err := Parse(raw)
	require.NoError(t, err)
	require.NotNil(t, f.IPv4)
	require.NotNil(t, f.ICMPv4)
	assert.Equal(t, uint16(7), f.ICMPv4.Id)
	assert.Equal(t, []byte("abcdefgh"), f.Payload)
}

func TestParse_UDP(t *testing.T) {
	udp := &layers.UDP{SrcPort: 68, DstPort: 67}
	ip := &layers.IPv4{
		Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.IP{0, 0, 0, 0}, DstIP: net.IP{255, 255, 255, 255},
	}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	raw := serialize(t,
		&layers.Ethernet{SrcMAC: macA, DstMAC: macB, EthernetType: layers.EthernetTypeIPv4},
		ip, udp, gopacket.Payload("discover"))

	f, err := Parse(raw)
	require.NoError(t, err)
	require.NotNil(t, f.UDP)
	assert.Equal(t, layers.UDPPort(67), f.UDP.DstPort)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte{0x01, 0x02, 0x03})
	assert.Error(t, err)
}
