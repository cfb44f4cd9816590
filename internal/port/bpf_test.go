package port

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/bpf"
)

// runFilter executes compiled instructions against a raw frame using the
// interpreter from golang.org/x/net/bpf.
func runFilter(t *testing.T, filter string, frame []byte) bool {
	t.Helper()
	raw, err := CompileFilter(filter)
	require.NoError(t, err)
	if raw == nil {
		return true
	}
	ins, ok := bpf.Disassemble(raw)
	require.True(t, ok)
	vm, err := bpf.NewVM(ins)
	require.NoError(t, err)
	n, err := vm.Run(frame)
	require.NoError(t, err)
	return n > 0
}

// minimal Ethernet+IPv4 frame with the given protocol and addresses.
func ipv4Frame(proto byte, src, dst [4]byte) []byte {
	frame := make([]byte, 60)
	frame[12] = 0x08
	frame[13] = 0x00
	frame[14] = 0x45 // version + IHL
	frame[23] = proto
	copy(frame[26:30], src[:])
	copy(frame[30:34], dst[:])
	return frame
}

func arpFrame() []byte {
	frame := make([]byte, 60)
	frame[12] = 0x08
	frame[13] = 0x06
	return frame
}

func TestCompileFilter_Empty(t *testing.T) {
	raw, err := CompileFilter("")
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestCompileFilter_ARP(t *testing.T) {
	assert.True(t, runFilter(t, "arp", arpFrame()))
	assert.False(t, runFilter(t, "arp", ipv4Frame(1, [4]byte{}, [4]byte{})))
}

func TestCompileFilter_ICMP(t *testing.T) {
	icmp := ipv4Frame(1, [4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2})
	tcp := ipv4Frame(6, [4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2})

	assert.True(t, runFilter(t, "icmp", icmp))
	assert.False(t, runFilter(t, "icmp", tcp))
	assert.False(t, runFilter(t, "icmp", arpFrame()))
}

func TestCompileFilter_SrcDst(t *testing.T) {
	frame := ipv4Frame(17, [4]byte{192, 168, 1, 10}, [4]byte{192, 168, 1, 1})

	assert.True(t, runFilter(t, "ip and src 192.168.1.10", frame))
	assert.False(t, runFilter(t, "ip and src 192.168.1.11", frame))
	assert.True(t, runFilter(t, "ip and dst 192.168.1.1", frame))
	assert.False(t, runFilter(t, "ip and dst 192.168.1.10", frame))
}

func TestCompileFilter_Host(t *testing.T) {
	frame := ipv4Frame(1, [4]byte{192, 168, 1, 10}, [4]byte{192, 168, 1, 1})

	assert.True(t, runFilter(t, "icmp and host 192.168.1.10", frame))
	assert.True(t, runFilter(t, "icmp and host 192.168.1.1", frame))
	assert.False(t, runFilter(t, "icmp and host 192.168.1.2", frame))
}

func TestCompileFilter_Errors(t *testing.T) {
	cases := []string{
		"tcp port 80",
		"arp and host 10.0.0.1",
		"src",
		"src nonsense",
		"ip icmp",
	}
	for _, c := range cases {
		assert.Error(t, ValidateFilter(c), "filter %q", c)
	}
}
