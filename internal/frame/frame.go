// Package frame decodes raw captured bytes into structured Ethernet frames.
package frame

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Frame is one decoded Ethernet frame. Layer pointers are nil when the
// corresponding layer is not present.
type Frame struct {
	Eth    *layers.Ethernet
	ARP    *layers.ARP
	IPv4   *layers.IPv4
	ICMPv4 *layers.ICMPv4
	UDP    *layers.UDP

	// Payload is the application payload beyond the decoded layers, if
	// any.
	Payload []byte
	// Raw is the original capture, kept so services can echo or
	// retransmit without re-serializing.
	Raw []byte
}

// Parse decodes raw bytes as an Ethernet frame. A frame the decoder rejects
// is an error; the engine treats that as fatal rather than dropping it.
func Parse(raw []byte) (*Frame, error) {
	pkt := gopacket.NewPacket(raw, layers.LayerTypeEthernet, gopacket.Default)
	if errLayer := pkt.ErrorLayer(); errLayer != nil {
		return nil, fmt.Errorf("malformed frame (%d bytes): %w", len(raw), errLayer.Error())
	}

	eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok {
		return nil, fmt.Errorf("frame (%d bytes) has no ethernet layer", len(raw))
	}

	f := &Frame{
		Eth: eth,
		Raw: raw,
	}
	if l, ok := pkt.Layer(layers.LayerTypeARP).(*layers.ARP); ok {
		f.ARP = l
	}
	if l, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
		f.IPv4 = l
	}
	if l, ok := pkt.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4); ok {
		f.ICMPv4 = l
	}
	if l, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP); ok {
		f.UDP = l
	}
	if app := pkt.ApplicationLayer(); app != nil {
		f.Payload = app.Payload()
	}
	return f, nil
}
