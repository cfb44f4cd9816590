package port

import (
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/bpf"
)

// The capture backends accept a small tcpdump-style filter subset:
//
//	arp
//	icmp [and (src|dst|host) <ipv4>]
//	ip   [and (src|dst|host) <ipv4>]
//	ip6
//
// The subset matches only link and network layer fields so filtering never
// depends on transport reassembly.

const (
	etherTypeIPv4 = 0x0800
	etherTypeARP  = 0x0806
	etherTypeIPv6 = 0x86DD

	ipProtoICMP = 1

	// Ethernet header is 14 bytes; IPv4 addresses sit at fixed offsets
	// because the subset never matches on IP options.
	offEtherType = 12
	offIPProto   = 23
	offIPv4Src   = 26
	offIPv4Dst   = 30

	snapAll = 65535
)

type filterCond struct {
	proto string // "arp", "icmp", "ip", "ip6"
	src   net.IP
	dst   net.IP
	host  net.IP
}

// CompileFilter compiles a filter expression into classic BPF instructions.
// An empty expression compiles to nil, meaning capture everything.
func CompileFilter(filter string) ([]bpf.RawInstruction, error) {
	cond, err := parseFilter(filter)
	if err != nil {
		return nil, err
	}
	if cond == nil {
		return nil, nil
	}

	type check struct {
		off  uint32
		size int
		val  uint32
	}

	var checks []check
	switch cond.proto {
	case "arp":
		checks = append(checks, check{offEtherType, 2, etherTypeARP})
	case "ip":
		checks = append(checks, check{offEtherType, 2, etherTypeIPv4})
	case "ip6":
		checks = append(checks, check{offEtherType, 2, etherTypeIPv6})
	case "icmp":
		checks = append(checks,
			check{offEtherType, 2, etherTypeIPv4},
			check{offIPProto, 1, ipProtoICMP})
	}
	if ip := cond.src.To4(); ip != nil {
		checks = append(checks, check{offIPv4Src, 4, ipv4ToUint32(ip)})
	}
	if ip := cond.dst.To4(); ip != nil {
		checks = append(checks, check{offIPv4Dst, 4, ipv4ToUint32(ip)})
	}

	// Tail is either a plain accept/reject pair or, for "host", an
	// either-address match.
	var tail []bpf.Instruction
	if ip := cond.host.To4(); ip != nil {
		addr := ipv4ToUint32(ip)
		tail = []bpf.Instruction{
			bpf.LoadAbsolute{Off: offIPv4Src, Size: 4},
			bpf.JumpIf{Cond: bpf.JumpEqual, Val: addr, SkipTrue: 2},
			bpf.LoadAbsolute{Off: offIPv4Dst, Size: 4},
			bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: addr, SkipTrue: 1},
			bpf.RetConstant{Val: snapAll},
			bpf.RetConstant{Val: 0},
		}
	} else {
		tail = []bpf.Instruction{
			bpf.RetConstant{Val: snapAll},
			bpf.RetConstant{Val: 0},
		}
	}

	var ins []bpf.Instruction
	for i, c := range checks {
		// A failed check jumps straight to the final reject.
		skip := uint8((len(checks)-1-i)*2 + len(tail) - 1)
		ins = append(ins,
			bpf.LoadAbsolute{Off: c.off, Size: c.size},
			bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: c.val, SkipTrue: skip})
	}
	ins = append(ins, tail...)

	return bpf.Assemble(ins)
}

// ValidateFilter reports whether the expression is compilable.
func ValidateFilter(filter string) error {
	_, err := CompileFilter(filter)
	return err
}

func parseFilter(filter string) (*filterCond, error) {
	fields := strings.Fields(strings.ToLower(filter))
	if len(fields) == 0 {
		return nil, nil
	}

	cond := &filterCond{}
	i := 0
	for i < len(fields) {
		tok := fields[i]
		switch tok {
		case "and":
			i++
		case "arp", "icmp", "ip", "ip6":
			if cond.proto != "" {
				return nil, fmt.Errorf("filter %q: multiple protocols", filter)
			}
			cond.proto = tok
			i++
		case "src", "dst", "host":
			if i+1 >= len(fields) {
				return nil, fmt.Errorf("filter %q: %s requires an address", filter, tok)
			}
			ip := net.ParseIP(fields[i+1])
			if ip == nil || ip.To4() == nil {
				return nil, fmt.Errorf("filter %q: invalid IPv4 address %q", filter, fields[i+1])
			}
			switch tok {
			case "src":
				cond.src = ip
			case "dst":
				cond.dst = ip
			case "host":
				cond.host = ip
			}
			i += 2
		default:
			return nil, fmt.Errorf("filter %q: unsupported token %q", filter, tok)
		}
	}

	if cond.proto == "" {
		cond.proto = "ip"
	}
	hasAddr := cond.src != nil || cond.dst != nil || cond.host != nil
	if cond.proto == "arp" && hasAddr {
		return nil, fmt.Errorf("filter %q: address conditions are not supported for arp", filter)
	}
	if cond.proto == "ip6" && hasAddr {
		return nil, fmt.Errorf("filter %q: address conditions are not supported for ip6", filter)
	}
	return cond, nil
}

func ipv4ToUint32(ip net.IP) uint32 {
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}
