// Package whoami implements the "whoami" plugin: it answers A/AAAA queries
// with the querying client's own address, plus an SRV record pointing at
// the client's source port — useful for diagnosing what a client looks
// like from the server's vantage point.
package whoami

import (
	"context"
	"net"
	"strconv"

	"github.com/coredns/corechain/corefile"
	"github.com/coredns/corechain/plugin"
	"github.com/coredns/corechain/plugin/pkg/wire"
	"github.com/coredns/corechain/request"
)

const name = "whoami"

// Priority is fixed at 200: below log (255) and errors (220) but above every
// other plugin, so it overrides cache and forward whenever it applies.
const Priority = 200

func init() {
	plugin.Register(name, setup)
}

// Whoami is the plugin instance. It carries no configuration.
type Whoami struct{}

// Name implements plugin.Plugin.
func (Whoami) Name() string { return name }

// Priority implements plugin.Plugin.
func (Whoami) Priority() uint8 { return Priority }

// PostProcess is a no-op.
func (Whoami) PostProcess(context.Context, *request.Request) error { return nil }

// Process answers A/AAAA queries directly from the client's own address;
// any other query type passes through unanswered.
func (Whoami) Process(_ context.Context, r *request.Request) error {
	if r.HaltChain || len(r.RawQuery) < wire.HeaderSize || r.ClientAddr == nil {
		return nil
	}

	qtype, ok := wire.QType(r.RawQuery)
	if !ok || (qtype != 1 && qtype != 28) {
		return nil
	}

	ip, port := splitHostPort(r.ClientAddr)
	if ip == nil {
		return nil
	}
	isV4 := ip.To4() != nil
	if (qtype == 1 && !isV4) || (qtype == 28 && isV4) {
		// Query type doesn't match the client's address family; nothing
		// to synthesize, fall through to the rest of the chain.
		return nil
	}

	resp, ok := buildResponse(r.RawQuery, qtype, ip, port)
	if !ok {
		return nil
	}

	r.RawResponse = resp
	r.HaltChain = true
	r.AnsweredBy = name
	return nil
}

func splitHostPort(addr net.Addr) (net.IP, int) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP, a.Port
	case *net.TCPAddr:
		return a.IP, a.Port
	default:
		host, portStr, err := net.SplitHostPort(addr.String())
		if err != nil {
			return nil, 0
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, 0
		}
		return net.ParseIP(host), port
	}
}

// buildResponse hand-crafts header + echoed question + A/AAAA answer (name
// compressed to offset 12) + SRV answer for _udp/_tcp pointing at the
// client's port, matching the reference implementation byte for byte.
func buildResponse(query []byte, qtype uint16, ip net.IP, port int) ([]byte, bool) {
	qend, ok := questionEnd(query)
	if !ok {
		return nil, false
	}

	resp := make([]byte, 0, qend+4+32)
	resp = append(resp, query[0], query[1]) // TXID
	resp = append(resp, 0x81, 0x80)         // QR=1, RD=1, RA=1
	resp = append(resp, 0x00, 0x01)         // QDCOUNT=1
	resp = append(resp, 0x00, 0x00)         // ANCOUNT=0
	resp = append(resp, 0x00, 0x00)         // NSCOUNT=0
	resp = append(resp, 0x00, 0x02)         // ARCOUNT=2: address + SRV both ride in Additional
	resp = append(resp, query[wire.HeaderSize:qend]...)

	// Address record: name pointer to offset 12, type, class IN, TTL, rdata.
	resp = append(resp, 0xC0, 0x0C)
	if qtype == 1 {
		resp = append(resp, 0x00, 0x01) // TYPE A
		resp = append(resp, 0x00, 0x01) // CLASS IN
		resp = append(resp, 0x00, 0x00, 0x00, 0x3C)
		resp = append(resp, 0x00, 0x04)
		resp = append(resp, ip.To4()...)
	} else {
		resp = append(resp, 0x00, 0x1C) // TYPE AAAA
		resp = append(resp, 0x00, 0x01) // CLASS IN
		resp = append(resp, 0x00, 0x00, 0x00, 0x3C)
		resp = append(resp, 0x00, 0x10)
		resp = append(resp, ip.To16()...)
	}

	// SRV record pointing at the client's source port, name pointer to
	// offset 12 again for simplicity.
	resp = append(resp, 0xC0, 0x0C)
	resp = append(resp, 0x00, 0x21) // TYPE SRV
	resp = append(resp, 0x00, 0x01) // CLASS IN
	resp = append(resp, 0x00, 0x00, 0x00, 0x3C)
	rdata := []byte{0x00, 0x00, 0x00, 0x00, byte(port >> 8), byte(port), 0x00}
	resp = append(resp, byte(len(rdata)>>8), byte(len(rdata)))
	resp = append(resp, rdata...)

	return resp, true
}

func questionEnd(query []byte) (int, bool) {
	offset := wire.HeaderSize
	for offset < len(query) {
		n := int(query[offset])
		offset++
		if n == 0 {
			break
		}
		offset += n
		if offset > len(query) {
			return 0, false
		}
	}
	if offset+4 > len(query) {
		return 0, false
	}
	return offset + 4, true
}

func setup(_ []string, _ []corefile.Option, _ *plugin.SharedState) (plugin.Plugin, error) {
	return Whoami{}, nil
}
