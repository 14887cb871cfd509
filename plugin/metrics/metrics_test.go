package metrics

import (
	"context"
	"net"
	"testing"

	"github.com/coredns/corechain/request"
)

func buildQuery() []byte {
	return []byte{
		0x11, 0x11, 0x01, 0x00,
		0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		7, 'e', 'x', 'a', 'm', 'p', 'l', 'e',
		3, 'c', 'o', 'm',
		0,
		0x00, 0x01, 0x00, 0x01,
	}
}

func buildResponse(query []byte, rcode uint8) []byte {
	resp := make([]byte, len(query))
	copy(resp, query)
	resp[2] |= 0x80
	resp[3] = (resp[3] &^ 0x0F) | rcode
	return resp
}

func TestProcessAndPostProcessRecordMetrics(t *testing.T) {
	p, err := setup([]string{"0"}, nil, nil)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	m := p.(*Metrics)
	t.Cleanup(m.Shutdown)

	query := buildQuery()
	r := &request.Request{
		RawQuery:   query,
		ClientAddr: &net.UDPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 5353},
		Protocol:   "udp",
		ServerPort: 53,
	}

	if err := m.Process(context.Background(), r); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if r.StartTime.IsZero() {
		t.Fatal("expected StartTime to be set")
	}

	r.RawResponse = buildResponse(query, 0)
	r.AnsweredBy = "forward"
	if err := m.PostProcess(context.Background(), r); err != nil {
		t.Fatalf("PostProcess: %v", err)
	}

	families, err := m.registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected at least one registered metric family")
	}
}

func TestFamilyDetectsIPv6(t *testing.T) {
	r := &request.Request{ClientAddr: &net.UDPAddr{IP: net.ParseIP("2001:db8::1")}}
	if got := family(r); got != "2" {
		t.Fatalf("expected family 2 for IPv6, got %q", got)
	}
	r4 := &request.Request{ClientAddr: &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1)}}
	if got := family(r4); got != "1" {
		t.Fatalf("expected family 1 for IPv4, got %q", got)
	}
}
