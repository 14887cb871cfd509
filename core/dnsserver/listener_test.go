package dnsserver

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/coredns/corechain/plugin"
	"github.com/coredns/corechain/request"
)

// echoPlugin answers every query with a synthesized response of a fixed
// size, so tests can control whether a reply needs UDP truncation.
type echoPlugin struct {
	replySize int
}

func (echoPlugin) Name() string     { return "echo" }
func (echoPlugin) Priority() uint8  { return 100 }
func (p echoPlugin) Process(_ context.Context, r *request.Request) error {
	resp := make([]byte, p.replySize)
	copy(resp, r.RawQuery)
	if len(resp) >= 3 {
		resp[2] |= 0x80 // QR bit
	}
	r.RawResponse = resp
	return nil
}
func (echoPlugin) PostProcess(context.Context, *request.Request) error { return nil }

// panicPlugin always panics on Process, to exercise the listener's
// recover-and-answer-SERVFAIL path.
type panicPlugin struct{}

func (panicPlugin) Name() string     { return "panic" }
func (panicPlugin) Priority() uint8  { return 100 }
func (panicPlugin) Process(context.Context, *request.Request) error {
	panic("boom")
}
func (panicPlugin) PostProcess(context.Context, *request.Request) error { return nil }

func newLoopbackListener(t *testing.T, replySize int) *Listener {
	t.Helper()
	l := &Listener{
		Addr: "127.0.0.1:0",
		Zone: &Zone{Name: ".", Plugins: []plugin.Plugin{echoPlugin{replySize: replySize}}},
	}
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(l.Stop)
	return l
}

func newPanicLoopbackListener(t *testing.T) *Listener {
	t.Helper()
	l := &Listener{
		Addr: "127.0.0.1:0",
		Zone: &Zone{Name: ".", Plugins: []plugin.Plugin{panicPlugin{}}},
	}
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(l.Stop)
	return l
}

func buildMinimalQuery() []byte {
	return []byte{
		0x22, 0x22, 0x01, 0x00,
		0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		7, 'e', 'x', 'a', 'm', 'p', 'l', 'e',
		3, 'c', 'o', 'm',
		0,
		0x00, 0x01, 0x00, 0x01,
	}
}

func TestListenerUDPRoundTrip(t *testing.T) {
	l := newLoopbackListener(t, 40)

	// l.Addr asked for port 0; the real bound address is on l.udpConn.
	addr := l.udpConn.LocalAddr().(*net.UDPAddr)

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer conn.Close()

	query := buildMinimalQuery()
	if _, err := conn.Write(query); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 40 {
		t.Fatalf("expected a 40 byte reply, got %d", n)
	}
	if buf[2]&0x80 == 0 {
		t.Fatal("expected QR bit to be set in the reply")
	}
}

func TestListenerUDPTruncatesOversizedReply(t *testing.T) {
	l := newLoopbackListener(t, maxUDPReply+200)

	addr := l.udpConn.LocalAddr().(*net.UDPAddr)
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write(buildMinimalQuery()); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != maxUDPReply {
		t.Fatalf("expected reply truncated to %d bytes, got %d", maxUDPReply, n)
	}
	if buf[2]&0x02 == 0 {
		t.Fatal("expected TC bit to be set on a truncated reply")
	}
}

func TestListenerUDPAnswersServfailOnPanic(t *testing.T) {
	l := newPanicLoopbackListener(t)

	addr := l.udpConn.LocalAddr().(*net.UDPAddr)
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer conn.Close()

	query := buildMinimalQuery()
	if _, err := conn.Write(query); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != len(query) {
		t.Fatalf("expected a reply the same length as the query, got %d", n)
	}
	if buf[2]&0x80 == 0 {
		t.Fatal("expected QR bit to be set on the synthesized SERVFAIL")
	}
	if buf[3]&0x0F != servfail {
		t.Fatalf("expected RCODE %d (SERVFAIL), got %d", servfail, buf[3]&0x0F)
	}
}

func TestListenerTCPRoundTrip(t *testing.T) {
	l := newLoopbackListener(t, maxUDPReply+200)

	addr := l.tcpLn.Addr().(*net.TCPAddr)
	conn, err := net.DialTCP("tcp", nil, addr)
	if err != nil {
		t.Fatalf("DialTCP: %v", err)
	}
	defer conn.Close()

	query := buildMinimalQuery()
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(query)))
	if _, err := conn.Write(append(lenBuf[:], query...)); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var respLenBuf [2]byte
	if _, err := conn.Read(respLenBuf[:]); err != nil {
		t.Fatalf("read length prefix: %v", err)
	}
	respLen := int(binary.BigEndian.Uint16(respLenBuf[:]))
	if respLen != maxUDPReply+200 {
		t.Fatalf("expected an untruncated %d byte TCP reply, got length %d", maxUDPReply+200, respLen)
	}

	body := make([]byte, respLen)
	total := 0
	for total < respLen {
		n, err := conn.Read(body[total:])
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		total += n
	}
}
