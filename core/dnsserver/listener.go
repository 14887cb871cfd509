package dnsserver

import (
	"context"
	"io"
	"net"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	clog "github.com/coredns/corechain/plugin/pkg/log"
	"github.com/coredns/corechain/plugin/pkg/wire"
	"github.com/coredns/corechain/request"
)

var srvLog = clog.NewWithPlugin("server")

const (
	// udpBufSize is large enough for any query this server is expected
	// to receive; spec.md treats EDNS0 buffer negotiation as out of
	// scope, so one fixed size covers every datagram.
	udpBufSize = 4096

	// maxUDPReply is the wire size a reply is truncated to before being
	// sent over UDP, per spec.md §4.5 and §6.
	maxUDPReply = 1232

	// servfail is the RCODE synthesized into a reply when a plugin chain
	// panics, matching the teacher's own ServeDNS recover block (in the
	// original, since-replaced core/dnsserver/server.go), which answers
	// SERVFAIL rather than dropping the connection.
	servfail = 2
)

// Listener binds and serves one port. When several zones share a port, the
// first one registered (Zone) is the chain that answers every query
// arriving on it, per spec.md §4.5.
type Listener struct {
	Addr string
	Zone *Zone

	port int

	udpConn *net.UDPConn
	tcpLn   net.Listener

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Start binds the UDP socket and TCP listener for l.Addr and spawns their
// receive/accept loops. If either bind fails, anything already bound is
// closed and the error is returned so the caller can log-and-skip that
// port per spec.md §4.5/§7, leaving other ports unaffected.
func (l *Listener) Start() error {
	_, portStr, err := net.SplitHostPort(l.Addr)
	if err != nil {
		return err
	}
	l.port, _ = strconv.Atoi(portStr)

	udpAddr, err := net.ResolveUDPAddr("udp", l.Addr)
	if err != nil {
		return err
	}
	uconn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}

	tln, err := net.Listen("tcp", l.Addr)
	if err != nil {
		uconn.Close()
		return err
	}

	l.udpConn = uconn
	l.tcpLn = tln

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel

	l.wg.Add(2)
	go l.serveUDP(ctx)
	go l.serveTCP(ctx)
	return nil
}

// Stop cancels and closes both sockets, releasing the port, and waits for
// the accept/receive loops (not in-flight per-request handlers) to return.
// Per spec.md §5, in-flight requests may or may not complete; that is
// acceptable since the cache survives across the teardown.
func (l *Listener) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	if l.udpConn != nil {
		l.udpConn.Close()
	}
	if l.tcpLn != nil {
		l.tcpLn.Close()
	}
	l.wg.Wait()
}

func (l *Listener) serveUDP(ctx context.Context) {
	defer l.wg.Done()
	buf := make([]byte, udpBufSize)
	for {
		n, addr, err := l.udpConn.ReadFromUDP(buf)
		if err != nil {
			return // closed by Stop, or an unrecoverable socket error
		}
		query := make([]byte, n)
		copy(query, buf[:n])
		go l.handleUDP(ctx, query, addr)
	}
}

func (l *Listener) handleUDP(ctx context.Context, query []byte, addr *net.UDPAddr) {
	defer func() {
		if rec := recover(); rec != nil {
			logRecovered("udp", rec)
			l.udpConn.WriteToUDP(wire.BuildErrorResponse(query, servfail), addr)
		}
	}()

	r := &request.Request{
		RawQuery:   query,
		ClientAddr: addr,
		Protocol:   "udp",
		ServerPort: l.port,
	}
	RunChain(ctx, l.Zone.Plugins, r)

	if r.RawResponse == nil {
		return
	}
	resp := r.RawResponse
	if len(resp) > maxUDPReply {
		resp = truncate(resp)
	}
	l.udpConn.WriteToUDP(resp, addr)
}

// truncate copies the first maxUDPReply bytes of resp and sets the TC bit
// (byte 2, 0x02), per spec.md §4.5/§6/§8 scenario 4.
func truncate(resp []byte) []byte {
	out := make([]byte, maxUDPReply)
	copy(out, resp[:maxUDPReply])
	if len(out) >= 3 {
		out[2] |= 0x02
	}
	return out
}

func (l *Listener) serveTCP(ctx context.Context) {
	defer l.wg.Done()
	for {
		conn, err := l.tcpLn.Accept()
		if err != nil {
			return
		}
		go l.handleTCP(ctx, conn)
	}
}

func (l *Listener) handleTCP(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var query []byte
	defer func() {
		if rec := recover(); rec != nil {
			logRecovered("tcp", rec)
			writeTCPResponse(conn, wire.BuildErrorResponse(query, servfail))
		}
	}()

	conn.SetDeadline(time.Now().Add(10 * time.Second))

	var lenBuf [2]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return // unrecoverable framing: drop the connection, no reply
	}
	n := int(lenBuf[0])<<8 | int(lenBuf[1])
	query = make([]byte, n)
	if _, err := io.ReadFull(conn, query); err != nil {
		return
	}

	r := &request.Request{
		RawQuery:   query,
		ClientAddr: conn.RemoteAddr(),
		Protocol:   "tcp",
		ServerPort: l.port,
	}
	RunChain(ctx, l.Zone.Plugins, r)

	if r.RawResponse == nil {
		return
	}
	writeTCPResponse(conn, r.RawResponse)
}

// writeTCPResponse writes resp to conn framed with its 2-byte big-endian
// length prefix, per spec.md §6's length-prefixed TCP wire format.
func writeTCPResponse(conn net.Conn, resp []byte) {
	frame := make([]byte, 2+len(resp))
	frame[0] = byte(len(resp) >> 8)
	frame[1] = byte(len(resp))
	copy(frame[2:], resp)
	conn.Write(frame)
}

// logRecovered stops a panicking per-request handler goroutine from taking
// the whole process down, matching spec.md §7's "no panic path in
// steady-state operation." Unlike a silently dropped request, the caller
// still synthesizes and writes a SERVFAIL reply after this returns.
func logRecovered(proto string, rec any) {
	srvLog.Errorf("recovered from panic handling %s request: %v\n%s", proto, rec, debug.Stack())
}
