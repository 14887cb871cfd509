// Package metrics implements the "metrics" (prometheus) plugin: it records
// per-request counters/histograms into plugin/metrics/vars and exposes them
// on its own HTTP listener in Prometheus text format.
package metrics

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/coredns/corechain/corefile"
	"github.com/coredns/corechain/plugin"
	"github.com/coredns/corechain/plugin/metrics/vars"
	clog "github.com/coredns/corechain/plugin/pkg/log"
	"github.com/coredns/corechain/plugin/pkg/wire"
	"github.com/coredns/corechain/request"
)

var mlog = clog.NewWithPlugin(name)

const name = "metrics"

// Priority is fixed at 150: below reload (190) but above cache (120), so
// every request is timed and sized regardless of what answers it.
const Priority = 150

const (
	defaultPort  = "9153"
	readDeadline = 2 * time.Second
	bufSize      = 8192
)

func init() {
	plugin.Register(name, setup)
}

// Metrics is the plugin instance.
type Metrics struct {
	registry *prometheus.Registry
	ln       net.Listener
}

// Name implements plugin.Plugin.
func (*Metrics) Name() string { return name }

// Priority implements plugin.Plugin.
func (*Metrics) Priority() uint8 { return Priority }

// Process records the incoming request's size and marks the request's
// start time for the duration histogram PostProcess will observe.
func (*Metrics) Process(_ context.Context, r *request.Request) error {
	r.StartTime = time.Now()

	server := serverLabel(r)
	qtype := wire.QTypeString(r.RawQuery)
	vars.RequestsTotal.WithLabelValues(family(r), r.Protocol, server, qtype, "", ".").Inc()
	vars.RequestSize.WithLabelValues(r.Protocol, server, ".", "").Observe(float64(len(r.RawQuery)))

	for _, p := range []string{"cache", "errors", "forward", "log", "metrics"} {
		vars.PluginEnabled.WithLabelValues(server, ".", p).Set(1)
	}
	return nil
}

// PostProcess observes the request's duration, response size, and rcode.
func (*Metrics) PostProcess(_ context.Context, r *request.Request) error {
	server := serverLabel(r)

	if !r.StartTime.IsZero() {
		vars.RequestDuration.WithLabelValues(server, ".", "").Observe(time.Since(r.StartTime).Seconds())
	}

	if r.RawResponse == nil {
		return nil
	}
	vars.ResponseSize.WithLabelValues(r.Protocol, server, ".", "").Observe(float64(len(r.RawResponse)))

	answeredBy := r.AnsweredBy
	if answeredBy == "" {
		answeredBy = "unknown"
	}
	rcode := wire.RcodeToString(wire.RCode(r.RawResponse))
	vars.ResponsesTotal.WithLabelValues(answeredBy, rcode, server, "", ".").Inc()
	return nil
}

// Shutdown closes the exposition listener, implementing plugin.Closer.
func (m *Metrics) Shutdown() {
	if m.ln != nil {
		m.ln.Close()
	}
}

func family(r *request.Request) string {
	if addr, ok := r.ClientAddr.(*net.UDPAddr); ok && addr.IP.To4() == nil {
		return "2"
	}
	if addr, ok := r.ClientAddr.(*net.TCPAddr); ok && addr.IP.To4() == nil {
		return "2"
	}
	return "1"
}

func serverLabel(r *request.Request) string {
	return fmt.Sprintf("dns://:%d", r.ServerPort)
}

func setup(args []string, _ []corefile.Option, _ *plugin.SharedState) (plugin.Plugin, error) {
	port := defaultPort
	if len(args) >= 1 && args[0] != "" {
		port = args[0]
	}

	reg := prometheus.NewRegistry()
	vars.Register(reg)
	vars.BuildInfo.WithLabelValues("(devel)", "(unknown)", runtime.Version()).Set(1)

	addr := net.JoinHostPort("0.0.0.0", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		mlog.Infof("port %s already active (shared with another zone)", addr)
		return &Metrics{registry: reg}, nil
	}

	mlog.Infof("listening on %s", addr)
	m := &Metrics{registry: reg, ln: ln}
	go m.serve()
	return m, nil
}

func (m *Metrics) serve() {
	for {
		conn, err := m.ln.Accept()
		if err != nil {
			return
		}
		go m.handle(conn)
	}
}

func (m *Metrics) handle(conn net.Conn) {
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(readDeadline))
	buf := make([]byte, bufSize)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return
	}
	if n < 4 || string(buf[:4]) != "GET " {
		return
	}

	families, err := m.registry.Gather()
	if err != nil {
		mlog.Errorf("gather: %v", err)
		return
	}

	var out bytes.Buffer
	enc := expfmt.NewEncoder(&out, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			continue
		}
	}
	body := out.Bytes()

	header := "HTTP/1.1 200 OK\r\n" +
		"Content-Type: text/plain; version=0.0.4\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
		"Connection: close\r\n\r\n"

	conn.SetDeadline(time.Now().Add(readDeadline))
	conn.Write([]byte(header))
	conn.Write(body)

	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.CloseWrite()
	}
}
