// Package health implements the "health" plugin: a bare HTTP listener that
// answers every request with "200 OK" / body "OK", so an operator's
// liveness probe has something to poll regardless of which zone is loaded.
package health

import (
	"context"
	"net"
	"time"

	"github.com/coredns/corechain/corefile"
	"github.com/coredns/corechain/plugin"
	clog "github.com/coredns/corechain/plugin/pkg/log"
	"github.com/coredns/corechain/request"
)

var hlog = clog.NewWithPlugin(name)

const name = "health"

// Priority is fixed at 10: lower than every other known plugin, so health
// never intercepts a real query (it has no Process behavior of its own).
const Priority = 10

const (
	defaultPort  = "8080"
	readDeadline = 2 * time.Second
)

func init() {
	plugin.Register(name, setup)
}

// Health is the plugin instance. Its only behavior is the background HTTP
// listener spawned at construction; Process/PostProcess are no-ops.
type Health struct {
	ln net.Listener
}

// Name implements plugin.Plugin.
func (Health) Name() string { return name }

// Priority implements plugin.Plugin.
func (Health) Priority() uint8 { return Priority }

// Process is a no-op: health never answers DNS queries.
func (Health) Process(context.Context, *request.Request) error { return nil }

// PostProcess is a no-op.
func (Health) PostProcess(context.Context, *request.Request) error { return nil }

// Shutdown closes the HTTP listener, implementing plugin.Closer.
func (h *Health) Shutdown() {
	if h.ln != nil {
		h.ln.Close()
	}
}

func setup(args []string, _ []corefile.Option, _ *plugin.SharedState) (plugin.Plugin, error) {
	port := defaultPort
	if len(args) >= 1 && args[0] != "" {
		port = args[0]
	}
	addr := net.JoinHostPort("0.0.0.0", port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		// A second zone configuring health on the same port is not an
		// error: the first zone's listener already answers for both,
		// matching spec.md §4.5's "identical-port collisions ... log
		// informationally and continue."
		hlog.Infof("port %s already active (shared with another zone)", addr)
		return &Health{}, nil
	}

	hlog.Infof("listening on %s", addr)
	go serve(ln)

	return &Health{ln: ln}, nil
}

func serve(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go handle(conn)
	}
}

func handle(conn net.Conn) {
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(readDeadline))
	buf := make([]byte, 1024)
	conn.Read(buf) // discard the request; every request gets the same reply

	const body = "OK"
	resp := "HTTP/1.1 200 OK\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Length: 2\r\n" +
		"Connection: close\r\n\r\n" + body
	conn.Write([]byte(resp))
}
