// Package forward implements the "forward" plugin: a connection-pooled,
// health-tracked upstream relay with configurable selection policy and
// failover/next RCODE routing.
package forward

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coredns/corechain/plugin"
	"github.com/coredns/corechain/plugin/metrics/vars"
	"github.com/coredns/corechain/plugin/pkg/log"
	"github.com/coredns/corechain/plugin/pkg/wire"
	"github.com/coredns/corechain/request"
)

var clog = log.NewWithPlugin(name)

// Priority is fixed at 100, intercepted by cache (120) but running ahead of
// the low-priority ancillary plugins like health (10).
const Priority = 100

const (
	upstreamTimeout   = 2 * time.Second
	defaultMaxFails   = 2
	defaultHealthTick = 500 * time.Millisecond
	defaultExpire     = 10 * time.Second
)

// Forward is the plugin instance.
type Forward struct {
	shared *plugin.SharedState

	upstreams []*Upstream

	tlsServername string
	policy        Policy
	failoverCodes map[uint8]bool
	nextCodes     map[uint8]bool
	exceptSuffix  []string
	forceTCP      bool
	maxFails      int
	healthCheck   time.Duration
	failfast      bool
	maxIdleConns  int
	expire        time.Duration

	sem      chan struct{} // nil when unlimited
	rrCursor atomic.Uint64

	cancel context.CancelFunc
}

// Name implements plugin.Plugin.
func (f *Forward) Name() string { return name }

// Priority implements plugin.Plugin.
func (f *Forward) Priority() uint8 { return Priority }

// Process implements the attempt loop of spec.md §4.3.
func (f *Forward) Process(ctx context.Context, r *request.Request) error {
	qname, ok := wire.QNameString(r.RawQuery)
	if ok && f.matchesExcept(qname) {
		return nil
	}

	if f.sem != nil {
		select {
		case f.sem <- struct{}{}:
			defer func() { <-f.sem }()
		default:
			vars.ForwardMaxConcurrentRejects.Inc()
			r.RawResponse = wire.BuildErrorResponse(r.RawQuery, 5)
			r.HaltChain = true
			r.AnsweredBy = name
			return nil
		}
	}

	candidates := f.healthyCandidates()
	if len(candidates) == 0 {
		if f.failfast {
			r.RawResponse = wire.BuildErrorResponse(r.RawQuery, 2)
			r.HaltChain = true
			r.AnsweredBy = name
			return nil
		}
		candidates = f.upstreams
	}

	for _, u := range order(f.policy, candidates, &f.rrCursor) {
		start := time.Now()
		reply, err := f.dispatch(u, r.RawQuery)
		if err != nil {
			f.shared.ReportError("forward: " + u.Addr + ": " + err.Error())
			continue
		}
		vars.ProxyRequestDuration.WithLabelValues(u.Addr, wire.RcodeToString(wire.RCode(reply))).Observe(time.Since(start).Seconds())

		rcode := wire.RCode(reply)
		if f.failoverCodes[rcode] {
			continue
		}

		r.RawResponse = reply
		r.AnsweredBy = name
		if f.nextCodes[rcode] {
			r.HaltChain = false
			return nil
		}
		r.HaltChain = true
		return nil
	}

	return nil
}

// PostProcess is a no-op: the forward plugin's only observable effect is the
// response it sets on the forward pass.
func (f *Forward) PostProcess(_ context.Context, _ *request.Request) error {
	return nil
}

func (f *Forward) matchesExcept(qname string) bool {
	qname = strings.TrimSuffix(qname, ".")
	for _, suffix := range f.exceptSuffix {
		suffix = strings.TrimSuffix(suffix, ".")
		if qname == suffix || strings.HasSuffix(qname, "."+suffix) {
			return true
		}
	}
	return false
}

func (f *Forward) healthyCandidates() []*Upstream {
	out := make([]*Upstream, 0, len(f.upstreams))
	for _, u := range f.upstreams {
		if u.Healthy() {
			out = append(out, u)
		}
	}
	return out
}

// dispatch sends query to u using the appropriate transport, returning the
// raw reply bytes.
func (f *Forward) dispatch(u *Upstream, query []byte) ([]byte, error) {
	if u.IsTLS || f.forceTCP {
		return f.dispatchTLS(u, query)
	}
	return sendUDP(u.Addr, query, upstreamTimeout)
}

func (f *Forward) dispatchTLS(u *Upstream, query []byte) ([]byte, error) {
	if conn := u.pool.take(); conn != nil {
		vars.ProxyConnCacheHitsTotal.WithLabelValues(u.Addr).Inc()
		reply, err := sendFramed(conn, query, upstreamTimeout)
		if err != nil {
			conn.Close()
			return nil, err
		}
		u.pool.put(conn, f.expire)
		return reply, nil
	}

	vars.ProxyConnCacheMissesTotal.WithLabelValues(u.Addr).Inc()
	conn, err := dialTLS(u.Addr, f.tlsServername, upstreamTimeout)
	if err != nil {
		return nil, err
	}
	reply, err := sendFramed(conn, query, upstreamTimeout)
	if err != nil {
		conn.Close()
		return nil, err
	}
	u.pool.put(conn, f.expire)
	return reply, nil
}

// Shutdown stops every background health-prober goroutine. Called by the
// supervisor when the plugin's generation is torn down on reload.
func (f *Forward) Shutdown() {
	if f.cancel != nil {
		f.cancel()
	}
}
