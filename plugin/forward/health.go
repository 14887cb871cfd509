package forward

import (
	"context"
	"time"
)

// healthProbe is the canned 17-byte A-query for "." used to ping upstreams,
// byte-for-byte the probe the reference implementation builds by hand:
// txid 0x1234, QR=0/OPCODE=0, 1 question, root name, QTYPE=A, QCLASS=IN.
var healthProbe = []byte{
	0x12, 0x34, 0x01, 0x00,
	0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00,
	0x00, 0x01, 0x00, 0x01,
}

const healthProbeTimeout = 1500 * time.Millisecond

// startHealthChecks spawns one probing goroutine per upstream. Each stops
// when ctx is cancelled, which happens when the plugin is torn down on
// reload — matching spec.md §5's "plugin teardown aborts background tasks."
func (f *Forward) startHealthChecks(ctx context.Context) {
	for _, u := range f.upstreams {
		go f.probeLoop(ctx, u)
	}
}

func (f *Forward) probeLoop(ctx context.Context, u *Upstream) {
	ticker := time.NewTicker(f.healthCheck)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.probeOnce(u)
		}
	}
}

func (f *Forward) probeOnce(u *Upstream) {
	var err error
	if u.IsTLS || f.forceTCP {
		err = pingTLS(u.Addr, f.tlsServername)
	} else {
		err = pingUDP(u.Addr)
	}

	if err == nil {
		u.recordSuccess()
		return
	}
	if u.recordFailure(f.maxFails) {
		clog.Warningf("upstream %s marked unhealthy after %d consecutive failures", u.Addr, f.maxFails)
	}
}

func pingUDP(addr string) error {
	_, err := sendUDP(addr, healthProbe, healthProbeTimeout)
	return err
}

func pingTLS(addr, servername string) error {
	conn, err := dialTLS(addr, servername, healthProbeTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = sendFramed(conn, healthProbe, healthProbeTimeout)
	return err
}
