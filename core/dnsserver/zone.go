// Package dnsserver implements the request-processing engine: the
// plugin-chain executor, the per-port UDP/TCP listener topology, and the
// supervisor loop that rebuilds both whenever the configuration reloads.
package dnsserver

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/coredns/corechain/corefile"
	"github.com/coredns/corechain/plugin"
)

const defaultPort = 53

// Zone is one configured zone's priority-sorted plugin chain, resolved to
// the bind address it serves.
type Zone struct {
	// Name is the zone suffix as written in the Corefile, with any
	// ":port" stripped (e.g. "example.org", "." for the wildcard zone).
	Name string

	// Addr is the resolved "listen_ip:port" this zone's chain answers
	// on, per spec.md §4.5: listen_ip comes from the supervisor's
	// --address flag, the port from this zone's own name suffix.
	Addr string

	// Plugins is this zone's effective chain, already sorted by
	// descending priority (ties broken by Corefile declaration order;
	// sort.SliceStable preserves that for equal priorities).
	Plugins []plugin.Plugin
}

// BuildZones instantiates every zone's plugin list from cf via the
// plugin.New factory registry, sorts each by descending priority, and
// resolves each zone's bind address against listenIP. A failure
// constructing any plugin aborts the whole build, matching spec.md §7's
// "malformed block, unknown plugin name — fatal at startup, recoverable at
// reload."
func BuildZones(cf *corefile.Corefile, listenIP string, shared *plugin.SharedState) ([]*Zone, error) {
	zones := make([]*Zone, 0, len(cf.Zones))

	for _, z := range cf.Zones {
		suffix, port := splitZoneName(z.Name)
		addr := net.JoinHostPort(listenIP, strconv.Itoa(port))

		plugins := make([]plugin.Plugin, 0, len(z.Plugins))
		for _, inv := range z.Plugins {
			p, err := plugin.New(inv.Name, inv.Args, inv.Block, shared)
			if err != nil {
				return nil, fmt.Errorf("zone %q: %w", z.Name, err)
			}
			plugins = append(plugins, p)
		}
		if err := checkPriorityCollisions(z.Name, plugins); err != nil {
			return nil, err
		}

		sort.SliceStable(plugins, func(i, j int) bool {
			return plugins[i].Priority() > plugins[j].Priority()
		})

		zones = append(zones, &Zone{Name: suffix, Addr: addr, Plugins: plugins})
	}

	return zones, nil
}

// checkPriorityCollisions enforces spec.md §3's invariant: multiple
// instances of the same plugin type in one zone are only permitted if their
// priorities differ (otherwise the forward/reverse ordering between them is
// undefined, since both facts — "same name" and "same priority" — can only
// coexist by accident of two separate Corefile lines).
func checkPriorityCollisions(zoneName string, plugins []plugin.Plugin) error {
	seen := map[string]uint8{}
	for _, p := range plugins {
		if prev, ok := seen[p.Name()]; ok && prev == p.Priority() {
			return fmt.Errorf("zone %q: two %q plugins share priority %d", zoneName, p.Name(), p.Priority())
		}
		seen[p.Name()] = p.Priority()
	}
	return nil
}

// splitZoneName splits a Corefile zone name of the form "suffix[:port]"
// into its suffix and numeric port, defaulting to port 53 when there is no
// colon or the text after the last colon is not a number. A name whose last
// colon-separated part is numeric (such as a bare IPv6 literal "fe80::1") is
// always read as suffix:port.
func splitZoneName(raw string) (string, int) {
	if i := strings.LastIndex(raw, ":"); i >= 0 {
		if port, err := strconv.Atoi(raw[i+1:]); err == nil {
			return raw[:i], port
		}
	}
	return raw, defaultPort
}

// groupByAddr groups zones by resolved bind address. Multiple zones legally
// share one port (spec.md §4.5); the first zone registered for an address
// is the one whose chain serves all traffic arriving on it — an open
// question in spec.md §9 about whether that matches operator expectation,
// resolved here in the simplest way the spec's own wording supports.
func groupByAddr(zones []*Zone) map[string][]*Zone {
	groups := make(map[string][]*Zone, len(zones))
	for _, z := range zones {
		groups[z.Addr] = append(groups[z.Addr], z)
	}
	return groups
}
