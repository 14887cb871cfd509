package dnsserver

import (
	"fmt"
	"os"
	"time"

	"github.com/coredns/corechain/corefile"
	"github.com/coredns/corechain/plugin"
	pkgcache "github.com/coredns/corechain/plugin/pkg/cache"
	clog "github.com/coredns/corechain/plugin/pkg/log"
	"github.com/coredns/corechain/plugin/metrics/vars"
)

var supLog = clog.NewWithPlugin("supervisor")

// failedReloadBackoff is how long the supervisor waits before retrying a
// configuration it failed to load on reload, so a syntax error mid-edit
// doesn't spin the CPU while the operator finishes fixing it.
const failedReloadBackoff = 5 * time.Second

// Supervisor owns the build -> run -> reload -> rebuild cycle of spec.md
// §4.5. Its cache store is allocated once and handed to every generation's
// SharedState unchanged, so warm entries survive every reload.
type Supervisor struct {
	ConfigPath string
	ListenIP   string

	cache *pkgcache.Store
}

// NewSupervisor allocates the process-wide cache store that outlives every
// reload generation.
func NewSupervisor(configPath, listenIP string) *Supervisor {
	return &Supervisor{
		ConfigPath: configPath,
		ListenIP:   listenIP,
		cache:      pkgcache.NewStore(),
	}
}

// Run blocks forever, serving one generation at a time, until the very
// first configuration load fails (a fatal, unrecoverable startup error per
// spec.md §7) or the process is otherwise terminated.
func (s *Supervisor) Run() error {
	var (
		listeners []*Listener
		zones     []*Zone
		active    *plugin.SharedState
	)

	for {
		shared := plugin.NewSharedState(s.ConfigPath, s.cache)

		newZones, err := s.build(shared)
		if err != nil {
			vars.ReloadFailedTotal.Inc()
			if listeners == nil {
				return fmt.Errorf("supervisor: initial configuration load failed: %w", err)
			}
			supLog.Errorf("reload failed, retaining previous generation: %v", err)
			time.Sleep(failedReloadBackoff)
			continue
		}

		s.teardown(listeners, zones)

		listeners = s.startListeners(newZones)
		zones = newZones
		active = shared

		supLog.Infof("generation ready: %d zone(s), %d listener(s)", len(zones), len(listeners))

		<-active.ReloadSignal
		supLog.Infof("reload requested, rebuilding")
	}
}

// build parses the Corefile fresh and instantiates every zone's plugin
// chain against shared.
func (s *Supervisor) build(shared *plugin.SharedState) ([]*Zone, error) {
	cf, err := s.loadConfig()
	if err != nil {
		return nil, err
	}
	return BuildZones(cf, s.ListenIP, shared)
}

func (s *Supervisor) loadConfig() (*corefile.Corefile, error) {
	f, err := os.Open(s.ConfigPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return corefile.Parse(s.ConfigPath, f)
}

// startListeners binds one listener per distinct bind address across
// zones. A bind failure is logged and that port is skipped; the rest of
// the generation still comes up, per spec.md §4.5/§7.
func (s *Supervisor) startListeners(zones []*Zone) []*Listener {
	groups := groupByAddr(zones)
	listeners := make([]*Listener, 0, len(groups))

	for addr, group := range groups {
		l := &Listener{Addr: addr, Zone: group[0]}
		if err := l.Start(); err != nil {
			supLog.Errorf("bind %s: %v, skipping", addr, err)
			continue
		}
		listeners = append(listeners, l)
		supLog.Infof("listening on %s (zone %q)", addr, group[0].Name)
	}

	return listeners
}

// teardown stops every listener and, for every plugin instance that
// spawned background work, calls Shutdown — the reload plugin's watch
// loop, forward's health probers, errors' consolidator, and the health/
// metrics HTTP listeners.
func (s *Supervisor) teardown(listeners []*Listener, zones []*Zone) {
	for _, l := range listeners {
		l.Stop()
	}
	for _, z := range zones {
		for _, p := range z.Plugins {
			if c, ok := p.(plugin.Closer); ok {
				c.Shutdown()
			}
		}
	}
}
