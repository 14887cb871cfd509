package dnsserver

import (
	"context"
	"testing"

	"github.com/coredns/corechain/corefile"
	"github.com/coredns/corechain/plugin"
	pkgcache "github.com/coredns/corechain/plugin/pkg/cache"
	"github.com/coredns/corechain/request"
)

// fakePlugin is a minimal plugin.Plugin used only to exercise BuildZones'
// sorting and the chain executor, without pulling in a real plugin package.
type fakePlugin struct {
	name     string
	priority uint8
}

func (f fakePlugin) Name() string     { return f.name }
func (f fakePlugin) Priority() uint8  { return f.priority }
func (fakePlugin) Process(context.Context, *request.Request) error     { return nil }
func (fakePlugin) PostProcess(context.Context, *request.Request) error { return nil }

// registerFake registers a fake plugin factory under name. Each test in
// this file uses a distinct name, since plugin.Register panics on a
// duplicate and the registry has no unregister (by design: it is populated
// once via init() and never mutated after startup).
func registerFake(t *testing.T, name string, priority uint8) {
	t.Helper()
	plugin.Register(name, func(_ []string, _ []corefile.Option, _ *plugin.SharedState) (plugin.Plugin, error) {
		return fakePlugin{name: name, priority: priority}, nil
	})
}

func TestSplitZoneName(t *testing.T) {
	cases := []struct {
		in       string
		wantName string
		wantPort int
	}{
		{"example.org", "example.org", 53},
		{"example.org:1053", "example.org", 1053},
		{".", ".", 53},
		{".:53", ".", 53},
	}
	for _, c := range cases {
		name, port := splitZoneName(c.in)
		if name != c.wantName || port != c.wantPort {
			t.Errorf("splitZoneName(%q) = (%q, %d), want (%q, %d)", c.in, name, port, c.wantName, c.wantPort)
		}
	}
}

func TestBuildZonesSortsByDescendingPriority(t *testing.T) {
	registerFake(t, "zfirst", 10)
	registerFake(t, "zsecond", 200)

	cf := &corefile.Corefile{Zones: []corefile.Zone{
		{
			Name: "example.org",
			Plugins: []corefile.PluginInvocation{
				{Name: "zfirst"},
				{Name: "zsecond"},
			},
		},
	}}

	shared := plugin.NewSharedState("Corefile", pkgcache.NewStore())
	zones, err := BuildZones(cf, "127.0.0.1", shared)
	if err != nil {
		t.Fatalf("BuildZones: %v", err)
	}
	if len(zones) != 1 {
		t.Fatalf("expected 1 zone, got %d", len(zones))
	}
	z := zones[0]
	if z.Addr != "127.0.0.1:53" {
		t.Fatalf("unexpected addr %q", z.Addr)
	}
	if len(z.Plugins) != 2 || z.Plugins[0].Name() != "zsecond" || z.Plugins[1].Name() != "zfirst" {
		t.Fatalf("expected [zsecond, zfirst], got %v", names(z.Plugins))
	}
}

func TestBuildZonesRejectsSamePrioritySameName(t *testing.T) {
	registerFake(t, "zdup", 50)

	cf := &corefile.Corefile{Zones: []corefile.Zone{
		{
			Name: "example.org",
			Plugins: []corefile.PluginInvocation{
				{Name: "zdup"},
				{Name: "zdup"},
			},
		},
	}}

	shared := plugin.NewSharedState("Corefile", pkgcache.NewStore())
	if _, err := BuildZones(cf, "127.0.0.1", shared); err == nil {
		t.Fatal("expected an error for duplicate same-priority plugins")
	}
}

func TestBuildZonesRejectsUnknownPlugin(t *testing.T) {
	cf := &corefile.Corefile{Zones: []corefile.Zone{
		{Name: "example.org", Plugins: []corefile.PluginInvocation{{Name: "does-not-exist"}}},
	}}
	shared := plugin.NewSharedState("Corefile", pkgcache.NewStore())
	if _, err := BuildZones(cf, "127.0.0.1", shared); err == nil {
		t.Fatal("expected an error for an unknown plugin name")
	}
}

func names(plugins []plugin.Plugin) []string {
	out := make([]string, len(plugins))
	for i, p := range plugins {
		out[i] = p.Name()
	}
	return out
}
