package corefile

import "testing"

func TestParseSimpleZone(t *testing.T) {
	input := `. {
		forward . 1.1.1.1 8.8.8.8 {
			policy round_robin
			except internal.example.
		}
		cache {
			success 3600
			denial 1800
		}
		log
	}`

	cf, err := ParseBytes("Corefile", []byte(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cf.Zones) != 1 {
		t.Fatalf("expected 1 zone, got %d", len(cf.Zones))
	}
	zone := cf.Zones[0]
	if zone.Name != "." {
		t.Fatalf("expected zone name '.', got %q", zone.Name)
	}
	if len(zone.Plugins) != 3 {
		t.Fatalf("expected 3 plugins, got %d", len(zone.Plugins))
	}

	fwd := zone.Plugins[0]
	if fwd.Name != "forward" {
		t.Fatalf("expected forward plugin first, got %q", fwd.Name)
	}
	if len(fwd.Args) != 3 || fwd.Args[0] != "." || fwd.Args[1] != "1.1.1.1" || fwd.Args[2] != "8.8.8.8" {
		t.Fatalf("unexpected forward args: %v", fwd.Args)
	}
	if len(fwd.Block) != 2 {
		t.Fatalf("expected 2 nested options, got %d", len(fwd.Block))
	}
	if fwd.Block[0].Name != "policy" || len(fwd.Block[0].Args) != 1 || fwd.Block[0].Args[0] != "round_robin" {
		t.Fatalf("unexpected policy option: %+v", fwd.Block[0])
	}
	if fwd.Block[1].Name != "except" || fwd.Block[1].Args[0] != "internal.example." {
		t.Fatalf("unexpected except option: %+v", fwd.Block[1])
	}

	cache := zone.Plugins[1]
	if cache.Name != "cache" || len(cache.Block) != 2 {
		t.Fatalf("unexpected cache invocation: %+v", cache)
	}

	logp := zone.Plugins[2]
	if logp.Name != "log" || len(logp.Args) != 0 || len(logp.Block) != 0 {
		t.Fatalf("unexpected log invocation: %+v", logp)
	}
}

func TestParseMultipleZones(t *testing.T) {
	input := `example.com:5300 {
		whoami
	}
	. {
		dummy
	}`

	cf, err := ParseBytes("Corefile", []byte(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cf.Zones) != 2 {
		t.Fatalf("expected 2 zones, got %d", len(cf.Zones))
	}
	if cf.Zones[0].Name != "example.com:5300" {
		t.Fatalf("unexpected first zone name: %q", cf.Zones[0].Name)
	}
	if cf.Zones[1].Name != "." {
		t.Fatalf("unexpected second zone name: %q", cf.Zones[1].Name)
	}
}

func TestParseMultiNameSingleBlock(t *testing.T) {
	input := `example.org example.net:1053 {
		whoami
	}`

	cf, err := ParseBytes("Corefile", []byte(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cf.Zones) != 2 {
		t.Fatalf("expected 2 zones from one block, got %d", len(cf.Zones))
	}
	if cf.Zones[0].Name != "example.org" || cf.Zones[1].Name != "example.net:1053" {
		t.Fatalf("unexpected zone names: %q, %q", cf.Zones[0].Name, cf.Zones[1].Name)
	}
	if len(cf.Zones[0].Plugins) != 1 || len(cf.Zones[1].Plugins) != 1 {
		t.Fatalf("expected both zones to share the one plugin list")
	}
	if cf.Zones[0].Plugins[0].Name != "whoami" || cf.Zones[1].Plugins[0].Name != "whoami" {
		t.Fatalf("expected both zones to carry the whoami plugin")
	}
}

func TestParseRejectsEmptyZone(t *testing.T) {
	input := `. {
	}`
	if _, err := ParseBytes("Corefile", []byte(input)); err == nil {
		t.Fatal("expected error for zone with no plugins")
	}
}
