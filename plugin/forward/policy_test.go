package forward

import (
	"sync/atomic"
	"testing"
)

func TestOrderSequentialPreservesOrder(t *testing.T) {
	ups := []*Upstream{{Addr: "a"}, {Addr: "b"}, {Addr: "c"}}
	var counter atomic.Uint64
	out := order(PolicySequential, ups, &counter)
	for i, u := range out {
		if u != ups[i] {
			t.Fatalf("sequential order changed at %d", i)
		}
	}
}

func TestOrderRoundRobinRotates(t *testing.T) {
	ups := []*Upstream{{Addr: "a"}, {Addr: "b"}, {Addr: "c"}}
	var counter atomic.Uint64

	first := order(PolicyRoundRobin, ups, &counter)
	second := order(PolicyRoundRobin, ups, &counter)

	if first[0] == second[0] {
		t.Fatalf("expected round robin starting point to rotate between calls")
	}
	// Every rotation must still be a permutation starting somewhere in ups.
	seen := map[string]bool{}
	for _, u := range first {
		seen[u.Addr] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected all 3 upstreams present after rotation, got %d", len(seen))
	}
}

func TestOrderRandomIsPermutation(t *testing.T) {
	ups := []*Upstream{{Addr: "a"}, {Addr: "b"}, {Addr: "c"}}
	var counter atomic.Uint64
	out := order(PolicyRandom, ups, &counter)
	if len(out) != 3 {
		t.Fatalf("expected 3 upstreams, got %d", len(out))
	}
	seen := map[string]bool{}
	for _, u := range out {
		seen[u.Addr] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected a permutation of all 3 upstreams, got %v", out)
	}
}

func TestParsePolicy(t *testing.T) {
	cases := map[string]Policy{
		"sequential":  PolicySequential,
		"random":      PolicyRandom,
		"round_robin": PolicyRoundRobin,
	}
	for token, want := range cases {
		got, ok := ParsePolicy(token)
		if !ok || got != want {
			t.Fatalf("ParsePolicy(%q) = %v, %v; want %v, true", token, got, ok, want)
		}
	}
	if _, ok := ParsePolicy("bogus"); ok {
		t.Fatal("expected ParsePolicy to reject unknown token")
	}
}
