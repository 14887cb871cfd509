package forward

import (
	"math/rand"
	"sync/atomic"
)

// Policy selects the order in which healthy upstreams are attempted.
type Policy int

const (
	// PolicyRandom shuffles the candidate list on every request; it is
	// the default, matching the reference implementation.
	PolicyRandom Policy = iota
	// PolicySequential always tries upstreams in configuration order.
	PolicySequential
	// PolicyRoundRobin rotates the starting point by a counter shared
	// across requests, modulo the candidate count.
	PolicyRoundRobin
)

// ParsePolicy maps a Corefile token to a Policy. An unrecognized token is an
// error the caller surfaces at setup time.
func ParsePolicy(s string) (Policy, bool) {
	switch s {
	case "sequential":
		return PolicySequential, true
	case "random":
		return PolicyRandom, true
	case "round_robin":
		return PolicyRoundRobin, true
	default:
		return 0, false
	}
}

// order returns candidates arranged per policy. counter is an atomic
// rotation cursor shared by every call for round-robin; it is advanced by
// exactly one per round-robin call with more than one candidate, and left
// untouched by the other policies, so the call site passes it unconditionally.
func order(policy Policy, candidates []*Upstream, counter *atomic.Uint64) []*Upstream {
	n := len(candidates)
	if n <= 1 {
		return candidates
	}

	switch policy {
	case PolicySequential:
		return candidates
	case PolicyRoundRobin:
		start := int(counter.Add(1) % uint64(n))
		out := make([]*Upstream, n)
		for i := range out {
			out[i] = candidates[(start+i)%n]
		}
		return out
	default: // PolicyRandom
		out := make([]*Upstream, n)
		copy(out, candidates)
		rand.Shuffle(n, func(i, j int) { out[i], out[j] = out[j], out[i] })
		return out
	}
}
