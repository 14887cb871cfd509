package cache

import (
	"fmt"
	"strconv"
	"time"

	"github.com/coredns/corechain/corefile"
	"github.com/coredns/corechain/plugin"
)

const name = "cache"

func init() {
	plugin.Register(name, setup)
}

func setup(args []string, block []corefile.Option, shared *plugin.SharedState) (plugin.Plugin, error) {
	c := &Cache{
		shared:      shared,
		successTTL:  3600 * time.Second,
		denialTTL:   1800 * time.Second,
		servfailTTL: 5 * time.Second,
	}

	for _, opt := range block {
		switch opt.Name {
		case "success":
			ttl, err := lastDuration(opt.Args, c.successTTL)
			if err != nil {
				return nil, err
			}
			c.successTTL = ttl
		case "denial":
			ttl, err := lastDuration(opt.Args, c.denialTTL)
			if err != nil {
				return nil, err
			}
			c.denialTTL = ttl
		case "servfail":
			if len(opt.Args) != 1 {
				return nil, fmt.Errorf("servfail: expected exactly one duration argument")
			}
			d, err := parseSeconds(opt.Args[0])
			if err != nil {
				return nil, fmt.Errorf("servfail: %w", err)
			}
			c.servfailTTL = d
		default:
			return nil, fmt.Errorf("unknown cache option %q", opt.Name)
		}
	}

	return c, nil
}

// lastDuration parses the optional trailing TTL-seconds argument of
// `success`/`denial` (a leading capacity argument is accepted but currently
// advisory, per spec). If no TTL argument is present, def is returned.
func lastDuration(args []string, def time.Duration) (time.Duration, error) {
	switch len(args) {
	case 0:
		return def, nil
	case 1:
		// A single argument could be a capacity or a TTL; since capacity
		// is advisory and not stored, treat it as the TTL when present,
		// matching the reference implementation's `success <ttl?>` form.
		return parseSeconds(args[0])
	case 2:
		return parseSeconds(args[1])
	default:
		return 0, fmt.Errorf("too many arguments: %v", args)
	}
}

func parseSeconds(s string) (time.Duration, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return time.Duration(n) * time.Second, nil
}
