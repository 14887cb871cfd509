package forward

import (
	"context"
	"fmt"
	"time"

	"github.com/coredns/corechain/corefile"
	"github.com/coredns/corechain/plugin"
	"github.com/coredns/corechain/plugin/pkg/wire"
)

const name = "forward"

func init() {
	plugin.Register(name, setup)
}

func setup(args []string, block []corefile.Option, shared *plugin.SharedState) (plugin.Plugin, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("forward: at least one upstream address is required")
	}

	f := &Forward{
		shared:        shared,
		policy:        PolicyRandom,
		failoverCodes: map[uint8]bool{},
		nextCodes:     map[uint8]bool{},
		maxFails:      defaultMaxFails,
		healthCheck:   defaultHealthTick,
		expire:        defaultExpire,
	}

	maxIdleConns := 1000
	for _, opt := range block {
		if opt.Name == "max_idle_conns" {
			n, err := parsePositiveInt(first(opt.Args), 1000)
			if err != nil {
				return nil, fmt.Errorf("max_idle_conns: %w", err)
			}
			if n == 0 {
				n = 1000
			}
			maxIdleConns = n
		}
	}
	f.maxIdleConns = maxIdleConns

	for _, raw := range args {
		u, err := newUpstream(raw, maxIdleConns)
		if err != nil {
			return nil, fmt.Errorf("forward: %w", err)
		}
		f.upstreams = append(f.upstreams, u)
	}

	for _, opt := range block {
		if err := applyOption(f, opt); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.startHealthChecks(ctx)

	return f, nil
}

func applyOption(f *Forward, opt corefile.Option) error {
	switch opt.Name {
	case "tls_servername":
		if len(opt.Args) != 1 {
			return fmt.Errorf("tls_servername: expected exactly one argument")
		}
		f.tlsServername = opt.Args[0]
	case "policy":
		if len(opt.Args) != 1 {
			return fmt.Errorf("policy: expected exactly one argument")
		}
		p, ok := ParsePolicy(opt.Args[0])
		if !ok {
			return fmt.Errorf("policy: unknown policy %q", opt.Args[0])
		}
		f.policy = p
	case "failover":
		for _, tok := range opt.Args {
			f.failoverCodes[wire.ParseRcode(tok)] = true
		}
	case "next":
		for _, tok := range opt.Args {
			f.nextCodes[wire.ParseRcode(tok)] = true
		}
	case "except":
		f.exceptSuffix = append(f.exceptSuffix, opt.Args...)
	case "force_tcp":
		f.forceTCP = true
	case "max_fails":
		n, err := parsePositiveInt(first(opt.Args), defaultMaxFails)
		if err != nil {
			return fmt.Errorf("max_fails: %w", err)
		}
		f.maxFails = n
	case "health_check":
		d, err := time.ParseDuration(first(opt.Args))
		if err != nil {
			return fmt.Errorf("health_check: %w", err)
		}
		f.healthCheck = d
	case "max_concurrent":
		n, err := parsePositiveInt(first(opt.Args), 0)
		if err != nil {
			return fmt.Errorf("max_concurrent: %w", err)
		}
		if n > 0 {
			f.sem = make(chan struct{}, n)
		}
	case "failfast_all_unhealthy_upstreams":
		f.failfast = true
	case "max_idle_conns":
		// already applied before upstream construction above.
	case "expire":
		d, err := time.ParseDuration(first(opt.Args))
		if err != nil {
			return fmt.Errorf("expire: %w", err)
		}
		f.expire = d
	default:
		return fmt.Errorf("unknown forward option %q", opt.Name)
	}
	return nil
}

func first(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
