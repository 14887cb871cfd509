// Package errors implements the "errors" plugin: it drains the shared
// error-report channel and consolidates repeated errors matching a
// configured regex into a single summary line per window, so a flapping
// upstream doesn't flood the log with one line per failed query.
package errors

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/coredns/corechain/corefile"
	"github.com/coredns/corechain/plugin"
	clog "github.com/coredns/corechain/plugin/pkg/log"
	"github.com/coredns/corechain/request"
)

var elog = clog.NewWithPlugin(name)

const name = "errors"

// Priority is fixed at 220: that it sorts ahead of whoami (200) in
// forward-pass precedence doesn't matter, since errors has no Process
// behavior — the number only needs to match spec.md §4.1's authoritative table.
const Priority = 220

func init() {
	plugin.Register(name, setup)
}

// rule is one `consolidate DURATION REGEX [level] [show_first]` line.
type rule struct {
	pattern   *regexp.Regexp
	raw       string
	duration  time.Duration
	level     string
	showFirst bool
}

// Errors is the plugin instance. Its only behavior is the background
// consolidator goroutine spawned at construction.
type Errors struct {
	cancel context.CancelFunc
}

// Name implements plugin.Plugin.
func (*Errors) Name() string { return name }

// Priority implements plugin.Plugin.
func (*Errors) Priority() uint8 { return Priority }

// Process is a no-op: errors never touches request flow directly.
func (*Errors) Process(context.Context, *request.Request) error { return nil }

// PostProcess is a no-op.
func (*Errors) PostProcess(context.Context, *request.Request) error { return nil }

// Shutdown stops the consolidator goroutine, implementing plugin.Closer.
func (e *Errors) Shutdown() {
	if e.cancel != nil {
		e.cancel()
	}
}

func setup(_ []string, block []corefile.Option, shared *plugin.SharedState) (plugin.Plugin, error) {
	var rules []rule
	for _, opt := range block {
		if opt.Name != "consolidate" {
			return nil, fmt.Errorf("unknown errors option %q", opt.Name)
		}
		r, err := parseRule(opt.Args)
		if err != nil {
			return nil, fmt.Errorf("consolidate: %w", err)
		}
		rules = append(rules, r)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Errors{cancel: cancel}
	go consolidate(ctx, shared, rules)

	return e, nil
}

func parseRule(args []string) (rule, error) {
	if len(args) < 2 {
		return rule{}, fmt.Errorf("expected at least DURATION and REGEX, got %v", args)
	}
	d, err := time.ParseDuration(args[0])
	if err != nil {
		return rule{}, fmt.Errorf("invalid duration %q: %w", args[0], err)
	}
	re, err := regexp.Compile(args[1])
	if err != nil {
		return rule{}, fmt.Errorf("invalid regex %q: %w", args[1], err)
	}

	r := rule{pattern: re, raw: args[1], duration: d, level: "error"}
	for _, tok := range args[2:] {
		if tok == "show_first" {
			r.showFirst = true
			continue
		}
		r.level = tok
	}
	return r, nil
}

// consolidate owns all rule state single-threadedly: it is the only reader
// of shared.ErrorCh and the only writer of counts, so no locking is needed
// even though rule timeouts fire from separate timer goroutines (they only
// ever send an index back onto timeouts, never touch counts directly).
func consolidate(ctx context.Context, shared *plugin.SharedState, rules []rule) {
	counts := make([]uint32, len(rules))
	timeouts := make(chan int, 100)

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-shared.ErrorCh:
			if !ok {
				return
			}
			matched := false
			for i, r := range rules {
				if !r.pattern.MatchString(msg) {
					continue
				}
				matched = true
				counts[i]++
				if counts[i] == 1 {
					if r.showFirst {
						logAt(r.level, msg)
					}
					idx, d := i, r.duration
					time.AfterFunc(d, func() {
						select {
						case timeouts <- idx:
						case <-ctx.Done():
						}
					})
				}
				break
			}
			if !matched {
				elog.Error(msg)
			}

		case idx := <-timeouts:
			r := rules[idx]
			count := counts[idx]
			if count > 1 || (count == 1 && !r.showFirst) {
				logAt(r.level, fmt.Sprintf("%d errors like %q occurred in last %s", count, r.raw, r.duration))
			}
			counts[idx] = 0
		}
	}
}

func logAt(level, msg string) {
	switch level {
	case "warning", "warn":
		elog.Warning(msg)
	case "info":
		elog.Info(msg)
	case "debug":
		elog.Debug(msg)
	default:
		elog.Error(msg)
	}
}
