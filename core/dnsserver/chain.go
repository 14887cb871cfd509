package dnsserver

import (
	"context"

	"github.com/coredns/corechain/plugin"
	clog "github.com/coredns/corechain/plugin/pkg/log"
	"github.com/coredns/corechain/request"
)

var chainLog = clog.NewWithPlugin("chain")

// RunChain executes one request through plugins' forward pass and then
// their reverse pass, per spec.md §4.1.
//
// Forward pass: plugins run in priority-descending order (the order they
// are already sorted in). Before calling each plugin's Process, HaltChain
// is checked — so the plugin that sets it still runs, but no plugin after
// it does. A Process error is logged and the context is left as that
// plugin returned it; iteration continues to the next plugin.
//
// Reverse pass: the same list runs back to front, calling PostProcess on
// every plugin regardless of HaltChain. Errors are logged and swallowed.
func RunChain(ctx context.Context, plugins []plugin.Plugin, r *request.Request) {
	for _, p := range plugins {
		if r.HaltChain {
			break
		}
		if err := p.Process(ctx, r); err != nil {
			chainLog.Errorf("%s: process: %v", p.Name(), err)
		}
	}

	for i := len(plugins) - 1; i >= 0; i-- {
		if err := plugins[i].PostProcess(ctx, r); err != nil {
			chainLog.Errorf("%s: post_process: %v", plugins[i].Name(), err)
		}
	}
}
