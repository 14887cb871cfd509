// Package log implements the "log" plugin: a per-request trace line naming
// the incoming transaction ID, the highest-priority plugin in the chain and
// therefore the first thing every query passes through.
package log

import (
	"context"
	"fmt"

	"github.com/coredns/corechain/corefile"
	"github.com/coredns/corechain/plugin"
	clog "github.com/coredns/corechain/plugin/pkg/log"
	"github.com/coredns/corechain/request"
)

var plog = clog.NewWithPlugin(name)

const name = "log"

// Priority is fixed at 255, the highest in the chain, so every query is
// traced regardless of what answers it.
const Priority = 255

func init() {
	plugin.Register(name, setup)
}

// Log is the plugin instance. It carries no configuration.
type Log struct{}

// Name implements plugin.Plugin.
func (Log) Name() string { return name }

// Priority implements plugin.Plugin.
func (Log) Priority() uint8 { return Priority }

// Process logs the incoming transaction ID.
func (Log) Process(_ context.Context, r *request.Request) error {
	plog.Info(fmt.Sprintf("=> [Incoming Query] TxID: %#04x", r.HeaderID()))
	return nil
}

// PostProcess is a no-op.
func (Log) PostProcess(context.Context, *request.Request) error { return nil }

func setup(_ []string, _ []corefile.Option, _ *plugin.SharedState) (plugin.Plugin, error) {
	return Log{}, nil
}
