// Package reload implements the "reload" plugin: a background watcher that
// periodically hashes the configuration file and requests a supervisor
// rebuild when the hash changes.
package reload

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/coredns/corechain/corefile"
	"github.com/coredns/corechain/plugin"
	"github.com/coredns/corechain/plugin/metrics/vars"
	pkgcache "github.com/coredns/corechain/plugin/pkg/cache"
	"github.com/coredns/corechain/plugin/pkg/log"
	"github.com/coredns/corechain/request"
)

var clog = log.NewWithPlugin(name)

const name = "reload"

// Priority is fixed at 190: high enough to sit ahead of most plugins, but
// below whoami/errors, matching spec.md §4.1's authoritative priority table.
const Priority = 190

const (
	defaultInterval = 30 * time.Second
	defaultJitter   = 15 * time.Second
	minInterval     = 2 * time.Second
	minJitter       = 1 * time.Second
)

func init() {
	plugin.Register(name, setup)
}

// Reload is the plugin instance. It has no per-request behavior; its only
// job is the background watch loop started at construction.
type Reload struct {
	shared   *plugin.SharedState
	interval time.Duration
	jitter   time.Duration
	cancel   context.CancelFunc
}

// Name implements plugin.Plugin.
func (r *Reload) Name() string { return name }

// Priority implements plugin.Plugin.
func (r *Reload) Priority() uint8 { return Priority }

// Process is a no-op; reload never touches request flow.
func (r *Reload) Process(context.Context, *request.Request) error { return nil }

// PostProcess is a no-op.
func (r *Reload) PostProcess(context.Context, *request.Request) error { return nil }

// Shutdown stops the watch loop, implementing plugin.Closer.
func (r *Reload) Shutdown() {
	if r.cancel != nil {
		r.cancel()
	}
}

func setup(args []string, _ []corefile.Option, shared *plugin.SharedState) (plugin.Plugin, error) {
	interval, jitter := defaultInterval, defaultJitter

	if len(args) >= 1 {
		d, err := time.ParseDuration(args[0])
		if err != nil {
			return nil, fmt.Errorf("reload: invalid interval %q: %w", args[0], err)
		}
		interval = d
	}
	if len(args) >= 2 {
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return nil, fmt.Errorf("reload: invalid jitter %q: %w", args[1], err)
		}
		jitter = d
	}

	if interval < minInterval {
		interval = minInterval
	}
	if jitter < minJitter {
		jitter = minJitter
	}
	if jitter > interval/2 {
		jitter = interval / 2
	}

	r := &Reload{shared: shared, interval: interval, jitter: jitter}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.watch(ctx)

	return r, nil
}

func (r *Reload) watch(ctx context.Context) {
	lastHash, err := hashFile(r.shared.ConfigPath)
	if err != nil {
		clog.Errorf("reload: initial hash failed: %v", err)
		vars.ReloadFailedTotal.Inc()
	} else {
		vars.ReloadVersionInfo.WithLabelValues(lastHash).Set(1)
	}

	for {
		wait := pkgcache.Jitter(r.interval, r.jitter)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		newHash, err := hashFile(r.shared.ConfigPath)
		if err != nil {
			clog.Errorf("reload: rehash failed: %v", err)
			vars.ReloadFailedTotal.Inc()
			continue
		}

		if newHash != lastHash {
			if lastHash != "" {
				vars.ReloadVersionInfo.WithLabelValues(lastHash).Set(0)
			}
			vars.ReloadVersionInfo.WithLabelValues(newHash).Set(1)
			clog.Infof("configuration change detected, requesting reload")
			r.shared.RequestReload()
			return
		}
	}
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha512.Sum512(data)
	return hex.EncodeToString(sum[:]), nil
}
