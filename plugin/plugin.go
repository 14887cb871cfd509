// Package plugin defines the contract every zone plugin implements, the
// name-keyed factory registry populated by each plugin's init(), and the
// SharedState every plugin instance is constructed with. It is the Go
// analogue of the reference implementation's plugin::Plugin trait and
// plugin::SharedState, and mirrors upstream CoreDNS's own plugin.Handler /
// plugin.Plugin split: a stateless interface plus a registry keyed by name.
package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/coredns/corechain/corefile"
	"github.com/coredns/corechain/plugin/pkg/cache"
	"github.com/coredns/corechain/request"
)

// Plugin is implemented by every zone plugin. Process runs top-down in
// priority order on the way in; PostProcess runs bottom-up, unconditionally,
// on the way back out, regardless of whether the forward pass halted early.
type Plugin interface {
	// Name returns the plugin's registered name, e.g. "forward".
	Name() string

	// Priority determines chain order: plugins run highest-priority
	// first on the forward pass, and in the reverse order on the way
	// back. Ties are broken by Corefile declaration order.
	Priority() uint8

	// Process runs on the way in. Returning an error does not stop the
	// chain; it is logged and treated as a pass-through.
	Process(ctx context.Context, r *request.Request) error

	// PostProcess runs on the way out, always, even if Process halted
	// the chain early or the query was answered by an earlier plugin.
	PostProcess(ctx context.Context, r *request.Request) error
}

// Closer is implemented by plugins that spawn background goroutines (health
// probers, the reload watcher, the errors consolidator, ancillary HTTP
// listeners). The supervisor calls Shutdown on every plugin implementing it
// when a generation is torn down because a reloaded one replaces it.
type Closer interface {
	Shutdown()
}

// Factory constructs a Plugin from its Corefile arguments and any nested
// block options, using shared state common to the whole server generation.
type Factory func(args []string, block []corefile.Option, shared *SharedState) (Plugin, error)

var (
	registryMu sync.Mutex
	registry   = map[string]Factory{}
)

// Register adds a plugin factory under name. It is called from the init()
// function of each plugin subpackage, triggered by that subpackage's blank
// import in cmd/corechain/main.go.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("plugin: factory already registered for %q", name))
	}
	registry[name] = f
}

// New constructs the named plugin. It returns an error wrapped with the
// plugin's name if the name is unknown or construction fails, matching
// upstream CoreDNS's plugin.Error shape.
func New(name string, args []string, block []corefile.Option, shared *SharedState) (Plugin, error) {
	registryMu.Lock()
	f, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, Error(name, fmt.Errorf("unknown plugin"))
	}
	p, err := f(args, block, shared)
	if err != nil {
		return nil, Error(name, err)
	}
	return p, nil
}

// Error wraps err with the plugin name that produced it, the same shape as
// upstream CoreDNS's plugin.Error: a fatal condition at startup, a
// recoverable one at reload.
func Error(name string, err error) error {
	return &pluginError{name: name, err: err}
}

type pluginError struct {
	name string
	err  error
}

func (e *pluginError) Error() string { return e.name + ": " + e.err.Error() }
func (e *pluginError) Unwrap() error { return e.err }

// SharedState is constructed once per supervisor iteration and handed to
// every plugin factory for that generation. Cache survives reload so warm
// entries aren't discarded; ReloadSignal and ErrorCh are per-generation
// broadcast/report channels plugins may use to participate in hot reload
// and error consolidation.
type SharedState struct {
	// Cache is the warm cache store, allocated once by the supervisor and
	// reused across every reload generation.
	Cache *cache.Store

	// ConfigPath is the path to the Corefile currently in effect, used by
	// the reload plugin to watch for changes.
	ConfigPath string

	// ReloadSignal is closed by the reload plugin (or any other plugin)
	// to request that the supervisor tear down the current generation
	// and rebuild it from the Corefile on disk. It is never sent on,
	// only closed, so every listener goroutine can select on it without
	// coordination.
	ReloadSignal chan struct{}
	reloadOnce   sync.Once

	// ErrorCh carries per-request processing errors to the errors
	// plugin's consolidator, when one is configured. It is buffered and
	// sends are non-blocking: a slow or absent consumer must never stall
	// request handling.
	ErrorCh chan string
}

// NewSharedState allocates a SharedState for one supervisor generation.
// cacheStore is passed in explicitly so it can be reused verbatim across
// reloads by the caller.
func NewSharedState(configPath string, cacheStore *cache.Store) *SharedState {
	return &SharedState{
		Cache:        cacheStore,
		ConfigPath:   configPath,
		ReloadSignal: make(chan struct{}),
		ErrorCh:      make(chan string, 100),
	}
}

// RequestReload closes ReloadSignal exactly once; subsequent calls are
// no-ops, matching the reference implementation's one-shot watch channel.
func (s *SharedState) RequestReload() {
	s.reloadOnce.Do(func() { close(s.ReloadSignal) })
}

// ReportError attempts a non-blocking send to ErrorCh. If the channel is
// full or nil, the error is dropped silently; callers that need a record of
// every error use the returned bool to fall back to direct logging.
func (s *SharedState) ReportError(msg string) bool {
	if s.ErrorCh == nil {
		return false
	}
	select {
	case s.ErrorCh <- msg:
		return true
	default:
		return false
	}
}
