// Package log implements a small plugin-scoped logger on top of logr. Every
// plugin gets its own prefixed instance via NewWithPlugin so log lines can be
// attributed without each call site repeating the plugin's name.
package log

import (
	"fmt"
	stdlog "log"
	"os"
	"sync/atomic"

	"github.com/go-logr/logr"
)

// D controls whether Debug* calls are emitted. It is off by default;
// toggling is process-wide because the underlying sink is shared across
// every plugin instance. No code in this repository calls Set, so Debug
// output stays off unless a caller turns it on.
var D = &debug{}

type debug struct{ on atomic.Bool }

// Set turns debug logging on.
func (d *debug) Set() { d.on.Store(true) }

// Clear turns debug logging off.
func (d *debug) Clear() { d.on.Store(false) }

// Value reports whether debug logging is currently enabled.
func (d *debug) Value() bool { return d.on.Load() }

// sink writes every record as a single line through the standard library
// logger; it is the concrete logr.LogSink backing every P returned by
// NewWithPlugin.
type sink struct{ name string }

func (s sink) Init(logr.RuntimeInfo)                  {}
func (s sink) Enabled(level int) bool                 { return level == 0 || D.Value() }
func (s sink) WithName(name string) logr.LogSink      { return sink{name: s.name + "." + name} }
func (s sink) WithValues(kv ...any) logr.LogSink      { return s }
func (s sink) Info(level int, msg string, kv ...any) {
	tag := "INFO"
	if level > 0 {
		tag = "DEBUG"
	}
	stdlog.Printf("[%s] plugin/%s: %s", tag, s.name, msg)
}
func (s sink) Error(err error, msg string, kv ...any) {
	stdlog.Printf("[ERROR] plugin/%s: %s", s.name, msg)
}

func init() {
	stdlog.SetFlags(stdlog.Ldate | stdlog.Ltime | stdlog.Lmicroseconds)
	stdlog.SetOutput(os.Stdout)
}

// P is a plugin-scoped logger matching the call shape plugin code uses
// throughout this repository: Info/Warning/Error/Debug, each with an f-suffix
// printf variant.
type P struct {
	name string
	log  logr.Logger
}

// NewWithPlugin returns a logger that prefixes every line with
// "[level] plugin/<name>:".
func NewWithPlugin(name string) P {
	return P{name: name, log: logr.New(sink{name: name})}
}

// Info logs at info level.
func (p P) Info(a ...any) { p.log.Info(fmt.Sprint(a...)) }

// Infof logs at info level with a format string.
func (p P) Infof(format string, a ...any) { p.log.Info(fmt.Sprintf(format, a...)) }

// Warning logs at warning level. logr has no warning level, so the line is
// written straight to the standard library logger with a "[WARNING]" marker
// instead of going through the logr sink.
func (p P) Warning(a ...any) { stdlog.Printf("[WARNING] plugin/%s: %s", p.name, fmt.Sprint(a...)) }

// Warningf logs at warning level with a format string.
func (p P) Warningf(format string, a ...any) {
	stdlog.Printf("[WARNING] plugin/%s: %s", p.name, fmt.Sprintf(format, a...))
}

// Error logs at error level.
func (p P) Error(a ...any) { p.log.Error(nil, fmt.Sprint(a...)) }

// Errorf logs at error level with a format string.
func (p P) Errorf(format string, a ...any) { p.log.Error(nil, fmt.Sprintf(format, a...)) }

// Debug logs at debug level, only when D is enabled.
func (p P) Debug(a ...any) { p.log.V(1).Info(fmt.Sprint(a...)) }

// Debugf logs at debug level with a format string, only when D is enabled.
func (p P) Debugf(format string, a ...any) { p.log.V(1).Info(fmt.Sprintf(format, a...)) }
