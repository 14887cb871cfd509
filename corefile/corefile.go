// Package corefile parses a Corefile into the zone/plugin tree the
// supervisor builds chains from. Tokenization is delegated to
// github.com/coredns/caddy/caddyfile — the same lexer CoreDNS itself uses —
// but the tree-building walk below is this repository's own: there is no
// caddy.Controller/server-type registration here, since plugin construction
// goes through this repository's own name-keyed factory registry instead of
// Caddy's directive-action dispatch.
package corefile

import (
	"bytes"
	"fmt"
	"io"

	"github.com/coredns/caddy/caddyfile"
)

// Option is one nested configuration line inside a plugin's block, e.g.
// "policy round_robin" becomes Option{Name: "policy", Args: []string{"round_robin"}}.
type Option struct {
	Name string
	Args []string
}

// PluginInvocation is one `name arg1 arg2 { ... }` line within a zone.
type PluginInvocation struct {
	Name  string
	Args  []string
	Block []Option
}

// Zone is one `zone_name:port { ... }` stanza, holding its plugins in
// declaration order. Sorting by descending priority is the supervisor's job,
// not the parser's: Parse preserves declaration order so that order is still
// available for the supervisor's priority-tie-break rule.
type Zone struct {
	Name    string
	Plugins []PluginInvocation
}

// Corefile is a fully parsed configuration file: zero or more zones, each
// with its own ordered plugin list.
type Corefile struct {
	Zones []Zone
}

// Parse reads a Corefile from r and returns its zone/plugin tree.
func Parse(filename string, r io.Reader) (*Corefile, error) {
	disp := caddyfile.NewDispenser(filename, r)

	cf := &Corefile{}
	for disp.Next() {
		firstName := disp.Val()
		if firstName == "" {
			continue
		}
		// A block's opening line may name more than one zone, e.g.
		// "example.org example.net:1053 {" — one chain bound to every
		// name listed, matching the real Corefile grammar's server
		// block keys.
		names := append([]string{firstName}, disp.RemainingArgs()...)

		var plugins []PluginInvocation
		for disp.NextBlock() {
			name := disp.Val()
			if name == "" {
				continue
			}
			inv := PluginInvocation{Name: name}
			inv.Args = disp.RemainingArgs()

			for disp.NextBlock() {
				optName := disp.Val()
				if optName == "" {
					continue
				}
				opt := Option{Name: optName, Args: disp.RemainingArgs()}
				inv.Block = append(inv.Block, opt)
			}

			plugins = append(plugins, inv)
		}

		if len(plugins) == 0 {
			return nil, fmt.Errorf("corefile: zone %q has no plugins", firstName)
		}
		for _, zoneName := range names {
			cf.Zones = append(cf.Zones, Zone{Name: zoneName, Plugins: plugins})
		}
	}
	return cf, nil
}

// ParseBytes is a convenience wrapper around Parse for callers that already
// have the Corefile contents in memory, such as tests. The supervisor reads
// the file through Parse directly.
func ParseBytes(filename string, contents []byte) (*Corefile, error) {
	return Parse(filename, bytes.NewReader(contents))
}
