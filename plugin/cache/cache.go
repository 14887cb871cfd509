// Package cache implements the "cache" plugin: a split success/denial
// lookup table consulted on the forward pass and populated on the reverse
// pass, backed by the shared, reload-surviving store in plugin/pkg/cache.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/coredns/corechain/plugin"
	"github.com/coredns/corechain/plugin/metrics/vars"
	pkgcache "github.com/coredns/corechain/plugin/pkg/cache"
	"github.com/coredns/corechain/plugin/pkg/log"
	"github.com/coredns/corechain/plugin/pkg/wire"
	"github.com/coredns/corechain/request"
)

var clog = log.NewWithPlugin(name)

// Priority is fixed at 120 so cache intercepts ahead of forward (100) but
// behind every plugin that wants a chance to rewrite or short-circuit the
// query before it reaches caching.
const Priority = 120

// Cache is the plugin instance. It holds only configuration; the actual
// entries live in the shared store so they survive reload.
type Cache struct {
	shared      *plugin.SharedState
	successTTL  time.Duration
	denialTTL   time.Duration
	servfailTTL time.Duration
}

// Name implements plugin.Plugin.
func (c *Cache) Name() string { return name }

// Priority implements plugin.Plugin.
func (c *Cache) Priority() uint8 { return Priority }

// Process looks the query up in the success table, then the denial table,
// answering from whichever has an unexpired hit.
func (c *Cache) Process(_ context.Context, r *request.Request) error {
	if len(r.RawQuery) < wire.HeaderSize {
		return nil
	}
	key, ok := wire.QuestionBytes(r.RawQuery)
	if !ok {
		return nil
	}

	server := serverLabel(r)
	vars.CacheRequestsTotal.WithLabelValues(server, ".").Inc()

	if c.lookup(c.shared.Cache.Success, "success", key, r, server) {
		return nil
	}
	if c.lookup(c.shared.Cache.Denial, "denial", key, r, server) {
		return nil
	}
	vars.CacheMissesTotal.WithLabelValues(server, ".").Inc()
	return nil
}

// lookup checks shard for key, and on an unexpired hit rewrites the
// transaction ID into the cached bytes and answers the request. An expired
// hit is invalidated and treated as a miss.
func (c *Cache) lookup(shard *pkgcache.Shard, cacheType string, key []byte, r *request.Request, server string) bool {
	item, ok := shard.Get(key)
	if !ok {
		return false
	}
	if time.Now().After(item.ExpiresAt) {
		shard.Invalidate(key)
		return false
	}

	resp := make([]byte, len(item.Response))
	copy(resp, item.Response)
	if len(resp) >= 2 {
		resp[0] = r.RawQuery[0]
		resp[1] = r.RawQuery[1]
	}
	r.RawResponse = resp
	r.HaltChain = true
	r.AnsweredBy = name
	vars.CacheHitsTotal.WithLabelValues(server, cacheType, ".").Inc()
	if qname, ok := wire.QNameString(r.RawQuery); ok {
		clog.Debugf("hit for %q", qname)
	}
	return true
}

// PostProcess inserts a fresh response into the appropriate table based on
// its RCODE. A response that was itself produced by a cache hit is
// re-inserted into the table it came from, which is a harmless no-op.
func (c *Cache) PostProcess(_ context.Context, r *request.Request) error {
	if r.RawResponse == nil || len(r.RawQuery) < wire.HeaderSize {
		return nil
	}
	key, ok := wire.QuestionBytes(r.RawQuery)
	if !ok {
		return nil
	}

	server := serverLabel(r)
	rcode := wire.RCode(r.RawResponse)
	switch {
	case rcode == 0:
		c.insert(c.shared.Cache.Success, "success", key, r.RawResponse, c.successTTL, server)
	case rcode == 3:
		c.insert(c.shared.Cache.Denial, "denial", key, r.RawResponse, c.denialTTL, server)
	case rcode == 2 && c.servfailTTL > 0:
		c.insert(c.shared.Cache.Denial, "denial", key, r.RawResponse, c.servfailTTL, server)
	}
	return nil
}

func (c *Cache) insert(shard *pkgcache.Shard, cacheType string, key, response []byte, ttl time.Duration, server string) {
	entry := make([]byte, len(response))
	copy(entry, response)
	shard.Insert(key, pkgcache.Item{Response: entry, ExpiresAt: time.Now().Add(ttl)})
	vars.CacheEntries.WithLabelValues(server, cacheType, ".").Set(float64(shard.Len()))
}

// serverLabel renders the "server" label the same way the metrics plugin
// does, so coredns_cache_* series correlate with coredns_dns_requests_total
// on the same "dns://:<port>" value.
func serverLabel(r *request.Request) string {
	return fmt.Sprintf("dns://:%d", r.ServerPort)
}
