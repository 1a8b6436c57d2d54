// internal/geo/cache.go
package geo

import (
	"context"
	"net/netip"
	"sync"

	"github.com/rs/zerolog"

	"sensor-pipeline/internal/models"
)

// Private/reserved ranges never leave the building: they are answered with
// LocalResult without a lookup and without caching (cheap to recompute).
var privateRanges = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
}

// LocalResult is returned for private, reserved, empty, or malformed IPs.
var LocalResult = models.GeoResult{CountryName: "Private"}

// UnknownResult is returned when the external lookup fails in any way.
var UnknownResult = models.GeoResult{CountryName: "Unknown"}

// Lookup resolves a public IP to country metadata.
type Lookup interface {
	Country(ctx context.Context, ip string) (models.GeoResult, error)
}

// Cache maps IP -> country metadata in front of a rate-limited external
// lookup. Entries live for the cache's lifetime (no TTL): country
// assignment rarely changes, so hit rate wins over staleness. With
// CacheFailures set, a failing IP is also cached as Unknown and never
// retried, since repeat lookups of known-bad IPs burn the rate limit.
type Cache struct {
	lookup        Lookup
	capacity      int
	cacheFailures bool
	log           zerolog.Logger

	mu      sync.Mutex
	entries map[string]models.GeoResult
	order   []string
}

// Option configures a Cache.
type Option func(*Cache)

// WithCapacity bounds the number of cached IPs. Oldest entries are evicted
// first. Zero means unbounded.
func WithCapacity(n int) Option {
	return func(c *Cache) { c.capacity = n }
}

// WithFailureCaching controls whether failed lookups are cached as
// UnknownResult instead of being retried on the next miss.
func WithFailureCaching(enabled bool) Option {
	return func(c *Cache) { c.cacheFailures = enabled }
}

// WithLogger sets the cache logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Cache) { c.log = log }
}

// NewCache builds a cache over the given lookup. Failure caching defaults
// to on, matching the ingestion path's tolerance for stale negatives.
func NewCache(lookup Lookup, opts ...Option) *Cache {
	c := &Cache{
		lookup:        lookup,
		cacheFailures: true,
		log:           zerolog.Nop(),
		entries:       make(map[string]models.GeoResult),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enrich returns country metadata for ip. It never fails: lookup errors
// degrade to UnknownResult.
func (c *Cache) Enrich(ctx context.Context, ip string) models.GeoResult {
	if IsPrivate(ip) {
		return LocalResult
	}

	c.mu.Lock()
	if cached, ok := c.entries[ip]; ok {
		c.mu.Unlock()
		return cached
	}
	c.mu.Unlock()

	// Concurrent misses on the same IP may each trigger a lookup; the
	// lookup is idempotent and the cost is bounded, so no per-key
	// serialization.
	result, err := c.lookup.Country(ctx, ip)
	if err != nil {
		c.log.Warn().Err(err).Str("ip", ip).Msg("geo lookup failed")
		result = UnknownResult
		if !c.cacheFailures {
			return result
		}
	}

	c.store(ip, result)
	return result
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) store(ip string, result models.GeoResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[ip]; ok {
		c.entries[ip] = result
		return
	}
	if c.capacity > 0 && len(c.entries) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[ip] = result
	c.order = append(c.order, ip)
}

// IsPrivate reports whether ip belongs to a private or reserved range.
// Empty or malformed addresses are treated as private, fail-safe.
func IsPrivate(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return true
	}
	for _, p := range privateRanges {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Flag converts a two-letter country code into its regional-indicator
// emoji pair.
func Flag(cc string) string {
	if len(cc) != 2 {
		return ""
	}
	first, second := upper(cc[0]), upper(cc[1])
	if first < 'A' || first > 'Z' || second < 'A' || second > 'Z' {
		return ""
	}
	return string([]rune{
		rune(0x1F1E6 + int32(first) - 'A'),
		rune(0x1F1E6 + int32(second) - 'A'),
	})
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 'a' + 'A'
	}
	return b
}
