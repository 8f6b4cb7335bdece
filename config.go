package surgo

import (
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/steveyegge/surgo/internal/cache"
	"github.com/steveyegge/surgo/internal/proto"
	"github.com/steveyegge/surgo/internal/reconnect"
	"github.com/steveyegge/surgo/internal/storage"
)

// Encoding selects the on-wire payload format. Negotiation is static:
// the choice is fixed at construction.
type Encoding int

const (
	// EncodingText is JSON.
	EncodingText Encoding = iota
	// EncodingBinary is CBOR.
	EncodingBinary
)

func (e Encoding) proto() proto.Encoding {
	if e == EncodingBinary {
		return proto.EncodingBinary
	}
	return proto.EncodingText
}

// CachePolicy configures the client-side read cache.
type CachePolicy struct {
	// DefaultTTL bounds entry age; zero means entries never expire by
	// age.
	DefaultTTL time.Duration
	// MaxEntries bounds the store with LRU eviction; zero means
	// unbounded.
	MaxEntries int
	// InvalidateOnLiveQuery invalidates a table when a live
	// notification for it arrives. Defaults to true in DefaultConfig.
	InvalidateOnLiveQuery bool
}

// Logf is the optional logging sink. The default is a no-op. Tokens
// and credentials are never passed to it.
type Logf func(format string, args ...any)

// Config tunes a client. The zero value is usable; DefaultConfig
// spells out the defaults.
type Config struct {
	// RequestTimeout bounds each RPC round trip. Default 30s.
	RequestTimeout time.Duration
	// ConnectTimeout bounds transport establishment. Default 10s.
	ConnectTimeout time.Duration
	// Encoding is the on-wire payload format. Default text.
	Encoding Encoding
	// HTTPPoolSize bounds the stateless transport's connection pool.
	// Default 8.
	HTTPPoolSize int
	// Reconnect is the reconnection policy for the persistent
	// transport. Default exponential backoff with 10 attempts.
	Reconnect ReconnectPolicy
	// Cache is the read-cache policy.
	Cache CachePolicy
	// CacheStore overrides the cache backend. Default in-memory. Use
	// the storage subpackages (sqlite, kv) for persistent variants.
	CacheStore storage.Store
	// LiveBuffer is the per-sink notification buffer size. Default 64;
	// on overflow the oldest buffered item is dropped and the stream's
	// missed counter increments.
	LiveBuffer int
	// Logger receives diagnostic lines. Default no-op.
	Logger Logf
	// Meter, when set, mirrors request metrics into OpenTelemetry
	// instruments.
	Meter metric.Meter
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		RequestTimeout: 30 * time.Second,
		ConnectTimeout: 10 * time.Second,
		Encoding:       EncodingText,
		HTTPPoolSize:   8,
		Reconnect:      reconnect.Default(),
		Cache:          CachePolicy{InvalidateOnLiveQuery: true},
	}
}

// normalized fills zero fields from the defaults. A zero Reconnect
// policy is the never policy by construction, so the default applies
// only when the caller passed a nil Config.
func (c *Config) normalized(fromNil bool) *Config {
	out := *c
	if out.RequestTimeout == 0 {
		out.RequestTimeout = 30 * time.Second
	}
	if out.ConnectTimeout == 0 {
		out.ConnectTimeout = 10 * time.Second
	}
	if out.HTTPPoolSize == 0 {
		out.HTTPPoolSize = 8
	}
	if fromNil {
		out.Reconnect = reconnect.Default()
		out.Cache.InvalidateOnLiveQuery = true
	}
	if out.Logger == nil {
		out.Logger = func(string, ...any) {}
	}
	return &out
}

func (c *Config) cachePolicy() cache.Policy {
	return cache.Policy{
		DefaultTTL:            c.Cache.DefaultTTL,
		MaxEntries:            c.Cache.MaxEntries,
		InvalidateOnLiveQuery: c.Cache.InvalidateOnLiveQuery,
	}
}
