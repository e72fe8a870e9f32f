package types

import "time"

// HTTPConfig holds shared HTTP settings used by every connector.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout for content fetches.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "scholar-gateway/0.1 (mailto:ops@example.org)").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// RateLimitConfig configures a source's token-bucket admission controller.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained request rate the source permits.
	// Fractional rates are supported (arXiv asks for one request every
	// three seconds, i.e. 0.333).
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`

	// Burst is the bucket capacity. Zero means ceil(RequestsPerSecond),
	// with a floor of one token.
	Burst int `json:"burst,omitempty" yaml:"burst,omitempty"`

	// WaitTimeout bounds how long a queued caller may wait for a token
	// (default 30s).
	WaitTimeout time.Duration `json:"wait_timeout,omitempty" yaml:"wait_timeout,omitempty"`

	// GrantOnTimeout grants an expired waiter instead of rejecting it,
	// letting the caller momentarily exceed the contracted rate. Off by
	// default.
	GrantOnTimeout bool `json:"grant_on_timeout,omitempty" yaml:"grant_on_timeout,omitempty"`

	// Debug enables per-grant debug logging.
	Debug bool `json:"debug,omitempty" yaml:"debug,omitempty"`
}

// MirrorConfig configures a source's endpoint health monitor.
type MirrorConfig struct {
	// URLs lists the mirror base URLs, in configuration order.
	URLs []string `json:"urls" yaml:"urls"`

	// ProbeInterval is the staleness window after which endpoint health
	// data triggers a re-probe (default 5m).
	ProbeInterval time.Duration `json:"probe_interval,omitempty" yaml:"probe_interval,omitempty"`

	// ProbeTimeout bounds each individual probe request (default 5s).
	ProbeTimeout time.Duration `json:"probe_timeout,omitempty" yaml:"probe_timeout,omitempty"`
}

// SourceConfig holds per-connector settings.
type SourceConfig struct {
	// Enabled controls whether the connector is constructed at startup.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// RateLimit is the source's admission contract. Nil means the source
	// is not admission-controlled.
	RateLimit *RateLimitConfig `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`

	// Mirrors configures multi-endpoint failover. Nil means the source
	// has a single fixed endpoint.
	Mirrors *MirrorConfig `json:"mirrors,omitempty" yaml:"mirrors,omitempty"`

	// APIKey is an optional credential for metered sources.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// Email is sent to sources with a polite-pool convention (OpenAlex
	// mailto, Crossref).
	Email string `json:"email,omitempty" yaml:"email,omitempty"`
}

// SearchConfig holds settings for a gateway search.
type SearchConfig struct {
	HTTPConfig `yaml:",inline"`

	// MaxResults is the per-source maximum number of results (default 20).
	MaxResults int `json:"max_results" yaml:"max_results"`

	// MaxRetries is the orchestrator's per-fetch attempt budget (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// CacheConfig holds settings for the SQLite response cache.
type CacheConfig struct {
	// Path is the cache database file. Empty disables caching.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// TTL is how long a cached response stays fresh (default 15m).
	TTL time.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
}

// GatewayConfig groups all configuration for the gateway.
type GatewayConfig struct {
	Search  SearchConfig            `json:"search" yaml:"search"`
	Cache   CacheConfig             `json:"cache" yaml:"cache"`
	Sources map[string]SourceConfig `json:"sources" yaml:"sources"`
}
