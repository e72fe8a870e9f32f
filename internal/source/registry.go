// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package source

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"go.uber.org/zap"

	"github.com/pdiddy/scholar-gateway/internal/cache"
	"github.com/pdiddy/scholar-gateway/internal/fetch"
	"github.com/pdiddy/scholar-gateway/internal/health"
	"github.com/pdiddy/scholar-gateway/internal/ratelimit"
	"github.com/pdiddy/scholar-gateway/internal/telemetry"
	"github.com/pdiddy/scholar-gateway/pkg/types"
)

// Registry owns every constructed connector together with its limiter and
// monitor. It is built once at startup and closed on shutdown, stopping
// all background tasks; nothing in the gateway is a load-time singleton.
type Registry struct {
	sources  []Source
	limiters map[string]*ratelimit.Limiter
	monitors map[string]*health.Monitor
	store    *cache.Store
}

// RegistryOptions configures NewRegistry.
type RegistryOptions struct {
	Config  types.GatewayConfig
	Client  *http.Client
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
}

// DefaultGatewayConfig returns the stock source set with each source's
// published or conventional rate contract.
func DefaultGatewayConfig() types.GatewayConfig {
	return types.GatewayConfig{
		Sources: map[string]types.SourceConfig{
			// arXiv asks for no more than one request every three seconds.
			"arxiv": {
				Enabled:   true,
				RateLimit: &types.RateLimitConfig{RequestsPerSecond: 1.0 / 3.0},
			},
			// The unkeyed Semantic Scholar tier is throttled to ~1 rps.
			"semantic_scholar": {
				Enabled:   true,
				RateLimit: &types.RateLimitConfig{RequestsPerSecond: 1},
			},
			"crossref": {
				Enabled:   true,
				RateLimit: &types.RateLimitConfig{RequestsPerSecond: 1},
			},
			"openalex": {
				Enabled:   true,
				RateLimit: &types.RateLimitConfig{RequestsPerSecond: 10},
			},
			"dblp": {
				Enabled:   true,
				RateLimit: &types.RateLimitConfig{RequestsPerSecond: 2},
				Mirrors:   &types.MirrorConfig{URLs: DBLPMirrors},
			},
		},
	}
}

// NewRegistry constructs one connector per enabled source, each with its
// own admission controller and, for multi-mirror sources, health monitor.
func NewRegistry(opts RegistryOptions) (*Registry, error) {
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := cache.Open(opts.Config.Cache)
	if err != nil {
		return nil, fmt.Errorf("opening response cache: %w", err)
	}

	r := &Registry{
		limiters: make(map[string]*ratelimit.Limiter),
		monitors: make(map[string]*health.Monitor),
		store:    store,
	}

	// Deterministic construction order.
	names := make([]string, 0, len(opts.Config.Sources))
	for name := range opts.Config.Sources {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cfg := opts.Config.Sources[name]
		if !cfg.Enabled {
			continue
		}

		orch := &fetch.Orchestrator{
			Source:      name,
			MaxAttempts: opts.Config.Search.MaxRetries,
			Logger:      logger,
			Metrics:     opts.Metrics,
		}

		if cfg.RateLimit != nil {
			limiter, err := ratelimit.New(ratelimit.Config{
				Source:            name,
				RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
				Burst:             cfg.RateLimit.Burst,
				WaitTimeout:       cfg.RateLimit.WaitTimeout,
				GrantOnTimeout:    cfg.RateLimit.GrantOnTimeout,
				Debug:             cfg.RateLimit.Debug,
				Logger:            logger,
				Metrics:           opts.Metrics,
			})
			if err != nil {
				r.Close()
				return nil, fmt.Errorf("source %s: %w", name, err)
			}
			r.limiters[name] = limiter
			orch.Limiter = limiter
		}

		if cfg.Mirrors != nil {
			mcfg := health.Config{
				Source:        name,
				Endpoints:     cfg.Mirrors.URLs,
				ProbeInterval: cfg.Mirrors.ProbeInterval,
				ProbeTimeout:  cfg.Mirrors.ProbeTimeout,
				Client:        client,
				Logger:        logger,
				Metrics:       opts.Metrics,
			}
			if name == "dblp" {
				mcfg.ProbePath = DBLPProbePath
				mcfg.Validate = DBLPValidate
			}
			monitor, err := health.New(mcfg)
			if err != nil {
				r.Close()
				return nil, fmt.Errorf("source %s: %w", name, err)
			}
			r.monitors[name] = monitor
			orch.Monitor = monitor
		}

		s, err := buildSource(name, cfg, client, orch)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.sources = append(r.sources, s)
	}

	if len(r.sources) == 0 {
		r.Close()
		return nil, fmt.Errorf("no sources enabled")
	}
	return r, nil
}

func buildSource(name string, cfg types.SourceConfig, client *http.Client, orch *fetch.Orchestrator) (Source, error) {
	switch name {
	case "arxiv":
		return &Arxiv{Client: client, Orch: orch}, nil
	case "dblp":
		return &DBLP{Client: client, Orch: orch}, nil
	case "semantic_scholar":
		return &SemanticScholar{Client: client, Orch: orch, APIKey: cfg.APIKey}, nil
	case "crossref":
		return &Crossref{Client: client, Orch: orch, Email: cfg.Email}, nil
	case "openalex":
		return &OpenAlex{Client: client, Orch: orch, Email: cfg.Email}, nil
	default:
		return nil, fmt.Errorf("unknown source %q", name)
	}
}

// Sources returns the constructed connectors in name order.
func (r *Registry) Sources() []Source {
	return r.sources
}

// Cache returns the shared response cache, nil when caching is disabled.
func (r *Registry) Cache() *cache.Store {
	return r.store
}

// LimiterStatus reports every admission controller's current state.
func (r *Registry) LimiterStatus() map[string]ratelimit.Status {
	out := make(map[string]ratelimit.Status, len(r.limiters))
	for name, l := range r.limiters {
		out[name] = l.Status()
	}
	return out
}

// MirrorStatus reports every monitored source's mirror health.
func (r *Registry) MirrorStatus() map[string][]health.MirrorStatus {
	out := make(map[string][]health.MirrorStatus, len(r.monitors))
	for name, m := range r.monitors {
		out[name] = m.MirrorStatus()
	}
	return out
}

// ForceHealthCheck probes every monitored source immediately.
func (r *Registry) ForceHealthCheck(ctx context.Context) {
	for _, m := range r.monitors {
		m.ForceHealthCheck(ctx)
	}
}

// Close stops every limiter and monitor and releases the cache. Safe to
// call on a partially constructed registry.
func (r *Registry) Close() {
	for _, l := range r.limiters {
		l.Close()
	}
	for _, m := range r.monitors {
		m.Close()
	}
	r.store.Close()
}
