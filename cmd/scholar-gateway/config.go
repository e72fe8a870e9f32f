// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/scholar-gateway/internal/source"
	"github.com/pdiddy/scholar-gateway/internal/telemetry"
	"github.com/pdiddy/scholar-gateway/pkg/types"
)

const (
	defaultHTTPTimeout = 20 * time.Second
	defaultCachePath   = ".scholar-gateway/cache.db"
)

// gatewayConfig builds the effective configuration: stock source defaults,
// overridden by the config file, with credentials falling back to .secrets/.
func gatewayConfig() types.GatewayConfig {
	cfg := source.DefaultGatewayConfig()

	cfg.Search = types.SearchConfig{
		HTTPConfig: types.HTTPConfig{
			Timeout:   defaultHTTPTimeout,
			UserAgent: fmt.Sprintf("scholar-gateway/%s (https://github.com/pdiddy/scholar-gateway)", version),
		},
		MaxResults: 20,
		MaxRetries: 3,
	}
	if viper.IsSet("search.timeout") {
		cfg.Search.Timeout = viper.GetDuration("search.timeout")
	}
	if viper.IsSet("search.user_agent") {
		cfg.Search.UserAgent = viper.GetString("search.user_agent")
	}
	if viper.IsSet("search.max_results") {
		cfg.Search.MaxResults = viper.GetInt("search.max_results")
	}
	if viper.IsSet("search.max_retries") {
		cfg.Search.MaxRetries = viper.GetInt("search.max_retries")
	}

	cfg.Cache = types.CacheConfig{Path: defaultCachePath}
	if viper.IsSet("cache.path") {
		cfg.Cache.Path = viper.GetString("cache.path")
	}
	if viper.IsSet("cache.ttl") {
		cfg.Cache.TTL = viper.GetDuration("cache.ttl")
	}

	for name, sc := range cfg.Sources {
		applySourceOverrides(name, &sc)
		cfg.Sources[name] = sc
	}

	// Credentials come from the config file or, failing that, .secrets/.
	if sc, ok := cfg.Sources["semantic_scholar"]; ok {
		sc.APIKey = secretDefault("semantic-scholar-api-key", sc.APIKey)
		cfg.Sources["semantic_scholar"] = sc
	}
	if sc, ok := cfg.Sources["openalex"]; ok {
		sc.Email = secretDefault("openalex-email", sc.Email)
		cfg.Sources["openalex"] = sc
	}
	if sc, ok := cfg.Sources["crossref"]; ok {
		sc.Email = secretDefault("crossref-mailto", sc.Email)
		cfg.Sources["crossref"] = sc
	}

	return cfg
}

func applySourceOverrides(name string, sc *types.SourceConfig) {
	prefix := "sources." + name + "."

	if viper.IsSet(prefix + "enabled") {
		sc.Enabled = viper.GetBool(prefix + "enabled")
	}
	if viper.IsSet(prefix + "api_key") {
		sc.APIKey = viper.GetString(prefix + "api_key")
	}
	if viper.IsSet(prefix + "email") {
		sc.Email = viper.GetString(prefix + "email")
	}

	if viper.IsSet(prefix + "rate_limit.requests_per_second") {
		if sc.RateLimit == nil {
			sc.RateLimit = &types.RateLimitConfig{}
		}
		sc.RateLimit.RequestsPerSecond = viper.GetFloat64(prefix + "rate_limit.requests_per_second")
	}
	if sc.RateLimit != nil {
		if viper.IsSet(prefix + "rate_limit.burst") {
			sc.RateLimit.Burst = viper.GetInt(prefix + "rate_limit.burst")
		}
		if viper.IsSet(prefix + "rate_limit.wait_timeout") {
			sc.RateLimit.WaitTimeout = viper.GetDuration(prefix + "rate_limit.wait_timeout")
		}
		if viper.IsSet(prefix + "rate_limit.grant_on_timeout") {
			sc.RateLimit.GrantOnTimeout = viper.GetBool(prefix + "rate_limit.grant_on_timeout")
		}
		if viper.IsSet(prefix + "rate_limit.debug") {
			sc.RateLimit.Debug = viper.GetBool(prefix + "rate_limit.debug")
		}
	}

	if viper.IsSet(prefix + "mirrors.urls") {
		if sc.Mirrors == nil {
			sc.Mirrors = &types.MirrorConfig{}
		}
		sc.Mirrors.URLs = viper.GetStringSlice(prefix + "mirrors.urls")
	}
	if sc.Mirrors != nil {
		if viper.IsSet(prefix + "mirrors.probe_interval") {
			sc.Mirrors.ProbeInterval = viper.GetDuration(prefix + "mirrors.probe_interval")
		}
		if viper.IsSet(prefix + "mirrors.probe_timeout") {
			sc.Mirrors.ProbeTimeout = viper.GetDuration(prefix + "mirrors.probe_timeout")
		}
	}
}

// newRegistry constructs the connector registry for one command invocation.
// The caller owns the registry and must Close it.
func newRegistry(cmd *cobra.Command) (*source.Registry, types.GatewayConfig, *zap.Logger, error) {
	reg, _, cfg, logger, err := newMeteredRegistry(cmd)
	return reg, cfg, logger, err
}

// newMeteredRegistry additionally hands back the Prometheus registry the
// connectors record into, for commands that expose the gathered metrics.
func newMeteredRegistry(cmd *cobra.Command) (*source.Registry, *prometheus.Registry, types.GatewayConfig, *zap.Logger, error) {
	logger, err := newLogger(cmd)
	if err != nil {
		return nil, nil, types.GatewayConfig{}, nil, fmt.Errorf("building logger: %w", err)
	}

	promReg := prometheus.NewRegistry()
	cfg := gatewayConfig()
	reg, err := source.NewRegistry(source.RegistryOptions{
		Config:  cfg,
		Client:  &http.Client{Timeout: cfg.Search.Timeout},
		Logger:  logger,
		Metrics: telemetry.NewMetrics(promReg),
	})
	if err != nil {
		return nil, nil, types.GatewayConfig{}, nil, err
	}
	return reg, promReg, cfg, logger, nil
}
