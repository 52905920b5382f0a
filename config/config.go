// Package config loads and validates the adapter's process-wide settings.
//
// Settings are merged from (in increasing priority) compiled-in defaults, an
// optional YAML file, and environment variables prefixed TIMATALVA_. The
// merge is performed by koanf, which keeps the loading logic declarative and
// lets operators override a single field (e.g. TIMATALVA_UPSTREAM_BASE_URL)
// without maintaining a full config file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// envPrefix is stripped from environment variable names before they are
// folded into the koanf key space and the rest is lowercased with "_" kept
// as-is, so TIMATALVA_UPSTREAM_BASE_URL becomes "upstream_base_url".
const envPrefix = "TIMATALVA_"

// ExtractionOptions is the explicit option struct carried by every
// orchestration request. Callers may override any subset per request; the
// api package rejects unrecognized JSON/query keys rather than silently
// ignoring them.
type ExtractionOptions struct {
	// ForceMaxConcurrency pins both fan-out limiters to their documented
	// ceilings and disables dynamic AIMD adjustment for the request.
	ForceMaxConcurrency bool `json:"force_max_concurrency" koanf:"force_max_concurrency"`

	// WeekFetchInitial is the starting concurrency ceiling for the
	// week-fetch limiter.
	WeekFetchInitial int `json:"week_fetch_initial" koanf:"week_fetch_initial"`

	// HomeworkFetchInitial is the starting concurrency ceiling for the
	// homework-fetch limiter.
	HomeworkFetchInitial int `json:"homework_fetch_initial" koanf:"homework_fetch_initial"`

	// TeacherCacheTTLSec is how long a resolved teacher-initials map is
	// cached before being re-fetched from the upstream.
	TeacherCacheTTLSec int `json:"teacher_cache_ttl_sec" koanf:"teacher_cache_ttl_sec"`

	// RequestTimeoutSec bounds a single outbound HTTP call, end to end.
	RequestTimeoutSec float64 `json:"request_timeout_sec" koanf:"request_timeout_sec"`

	// MaxRetries is the number of retryable attempts the transport will make.
	MaxRetries int `json:"max_retries" koanf:"max_retries"`

	// BackoffFactor is the base multiplier for the retry backoff series
	// (backoff_factor * 2^(attempt-1)).
	BackoffFactor float64 `json:"backoff_factor" koanf:"backoff_factor"`
}

// WeekFetchMax and HomeworkFetchMax are the hard ceilings of the two
// fan-out limiters. Initial values, whether from config defaults or
// per-request overrides, must stay within [1, max]; the limiter
// constructor panics on violation, so the boundaries here and in api
// reject out-of-range values first.
const (
	WeekFetchMax     = 50
	HomeworkFetchMax = 100
)

// RequestTimeout returns RequestTimeoutSec as a time.Duration.
func (o ExtractionOptions) RequestTimeout() time.Duration {
	return time.Duration(o.RequestTimeoutSec * float64(time.Second))
}

// DefaultExtractionOptions returns the production ceilings: week_fetch
// starts at 5 (forced ceiling 10), homework_fetch starts at 20 (forced
// ceiling 30).
func DefaultExtractionOptions() ExtractionOptions {
	return ExtractionOptions{
		ForceMaxConcurrency:  false,
		WeekFetchInitial:     5,
		HomeworkFetchInitial: 20,
		TeacherCacheTTLSec:   24 * 3600,
		RequestTimeoutSec:    30,
		MaxRetries:           3,
		BackoffFactor:        0.5,
	}
}

// Config holds every tunable that is not part of a single request's
// ExtractionOptions: where the adapter listens, which upstream it talks to,
// and the defaults new requests start from.
type Config struct {
	// ListenAddr is the address the HTTP API binds to, e.g. ":8080".
	ListenAddr string `koanf:"listen_addr"`

	// UpstreamBaseURL is the scheme+host of the upstream timetable site.
	UpstreamBaseURL string `koanf:"upstream_base_url"`

	// ProxyFile optionally points at a newline-delimited proxy list the
	// transport rotates through. Empty means direct connections.
	ProxyFile string `koanf:"proxy_file"`

	// Defaults seeds ExtractionOptions for requests that don't override them.
	Defaults ExtractionOptions `koanf:"defaults"`
}

// DefaultConfig returns production-sensible defaults. Callers are free to
// mutate the returned struct; each call returns an independent copy.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      ":8080",
		UpstreamBaseURL: "",
		ProxyFile:       "",
		Defaults:        DefaultExtractionOptions(),
	}
}

// Load merges DefaultConfig with an optional YAML file at path (pass "" to
// skip) and environment variables prefixed TIMATALVA_, in that priority
// order. It returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(*DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %q: %w", path, err)
		}
	}

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		return strings.ToLower(s)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.UpstreamBaseURL == "" {
		return nil, fmt.Errorf("config: upstream_base_url is required")
	}
	if cfg.Defaults.WeekFetchInitial < 1 || cfg.Defaults.WeekFetchInitial > WeekFetchMax {
		return nil, fmt.Errorf("config: defaults.week_fetch_initial must be in [1, %d]", WeekFetchMax)
	}
	if cfg.Defaults.HomeworkFetchInitial < 1 || cfg.Defaults.HomeworkFetchInitial > HomeworkFetchMax {
		return nil, fmt.Errorf("config: defaults.homework_fetch_initial must be in [1, %d]", HomeworkFetchMax)
	}
	return &cfg, nil
}
