// Package config loads the hub's runtime configuration from environment
// variables: typed struct, defaults, validation, and per-field provenance
// so a misconfigured deployment can report where each value came from.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// RuntimeConfig holds every environment-derived setting the hub process
// needs.
type RuntimeConfig struct {
	PostgresDSN       string
	MongoDBURL        string
	MinIOEndpoint     string
	MinIOAccessKey    string
	MinIOSecretKey    string
	MinIOSecure       bool
	AgentID           string
	PollInterval      time.Duration
	RunTaskTimeout    time.Duration
	StaleTaskGrace    time.Duration
	WorkdirRoot       string
	HubHTTPAddr       string
	LogLevel          string
	AgentCount        int
}

// AgentIDs enumerates the N nominal agent identifiers the round-robin
// assignment and live-feed endpoints address, "agent_1".."agent_N", with N
// taken from AGENT_COUNT.
func (c RuntimeConfig) AgentIDs() []string {
	ids := make([]string, c.AgentCount)
	for i := range ids {
		ids[i] = fmt.Sprintf("agent_%d", i+1)
	}
	return ids
}

// AssignedAgent returns the nominal agent for taskID:
// agent_{1 + (task_id mod N)}.
func (c RuntimeConfig) AssignedAgent(taskID int64) string {
	n := int64(c.AgentCount)
	if n <= 0 {
		n = 1
	}
	idx := taskID % n
	if idx < 0 {
		idx += n
	}
	return fmt.Sprintf("agent_%d", 1+idx)
}

// ValueSource records where one field's value came from, for diagnostics.
type ValueSource string

const (
	SourceDefault         ValueSource = "default"
	SourceEnv             ValueSource = "env"
	SourceRequiredMissing ValueSource = "missing"
)

// Metadata tracks per-field provenance.
type Metadata struct {
	Sources map[string]ValueSource
}

func (m *Metadata) set(field string, src ValueSource) {
	if m.Sources == nil {
		m.Sources = make(map[string]ValueSource)
	}
	m.Sources[field] = src
}

// EnvLookup abstracts os.LookupEnv so tests can inject a fake environment.
type EnvLookup func(key string) (string, bool)

// Option customizes Load's behavior.
type Option func(*options)

type options struct {
	lookup EnvLookup
}

// WithEnvLookup injects a fake environment for tests.
func WithEnvLookup(lookup EnvLookup) Option {
	return func(o *options) { o.lookup = lookup }
}

func defaultOptions() *options {
	return &options{lookup: os.LookupEnv}
}

// Load builds a RuntimeConfig from environment variables, defaults →
// required-env, returning per-field provenance in Metadata. Returns an
// error naming the first missing required variable.
func Load(opts ...Option) (RuntimeConfig, Metadata, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	var cfg RuntimeConfig
	var meta Metadata

	cfg.PostgresDSN = firstNonEmpty(o.lookup, "POSTGRES_DSN", "POSTGRES_URL")
	if cfg.PostgresDSN == "" {
		meta.set("PostgresDSN", SourceRequiredMissing)
		return cfg, meta, fmt.Errorf("config: POSTGRES_URL or POSTGRES_DSN is required")
	}
	meta.set("PostgresDSN", SourceEnv)

	if v, ok := o.lookup("MONGODB_URL"); ok && v != "" {
		cfg.MongoDBURL = v
		meta.set("MongoDBURL", SourceEnv)
	} else {
		meta.set("MongoDBURL", SourceRequiredMissing)
		return cfg, meta, fmt.Errorf("config: MONGODB_URL is required")
	}

	if v, ok := o.lookup("MINIO_ENDPOINT"); ok && v != "" {
		cfg.MinIOEndpoint = v
		meta.set("MinIOEndpoint", SourceEnv)
	} else {
		meta.set("MinIOEndpoint", SourceRequiredMissing)
		return cfg, meta, fmt.Errorf("config: MINIO_ENDPOINT is required")
	}
	if v, ok := o.lookup("MINIO_ACCESS_KEY"); ok && v != "" {
		cfg.MinIOAccessKey = v
		meta.set("MinIOAccessKey", SourceEnv)
	} else {
		meta.set("MinIOAccessKey", SourceRequiredMissing)
		return cfg, meta, fmt.Errorf("config: MINIO_ACCESS_KEY is required")
	}
	if v, ok := o.lookup("MINIO_SECRET_KEY"); ok && v != "" {
		cfg.MinIOSecretKey = v
		meta.set("MinIOSecretKey", SourceEnv)
	} else {
		meta.set("MinIOSecretKey", SourceRequiredMissing)
		return cfg, meta, fmt.Errorf("config: MINIO_SECRET_KEY is required")
	}
	cfg.MinIOSecure = boolEnv(o.lookup, "MINIO_SECURE", false, &meta, "MinIOSecure")

	// AGENT_ID is only required for worker processes; the hub server leaves
	// it empty, so it is not validated here.
	if v, ok := o.lookup("AGENT_ID"); ok {
		cfg.AgentID = v
		meta.set("AgentID", SourceEnv)
	} else {
		meta.set("AgentID", SourceDefault)
	}

	cfg.PollInterval = durationEnv(o.lookup, "POLL_INTERVAL_SECONDS", 5, &meta, "PollInterval")
	cfg.RunTaskTimeout = durationEnv(o.lookup, "RUN_TASK_TIMEOUT_SECONDS", 300, &meta, "RunTaskTimeout")
	cfg.StaleTaskGrace = durationEnv(o.lookup, "STALE_TASK_GRACE_SECONDS", 2*int(cfg.RunTaskTimeout/time.Second), &meta, "StaleTaskGrace")

	if v, ok := o.lookup("WORKDIR_ROOT"); ok && v != "" {
		cfg.WorkdirRoot = v
		meta.set("WorkdirRoot", SourceEnv)
	} else {
		cfg.WorkdirRoot = os.TempDir()
		meta.set("WorkdirRoot", SourceDefault)
	}

	if v, ok := o.lookup("HUB_HTTP_ADDR"); ok && v != "" {
		cfg.HubHTTPAddr = v
		meta.set("HubHTTPAddr", SourceEnv)
	} else {
		cfg.HubHTTPAddr = ":8080"
		meta.set("HubHTTPAddr", SourceDefault)
	}

	if v, ok := o.lookup("LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
		meta.set("LogLevel", SourceEnv)
	} else {
		cfg.LogLevel = "info"
		meta.set("LogLevel", SourceDefault)
	}

	if v, ok := o.lookup("AGENT_COUNT"); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.AgentCount = n
			meta.set("AgentCount", SourceEnv)
		}
	}
	if cfg.AgentCount == 0 {
		cfg.AgentCount = 3
		meta.set("AgentCount", SourceDefault)
	}

	return cfg, meta, nil
}

func firstNonEmpty(lookup EnvLookup, keys ...string) string {
	for _, k := range keys {
		if v, ok := lookup(k); ok && v != "" {
			return v
		}
	}
	return ""
}

func durationEnv(lookup EnvLookup, key string, defaultSeconds int, meta *Metadata, field string) time.Duration {
	if v, ok := lookup(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			meta.set(field, SourceEnv)
			return time.Duration(n) * time.Second
		}
	}
	meta.set(field, SourceDefault)
	return time.Duration(defaultSeconds) * time.Second
}

func boolEnv(lookup EnvLookup, key string, def bool, meta *Metadata, field string) bool {
	if v, ok := lookup(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			meta.set(field, SourceEnv)
			return b
		}
	}
	meta.set(field, SourceDefault)
	return def
}
