package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeEnv(values map[string]string) EnvLookup {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoadRequiresPostgresDSN(t *testing.T) {
	_, _, err := Load(WithEnvLookup(fakeEnv(map[string]string{
		"MONGODB_URL":      "mongodb://x",
		"MINIO_ENDPOINT":   "minio:9000",
		"MINIO_ACCESS_KEY": "ak",
		"MINIO_SECRET_KEY": "sk",
	})))
	require.Error(t, err)
}

func TestLoadRequiresMongoURL(t *testing.T) {
	_, _, err := Load(WithEnvLookup(fakeEnv(map[string]string{
		"POSTGRES_DSN":     "postgres://x",
		"MINIO_ENDPOINT":   "minio:9000",
		"MINIO_ACCESS_KEY": "ak",
		"MINIO_SECRET_KEY": "sk",
	})))
	require.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, meta, err := Load(WithEnvLookup(fakeEnv(map[string]string{
		"POSTGRES_DSN":     "postgres://x",
		"MONGODB_URL":      "mongodb://x",
		"MINIO_ENDPOINT":   "minio:9000",
		"MINIO_ACCESS_KEY": "ak",
		"MINIO_SECRET_KEY": "sk",
	})))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 300*time.Second, cfg.RunTaskTimeout)
	assert.Equal(t, 600*time.Second, cfg.StaleTaskGrace)
	assert.Equal(t, ":8080", cfg.HubHTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 3, cfg.AgentCount)
	assert.Equal(t, SourceDefault, meta.Sources["PollInterval"])
}

func TestLoadPrefersPostgresURLAliasAndOverrides(t *testing.T) {
	cfg, _, err := Load(WithEnvLookup(fakeEnv(map[string]string{
		"POSTGRES_URL":          "postgres://alias",
		"MONGODB_URL":           "mongodb://x",
		"MINIO_ENDPOINT":        "minio:9000",
		"MINIO_ACCESS_KEY":      "ak",
		"MINIO_SECRET_KEY":      "sk",
		"AGENT_ID":              "agent_2",
		"POLL_INTERVAL_SECONDS": "2",
		"AGENT_COUNT":           "5",
	})))
	require.NoError(t, err)

	assert.Equal(t, "postgres://alias", cfg.PostgresDSN)
	assert.Equal(t, "agent_2", cfg.AgentID)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 5, cfg.AgentCount)
}

func TestAssignedAgentRoundRobin(t *testing.T) {
	cfg := RuntimeConfig{AgentCount: 3}
	assert.Equal(t, "agent_2", cfg.AssignedAgent(1))
	assert.Equal(t, "agent_3", cfg.AssignedAgent(2))
	assert.Equal(t, "agent_1", cfg.AssignedAgent(3))
	assert.Equal(t, "agent_1", cfg.AssignedAgent(0))
}

func TestAgentIDsEnumeratesN(t *testing.T) {
	cfg := RuntimeConfig{AgentCount: 3}
	assert.Equal(t, []string{"agent_1", "agent_2", "agent_3"}, cfg.AgentIDs())
}
