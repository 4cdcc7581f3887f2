package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GATEWAY_WHATSAPP_API_KEY", "wa-key")
	t.Setenv("GATEWAY_WHATSAPP_API_ENDPOINT", "https://graph.facebook.com")
	t.Setenv("GATEWAY_AGENT_API_KEY", "agent-key")
}

func TestLoad_SucceedsWithDefaultsWhenRequiredEnvIsSet(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Store.Kind)
	assert.Equal(t, "DROP_OLDEST", cfg.Pipeline.Backpressure)
	assert.Equal(t, 3, cfg.Pipeline.ErrorsMaxRetries)
}

func TestLoad_FailsWhenWhatsAppAPIKeyMissing(t *testing.T) {
	t.Setenv("GATEWAY_WHATSAPP_API_ENDPOINT", "https://graph.facebook.com")
	t.Setenv("GATEWAY_AGENT_API_KEY", "agent-key")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_FailsWhenAgentAPIKeyMissing(t *testing.T) {
	t.Setenv("GATEWAY_WHATSAPP_API_KEY", "wa-key")
	t.Setenv("GATEWAY_WHATSAPP_API_ENDPOINT", "https://graph.facebook.com")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_FailsWhenRedisKindMissingURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GATEWAY_STORE_KIND", "redis")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_SucceedsWhenRedisKindHasURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GATEWAY_STORE_KIND", "redis")
	t.Setenv("GATEWAY_STORE_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Store.Kind)
}

func TestLoad_FailsOnUnknownStoreKind(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GATEWAY_STORE_KIND", "mongo")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_FailsOnUnknownBackpressurePolicy(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GATEWAY_PIPELINE_BACKPRESSURE", "DROP_EVERYTHING")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_FailsWhenSilenceThresholdExceedsAdaptiveTimeout(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GATEWAY_PIPELINE_ADAPTIVE_TIMEOUT", "1s")
	t.Setenv("GATEWAY_PIPELINE_SILENCE_THRESHOLD", "5s")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_FailsOnInvalidServerPort(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GATEWAY_SERVER_PORT", "70000")

	_, err := Load()
	assert.Error(t, err)
}

func TestBackpressurePolicy_TranslatesEachKnownName(t *testing.T) {
	cfg := &Config{}
	cases := map[string]bool{
		"DROP_NEW":           true,
		"drop_oldest":        true,
		"FLUSH_AND_ACCEPT":   true,
		"REJECT_WITH_NOTIFY": true,
		"BLOCK_UNTIL_SPACE":  true,
		"NONSENSE":           false,
	}
	for name, wantOK := range cases {
		cfg.Pipeline.Backpressure = name
		_, err := cfg.BackpressurePolicy()
		if wantOK {
			assert.NoError(t, err, name)
		} else {
			assert.Error(t, err, name)
		}
	}
}

func TestBatchingConfig_ProjectsExponentialBackoffFlag(t *testing.T) {
	cfg := &Config{}
	cfg.Pipeline.ErrorsExponentialBackoff = true
	assert.Equal(t, 1, int(cfg.BatchingConfig().Errors.Backoff))

	cfg.Pipeline.ErrorsExponentialBackoff = false
	assert.Equal(t, 0, int(cfg.BatchingConfig().Errors.Backoff))
}
