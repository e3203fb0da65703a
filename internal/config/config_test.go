package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	return map[string]string{
		"SURREAL_URL":    "ws://localhost:8000/rpc",
		"SURREAL_NS":     "collegeos",
		"SURREAL_DB":     "test",
		"SESSION_SECRET": "secret",
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(env.Options{Environment: baseEnv()})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, 3*time.Second, cfg.TypingIdleTimeout)
	assert.Equal(t, 10*time.Second, cfg.TypingStaleWindow)
	assert.Equal(t, 5*time.Second, cfg.NotificationDismissAfter)
	assert.Equal(t, 50, cfg.MessageHistoryLimit)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.False(t, cfg.PubSubTracingEnabled)
	assert.Equal(t, "collegeos", cfg.PubSubTracingServiceName)

	var p Provider = cfg
	assert.Equal(t, "ws://localhost:8000/rpc", p.GetDBURL())
	assert.Equal(t, 5*time.Second, p.GetDBQueryTimeout())
	assert.Equal(t, 10*time.Second, p.GetDBExecuteTimeout())
}

func TestParse_MissingRequired(t *testing.T) {
	vars := baseEnv()
	delete(vars, "SURREAL_URL")

	_, err := Parse(env.Options{Environment: vars})
	assert.Error(t, err)
}

func TestParse_Overrides(t *testing.T) {
	vars := baseEnv()
	vars["TYPING_IDLE_TIMEOUT"] = "2s"
	vars["LOG_FORMAT"] = "json"

	cfg, err := Parse(env.Options{Environment: vars})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.TypingIdleTimeout)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestParse_RejectsIdleLongerThanStaleWindow(t *testing.T) {
	vars := baseEnv()
	vars["TYPING_IDLE_TIMEOUT"] = "12s"

	_, err := Parse(env.Options{Environment: vars})
	assert.ErrorContains(t, err, "TYPING_IDLE_TIMEOUT")
}
