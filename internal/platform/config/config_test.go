package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_NAME", "judge_test")
	t.Setenv("JWT_EXPIRATION_HOURS", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.APIPort)
	assert.Equal(t, 2*time.Hour, cfg.JWTExp)
	assert.Contains(t, cfg.DBConnStr, "dbname=judge_test")
	assert.Equal(t, 300*time.Second, cfg.JudgeLockTTL())
	assert.Equal(t, time.Minute, cfg.AlertThrottleWindow())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("DB_SSLMODE", "sometimes")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DBSslMode")
}

func TestLoadRejectsSameQueueNames(t *testing.T) {
	t.Setenv("JUDGE_QUEUE_HIGH", "jobs")
	t.Setenv("JUDGE_QUEUE_LOW", "jobs")

	_, err := Load()
	require.Error(t, err)
}

func TestGetEnvAsIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("RECOMPUTE_PARALLELISM", "many")
	assert.Equal(t, 4, getEnvAsInt("RECOMPUTE_PARALLELISM", 4))
}
