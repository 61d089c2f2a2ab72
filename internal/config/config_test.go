package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, 2*time.Second, cfg.EnqueueDeadline)
	assert.Equal(t, 5, cfg.DispatchMaxAttempts)
}

func TestLoadReadsOverridesFromEnvironment(t *testing.T) {
	os.Setenv("WEBHOOK_SECRET", "s3cr3t")
	os.Setenv("SCHEDULER_WORKERS", "16")
	os.Setenv("DISPATCH_FACTOR", "3.5")
	defer func() {
		os.Unsetenv("WEBHOOK_SECRET")
		os.Unsetenv("SCHEDULER_WORKERS")
		os.Unsetenv("DISPATCH_FACTOR")
	}()

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", cfg.WebhookSecret)
	assert.Equal(t, 16, cfg.SchedulerWorkers)
	assert.Equal(t, 3.5, cfg.DispatchFactor)
}

func TestLoadDefaultsDatabaseDSN(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "data/alertcore.db", cfg.DatabaseDSN)
}
