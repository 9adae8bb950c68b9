package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/export-service/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)

	assert.Equal(t, "export-service", cfg.Service.Name)
	assert.Equal(t, 9020, cfg.Service.Port)
	assert.Equal(t, 3, cfg.Queue.Concurrency)
	assert.Equal(t, 30*time.Minute, cfg.Queue.JobTimeout)
	assert.Equal(t, time.Second, cfg.Queue.PopTimeout)
	assert.Equal(t, 60*time.Second, cfg.Cache.LocalTTL)
	assert.Equal(t, time.Hour, cfg.Cache.DefaultTTL)
	assert.Equal(t, 10, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 5*time.Minute, cfg.CircuitBreaker.RecoveryTimeout)
	assert.Equal(t, 1000, cfg.Pipeline.BatchSize)
	assert.Equal(t, 4, cfg.Pipeline.MaxWorkers)
	assert.Equal(t, "mongo", cfg.Exports.PaymentBillsDBType)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.False(t, cfg.Pipeline.RenderEmpty)
	assert.InDelta(t, 50.0, cfg.Pipeline.SourceRateLimit, 0.001)
	assert.Equal(t, 10, cfg.Pipeline.SourceBurst)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
service:
  port: 9100
database:
  driver: postgres
  dsn: postgres://localhost/exports
queue:
  concurrency: 5
pipeline:
  batch_size: 250
  render_empty: true
`)
	t.Setenv("MAX_CONCURRENT_EXPORTS", "8")
	t.Setenv("JOB_TIMEOUT", "90000")
	t.Setenv("CB_RECOVERY_TIMEOUT", "2m")
	t.Setenv("PAYMENT_BILLS_DB_TYPE", "sql")
	t.Setenv("SOURCE_RATE_LIMIT", "12.5")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Service.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/exports", cfg.Database.DSN)
	assert.Equal(t, 8, cfg.Queue.Concurrency)
	assert.Equal(t, 90*time.Second, cfg.Queue.JobTimeout)
	assert.Equal(t, 2*time.Minute, cfg.CircuitBreaker.RecoveryTimeout)
	assert.Equal(t, "sql", cfg.Exports.PaymentBillsDBType)
	assert.Equal(t, 250, cfg.Pipeline.BatchSize)
	assert.True(t, cfg.Pipeline.RenderEmpty)
	assert.InDelta(t, 12.5, cfg.Pipeline.SourceRateLimit, 0.001)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "driver", body: "database:\n  driver: sqlite\n"},
		{name: "db type", body: "exports:\n  payment_bills_db_type: oracle\n"},
		{name: "log level", body: "logging:\n  level: loud\n"},
		{name: "port", body: "service:\n  port: 70000\n"},
		{name: "concurrency", body: "queue:\n  concurrency: -1\n"},
		{name: "source rate", body: "pipeline:\n  source_rate_limit: -2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}
