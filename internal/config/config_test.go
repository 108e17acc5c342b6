package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catherinevee/endpointmgr/internal/models"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.Audit.Threshold)
	assert.Equal(t, 3, cfg.Selector.MaxAZ)
	assert.Equal(t, 2000, cfg.Notifier.PayloadByteBudget)
	assert.Equal(t, models.ServiceS3, cfg.Audit.TrackedServices["s3.amazonaws.com"])
	assert.Equal(t, models.ServiceECR, cfg.Audit.TrackedServices["ecr.amazonaws.com"])
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"audit": {"threshold": 10, "tracked_services": {"s3.amazonaws.com": "S3"}},
		"selector": {"max_az": 2}
	}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Audit.Threshold)
	assert.Equal(t, 2, cfg.Selector.MaxAZ)
	// Unset fields keep their defaults.
	assert.Equal(t, 2000, cfg.Notifier.PayloadByteBudget)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
audit:
  threshold: 7
notifier:
  webhook_url: https://hooks.example.com/x
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Audit.Threshold)
	assert.Equal(t, "https://hooks.example.com/x", cfg.Notifier.WebhookURL)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"audit": {"threshold": 0}}`), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit.threshold")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ENDPOINTMGR_THRESHOLD", "9")
	t.Setenv("ENDPOINTMGR_MAX_AZ", "2")
	t.Setenv("ENDPOINTMGR_WEBHOOK_URL", "https://hooks.example.com/env")
	t.Setenv("ENDPOINTMGR_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Audit.Threshold)
	assert.Equal(t, 2, cfg.Selector.MaxAZ)
	assert.Equal(t, "https://hooks.example.com/env", cfg.Notifier.WebhookURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero threshold", func(c *Config) { c.Audit.Threshold = 0 }},
		{"zero max_az", func(c *Config) { c.Selector.MaxAZ = 0 }},
		{"no tracked services", func(c *Config) { c.Audit.TrackedServices = nil }},
		{"zero payload budget", func(c *Config) { c.Notifier.PayloadByteBudget = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
