package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	t.Parallel()
	assert.NoError(t, DefaultConfig().Validate())
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "bridge.json", `{"batch_interval": "5s", "page_size": 500}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.BatchInterval)
	assert.Equal(t, 500, cfg.PageSize)
	// Untouched fields keep defaults.
	assert.Equal(t, 100, cfg.MaxBatchSize)
	assert.Equal(t, "telemetry-dashboard-channel", cfg.DashboardChannel)
}

func TestLoad_RejectsNonJSONExtension(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "bridge.yaml", `{}`)
	_, err := Load(path)
	assert.ErrorContains(t, err, ".json extension")
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "bridge.json", `{"merge_interval": "soon"}`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "merge_interval")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*BridgeConfig)
		wantErr string
	}{
		{"missing db path", func(c *BridgeConfig) { c.DatabasePath = "" }, "database_path"},
		{"missing feed channel", func(c *BridgeConfig) { c.FeedChannel = "" }, "feed_channel"},
		{"missing dashboard channel", func(c *BridgeConfig) { c.DashboardChannel = "" }, "dashboard_channel"},
		{"zero batch interval", func(c *BridgeConfig) { c.BatchInterval = 0 }, "batch_interval"},
		{"inverted watermarks", func(c *BridgeConfig) { c.QueueHighWater = 100; c.QueueLowWater = 200 }, "watermarks"},
		{"cap below page size", func(c *BridgeConfig) { c.MaxRowsPerSession = 10 }, "max_rows_per_session"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
