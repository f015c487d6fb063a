package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 7, cfg.RetentionDays)
	assert.Equal(t, time.Hour, cfg.Window.Std())
	assert.Equal(t, 1, cfg.Thresholds.Critical)
	assert.Equal(t, 5, cfg.Thresholds.High)
	assert.Equal(t, 10, cfg.Thresholds.Medium)
	assert.Equal(t, 20, cfg.Thresholds.Low)
	assert.Equal(t, "*/5 * * * *", cfg.Scheduler.HealthExpr)
	assert.False(t, cfg.Scheduler.Disabled)
}

func TestFromYAML(t *testing.T) {
	data := []byte(`
retention_days: 14
window: 30m
thresholds:
  high: 3
memory_limit_ratio: 0.8
scheduler:
  disabled: true
  sweep_expr: "*/30 * * * *"
`)
	cfg, err := FromYAML(data)
	require.NoError(t, err)

	assert.Equal(t, 14, cfg.RetentionDays)
	assert.Equal(t, 30*time.Minute, cfg.Window.Std())
	assert.Equal(t, 3, cfg.Thresholds.High)
	// Untouched fields keep defaults.
	assert.Equal(t, 10, cfg.Thresholds.Medium)
	assert.Equal(t, "0 2 * * *", cfg.Scheduler.CleanupExpr)
	assert.Equal(t, "*/30 * * * *", cfg.Scheduler.SweepExpr)
	assert.True(t, cfg.Scheduler.Disabled)
}

func TestFromYAMLInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad duration", "window: soon"},
		{"zero retention", "retention_days: 0"},
		{"negative threshold", "thresholds:\n  low: -1"},
		{"ratio above one", "memory_limit_ratio: 1.5"},
		{"not yaml", ": ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestFromJSON(t *testing.T) {
	data := []byte(`{"window": "2h", "thresholds": {"medium": 4}}`)
	cfg, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cfg.Window.Std())
	assert.Equal(t, 4, cfg.Thresholds.Medium)
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "opswatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retention_days: 3"), 0o644))

	cfg, err := FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.RetentionDays)

	_, err = FromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "opswatch.toml")
	require.NoError(t, os.WriteFile(bad, []byte(""), 0o644))
	_, err = FromFile(bad)
	assert.ErrorContains(t, err, "unsupported config file extension")
}

func TestRetentionHelpers(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 7*24*time.Hour, cfg.Retention())
	assert.Equal(t, 30*24*time.Hour, cfg.ReadRetention())
}
