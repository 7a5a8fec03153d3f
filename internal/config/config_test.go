package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
store:
  provider: memory
scaling:
  min_instances: 2
  max_instances: 10
worker:
  renewal_interval: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	t.Setenv("MAX_INSTANCES", "8")
	t.Setenv("WORKER_ID", "worker-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "memory", cfg.Store.Provider)
	require.Equal(t, 2, cfg.Scaling.MinInstances)
	require.Equal(t, 8, cfg.Scaling.MaxInstances, "env overrides yaml")
	require.Equal(t, 30*time.Second, cfg.Worker.RenewalInterval)
	require.Equal(t, "worker-test", cfg.Worker.WorkerID)
}

func TestLoadGeneratesWorkerID(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(cfg.Worker.WorkerID, "worker-"))
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown store provider", func(c *Config) { c.Store.Provider = "ftp" }},
		{"zero renewal interval", func(c *Config) { c.Worker.RenewalInterval = 0 }},
		{"min above max", func(c *Config) { c.Scaling.MinInstances = 5; c.Scaling.MaxInstances = 2 }},
		{"zero min instances", func(c *Config) { c.Scaling.MinInstances = 0 }},
		{"efficiency above one", func(c *Config) { c.Scaling.Efficiency = 1.5 }},
		{"inverted util thresholds", func(c *Config) { c.Scaling.LowUtilization = 90 }},
		{"zero jobs per instance", func(c *Config) { c.Scaling.JobsPerInstance = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	require.Error(t, err)
}
