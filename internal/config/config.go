// Package config loads service configuration from an optional YAML
// file with environment overrides. Only missing or invalid required
// options abort startup; every runtime failure is handled by the loops
// themselves.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// StoreConfig selects and parameterizes the object store.
type StoreConfig struct {
	// Provider is one of localfs, gcs, memory.
	Provider string `yaml:"provider"`
	// Bucket is the GCS bucket for the gcs provider.
	Bucket string `yaml:"bucket"`
	// LocalRoot is the directory root for the localfs provider.
	LocalRoot string `yaml:"local_root"`
}

// WorkerConfig parameterizes one render worker process.
type WorkerConfig struct {
	// WorkerID identifies this worker in leases and job records.
	// Defaults to worker-{uuid}.
	WorkerID string `yaml:"worker_id"`
	// RenewalInterval is the lease renewal cadence. Lease TTL is twice
	// this, which absorbs clock skew between workers.
	RenewalInterval time.Duration `yaml:"renewal_interval"`
	// ClaimBackoff is how long to sleep when a scan yields no
	// claimable job.
	ClaimBackoff time.Duration `yaml:"claim_backoff"`
	// MaxParallelRenders bounds concurrent render invocations.
	MaxParallelRenders int `yaml:"max_parallel_renders"`
	// UnitRetries is the render attempts per unit before the whole
	// job fails.
	UnitRetries int `yaml:"unit_retries"`
	// UnitTimeout bounds a single render invocation.
	UnitTimeout time.Duration `yaml:"unit_timeout"`
	// ThrottleUtilization pauses new unit launches while local GPU
	// utilization is at or above this percentage.
	ThrottleUtilization float64 `yaml:"throttle_utilization"`
	// RendererURL is the base URL of the renderer service.
	RendererURL string `yaml:"renderer_url"`
	// StatusAddr is the listen address of the worker status surface.
	StatusAddr string `yaml:"status_addr"`
}

// ScalingConfig parameterizes the scaling policy and autoscaler loop.
type ScalingConfig struct {
	Interval          time.Duration `yaml:"interval"`
	MinInstances      int           `yaml:"min_instances"`
	MaxInstances      int           `yaml:"max_instances"`
	JobsPerInstance   int           `yaml:"jobs_per_instance"`
	Efficiency        float64       `yaml:"efficiency"`
	ScaleDownCooldown time.Duration `yaml:"scale_down_cooldown"`
	LowQueueThreshold int           `yaml:"low_queue_threshold"`
	HighUtilization   float64       `yaml:"high_utilization"`
	LowUtilization    float64       `yaml:"low_utilization"`
	IdleUtilization   float64       `yaml:"idle_utilization"`
	StatusAddr        string        `yaml:"status_addr"`
}

// FleetConfig selects the fleet controller.
type FleetConfig struct {
	// Provider is one of gce, static.
	Provider string `yaml:"provider"`
	// Project, Zone and Group locate the GCE managed instance group.
	Project string `yaml:"project"`
	Zone    string `yaml:"zone"`
	Group   string `yaml:"group"`
	// StaticSize is the fixed pool size for the static provider.
	StaticSize int `yaml:"static_size"`
}

// TelemetryConfig selects the GPU utilization source.
type TelemetryConfig struct {
	// Provider is one of nvidia-smi, redis, fixed.
	Provider string `yaml:"provider"`
	// RedisAddr backs the fleet-wide aggregation for the redis provider.
	RedisAddr string `yaml:"redis_addr"`
	// ReportInterval is how often a worker publishes its sample.
	ReportInterval time.Duration `yaml:"report_interval"`
	// FixedValue is the constant reading of the fixed provider.
	FixedValue float64 `yaml:"fixed_value"`
}

// LogConfig parameterizes the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the root configuration for all renderfleet binaries.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Worker    WorkerConfig    `yaml:"worker"`
	Scaling   ScalingConfig   `yaml:"scaling"`
	Fleet     FleetConfig     `yaml:"fleet"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// Default returns the configuration matching the production constants.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Provider: "localfs",
			Bucket:   "trivia-automation",
		},
		Worker: WorkerConfig{
			RenewalInterval:     60 * time.Second,
			ClaimBackoff:        10 * time.Second,
			MaxParallelRenders:  3,
			UnitRetries:         3,
			UnitTimeout:         10 * time.Minute,
			ThrottleUtilization: 70.0,
			StatusAddr:          ":8080",
		},
		Scaling: ScalingConfig{
			Interval:          60 * time.Second,
			MinInstances:      1,
			MaxInstances:      20,
			JobsPerInstance:   200,
			Efficiency:        0.5,
			ScaleDownCooldown: 10 * time.Minute,
			LowQueueThreshold: 5,
			HighUtilization:   80.0,
			LowUtilization:    20.0,
			IdleUtilization:   30.0,
			StatusAddr:        ":8080",
		},
		Fleet: FleetConfig{
			Provider: "static",
			Group:    "gpu-video-workers",
		},
		Telemetry: TelemetryConfig{
			Provider:       "fixed",
			ReportInterval: 15 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (if non-empty), then environment overrides, then validation.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.Worker.WorkerID == "" {
		cfg.Worker.WorkerID = "worker-" + uuid.NewString()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	strVar(&c.Store.Provider, "STORE_PROVIDER")
	strVar(&c.Store.Bucket, "GCS_BUCKET")
	strVar(&c.Store.LocalRoot, "STORE_LOCAL_ROOT")

	strVar(&c.Worker.WorkerID, "WORKER_ID")
	durVar(&c.Worker.RenewalInterval, "LEASE_RENEWAL_INTERVAL")
	strVar(&c.Worker.RendererURL, "RENDERER_HTTP_BASEURL")
	strVar(&c.Worker.StatusAddr, "WORKER_STATUS_ADDR")

	durVar(&c.Scaling.Interval, "SCALING_INTERVAL")
	intVar(&c.Scaling.MinInstances, "MIN_INSTANCES")
	intVar(&c.Scaling.MaxInstances, "MAX_INSTANCES")
	intVar(&c.Scaling.JobsPerInstance, "JOBS_PER_INSTANCE")
	floatVar(&c.Scaling.Efficiency, "GPU_EFFICIENCY")
	durVar(&c.Scaling.ScaleDownCooldown, "SCALE_DOWN_COOLDOWN")

	strVar(&c.Fleet.Provider, "FLEET_PROVIDER")
	strVar(&c.Fleet.Project, "PROJECT_ID")
	strVar(&c.Fleet.Zone, "ZONE")
	strVar(&c.Fleet.Group, "MIG_NAME")

	strVar(&c.Telemetry.Provider, "TELEMETRY_PROVIDER")
	strVar(&c.Telemetry.RedisAddr, "REDIS_ADDR")

	strVar(&c.Log.Level, "LOG_LEVEL")
	strVar(&c.Log.Format, "LOG_FORMAT")
}

// Validate reports the first invalid required option.
func (c *Config) Validate() error {
	switch c.Store.Provider {
	case "localfs", "gcs", "memory":
	default:
		return fmt.Errorf("config: unknown store provider %q", c.Store.Provider)
	}
	if c.Worker.RenewalInterval <= 0 {
		return fmt.Errorf("config: worker.renewal_interval must be positive")
	}
	if c.Worker.MaxParallelRenders <= 0 {
		return fmt.Errorf("config: worker.max_parallel_renders must be positive")
	}
	if c.Worker.UnitRetries <= 0 {
		return fmt.Errorf("config: worker.unit_retries must be positive")
	}
	if c.Scaling.MinInstances < 1 || c.Scaling.MaxInstances < c.Scaling.MinInstances {
		return fmt.Errorf("config: instance bounds invalid: min=%d max=%d",
			c.Scaling.MinInstances, c.Scaling.MaxInstances)
	}
	if c.Scaling.JobsPerInstance <= 0 {
		return fmt.Errorf("config: scaling.jobs_per_instance must be positive")
	}
	if c.Scaling.Efficiency <= 0 || c.Scaling.Efficiency > 1 {
		return fmt.Errorf("config: scaling.efficiency must be in (0,1], got %v", c.Scaling.Efficiency)
	}
	if c.Scaling.LowUtilization >= c.Scaling.HighUtilization {
		return fmt.Errorf("config: scaling.low_utilization must be below high_utilization")
	}
	if c.Scaling.Interval <= 0 {
		return fmt.Errorf("config: scaling.interval must be positive")
	}
	return nil
}

func strVar(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func intVar(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func floatVar(dst *float64, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func durVar(dst *time.Duration, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
