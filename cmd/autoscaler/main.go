package main

import (
	"context"
	"flag"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	compute "google.golang.org/api/compute/v1"

	"renderfleet/internal/config"
	"renderfleet/internal/fleet"
	"renderfleet/internal/fleet/gce"
	"renderfleet/internal/httpapi"
	"renderfleet/internal/monitor"
	"renderfleet/internal/pkg/logger"
	"renderfleet/internal/pkg/shutdown"
	"renderfleet/internal/scaling"
	"renderfleet/internal/storage"
	"renderfleet/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault().LogFatal("invalid configuration", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "renderfleet-autoscaler",
	})

	log.Info("starting autoscaler",
		"store_provider", cfg.Store.Provider,
		"fleet_provider", cfg.Fleet.Provider,
		"interval", cfg.Scaling.Interval.String(),
	)

	ctx, stop := shutdown.Notify(context.Background())
	defer stop()

	shutdownMgr := shutdown.NewManager(log, 30*time.Second)

	store, err := storage.NewStore(ctx, cfg.Store)
	if err != nil {
		log.LogFatal("failed to initialize object store", err)
	}
	log.Info("object store initialized", "provider", store.Provider())

	fc, err := newFleetController(ctx, cfg.Fleet, log)
	if err != nil {
		log.LogFatal("failed to initialize fleet controller", err)
	}

	tel, err := newTelemetry(ctx, cfg.Telemetry, shutdownMgr)
	if err != nil {
		log.LogFatal("failed to initialize telemetry", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mon := monitor.New(store, log)
	policy := scaling.PolicyFromConfig(cfg.Scaling)
	scaler := scaling.New(scaling.Deps{
		Monitor:   mon,
		Fleet:     fc,
		Telemetry: tel,
		Policy:    policy,
		Interval:  cfg.Scaling.Interval,
		Metrics:   scaling.NewMetrics(registry),
		Log:       log,
	})

	server := &http.Server{
		Addr: cfg.Scaling.StatusAddr,
		Handler: httpapi.NewAutoscalerRouter(httpapi.AutoscalerDeps{
			Monitor:  mon,
			History:  scaler.History(),
			Policy:   policy,
			Store:    store,
			Registry: registry,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	shutdownMgr.Register("status-server", func(ctx context.Context) error {
		return server.Shutdown(ctx)
	})
	go func() {
		log.Info("status surface listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("status surface failed", err)
		}
	}()

	scaler.Run(ctx)

	shutdownMgr.Shutdown()
}

func newFleetController(ctx context.Context, cfg config.FleetConfig, log *logger.Logger) (fleet.Controller, error) {
	switch cfg.Provider {
	case "gce":
		svc, err := compute.NewService(ctx)
		if err != nil {
			return nil, err
		}
		return gce.New(svc, cfg.Project, cfg.Zone, cfg.Group), nil
	default:
		return fleet.NewStatic(cfg.StaticSize, log), nil
	}
}

func newTelemetry(ctx context.Context, cfg config.TelemetryConfig, shutdownMgr *shutdown.Manager) (telemetry.Provider, error) {
	switch cfg.Provider {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		shutdownMgr.Register("redis", func(context.Context) error {
			return rdb.Close()
		})
		return telemetry.NewFleetAverage(rdb), nil
	case "nvidia-smi":
		return &telemetry.NvidiaSMI{}, nil
	default:
		return telemetry.Fixed(cfg.FixedValue), nil
	}
}
