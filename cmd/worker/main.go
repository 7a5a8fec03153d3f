package main

import (
	"context"
	"flag"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"renderfleet/internal/config"
	"renderfleet/internal/httpapi"
	"renderfleet/internal/lease"
	"renderfleet/internal/pkg/logger"
	"renderfleet/internal/pkg/shutdown"
	"renderfleet/internal/storage"
	"renderfleet/internal/telemetry"
	"renderfleet/internal/worker"
	"renderfleet/internal/worker/processor"
	"renderfleet/internal/worker/renderer"
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
		ServiceName: "renderfleet-worker",
	})

	log.Info("starting render worker",
		"worker_id", cfg.Worker.WorkerID,
		"store_provider", cfg.Store.Provider,
		"renewal_interval", cfg.Worker.RenewalInterval.String(),
	)

	ctx, stop := shutdown.Notify(context.Background())
	defer stop()

	shutdownMgr := shutdown.NewManager(log, 60*time.Second)

	store, err := storage.NewStore(ctx, cfg.Store)
	if err != nil {
		log.LogFatal("failed to initialize object store", err)
	}
	log.Info("object store initialized", "provider", store.Provider())

	if cfg.Worker.RendererURL == "" {
		log.LogFatal("renderer_url is required", nil)
	}
	rend := renderer.NewHTTPClient(cfg.Worker.RendererURL, cfg.Worker.UnitTimeout)

	local := &telemetry.NvidiaSMI{}

	// Publish local GPU samples for the autoscaler's fleet average.
	if cfg.Telemetry.Provider == "redis" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Telemetry.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.LogFatal("failed to ping Redis", err)
		}
		shutdownMgr.Register("redis", func(context.Context) error {
			return rdb.Close()
		})
		reporter := telemetry.NewReporter(rdb, cfg.Worker.WorkerID, local, cfg.Telemetry.ReportInterval, log)
		go reporter.Run(ctx)
		log.Info("telemetry reporter started", "interval", cfg.Telemetry.ReportInterval.String())
	}

	mgr := lease.NewManager(store, cfg.Worker.RenewalInterval, log)
	keeper := lease.NewKeeper(mgr, cfg.Worker.WorkerID, cfg.Worker.RenewalInterval, log)

	proc := processor.New(processor.Deps{
		Store:     store,
		Renderer:  rend,
		Telemetry: local,
		Config: processor.Config{
			MaxParallel:         cfg.Worker.MaxParallelRenders,
			UnitRetries:         cfg.Worker.UnitRetries,
			UnitTimeout:         cfg.Worker.UnitTimeout,
			ThrottleUtilization: cfg.Worker.ThrottleUtilization,
		},
		Log: log,
	})

	w := worker.New(worker.Deps{
		Manager:      mgr,
		Keeper:       keeper,
		Processor:    proc,
		WorkerID:     cfg.Worker.WorkerID,
		ClaimBackoff: cfg.Worker.ClaimBackoff,
		Log:          log,
	})

	server := &http.Server{
		Addr: cfg.Worker.StatusAddr,
		Handler: httpapi.NewWorkerRouter(httpapi.WorkerDeps{
			WorkerID:  cfg.Worker.WorkerID,
			Keeper:    keeper,
			Store:     store,
			Telemetry: local,
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

	// Blocks until the signal context is canceled; the in-flight job is
	// released back to pending before this returns.
	w.Run(ctx)

	shutdownMgr.Shutdown()
}
