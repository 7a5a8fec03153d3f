// Package processor renders one claimed job to completion, resuming
// from the durable checkpoint and uploading every artifact before the
// checkpoint that covers it.
package processor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"renderfleet/internal/jobs"
	"renderfleet/internal/lease"
	"renderfleet/internal/pkg/errors"
	"renderfleet/internal/pkg/logger"
	"renderfleet/internal/ports"
	"renderfleet/internal/telemetry"
	"renderfleet/internal/worker/renderer"
)

// throttlePoll is how often a throttled processor re-reads utilization.
const throttlePoll = 5 * time.Second

// Config bounds one processor's render behavior.
type Config struct {
	// MaxParallel bounds concurrent unit renders.
	MaxParallel int
	// UnitRetries is render attempts per unit before the job fails.
	UnitRetries int
	// UnitTimeout bounds a single render invocation. Zero disables it.
	UnitTimeout time.Duration
	// ThrottleUtilization pauses new unit launches while local GPU
	// utilization is at or above this percentage. Zero disables it.
	ThrottleUtilization float64
}

// Deps are the processor's collaborators.
type Deps struct {
	Store    ports.ObjectStore
	Renderer renderer.Renderer
	// Telemetry gates unit launches; nil disables throttling.
	Telemetry telemetry.Provider
	Config    Config
	Log       *logger.Logger
	// Clock is swapped for a mock in tests; nil means wall clock.
	Clock clock.Clock
}

// Processor renders claimed jobs. It is stateless between jobs and
// safe to reuse across the worker's lifetime.
type Processor struct {
	store     ports.ObjectStore
	renderer  renderer.Renderer
	telemetry telemetry.Provider
	cfg       Config
	clk       clock.Clock
	log       *logger.Logger
}

func New(d Deps) *Processor {
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Log == nil {
		d.Log = logger.NewDefault()
	}
	if d.Config.MaxParallel <= 0 {
		d.Config.MaxParallel = 1
	}
	if d.Config.UnitRetries <= 0 {
		d.Config.UnitRetries = 1
	}
	return &Processor{
		store:     d.Store,
		renderer:  d.Renderer,
		telemetry: d.Telemetry,
		cfg:       d.Config,
		clk:       d.Clock,
		log:       d.Log.WithComponent("processor"),
	}
}

// Process renders the job to a final status.
//
// A nil error means the job reached a decision: the returned status is
// completed, failed or cancelled, with errMsg set for failures. A
// non-nil error means the job was interrupted before a decision,
// either by shutdown or by lease loss canceling ctx; the caller owns
// what happens to the job record in that case.
func (p *Processor) Process(ctx context.Context, cand lease.Candidate) (jobs.Status, string, error) {
	log := p.log.WithJobID(cand.Paths.JobID)
	io := NewJobIO(p.store, cand.Paths)

	total, err := jobs.TotalUnits(cand.Record.Config)
	if err != nil {
		log.Error("job config unusable", "error", err.Error())
		return jobs.StatusFailed, err.Error(), nil
	}

	cp, err := io.ReadProgress(ctx)
	if err != nil {
		return "", "", errors.TransientStore(err, "processor.progress")
	}
	if cp.TotalUnits != total {
		// First run, or the config changed underneath a stale
		// checkpoint. Either way the old unit set is meaningless.
		cp = jobs.Checkpoint{TotalUnits: total}
	}

	remaining := cp.Remaining()
	log.Info("processing job",
		"channel", cand.Paths.Channel,
		"total_units", total,
		"remaining_units", len(remaining),
	)

	if len(remaining) > 0 {
		var cancelled bool
		cp, cancelled, err = p.renderUnits(ctx, io, cand, cp, remaining, log)
		if err != nil {
			if ctx.Err() != nil {
				return "", "", ctx.Err()
			}
			return jobs.StatusFailed, err.Error(), nil
		}
		if cancelled {
			return jobs.StatusCancelled, "", nil
		}
	}

	if cancelled, err := p.isCancelled(ctx, io); err != nil {
		return "", "", err
	} else if cancelled {
		return jobs.StatusCancelled, "", nil
	}

	if err := p.assemble(ctx, io, cand, cp, log); err != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		return jobs.StatusFailed, err.Error(), nil
	}

	return jobs.StatusCompleted, "", nil
}

// renderUnits renders every unit in remaining through a bounded pool.
// The checkpoint only ever advances after the covered artifact is
// durably stored. Cancellation is honored at unit boundaries: a cancel
// request stops new launches but lets in-flight units drain.
func (p *Processor) renderUnits(
	ctx context.Context,
	io JobIO,
	cand lease.Candidate,
	cp jobs.Checkpoint,
	remaining []int,
	log *logger.Logger,
) (jobs.Checkpoint, bool, error) {
	var mu sync.Mutex // guards cp

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxParallel)

	var cancelRequested bool
	for _, unit := range remaining {
		if gctx.Err() != nil {
			break
		}
		if cancelled, err := p.isCancelled(gctx, io); err != nil {
			break
		} else if cancelled {
			cancelRequested = true
			break
		}
		if err := p.waitForCapacity(gctx, log); err != nil {
			break
		}

		unit := unit
		g.Go(func() error {
			artifact, err := p.renderUnit(gctx, cand.Record.Config, unit, log)
			if err != nil {
				return err
			}
			if err := io.UploadUnit(gctx, unit, artifact); err != nil {
				return errors.TransientStore(err, "processor.upload_unit")
			}

			mu.Lock()
			defer mu.Unlock()
			cp = cp.MarkDone(unit, p.clk.Now().UTC())
			if err := io.WriteProgress(gctx, cp); err != nil {
				return errors.TransientStore(err, "processor.checkpoint")
			}
			log.Info("unit complete", "unit", unit, "done", len(cp.CompletedUnits), "total", cp.TotalUnits)
			return nil
		})
	}

	// g.Wait's error is always the first real failure; later goroutines
	// only see the group cancellation it caused.
	if err := g.Wait(); err != nil {
		return cp, false, err
	}
	if cancelRequested {
		return cp, true, nil
	}
	return cp, false, ctx.Err()
}

// renderUnit runs one render invocation with per-unit retries.
func (p *Processor) renderUnit(ctx context.Context, config json.RawMessage, unit int, log *logger.Logger) (renderer.Artifact, error) {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.UnitRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return renderer.Artifact{}, err
		}

		artifact, err := p.renderOnce(ctx, config, unit)
		if err == nil {
			return artifact, nil
		}
		if ctx.Err() != nil {
			return renderer.Artifact{}, ctx.Err()
		}
		lastErr = err
		log.Warn("unit render attempt failed",
			"unit", unit,
			"attempt", attempt,
			"error", err.Error(),
		)
	}
	return renderer.Artifact{}, errors.RenderUnit(lastErr, unit)
}

func (p *Processor) renderOnce(ctx context.Context, config json.RawMessage, unit int) (renderer.Artifact, error) {
	if p.cfg.UnitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.UnitTimeout)
		defer cancel()
	}
	return p.renderer.RenderUnit(ctx, config, unit)
}

// waitForCapacity blocks until local GPU utilization drops below the
// throttle threshold. Telemetry failures never block rendering.
func (p *Processor) waitForCapacity(ctx context.Context, log *logger.Logger) error {
	if p.telemetry == nil || p.cfg.ThrottleUtilization <= 0 {
		return nil
	}
	for {
		util, err := p.telemetry.Utilization(ctx)
		if err != nil || util < p.cfg.ThrottleUtilization {
			return ctx.Err()
		}
		log.Debug("throttling unit launch", "gpu_utilization", util)

		t := p.clk.Timer(throttlePoll)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// assemble reads every unit artifact back from the store, which covers
// units rendered by previous owners of a resumed job, builds the final
// output, and records the manifest.
func (p *Processor) assemble(ctx context.Context, io JobIO, cand lease.Candidate, cp jobs.Checkpoint, log *logger.Logger) error {
	artifacts := make([]renderer.Artifact, 0, cp.TotalUnits)
	for i := 0; i < cp.TotalUnits; i++ {
		a, err := io.ReadUnit(ctx, i)
		if err != nil {
			return errors.TransientStore(err, "processor.read_unit")
		}
		artifacts = append(artifacts, a)
	}

	final, err := p.renderer.AssembleFinal(ctx, cand.Record.Config, artifacts)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.WrapWithCode(err, errors.CodeRenderUnit, "processor.assemble", "final assembly failed")
	}
	if err := io.UploadFinal(ctx, final); err != nil {
		return errors.TransientStore(err, "processor.upload_final")
	}

	now := p.clk.Now().UTC()
	m := jobs.Manifest{
		JobID:       cand.Paths.JobID,
		Channel:     cand.Paths.Channel,
		WorkerID:    cand.Record.OwnerWorkerID,
		TotalUnits:  cp.TotalUnits,
		CompletedAt: now,
		FinalPath:   cand.Paths.Final(),
	}
	if cand.Record.StartedAt != nil {
		m.Elapsed = now.Sub(*cand.Record.StartedAt).Round(time.Second).String()
	}
	if err := io.WriteManifest(ctx, m); err != nil {
		// The final output is already durable; a missing manifest is
		// only an auditing gap.
		log.Warn("manifest write failed", "error", err.Error())
	}

	log.Info("job assembled", "final_path", cand.Paths.Final())
	return nil
}

// isCancelled re-reads the job record to honor external cancellation.
func (p *Processor) isCancelled(ctx context.Context, io JobIO) (bool, error) {
	rec, err := io.ReadStatus(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		// An unreadable record is not a cancel signal.
		return false, nil
	}
	return rec.Status == jobs.StatusCancelled, nil
}
