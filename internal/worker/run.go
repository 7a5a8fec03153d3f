// Package worker runs the claim-process-release loop of one render
// worker. At most one job is processed at a time; the lease keeper
// renews in the background and cancels the job context on lease loss.
package worker

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"renderfleet/internal/jobs"
	"renderfleet/internal/lease"
	"renderfleet/internal/pkg/logger"
	"renderfleet/internal/worker/processor"
)

// releaseTimeout bounds the final record write during shutdown, after
// the worker's own context is already gone.
const releaseTimeout = 30 * time.Second

// Deps are the worker's collaborators.
type Deps struct {
	Manager   *lease.Manager
	Keeper    *lease.Keeper
	Processor *processor.Processor
	WorkerID  string
	// ClaimBackoff is the idle sleep when a scan yields nothing claimable.
	ClaimBackoff time.Duration
	Log          *logger.Logger
	// Clock is swapped for a mock in tests; nil means wall clock.
	Clock clock.Clock
}

// Worker claims pending jobs one at a time and renders them.
type Worker struct {
	mgr     *lease.Manager
	keeper  *lease.Keeper
	proc    *processor.Processor
	id      string
	backoff time.Duration
	clk     clock.Clock
	log     *logger.Logger
}

func New(d Deps) *Worker {
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Log == nil {
		d.Log = logger.NewDefault()
	}
	if d.ClaimBackoff <= 0 {
		d.ClaimBackoff = 10 * time.Second
	}
	return &Worker{
		mgr:     d.Manager,
		keeper:  d.Keeper,
		proc:    d.Processor,
		id:      d.WorkerID,
		backoff: d.ClaimBackoff,
		clk:     d.Clock,
		log:     d.Log.WithComponent("worker").WithWorkerID(d.WorkerID),
	}
}

// Run scans, claims and processes jobs until ctx is canceled. The
// keeper runs alongside for the whole lifetime.
func (w *Worker) Run(ctx context.Context) {
	go w.keeper.Run(ctx)

	w.log.Info("worker started")
	for ctx.Err() == nil {
		if !w.claimAndProcessOne(ctx) {
			w.sleep(ctx, w.backoff)
		}
	}
	w.log.Info("worker stopped")
}

// claimAndProcessOne runs one scan pass. It returns true when a job was
// claimed, so the caller rescans immediately instead of backing off.
func (w *Worker) claimAndProcessOne(ctx context.Context) bool {
	cands, err := w.mgr.ScanPending(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Warn("scan failed", "error", err.Error())
		}
		return false
	}

	for _, cand := range cands {
		if ctx.Err() != nil {
			return false
		}
		if !w.mgr.TryClaim(ctx, cand, w.id) {
			continue
		}
		w.runJob(ctx, cand)
		return true
	}
	return false
}

// runJob processes one claimed job under lease renewal and releases it.
func (w *Worker) runJob(ctx context.Context, cand lease.Candidate) {
	log := w.log.WithJobID(cand.Paths.JobID)

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.keeper.Hold(cand.Paths, cancel)
	defer w.keeper.Drop()

	// The claim rewrote the record; pick up the owner and start time so
	// the processor stamps them into the manifest.
	now := w.clk.Now().UTC()
	cand.Record.Status = jobs.StatusRunning
	cand.Record.OwnerWorkerID = w.id
	cand.Record.StartedAt = &now

	final, errMsg, err := w.proc.Process(jobCtx, cand)
	if err == nil {
		if rerr := w.mgr.Release(ctx, cand.Paths, w.id, final, errMsg); rerr != nil {
			log.Error("release failed", "final_status", string(final), "error", rerr.Error())
		}
		return
	}

	if ctx.Err() != nil {
		// Shutdown while still owning the lease: hand the job back so
		// another worker resumes it from the checkpoint.
		relCtx, relCancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer relCancel()
		if rerr := w.mgr.Release(relCtx, cand.Paths, w.id, jobs.StatusPending, ""); rerr != nil {
			log.Error("shutdown release failed, lease will expire on its own", "error", rerr.Error())
		}
		return
	}

	// Lease lost: ownership already moved on. Deleting the lease now
	// could destroy the new owner's claim, so leave everything alone.
	log.Warn("job interrupted by lease loss, leaving records to the new owner")
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	t := w.clk.Timer(d)
	select {
	case <-ctx.Done():
		t.Stop()
	case <-t.C:
	}
}
