package lease

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"renderfleet/internal/jobs"
	"renderfleet/internal/pkg/logger"
)

// held is the keeper's view of the job currently being worked on.
type held struct {
	paths jobs.Paths
	// cancel aborts the job's render context when the lease is lost.
	cancel context.CancelFunc
}

// Keeper renews the currently held lease on a fixed cadence,
// independent of the render loop. A stuck render invocation never
// blocks renewal. When a renewal fails the keeper cancels the job's
// context so the render loop stops starting units within one interval.
//
// The held job is shared through an atomic pointer rather than a lock:
// a stale read costs at most one harmless extra renewal attempt.
type Keeper struct {
	mgr      *Manager
	workerID string
	interval time.Duration
	clk      clock.Clock
	log      *logger.Logger

	cur atomic.Pointer[held]
}

// NewKeeper builds a keeper renewing at the manager's renewal cadence.
func NewKeeper(mgr *Manager, workerID string, renewalInterval time.Duration, log *logger.Logger) *Keeper {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Keeper{
		mgr:      mgr,
		workerID: workerID,
		interval: renewalInterval,
		clk:      mgr.clk,
		log:      log.WithComponent("lease-keeper").WithWorkerID(workerID),
	}
}

// Hold registers the job whose lease must be kept alive. cancel is
// invoked if renewal ever fails.
func (k *Keeper) Hold(paths jobs.Paths, cancel context.CancelFunc) {
	k.cur.Store(&held{paths: paths, cancel: cancel})
}

// Drop clears the held job. Called after release, before the next claim.
func (k *Keeper) Drop() {
	k.cur.Store(nil)
}

// Holding returns the job id currently under renewal, or "".
func (k *Keeper) Holding() string {
	if h := k.cur.Load(); h != nil {
		return h.paths.JobID
	}
	return ""
}

// Run renews until ctx is canceled. It never returns an error: lease
// loss is delivered to the render loop through the job context.
func (k *Keeper) Run(ctx context.Context) {
	ticker := k.clk.Ticker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		h := k.cur.Load()
		if h == nil {
			continue
		}

		if err := k.mgr.Renew(ctx, h.paths, k.workerID); err != nil {
			if ctx.Err() != nil {
				return
			}
			// Fail closed: assume ownership is gone and stop the job.
			k.log.Error("lease renewal failed, abandoning job",
				"job_id", h.paths.JobID,
				"error", err.Error(),
			)
			h.cancel()
			k.cur.CompareAndSwap(h, nil)
			continue
		}
		k.log.Debug("lease renewed", "job_id", h.paths.JobID)
	}
}
