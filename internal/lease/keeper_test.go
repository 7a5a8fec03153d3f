package lease

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"renderfleet/internal/adapters/store/memstore"
	"renderfleet/internal/jobs"
)

func TestKeeperRenewsHeldLease(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memstore.New()
	clk := clock.NewMock()
	mgr := newManager(store, time.Minute, testLogger(), clk)
	keeper := NewKeeper(mgr, "worker-1", time.Minute, testLogger())

	paths := submitJob(t, store, "trivia", "job-1")
	cand := Candidate{Paths: paths, Record: jobs.Record{JobID: "job-1", Channel: "trivia", Status: jobs.StatusPending}}
	require.True(t, mgr.TryClaim(ctx, cand, "worker-1"))

	jobCtx, jobCancel := context.WithCancel(ctx)
	defer jobCancel()
	keeper.Hold(paths, jobCancel)
	require.Equal(t, "job-1", keeper.Holding())

	go keeper.Run(ctx)
	time.Sleep(10 * time.Millisecond) // let Run reach the ticker

	clk.Add(time.Minute)

	// renewal succeeded, job context stays live
	require.Never(t, func() bool {
		return jobCtx.Err() != nil
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestKeeperCancelsJobOnLostLease(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memstore.New()
	clk := clock.NewMock()
	mgr := newManager(store, time.Minute, testLogger(), clk)
	keeper := NewKeeper(mgr, "worker-1", time.Minute, testLogger())

	paths := submitJob(t, store, "trivia", "job-1")
	cand := Candidate{Paths: paths, Record: jobs.Record{JobID: "job-1", Channel: "trivia", Status: jobs.StatusPending}}
	require.True(t, mgr.TryClaim(ctx, cand, "worker-1"))

	jobCtx, jobCancel := context.WithCancel(ctx)
	defer jobCancel()
	keeper.Hold(paths, jobCancel)

	go keeper.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	// another worker steals the lease out from under us
	require.NoError(t, store.DeleteObject(ctx, paths.Lease()))

	clk.Add(time.Minute)

	require.Eventually(t, func() bool {
		return jobCtx.Err() != nil
	}, time.Second, 10*time.Millisecond, "keeper must cancel the job context on lost lease")
	require.Eventually(t, func() bool {
		return keeper.Holding() == ""
	}, time.Second, 10*time.Millisecond)
}

func TestKeeperIdleWithoutJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	store := memstore.New()
	clk := clock.NewMock()
	mgr := newManager(store, time.Minute, testLogger(), clk)
	keeper := NewKeeper(mgr, "worker-1", time.Minute, testLogger())

	done := make(chan struct{})
	go func() {
		keeper.Run(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	clk.Add(5 * time.Minute)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("keeper did not stop on context cancel")
	}
}
