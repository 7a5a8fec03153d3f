package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"renderfleet/internal/adapters/store/memstore"
	"renderfleet/internal/jobs"
	"renderfleet/internal/pkg/logger"
)

func testLogger() *logger.Logger {
	var buf bytes.Buffer
	return logger.New(logger.Config{Level: "error", Format: "json", Output: &buf})
}

func putRecord(t *testing.T, store *memstore.Store, channel, id string, status jobs.Status) {
	t.Helper()
	p := jobs.Paths{Channel: channel, JobID: id}
	body, err := json.Marshal(jobs.Record{JobID: id, Channel: channel, Status: status})
	require.NoError(t, err)
	require.NoError(t, store.PutObject(context.Background(), p.Status(), body))
}

func TestJobCounts(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	mon := New(store, testLogger())

	putRecord(t, store, "trivia", "j1", jobs.StatusPending)
	putRecord(t, store, "trivia", "j2", jobs.StatusPending)
	putRecord(t, store, "music", "j3", jobs.StatusRunning)
	putRecord(t, store, "music", "j4", jobs.StatusCompleted)
	putRecord(t, store, "music", "j5", jobs.StatusFailed)
	putRecord(t, store, "music", "j6", jobs.StatusCancelled)

	counts, err := mon.JobCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, Counts{Pending: 2, Running: 1, Completed: 1, Failed: 1, Cancelled: 1}, counts)
	require.Equal(t, 6, counts.Total())
}

func TestJobCountsSkipsMalformed(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	mon := New(store, testLogger())

	putRecord(t, store, "trivia", "good", jobs.StatusPending)
	bad := jobs.Paths{Channel: "trivia", JobID: "bad"}
	require.NoError(t, store.PutObject(ctx, bad.Status(), []byte("%%%")))
	// non-status objects under the prefix are ignored entirely
	require.NoError(t, store.PutObject(ctx, bad.Lease(), []byte("{}")))

	counts, err := mon.JobCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts.Pending)
	require.Equal(t, 1, counts.Total())
}

func TestQueueDepth(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	mon := New(store, testLogger())

	depth, err := mon.QueueDepth(ctx)
	require.NoError(t, err)
	require.Zero(t, depth)

	putRecord(t, store, "trivia", "j1", jobs.StatusPending)
	putRecord(t, store, "trivia", "j2", jobs.StatusRunning)

	depth, err = mon.QueueDepth(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, depth)
}
