package jobs

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
	}
	for _, tt := range tests {
		require.Equal(t, tt.terminal, tt.status.Terminal(), "status %s", tt.status)
	}
}

func TestLeaseExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	lease := Lease{WorkerID: "w1", ExpiresAt: now.Add(time.Minute)}

	require.False(t, lease.Expired(now))
	require.True(t, lease.Expired(now.Add(2*time.Minute)))
}

func TestCheckpointRemaining(t *testing.T) {
	cp := Checkpoint{CompletedUnits: []int{0, 1, 2}, TotalUnits: 5}
	require.Equal(t, []int{3, 4}, cp.Remaining())

	empty := Checkpoint{TotalUnits: 3}
	require.Equal(t, []int{0, 1, 2}, empty.Remaining())

	full := Checkpoint{CompletedUnits: []int{0, 1}, TotalUnits: 2}
	require.Empty(t, full.Remaining())
	require.True(t, full.Complete())
}

func TestCheckpointMarkDone(t *testing.T) {
	now := time.Now().UTC()
	cp := Checkpoint{CompletedUnits: []int{2, 0}, TotalUnits: 4}

	cp = cp.MarkDone(3, now)
	require.Equal(t, []int{0, 2, 3}, cp.CompletedUnits)
	require.Equal(t, now, cp.UpdatedAt)

	// marking twice does not duplicate
	cp = cp.MarkDone(3, now)
	require.Equal(t, []int{0, 2, 3}, cp.CompletedUnits)
}

func TestTotalUnits(t *testing.T) {
	n, err := TotalUnits(json.RawMessage(`{"total_units": 12, "theme": "geography"}`))
	require.NoError(t, err)
	require.Equal(t, 12, n)

	_, err = TotalUnits(json.RawMessage(`{"total_units": 0}`))
	require.Error(t, err)

	_, err = TotalUnits(json.RawMessage(`{not json`))
	require.Error(t, err)
}

func TestPaths(t *testing.T) {
	p := Paths{Channel: "trivia", JobID: "job-7"}

	require.Equal(t, "jobs/trivia/job-7/status.json", p.Status())
	require.Equal(t, "jobs/trivia/job-7/lease.lock", p.Lease())
	require.Equal(t, "jobs/trivia/job-7/progress.json", p.Progress())
	require.Equal(t, "jobs/trivia/job-7/clips/clip_003.mp4", p.Unit(3))
	require.Equal(t, "final_videos/trivia/job-7.mp4", p.Final())
}

func TestPathsFromStatusKey(t *testing.T) {
	p, ok := PathsFromStatusKey("jobs/trivia/job-7/status.json")
	require.True(t, ok)
	require.Equal(t, Paths{Channel: "trivia", JobID: "job-7"}, p)

	for _, key := range []string{
		"jobs/trivia/job-7/lease.lock",
		"jobs/trivia/status.json",
		"other/trivia/job-7/status.json",
		"jobs//job-7/status.json",
	} {
		_, ok := PathsFromStatusKey(key)
		require.False(t, ok, "key %s", key)
	}
}
