package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"renderfleet/internal/adapters/store/memstore"
	"renderfleet/internal/jobs"
	"renderfleet/internal/lease"
	"renderfleet/internal/pkg/logger"
	"renderfleet/internal/telemetry"
	"renderfleet/internal/worker/renderer"
)

func testLogger() *logger.Logger {
	var buf bytes.Buffer
	return logger.New(logger.Config{Level: "error", Format: "json", Output: &buf})
}

// fakeRenderer records invocations and fails on demand.
type fakeRenderer struct {
	mu       sync.Mutex
	renders  map[int]int
	failUnit int // unit that always fails, -1 for none
	block    bool
	onUnit   func(unit int)

	assembleCalls int
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{renders: map[int]int{}, failUnit: -1}
}

func (f *fakeRenderer) RenderUnit(ctx context.Context, config json.RawMessage, unit int) (renderer.Artifact, error) {
	if f.block {
		<-ctx.Done()
		return renderer.Artifact{}, ctx.Err()
	}

	f.mu.Lock()
	f.renders[unit]++
	f.mu.Unlock()

	if unit == f.failUnit {
		return renderer.Artifact{}, fmt.Errorf("ffmpeg exited 1")
	}
	if f.onUnit != nil {
		f.onUnit(unit)
	}
	return renderer.Artifact{
		Name:        fmt.Sprintf("unit-%d", unit),
		ContentType: "video/mp4",
		Data:        []byte(fmt.Sprintf("clip-%d|", unit)),
	}, nil
}

func (f *fakeRenderer) AssembleFinal(ctx context.Context, config json.RawMessage, artifacts []renderer.Artifact) (renderer.Artifact, error) {
	f.mu.Lock()
	f.assembleCalls++
	f.mu.Unlock()

	var data []byte
	for _, a := range artifacts {
		data = append(data, a.Data...)
	}
	return renderer.Artifact{ContentType: "video/mp4", Data: data}, nil
}

func (f *fakeRenderer) count(unit int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renders[unit]
}

func seedJob(t *testing.T, store *memstore.Store, totalUnits int) lease.Candidate {
	t.Helper()
	paths := jobs.Paths{Channel: "trivia", JobID: "job-1"}
	started := time.Now().UTC().Add(-time.Minute)
	rec := jobs.Record{
		JobID:         paths.JobID,
		Channel:       paths.Channel,
		Status:        jobs.StatusRunning,
		OwnerWorkerID: "worker-1",
		StartedAt:     &started,
		Config:        json.RawMessage(fmt.Sprintf(`{"total_units":%d}`, totalUnits)),
	}
	body, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, store.PutObject(context.Background(), paths.Status(), body))
	return lease.Candidate{Paths: paths, Record: rec}
}

func newProcessor(store *memstore.Store, r renderer.Renderer, cfg Config) *Processor {
	return New(Deps{
		Store:    store,
		Renderer: r,
		Config:   cfg,
		Log:      testLogger(),
	})
}

func TestProcessRendersAllUnits(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	r := newFakeRenderer()
	cand := seedJob(t, store, 4)

	p := newProcessor(store, r, Config{MaxParallel: 2, UnitRetries: 3})
	status, errMsg, err := p.Process(ctx, cand)
	require.NoError(t, err)
	require.Empty(t, errMsg)
	require.Equal(t, jobs.StatusCompleted, status)

	for i := 0; i < 4; i++ {
		require.Equal(t, 1, r.count(i), "unit %d rendered exactly once", i)
	}
	require.Equal(t, 1, r.assembleCalls)

	final, err := store.ReadObject(ctx, cand.Paths.Final())
	require.NoError(t, err)
	require.Equal(t, "clip-0|clip-1|clip-2|clip-3|", string(final))

	var cp jobs.Checkpoint
	data, err := store.ReadObject(ctx, cand.Paths.Progress())
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &cp))
	require.True(t, cp.Complete())

	var m jobs.Manifest
	data, err = store.ReadObject(ctx, cand.Paths.Manifest())
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &m))
	require.Equal(t, "job-1", m.JobID)
	require.Equal(t, 4, m.TotalUnits)
	require.NotEmpty(t, m.Elapsed)
}

func TestProcessResumesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	r := newFakeRenderer()
	cand := seedJob(t, store, 5)

	// A previous owner rendered units 0..2 before losing its lease.
	cp := jobs.Checkpoint{CompletedUnits: []int{0, 1, 2}, TotalUnits: 5, UpdatedAt: time.Now().UTC()}
	body, err := json.Marshal(cp)
	require.NoError(t, err)
	require.NoError(t, store.PutObject(ctx, cand.Paths.Progress(), body))
	for i := 0; i < 3; i++ {
		require.NoError(t, store.PutObject(ctx, cand.Paths.Unit(i), []byte(fmt.Sprintf("clip-%d|", i))))
	}

	p := newProcessor(store, r, Config{MaxParallel: 1, UnitRetries: 1})
	status, _, err := p.Process(ctx, cand)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusCompleted, status)

	for i := 0; i < 3; i++ {
		require.Zero(t, r.count(i), "checkpointed unit %d re-rendered", i)
	}
	require.Equal(t, 1, r.count(3))
	require.Equal(t, 1, r.count(4))

	// assembly reads the previous owner's artifacts back from the store
	final, err := store.ReadObject(ctx, cand.Paths.Final())
	require.NoError(t, err)
	require.Equal(t, "clip-0|clip-1|clip-2|clip-3|clip-4|", string(final))
}

func TestProcessRetryExhaustionFailsJob(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	r := newFakeRenderer()
	r.failUnit = 1
	cand := seedJob(t, store, 3)

	p := newProcessor(store, r, Config{MaxParallel: 1, UnitRetries: 3})
	status, errMsg, err := p.Process(ctx, cand)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusFailed, status)
	require.Contains(t, errMsg, "unit 1")
	require.Equal(t, 3, r.count(1), "failing unit retried to exhaustion")

	_, err = store.ReadObject(ctx, cand.Paths.Final())
	require.Error(t, err, "failed job must not produce a final output")
}

func TestProcessCancellationAtUnitBoundary(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	r := newFakeRenderer()
	cand := seedJob(t, store, 3)

	// Flip the record to cancelled as soon as the first unit lands; the
	// boundary check before the next launch must observe it.
	r.onUnit = func(unit int) {
		rec := cand.Record
		rec.Status = jobs.StatusCancelled
		body, err := json.Marshal(rec)
		require.NoError(t, err)
		require.NoError(t, store.PutObject(ctx, cand.Paths.Status(), body))
	}

	p := newProcessor(store, r, Config{MaxParallel: 1, UnitRetries: 1})
	status, _, err := p.Process(ctx, cand)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusCancelled, status)
	require.Zero(t, r.assembleCalls)

	_, err = store.ReadObject(ctx, cand.Paths.Final())
	require.Error(t, err)
}

func TestProcessInterruptedReturnsError(t *testing.T) {
	store := memstore.New()
	r := newFakeRenderer()
	r.block = true
	cand := seedJob(t, store, 2)

	ctx, cancel := context.WithCancel(context.Background())
	p := newProcessor(store, r, Config{MaxParallel: 1, UnitRetries: 1})

	done := make(chan error, 1)
	go func() {
		_, _, err := p.Process(ctx, cand)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		require.Error(t, err, "interruption must be distinguishable from a decided job")
	case <-time.After(time.Second):
		t.Fatal("process did not stop on cancel")
	}
}

func TestProcessMalformedConfigFailsJob(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	r := newFakeRenderer()

	paths := jobs.Paths{Channel: "trivia", JobID: "job-bad"}
	cand := lease.Candidate{
		Paths: paths,
		Record: jobs.Record{
			JobID:   paths.JobID,
			Channel: paths.Channel,
			Status:  jobs.StatusRunning,
			Config:  json.RawMessage(`{"total_units":0}`),
		},
	}

	p := newProcessor(store, r, Config{MaxParallel: 1, UnitRetries: 1})
	status, errMsg, err := p.Process(ctx, cand)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusFailed, status)
	require.Contains(t, errMsg, "total_units")
}

func TestProcessThrottlesOnHighUtilization(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	r := newFakeRenderer()
	cand := seedJob(t, store, 1)

	// Utilization starts hot and cools off after one poll.
	readings := make(chan float64, 2)
	readings <- 95
	readings <- 10
	probe := probeProvider{readings: readings}

	clk := clock.NewMock()
	p := New(Deps{
		Store:     store,
		Renderer:  r,
		Telemetry: probe,
		Config:    Config{MaxParallel: 1, UnitRetries: 1, ThrottleUtilization: 70},
		Log:       testLogger(),
		Clock:     clk,
	})

	done := make(chan jobs.Status, 1)
	go func() {
		status, _, err := p.Process(ctx, cand)
		require.NoError(t, err)
		done <- status
	}()

	// Let the processor block on the throttle timer, then advance past it.
	time.Sleep(10 * time.Millisecond)
	clk.Add(throttlePoll)

	select {
	case status := <-done:
		require.Equal(t, jobs.StatusCompleted, status)
	case <-time.After(time.Second):
		t.Fatal("process did not resume after utilization dropped")
	}
	require.Equal(t, 1, r.count(0))
}

// probeProvider serves scripted utilization readings, then reports idle.
type probeProvider struct {
	readings chan float64
}

func (p probeProvider) Utilization(ctx context.Context) (float64, error) {
	select {
	case v := <-p.readings:
		return v, nil
	default:
		return 0, nil
	}
}

var _ telemetry.Provider = probeProvider{}
