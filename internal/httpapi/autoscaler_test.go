package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"renderfleet/internal/adapters/store/memstore"
	"renderfleet/internal/jobs"
	"renderfleet/internal/monitor"
	"renderfleet/internal/pkg/logger"
	"renderfleet/internal/scaling"
)

func newTestRouter(t *testing.T, store *memstore.Store) http.Handler {
	t.Helper()
	var buf bytes.Buffer
	log := logger.New(logger.Config{Level: "error", Format: "json", Output: &buf})

	history := scaling.NewHistory(10)
	history.Append(scaling.Snapshot{CurrentInstances: 3, DesiredInstances: 5})

	return NewAutoscalerRouter(AutoscalerDeps{
		Monitor: monitor.New(store, log),
		History: history,
		Store:   store,
	})
}

func seedRecord(t *testing.T, store *memstore.Store, jobID string, status jobs.Status) jobs.Paths {
	t.Helper()
	paths := jobs.Paths{Channel: "trivia", JobID: jobID}
	body, err := json.Marshal(jobs.Record{JobID: jobID, Channel: paths.Channel, Status: status})
	require.NoError(t, err)
	require.NoError(t, store.PutObject(context.Background(), paths.Status(), body))
	return paths
}

func TestJobCountsEndpoint(t *testing.T) {
	store := memstore.New()
	seedRecord(t, store, "a", jobs.StatusPending)
	seedRecord(t, store, "b", jobs.StatusPending)
	seedRecord(t, store, "c", jobs.StatusRunning)

	rec := httptest.NewRecorder()
	newTestRouter(t, store).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var counts monitor.Counts
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &counts))
	require.Equal(t, 2, counts.Pending)
	require.Equal(t, 1, counts.Running)
}

func TestJobDetailEndpoint(t *testing.T) {
	store := memstore.New()
	paths := seedRecord(t, store, "job-1", jobs.StatusRunning)

	cp := jobs.Checkpoint{CompletedUnits: []int{0, 1}, TotalUnits: 4}
	body, err := json.Marshal(cp)
	require.NoError(t, err)
	require.NoError(t, store.PutObject(context.Background(), paths.Progress(), body))

	rec := httptest.NewRecorder()
	newTestRouter(t, store).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/trivia/job-1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Record   jobs.Record     `json:"record"`
		Progress jobs.Checkpoint `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, jobs.StatusRunning, got.Record.Status)
	require.Equal(t, []int{0, 1}, got.Progress.CompletedUnits)
}

func TestJobDetailNotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(t, memstore.New()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/trivia/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusEndpointReportsHistory(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(t, memstore.New()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Latest  scaling.Snapshot   `json:"latest"`
		History []scaling.Snapshot `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 5, got.Latest.DesiredInstances)
	require.Len(t, got.History, 1)
}
