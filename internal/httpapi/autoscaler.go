package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"renderfleet/internal/httpkit"
	"renderfleet/internal/jobs"
	"renderfleet/internal/monitor"
	"renderfleet/internal/pkg/errors"
	"renderfleet/internal/ports"
	"renderfleet/internal/scaling"
)

// AutoscalerDeps are the autoscaler status surface's collaborators.
type AutoscalerDeps struct {
	Monitor  *monitor.Monitor
	History  *scaling.History
	Policy   scaling.Policy
	Store    ports.ObjectStore
	Registry *prometheus.Registry
}

// NewAutoscalerRouter builds the autoscaler's status surface.
func NewAutoscalerRouter(d AutoscalerDeps) http.Handler {
	r := chi.NewRouter()
	h := &autoscalerHandler{deps: d}

	r.Get("/healthz", h.health)
	r.Get("/status", h.status)
	r.Get("/jobs", h.jobCounts)
	r.Get("/jobs/{channel}/{jobID}", h.jobDetail)

	if d.Registry != nil {
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))
	}

	return r
}

type autoscalerHandler struct {
	deps AutoscalerDeps
}

func (h *autoscalerHandler) health(w http.ResponseWriter, _ *http.Request) {
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "renderfleet-autoscaler",
	})
}

// status reports the latest scaling snapshot and a bounded slice of
// history. ?n= caps the history length, default 20.
func (h *autoscalerHandler) status(w http.ResponseWriter, r *http.Request) {
	n := 20
	if raw := r.URL.Query().Get("n"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			n = v
		}
	}

	body := map[string]any{
		"store_provider": h.deps.Store.Provider(),
		"min_instances":  h.deps.Policy.MinInstances,
		"max_instances":  h.deps.Policy.MaxInstances,
		"history":        h.deps.History.Recent(n),
	}
	if latest, ok := h.deps.History.Latest(); ok {
		body["latest"] = latest
	}
	httpkit.WriteJSON(w, http.StatusOK, body)
}

func (h *autoscalerHandler) jobCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.deps.Monitor.JobCounts(r.Context())
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, counts)
}

// jobDetail returns one job's record and checkpoint for debugging a
// stuck or resumed render.
func (h *autoscalerHandler) jobDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	paths := jobs.Paths{
		Channel: chi.URLParam(r, "channel"),
		JobID:   chi.URLParam(r, "jobID"),
	}

	data, err := h.deps.Store.ReadObject(ctx, paths.Status())
	if err != nil {
		if ports.IsNotFound(err) {
			httpkit.WriteError(w, errors.NotFound("job", paths.JobID))
			return
		}
		httpkit.WriteError(w, errors.TransientStore(err, "httpapi.job_detail"))
		return
	}

	var rec jobs.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		httpkit.WriteError(w, errors.MalformedRecord(err, paths.Status()))
		return
	}

	body := map[string]any{"record": rec}
	if data, err := h.deps.Store.ReadObject(ctx, paths.Progress()); err == nil {
		var cp jobs.Checkpoint
		if json.Unmarshal(data, &cp) == nil {
			body["progress"] = cp
		}
	}
	httpkit.WriteJSON(w, http.StatusOK, body)
}
