// Package httpapi builds the status surfaces of the renderfleet
// binaries. Both surfaces are read-only views for operators; nothing
// here participates in coordination.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"renderfleet/internal/httpkit"
	"renderfleet/internal/lease"
	"renderfleet/internal/ports"
	"renderfleet/internal/telemetry"
)

// WorkerDeps are the worker status surface's collaborators.
type WorkerDeps struct {
	WorkerID string
	Keeper   *lease.Keeper
	Store    ports.ObjectStore
	// Telemetry is the local GPU sampler; nil omits utilization.
	Telemetry telemetry.Provider
}

// NewWorkerRouter builds the worker's status surface.
func NewWorkerRouter(d WorkerDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpkit.WriteJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"service": "renderfleet-worker",
		})
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		body := map[string]any{
			"worker_id":      d.WorkerID,
			"current_job_id": d.Keeper.Holding(),
			"store_provider": d.Store.Provider(),
		}
		if d.Telemetry != nil {
			if util, err := d.Telemetry.Utilization(req.Context()); err == nil {
				body["gpu_utilization"] = util
			}
		}
		httpkit.WriteJSON(w, http.StatusOK, body)
	})

	return r
}
