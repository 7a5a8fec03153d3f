// Package monitor derives queue statistics from job records in the
// object store. The view is point-in-time and eventually consistent;
// it feeds scaling decisions only, never mutual exclusion.
package monitor

import (
	"context"
	"encoding/json"

	"renderfleet/internal/jobs"
	"renderfleet/internal/pkg/errors"
	"renderfleet/internal/pkg/logger"
	"renderfleet/internal/ports"
)

// Counts is the number of jobs per status.
type Counts struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Total sums all counted jobs.
func (c Counts) Total() int {
	return c.Pending + c.Running + c.Completed + c.Failed + c.Cancelled
}

// Monitor scans the job namespace. Scan cost grows with job count.
type Monitor struct {
	store ports.ObjectStore
	log   *logger.Logger
}

func New(store ports.ObjectStore, log *logger.Logger) *Monitor {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Monitor{store: store, log: log.WithComponent("monitor")}
}

// JobCounts classifies every job record by status. Malformed or
// unreadable records are skipped and logged.
func (m *Monitor) JobCounts(ctx context.Context) (Counts, error) {
	keys, err := m.store.ListObjects(ctx, jobs.ScanPrefix())
	if err != nil {
		return Counts{}, errors.TransientStore(err, "monitor.scan")
	}

	var counts Counts
	for _, key := range keys {
		if !jobs.IsStatusKey(key) {
			continue
		}

		data, err := m.store.ReadObject(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return Counts{}, ctx.Err()
			}
			m.log.Warn("skipping unreadable job record", "key", key, "error", err.Error())
			continue
		}

		var rec jobs.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			m.log.Warn("skipping malformed job record", "key", key)
			continue
		}

		switch rec.Status {
		case jobs.StatusPending:
			counts.Pending++
		case jobs.StatusRunning:
			counts.Running++
		case jobs.StatusCompleted:
			counts.Completed++
		case jobs.StatusFailed:
			counts.Failed++
		case jobs.StatusCancelled:
			counts.Cancelled++
		default:
			m.log.Warn("skipping record with unknown status", "key", key, "status", string(rec.Status))
		}
	}
	return counts, nil
}

// QueueDepth is the number of pending jobs.
func (m *Monitor) QueueDepth(ctx context.Context) (int, error) {
	counts, err := m.JobCounts(ctx)
	if err != nil {
		return 0, err
	}
	return counts.Pending, nil
}
