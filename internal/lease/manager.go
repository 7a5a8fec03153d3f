// Package lease implements job claiming against the object store.
//
// Exclusivity comes from exactly one primitive: the store's atomic
// create-if-absent on the lease.lock object. Everything else the
// package writes (the job record, timestamps) is advisory.
package lease

import (
	"context"
	"encoding/json"
	"time"

	"github.com/benbjohnson/clock"

	"renderfleet/internal/jobs"
	"renderfleet/internal/pkg/errors"
	"renderfleet/internal/pkg/logger"
	"renderfleet/internal/ports"
)

// Candidate is one pending job found by a scan.
type Candidate struct {
	Paths  jobs.Paths
	Record jobs.Record
}

// Manager claims, renews and releases job leases for one worker.
type Manager struct {
	store ports.ObjectStore
	clk   clock.Clock
	// ttl is 2x the renewal interval; the extra interval absorbs
	// clock skew and one missed renewal.
	ttl time.Duration
	log *logger.Logger
}

// NewManager builds a lease manager. The lease TTL is twice the
// renewal interval.
func NewManager(store ports.ObjectStore, renewalInterval time.Duration, log *logger.Logger) *Manager {
	return newManager(store, renewalInterval, log, clock.New())
}

func newManager(store ports.ObjectStore, renewalInterval time.Duration, log *logger.Logger, clk clock.Clock) *Manager {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Manager{
		store: store,
		clk:   clk,
		ttl:   2 * renewalInterval,
		log:   log.WithComponent("lease"),
	}
}

// ScanPending lists every pending job record in the namespace. Order
// is whatever the store returns; the same job may appear in
// consecutive scans until somebody claims it. Malformed records are
// skipped and logged, never fatal.
func (m *Manager) ScanPending(ctx context.Context) ([]Candidate, error) {
	keys, err := m.store.ListObjects(ctx, jobs.ScanPrefix())
	if err != nil {
		return nil, errors.TransientStore(err, "lease.scan")
	}

	var out []Candidate
	for _, key := range keys {
		if !jobs.IsStatusKey(key) {
			continue
		}
		paths, ok := jobs.PathsFromStatusKey(key)
		if !ok {
			m.log.Warn("skipping unparseable status key", "key", key)
			continue
		}

		data, err := m.store.ReadObject(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.log.Warn("skipping unreadable job record", "key", key, "error", err.Error())
			continue
		}

		var rec jobs.Record
		if err := json.Unmarshal(data, &rec); err != nil || !rec.Status.Valid() {
			m.log.Warn("skipping malformed job record", "key", key)
			continue
		}
		if rec.Status == jobs.StatusPending {
			out = append(out, Candidate{Paths: paths, Record: rec})
		}
	}
	return out, nil
}

// TryClaim attempts to take the lease for a candidate job. It returns
// false on any failure, whether somebody else holds a live lease, the
// create lost a race, or the store errored. The caller should move on
// to the next candidate instead of retrying this one.
func (m *Manager) TryClaim(ctx context.Context, cand Candidate, workerID string) bool {
	log := m.log.WithJobID(cand.Paths.JobID).WithWorkerID(workerID)
	now := m.clk.Now().UTC()

	// An expired lease is abandoned; clear it so the create below can
	// arbitrate between whoever observed the expiry. Exactly one
	// create wins regardless of how many workers get here.
	if data, err := m.store.ReadObject(ctx, cand.Paths.Lease()); err == nil {
		var cur jobs.Lease
		if json.Unmarshal(data, &cur) == nil && !cur.Expired(now) {
			return false
		}
		if err := m.store.DeleteObject(ctx, cand.Paths.Lease()); err != nil {
			log.Warn("failed to clear expired lease", "error", err.Error())
			return false
		}
	} else if !ports.IsNotFound(err) {
		return false
	}

	l := jobs.Lease{
		WorkerID:  workerID,
		ClaimedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	body, err := json.Marshal(l)
	if err != nil {
		return false
	}
	if err := m.store.CreateObject(ctx, cand.Paths.Lease(), body); err != nil {
		if !ports.IsExists(err) {
			log.Warn("lease create failed", "error", err.Error())
		}
		return false
	}

	// Advisory record update. Losing claimants must not reach this
	// point; a failed write here leaves the record stale but does not
	// affect exclusivity.
	rec := cand.Record
	rec.Status = jobs.StatusRunning
	rec.OwnerWorkerID = workerID
	rec.StartedAt = &now
	rec.CompletedAt = nil
	rec.Error = ""
	if err := m.writeRecord(ctx, cand.Paths, rec); err != nil {
		log.Warn("claimed lease but failed to update job record", "error", err.Error())
	}

	log.Info("claimed job", "channel", cand.Paths.Channel)
	return true
}

// Renew extends the held lease by one TTL. Any failure, including the
// lease now naming a different worker, is LEASE_LOST: the caller must
// stop work on the job immediately.
func (m *Manager) Renew(ctx context.Context, paths jobs.Paths, workerID string) error {
	data, err := m.store.ReadObject(ctx, paths.Lease())
	if err != nil {
		if ports.IsNotFound(err) {
			return errors.LeaseLost(paths.JobID)
		}
		return errors.WrapWithCode(err, errors.CodeLeaseLost, "lease.renew", "lease unreadable")
	}

	var cur jobs.Lease
	if err := json.Unmarshal(data, &cur); err != nil {
		return errors.WrapWithCode(err, errors.CodeLeaseLost, "lease.renew", "lease unparseable")
	}
	if cur.WorkerID != workerID {
		return errors.LeaseLost(paths.JobID)
	}

	now := m.clk.Now().UTC()
	cur.ExpiresAt = now.Add(m.ttl)
	body, err := json.Marshal(cur)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeLeaseLost, "lease.renew", "lease marshal")
	}
	if err := m.store.PutObject(ctx, paths.Lease(), body); err != nil {
		return errors.WrapWithCode(err, errors.CodeLeaseLost, "lease.renew", "lease write failed")
	}
	return nil
}

// Release deletes the lease (idempotent) and rewrites the job record
// to final. StatusPending is the recovery transition: the job becomes
// claimable again with no residual exclusivity. Terminal statuses get
// a completion timestamp; failed jobs carry errMsg.
func (m *Manager) Release(ctx context.Context, paths jobs.Paths, workerID string, final jobs.Status, errMsg string) error {
	log := m.log.WithJobID(paths.JobID).WithWorkerID(workerID)

	rec, err := m.readRecord(ctx, paths)
	if err != nil {
		log.Warn("release: job record unreadable", "error", err.Error())
		rec = jobs.Record{JobID: paths.JobID, Channel: paths.Channel}
	}

	now := m.clk.Now().UTC()
	rec.Status = final
	switch {
	case final == jobs.StatusPending:
		rec.OwnerWorkerID = ""
		rec.StartedAt = nil
		rec.CompletedAt = nil
		rec.Error = ""
	case final.Terminal():
		rec.OwnerWorkerID = workerID
		rec.CompletedAt = &now
		rec.Error = errMsg
	}
	if err := m.writeRecord(ctx, paths, rec); err != nil {
		return errors.TransientStore(err, "lease.release")
	}

	if err := m.store.DeleteObject(ctx, paths.Lease()); err != nil {
		return errors.TransientStore(err, "lease.release")
	}

	log.Info("released job", "final_status", string(final))
	return nil
}

func (m *Manager) readRecord(ctx context.Context, paths jobs.Paths) (jobs.Record, error) {
	data, err := m.store.ReadObject(ctx, paths.Status())
	if err != nil {
		return jobs.Record{}, err
	}
	var rec jobs.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return jobs.Record{}, err
	}
	return rec, nil
}

func (m *Manager) writeRecord(ctx context.Context, paths jobs.Paths, rec jobs.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return m.store.PutObject(ctx, paths.Status(), body)
}
