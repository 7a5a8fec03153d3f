// Package jobs defines the persisted job records and their store layout.
//
// All coordination state lives in the object store under a namespace:
//
//	jobs/{channel}/{job_id}/status.json   JobRecord
//	jobs/{channel}/{job_id}/lease.lock    Lease
//	jobs/{channel}/{job_id}/progress.json Checkpoint
//	jobs/{channel}/{job_id}/clips/...     unit artifacts
//	final_videos/{channel}/{job_id}.mp4   assembled output
package jobs

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a job in this status will never run again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Record is the durable job record at status.json. It is created
// pending by a submitter and afterwards mutated only by the worker
// holding (or attempting) the lease. Exclusivity is guaranteed by the
// lease object, never by this record.
type Record struct {
	JobID         string          `json:"job_id"`
	Channel       string          `json:"channel"`
	Status        Status          `json:"status"`
	OwnerWorkerID string          `json:"owner_worker_id,omitempty"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	Error         string          `json:"error,omitempty"`
	Config        json.RawMessage `json:"config,omitempty"`
}

// Lease grants time-bounded exclusive ownership of one job. Its mere
// existence at lease.lock, while unexpired, is the ownership claim.
type Lease struct {
	WorkerID  string    `json:"worker_id"`
	ClaimedAt time.Time `json:"claimed_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the lease has lapsed at now and may be
// superseded by any worker.
func (l Lease) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// Checkpoint records which units of a job are already rendered and
// durably stored. Resumption skips completed units.
type Checkpoint struct {
	CompletedUnits []int     `json:"completed_units"`
	TotalUnits     int       `json:"total_units"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Remaining returns the unit indices still to render, in order.
func (c Checkpoint) Remaining() []int {
	done := make(map[int]bool, len(c.CompletedUnits))
	for _, u := range c.CompletedUnits {
		done[u] = true
	}
	var out []int
	for i := 0; i < c.TotalUnits; i++ {
		if !done[i] {
			out = append(out, i)
		}
	}
	return out
}

// MarkDone returns a copy with unit added to the completed set.
func (c Checkpoint) MarkDone(unit int, now time.Time) Checkpoint {
	for _, u := range c.CompletedUnits {
		if u == unit {
			c.UpdatedAt = now
			return c
		}
	}
	units := append(append([]int(nil), c.CompletedUnits...), unit)
	sort.Ints(units)
	return Checkpoint{CompletedUnits: units, TotalUnits: c.TotalUnits, UpdatedAt: now}
}

// Complete reports whether every unit is rendered.
func (c Checkpoint) Complete() bool {
	return c.TotalUnits > 0 && len(c.CompletedUnits) >= c.TotalUnits
}

// Manifest is written next to a completed job's records for auditing.
type Manifest struct {
	JobID       string    `json:"job_id"`
	Channel     string    `json:"channel"`
	WorkerID    string    `json:"worker_id"`
	TotalUnits  int       `json:"total_units"`
	CompletedAt time.Time `json:"completed_at"`
	Elapsed     string    `json:"elapsed"`
	FinalPath   string    `json:"final_video_path"`
}

// renderConfig is the slice of the opaque job config this subsystem
// interprets; everything else passes through to the renderer untouched.
type renderConfig struct {
	TotalUnits int `json:"total_units"`
}

// TotalUnits extracts the unit count from an opaque job config.
func TotalUnits(config json.RawMessage) (int, error) {
	var rc renderConfig
	if err := json.Unmarshal(config, &rc); err != nil {
		return 0, fmt.Errorf("parse job config: %w", err)
	}
	if rc.TotalUnits <= 0 {
		return 0, fmt.Errorf("job config: total_units must be positive, got %d", rc.TotalUnits)
	}
	return rc.TotalUnits, nil
}

const (
	jobsPrefix   = "jobs"
	finalsPrefix = "final_videos"

	statusObject   = "status.json"
	leaseObject    = "lease.lock"
	progressObject = "progress.json"
	manifestObject = "_MANIFEST.json"
)

// Paths derives the store keys for one job.
type Paths struct {
	Channel string
	JobID   string
}

func (p Paths) dir() string {
	return path.Join(jobsPrefix, p.Channel, p.JobID)
}

func (p Paths) Status() string   { return path.Join(p.dir(), statusObject) }
func (p Paths) Lease() string    { return path.Join(p.dir(), leaseObject) }
func (p Paths) Progress() string { return path.Join(p.dir(), progressObject) }
func (p Paths) Manifest() string { return path.Join(p.dir(), manifestObject) }

// Unit is the artifact key for one rendered unit.
func (p Paths) Unit(idx int) string {
	return path.Join(p.dir(), "clips", fmt.Sprintf("clip_%03d.mp4", idx))
}

// Final is the assembled output key.
func (p Paths) Final() string {
	return path.Join(finalsPrefix, p.Channel, p.JobID+".mp4")
}

// ScanPrefix is the listing prefix covering every job record.
func ScanPrefix() string { return jobsPrefix + "/" }

// IsStatusKey reports whether key is a job status record.
func IsStatusKey(key string) bool {
	return strings.HasSuffix(key, "/"+statusObject)
}

// PathsFromStatusKey recovers the job location from a status record
// key of the form jobs/{channel}/{job_id}/status.json.
func PathsFromStatusKey(key string) (Paths, bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 4 || parts[0] != jobsPrefix || parts[3] != statusObject {
		return Paths{}, false
	}
	if parts[1] == "" || parts[2] == "" {
		return Paths{}, false
	}
	return Paths{Channel: parts[1], JobID: parts[2]}, true
}
