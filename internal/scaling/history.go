package scaling

import (
	"sync"
	"time"

	"renderfleet/internal/monitor"
)

// Snapshot is one observed scaling cycle. Snapshots exist for the
// status surface only; decisions never read them back.
type Snapshot struct {
	Counts           monitor.Counts `json:"job_queue"`
	CurrentInstances int            `json:"current_instances"`
	DesiredInstances int            `json:"desired_instances"`
	GPUUtilization   float64        `json:"gpu_utilization"`
	LastScaleUp      *time.Time     `json:"last_scale_up,omitempty"`
	LastScaleDown    *time.Time     `json:"last_scale_down,omitempty"`
	TakenAt          time.Time      `json:"taken_at"`
}

// History is a bounded ring of recent snapshots.
type History struct {
	mu    sync.Mutex
	buf   []Snapshot
	next  int
	count int
}

// NewHistory creates a ring holding up to capacity snapshots.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1000
	}
	return &History{buf: make([]Snapshot, capacity)}
}

// Append records a snapshot, evicting the oldest once full.
func (h *History) Append(s Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = s
	h.next = (h.next + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
}

// Latest returns the most recent snapshot, if any.
func (h *History) Latest() (Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return Snapshot{}, false
	}
	idx := (h.next - 1 + len(h.buf)) % len(h.buf)
	return h.buf[idx], true
}

// Len returns the number of stored snapshots.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Recent returns up to n snapshots, newest first.
func (h *History) Recent(n int) []Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n > h.count {
		n = h.count
	}
	out := make([]Snapshot, 0, n)
	for i := 1; i <= n; i++ {
		idx := (h.next - i + len(h.buf)) % len(h.buf)
		out = append(out, h.buf[idx])
	}
	return out
}
