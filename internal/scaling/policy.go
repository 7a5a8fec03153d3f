package scaling

import (
	"math"
	"time"

	"renderfleet/internal/config"
)

// Policy computes the desired worker pool size from queue depth and
// GPU utilization. It is pure: decisions depend only on the arguments,
// never on history, which keeps the autoscaler convergent when more
// than one instance runs by accident.
type Policy struct {
	MinInstances    int
	MaxInstances    int
	JobsPerInstance int
	Efficiency      float64

	// LowQueueThreshold and IdleUtilization gate the scale-to-minimum
	// path in ComputeDesired.
	LowQueueThreshold int
	IdleUtilization   float64

	// HighUtilization and LowUtilization are the ShouldAct overrides.
	HighUtilization float64
	LowUtilization  float64

	ScaleDownCooldown time.Duration
}

// PolicyFromConfig maps the scaling configuration onto a Policy.
func PolicyFromConfig(cfg config.ScalingConfig) Policy {
	return Policy{
		MinInstances:      cfg.MinInstances,
		MaxInstances:      cfg.MaxInstances,
		JobsPerInstance:   cfg.JobsPerInstance,
		Efficiency:        cfg.Efficiency,
		LowQueueThreshold: cfg.LowQueueThreshold,
		IdleUtilization:   cfg.IdleUtilization,
		HighUtilization:   cfg.HighUtilization,
		LowUtilization:    cfg.LowUtilization,
		ScaleDownCooldown: cfg.ScaleDownCooldown,
	}
}

// ComputeDesired returns the pool size appropriate for the current
// queue. lastScaleDown is the zero time if the pool never scaled down.
// The result is always within [MinInstances, MaxInstances]; an empty
// queue yields MinInstances, never zero.
func (p Policy) ComputeDesired(pending int, util float64, lastScaleDown time.Time, now time.Time) int {
	base := int(math.Ceil(float64(pending) / (float64(p.JobsPerInstance) * p.Efficiency)))
	desired := clamp(base, p.MinInstances, p.MaxInstances)

	// Near-empty queue on an idle fleet collapses to the minimum, but
	// only once per cooldown so noisy readings cannot thrash the pool.
	if pending < p.LowQueueThreshold && util < p.IdleUtilization {
		if lastScaleDown.IsZero() || now.Sub(lastScaleDown) > p.ScaleDownCooldown {
			desired = min(desired, p.MinInstances)
		}
	}
	return desired
}

// ShouldAct reports whether a resize from current to desired is worth
// issuing. Differences of one instance are ignored as queue noise
// unless utilization clearly confirms the direction.
func (p Policy) ShouldAct(current, desired int, util float64) bool {
	if abs(current-desired) >= 2 {
		return true
	}
	if util > p.HighUtilization && desired > current {
		return true
	}
	if util < p.LowUtilization && desired < current {
		return true
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
