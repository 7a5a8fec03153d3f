package scaling

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"renderfleet/internal/fleet"
	"renderfleet/internal/monitor"
	"renderfleet/internal/pkg/errors"
	"renderfleet/internal/pkg/logger"
	"renderfleet/internal/telemetry"
)

// Deps wires the autoscaler's collaborators.
type Deps struct {
	Monitor   *monitor.Monitor
	Fleet     fleet.Controller
	Telemetry telemetry.Provider
	Policy    Policy
	Interval  time.Duration
	Metrics   *Metrics
	Log       *logger.Logger
	Clock     clock.Clock
}

// Autoscaler periodically sizes the worker pool from queue depth and
// utilization. It is designed as a singleton but running two is merely
// wasteful, not unsafe: every cycle recomputes from current state.
type Autoscaler struct {
	mon       *monitor.Monitor
	fleet     fleet.Controller
	telemetry telemetry.Provider
	policy    Policy
	interval  time.Duration
	metrics   *Metrics
	log       *logger.Logger
	clk       clock.Clock

	history *History

	mu            sync.Mutex
	lastScaleUp   time.Time
	lastScaleDown time.Time
}

func New(d Deps) *Autoscaler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	clk := d.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Autoscaler{
		mon:       d.Monitor,
		fleet:     d.Fleet,
		telemetry: d.Telemetry,
		policy:    d.Policy,
		interval:  d.Interval,
		metrics:   d.Metrics,
		log:       log.WithComponent("autoscaler"),
		clk:       clk,
		history:   NewHistory(1000),
	}
}

// History exposes the snapshot ring to the status surface.
func (a *Autoscaler) History() *History {
	return a.history
}

// Run executes scaling cycles until ctx is canceled. Every failure
// inside a cycle is logged and retried next cycle; the loop itself
// never dies.
func (a *Autoscaler) Run(ctx context.Context) {
	a.log.Info("autoscaler starting",
		"interval", a.interval.String(),
		"min_instances", a.policy.MinInstances,
		"max_instances", a.policy.MaxInstances,
	)

	ticker := a.clk.Ticker(a.interval)
	defer ticker.Stop()

	for {
		a.RunCycle(ctx)
		select {
		case <-ctx.Done():
			a.log.Info("autoscaler stopping")
			return
		case <-ticker.C:
		}
	}
}

// RunCycle performs one observe-decide-act pass and appends a snapshot.
func (a *Autoscaler) RunCycle(ctx context.Context) {
	counts, err := a.mon.JobCounts(ctx)
	if err != nil {
		a.log.Error("queue scan failed, skipping cycle", "error", err.Error())
		return
	}

	current, err := a.fleet.Size(ctx)
	if err != nil {
		ferr := errors.FleetControl(err, "fleet.size")
		a.log.Error("fleet size query failed, skipping cycle", "error", ferr.Error())
		return
	}

	util, err := a.telemetry.Utilization(ctx)
	if err != nil {
		// A blind cycle still scales on queue depth alone.
		a.log.Warn("telemetry unavailable, assuming zero utilization", "error", err.Error())
		util = 0
	}

	now := a.clk.Now().UTC()

	a.mu.Lock()
	lastDown := a.lastScaleDown
	a.mu.Unlock()

	desired := a.policy.ComputeDesired(counts.Pending, util, lastDown, now)

	if a.policy.ShouldAct(current, desired, util) && desired != current {
		a.resize(ctx, current, desired)
	}

	a.mu.Lock()
	snap := Snapshot{
		Counts:           counts,
		CurrentInstances: current,
		DesiredInstances: desired,
		GPUUtilization:   util,
		TakenAt:          now,
	}
	if !a.lastScaleUp.IsZero() {
		t := a.lastScaleUp
		snap.LastScaleUp = &t
	}
	if !a.lastScaleDown.IsZero() {
		t := a.lastScaleDown
		snap.LastScaleDown = &t
	}
	a.mu.Unlock()

	a.history.Append(snap)
	a.metrics.Observe(snap)

	a.log.Info("scaling cycle complete",
		"pending", counts.Pending,
		"running", counts.Running,
		"current_instances", current,
		"desired_instances", desired,
		"gpu_utilization", util,
	)
}

func (a *Autoscaler) resize(ctx context.Context, current, desired int) {
	if err := a.fleet.Resize(ctx, desired); err != nil {
		ferr := errors.FleetControl(err, "fleet.resize")
		a.log.Error("resize failed, will retry next cycle",
			"from", current,
			"to", desired,
			"error", ferr.Error(),
		)
		if a.metrics != nil {
			a.metrics.ResizeFailures.Inc()
		}
		return
	}

	now := a.clk.Now().UTC()
	a.mu.Lock()
	if desired > current {
		a.lastScaleUp = now
	} else {
		a.lastScaleDown = now
	}
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.Resizes.Inc()
	}
	a.log.Info("fleet resized", "from", current, "to", desired)
}
