package scaling

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the autoscaler's view of the system to Prometheus.
type Metrics struct {
	PendingJobs      prometheus.Gauge
	RunningJobs      prometheus.Gauge
	CompletedJobs    prometheus.Gauge
	FailedJobs       prometheus.Gauge
	CurrentInstances prometheus.Gauge
	DesiredInstances prometheus.Gauge
	GPUUtilization   prometheus.Gauge

	Cycles         prometheus.Counter
	Resizes        prometheus.Counter
	ResizeFailures prometheus.Counter
}

// NewMetrics registers the autoscaler metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PendingJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "renderfleet_pending_jobs",
			Help: "Jobs waiting to be claimed.",
		}),
		RunningJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "renderfleet_running_jobs",
			Help: "Jobs currently leased by a worker.",
		}),
		CompletedJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "renderfleet_completed_jobs",
			Help: "Jobs finished successfully.",
		}),
		FailedJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "renderfleet_failed_jobs",
			Help: "Jobs that exhausted render retries.",
		}),
		CurrentInstances: factory.NewGauge(prometheus.GaugeOpts{
			Name: "renderfleet_current_instances",
			Help: "Current worker pool size.",
		}),
		DesiredInstances: factory.NewGauge(prometheus.GaugeOpts{
			Name: "renderfleet_desired_instances",
			Help: "Pool size the policy last computed.",
		}),
		GPUUtilization: factory.NewGauge(prometheus.GaugeOpts{
			Name: "renderfleet_gpu_utilization",
			Help: "Aggregate GPU utilization percentage.",
		}),
		Cycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "renderfleet_scaling_cycles_total",
			Help: "Completed scaling cycles.",
		}),
		Resizes: factory.NewCounter(prometheus.CounterOpts{
			Name: "renderfleet_resizes_total",
			Help: "Resize operations issued.",
		}),
		ResizeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "renderfleet_resize_failures_total",
			Help: "Resize operations that failed and will be retried.",
		}),
	}
}

// Observe records one cycle's snapshot.
func (m *Metrics) Observe(s Snapshot) {
	if m == nil {
		return
	}
	m.PendingJobs.Set(float64(s.Counts.Pending))
	m.RunningJobs.Set(float64(s.Counts.Running))
	m.CompletedJobs.Set(float64(s.Counts.Completed))
	m.FailedJobs.Set(float64(s.Counts.Failed))
	m.CurrentInstances.Set(float64(s.CurrentInstances))
	m.DesiredInstances.Set(float64(s.DesiredInstances))
	m.GPUUtilization.Set(s.GPUUtilization)
	m.Cycles.Inc()
}
