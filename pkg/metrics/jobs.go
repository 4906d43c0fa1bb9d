package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics records execution metadata for connector jobs.
type JobMetrics struct {
	duration *prometheus.HistogramVec
	success  *prometheus.CounterVec
	failure  *prometheus.CounterVec
	requeued *prometheus.CounterVec
}

// NewJobMetrics registers the job metrics on the provided registerer.
func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	if reg == nil {
		return &JobMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "connector_job_duration_seconds",
		Help:    "Duration of connector jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "connector_job_success",
		Help: "Successful connector job executions.",
	}, []string{"operation"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "connector_job_failure",
		Help: "Failed connector job executions.",
	}, []string{"operation"})
	requeued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "connector_job_blocked",
		Help: "Jobs that failed blocked on a missing mapping, awaiting requeue.",
	}, []string{"operation"})
	reg.MustRegister(duration, success, failure, requeued)
	return &JobMetrics{
		duration: duration,
		success:  success,
		failure:  failure,
		requeued: requeued,
	}
}

// ObserveDuration records the duration for the given operation.
func (m *JobMetrics) ObserveDuration(operation string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter.
func (m *JobMetrics) IncSuccess(operation string) {
	if m == nil || m.success == nil {
		return
	}
	m.success.WithLabelValues(normalizeLabel(operation)).Inc()
}

// IncFailure increments the failure counter.
func (m *JobMetrics) IncFailure(operation string) {
	if m == nil || m.failure == nil {
		return
	}
	m.failure.WithLabelValues(normalizeLabel(operation)).Inc()
}

// IncBlocked increments the blocked-on-mapping counter.
func (m *JobMetrics) IncBlocked(operation string) {
	if m == nil || m.requeued == nil {
		return
	}
	m.requeued.WithLabelValues(normalizeLabel(operation)).Inc()
}

func normalizeLabel(operation string) string {
	if operation == "" {
		return "unknown"
	}
	return operation
}
