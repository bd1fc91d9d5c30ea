package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Dispatch metrics
	DispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zulu_dispatches_total",
			Help: "Total number of task dispatches by backend and task type",
		},
		[]string{"backend", "task_type"},
	)

	DispatchRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zulu_dispatch_retries_total",
			Help: "Total number of dispatch retries by backend",
		},
		[]string{"backend"},
	)

	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zulu_dispatch_duration_seconds",
			Help:    "Task dispatch duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"backend"},
	)

	// Planner metrics
	PlanRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zulu_plan_requests_total",
			Help: "Total number of planning requests by intent type",
		},
		[]string{"intent"},
	)

	TasksCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zulu_tasks_completed_total",
			Help: "Total number of graph tasks completed successfully",
		},
	)

	TasksFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zulu_tasks_failed_total",
			Help: "Total number of graph tasks that failed",
		},
	)

	// Watchdog metrics
	WatchdogChecksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zulu_watchdog_checks_total",
			Help: "Total number of watchdog poll cycles",
		},
	)

	ViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zulu_policy_violations_total",
			Help: "Total number of policy violations by rule and severity",
		},
		[]string{"rule", "severity"},
	)

	KillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zulu_kills_total",
			Help: "Total number of container kills by container and action",
		},
		[]string{"container", "action"},
	)

	PolicyReloadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zulu_policy_reloads_total",
			Help: "Total number of effective policy reloads",
		},
	)

	// Attestation metrics
	AttestationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zulu_attestations_total",
			Help: "Total number of attestation verifications by result",
		},
		[]string{"result"},
	)

	// Audit metrics
	AuditRecordsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zulu_audit_records_total",
			Help: "Total number of audit chain records appended",
		},
	)

	// Night-shift queue metrics
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zulu_queue_depth",
			Help: "Number of queued night-shift tasks by status",
		},
		[]string{"status"},
	)

	// Event broker metrics
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zulu_events_published_total",
			Help: "Total number of control-plane events published by type",
		},
		[]string{"type"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(DispatchesTotal)
	prometheus.MustRegister(DispatchRetriesTotal)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(PlanRequestsTotal)
	prometheus.MustRegister(TasksCompleted)
	prometheus.MustRegister(TasksFailed)
	prometheus.MustRegister(WatchdogChecksTotal)
	prometheus.MustRegister(ViolationsTotal)
	prometheus.MustRegister(KillsTotal)
	prometheus.MustRegister(PolicyReloadsTotal)
	prometheus.MustRegister(AttestationsTotal)
	prometheus.MustRegister(AuditRecordsTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(EventsPublishedTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed time for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// StartTime returns when the timer was created
func (t *Timer) StartTime() time.Time {
	return t.start
}

// Duration returns the elapsed time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in a histogram
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time in a histogram vec
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
