package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// flowtrail-api metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ft_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"route", "method", "code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ft_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	ActiveRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ft_active_requests",
		Help: "Current in-flight requests",
	})

	// engine metrics
	ExecutionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ft_execution_total",
		Help: "Workflow execution completion count",
	}, []string{"workflow_type", "status"})

	ExecutionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ft_execution_duration_seconds",
		Help:    "Workflow execution end-to-end duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300, 1800},
	}, []string{"workflow_type"})

	StepTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ft_step_total",
		Help: "Step completion count",
	}, []string{"step_type", "status"})

	StepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ft_step_duration_seconds",
		Help:    "Step handler duration",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"step_type"})

	StepRetryTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ft_step_retry_total",
		Help: "Step retry count",
	}, []string{"step_type"})

	ExecutionQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ft_execution_queue_depth",
		Help: "Pending + running executions",
	})

	ExecutionStateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ft_execution_state_transitions_total",
		Help: "Execution state transition count",
	}, []string{"from", "to"})

	LockWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ft_lock_wait_seconds",
		Help:    "Advisory lock wait time",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	PollEmptyTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ft_poll_empty_total",
		Help: "Empty worker poll count",
	})

	// audit metrics
	AuditEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ft_audit_events_total",
		Help: "Audit events recorded",
	}, []string{"action_type", "risk_level"})

	SuspiciousFindingsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ft_suspicious_findings_total",
		Help: "Suspicious-activity findings reported",
	})

	NotificationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ft_notification_total",
		Help: "Notification delivery attempts",
	}, []string{"channel", "outcome"})
)

func RegisterAll(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, ActiveRequests,
		ExecutionTotal, ExecutionDuration, StepTotal, StepDuration,
		StepRetryTotal, ExecutionQueueDepth, ExecutionStateTransitions,
		LockWaitSeconds, PollEmptyTotal,
		AuditEventsTotal, SuspiciousFindingsTotal, NotificationTotal,
	)
}
