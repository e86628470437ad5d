// Package metrics defines the Prometheus metrics exposed by the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PlaybookExecutionsStarted counts playbook executions that entered the engine
	PlaybookExecutionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aegis_playbook_executions_started_total",
		Help: "Total number of playbook executions started",
	})

	// PlaybookExecutionsTotal counts finished executions by terminal status
	PlaybookExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_playbook_executions_total",
		Help: "Total number of finished playbook executions by status",
	}, []string{"status"})

	// PlaybookExecutionDuration observes end-to-end execution duration
	PlaybookExecutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aegis_playbook_execution_duration_seconds",
		Help:    "Duration of playbook executions in seconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	})

	// PlaybookStepsTotal counts step outcomes by terminal status
	PlaybookStepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_playbook_steps_total",
		Help: "Total number of playbook steps by terminal status",
	}, []string{"status"})

	// IncidentsCreated counts incidents accepted by the service
	IncidentsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_incidents_created_total",
		Help: "Total number of incidents created by severity",
	}, []string{"severity"})

	// NotificationsSent counts notification deliveries by channel and outcome
	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_notifications_sent_total",
		Help: "Total number of notification attempts by channel and outcome",
	}, []string{"channel", "outcome"})

	// NotifyCircuitBreakerState reports breaker state per channel (0 closed, 1 half-open, 2 open)
	NotifyCircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aegis_notify_circuit_breaker_state",
		Help: "Circuit breaker state per notification channel (0=closed, 1=half-open, 2=open)",
	}, []string{"channel"})

	// HTTPRequestDuration observes API request latency
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aegis_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)
