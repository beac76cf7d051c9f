// Package metrics provides Prometheus metrics for the SMS service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels for metrics.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	// UpstreamRequestsTotal counts calls to IAM and Secrets Manager.
	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sms_service",
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Total number of outbound calls to identity and secret services",
		},
		[]string{"service", "result"},
	)

	// UpstreamRequestDuration tracks the latency of outbound calls.
	UpstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sms_service",
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Latency of outbound calls to identity and secret services",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	// ValidationOutcomesTotal counts POST /messages results by outcome.
	ValidationOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sms_service",
			Subsystem: "messages",
			Name:      "validation_outcomes_total",
			Help:      "Total number of send requests by validation outcome",
		},
		[]string{"outcome"},
	)

	// QueuePublishTotal counts accepted-message events handed to RabbitMQ.
	QueuePublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sms_service",
			Subsystem: "queue",
			Name:      "publish_total",
			Help:      "Total number of accepted-message events published",
		},
		[]string{"result"},
	)
)

// Register adds all collectors to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		UpstreamRequestsTotal,
		UpstreamRequestDuration,
		ValidationOutcomesTotal,
		QueuePublishTotal,
	)
}

// ObserveUpstream records one outbound call.
func ObserveUpstream(service string, start time.Time, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	UpstreamRequestsTotal.WithLabelValues(service, result).Inc()
	UpstreamRequestDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())
}

// ObserveOutcome records the outcome of one send request.
func ObserveOutcome(outcome string) {
	ValidationOutcomesTotal.WithLabelValues(outcome).Inc()
}

// ObservePublish records one queue publish attempt.
func ObservePublish(err error) {
	if err != nil {
		QueuePublishTotal.WithLabelValues(ResultFailure).Inc()
		return
	}
	QueuePublishTotal.WithLabelValues(ResultSuccess).Inc()
}
