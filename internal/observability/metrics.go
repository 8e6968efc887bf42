package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every Prometheus collector the gateway exposes, from the
// HTTP boundary down through the CORE request lifecycle.
type Metrics struct {
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	RequestsTotal      *prometheus.CounterVec
	RequestsSuccessful prometheus.Counter
	RequestsFailed     prometheus.Counter
	RequestsTimeout    prometheus.Counter
	RequestsPending    prometheus.Gauge
	DuplicateResponse  *prometheus.CounterVec

	MessagesPublished *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	PublishDuration   prometheus.Histogram

	ConnectionsActive prometheus.Gauge

	ConsumerMessagesPulled    *prometheus.CounterVec
	ConsumerMessagesProcessed *prometheus.CounterVec
	ConsumerErrors            *prometheus.CounterVec

	HealthChecks *prometheus.CounterVec

	LockAcquisitions           *prometheus.CounterVec
	CircuitBreakerState        prometheus.Gauge
	LockReacquisitionAttempts  *prometheus.CounterVec
	LockReacquisitionFallbacks *prometheus.CounterVec
}

// NewMetrics registers every collector with the provided namespace.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	httpLabels := []string{"method", "path", "status"}
	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests processed.",
	}, httpLabels)
	httpDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, httpLabels)

	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Total requests submitted through RequestOrchestrator, by outcome.",
	}, []string{"outcome"})
	requestsSuccessful := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_successful_total",
		Help:      "Requests that transitioned to SUCCESS.",
	})
	requestsFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_failed_total",
		Help:      "Requests that transitioned to FAILED or ERROR.",
	})
	requestsTimeout := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_timeout_total",
		Help:      "Requests that transitioned to TIMEOUT via the sweeper.",
	})
	requestsPending := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "requests_pending",
		Help:      "Current number of PENDING request log rows.",
	})
	duplicateResponse := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duplicate_response_total",
		Help:      "Correlated responses that found the row already terminal.",
	}, []string{"subject"})

	messagesPublished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_published_total",
		Help:      "Messages published by RequestOrchestrator, by outcome.",
	}, []string{"outcome"})
	requestDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_duration_seconds",
		Help:      "End-to-end duration from submit to terminal state.",
		Buckets:   prometheus.DefBuckets,
	})
	publishDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "publish_duration_seconds",
		Help:      "Duration of the publish step inside RequestOrchestrator.",
		Buckets:   prometheus.DefBuckets,
	})

	connectionsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections_active",
		Help:      "Number of active listener connections (running PullFetchers).",
	})

	consumerLabels := []string{"subject", "status"}
	consumerPulled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "consumer_messages_pulled_total",
		Help:      "Messages returned by Consumer.Fetch, by subject and status.",
	}, consumerLabels)
	consumerProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "consumer_messages_processed_total",
		Help:      "Messages processed by MessageProcessor, by subject and status.",
	}, consumerLabels)
	consumerErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "consumer_errors_total",
		Help:      "Errors raised while pulling or processing, by subject and type.",
	}, []string{"subject", "type"})

	healthChecks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "health_checks_total",
		Help:      "Readiness probe checks performed, by component and status.",
	}, []string{"component", "status"})

	lockAcquisitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lock_acquisitions_total",
		Help:      "Distributed lock acquisition attempts through the circuit breaker, by outcome.",
	}, []string{"outcome"})
	circuitBreakerState := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "lock_circuit_breaker_state",
		Help:      "Current lock manager circuit breaker state (0=closed, 1=open, 2=half-open).",
	})
	lockReacquisitionAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lock_reacquisition_attempts_total",
		Help:      "Recovery lock reacquisition attempts, by instance and result.",
	}, []string{"instance", "result"})
	lockReacquisitionFallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lock_reacquisition_fallbacks_total",
		Help:      "Recovery lock reacquisition fallbacks, by instance and circuit state.",
	}, []string{"instance", "circuit_state"})

	reg.MustRegister(
		httpRequests, httpDuration,
		requestsTotal, requestsSuccessful, requestsFailed, requestsTimeout, requestsPending, duplicateResponse,
		messagesPublished, requestDuration, publishDuration,
		connectionsActive,
		consumerPulled, consumerProcessed, consumerErrors,
		healthChecks,
		lockAcquisitions, circuitBreakerState, lockReacquisitionAttempts, lockReacquisitionFallbacks,
	)

	return &Metrics{
		HTTPRequests: httpRequests,
		HTTPDuration: httpDuration,

		RequestsTotal:      requestsTotal,
		RequestsSuccessful: requestsSuccessful,
		RequestsFailed:     requestsFailed,
		RequestsTimeout:    requestsTimeout,
		RequestsPending:    requestsPending,
		DuplicateResponse:  duplicateResponse,

		MessagesPublished: messagesPublished,
		RequestDuration:   requestDuration,
		PublishDuration:   publishDuration,

		ConnectionsActive: connectionsActive,

		ConsumerMessagesPulled:    consumerPulled,
		ConsumerMessagesProcessed: consumerProcessed,
		ConsumerErrors:            consumerErrors,

		HealthChecks: healthChecks,

		LockAcquisitions:           lockAcquisitions,
		CircuitBreakerState:        circuitBreakerState,
		LockReacquisitionAttempts:  lockReacquisitionAttempts,
		LockReacquisitionFallbacks: lockReacquisitionFallbacks,
	}
}
