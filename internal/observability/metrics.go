package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	apiRequestsTotal      *prometheus.CounterVec
	apiLatencySeconds     *prometheus.HistogramVec
	apiErrorsTotal        *prometheus.CounterVec
	presenceTransitions   *prometheus.CounterVec
	statusRecomputes      prometheus.Counter
	typingWritesTotal     prometheus.Counter
	reactionsToggledTotal *prometheus.CounterVec
	messagesSentTotal     *prometheus.CounterVec
	engineSessionsActive  prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used across the
// service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of error responses returned by API endpoints.",
		}, []string{"method", "route", "status"})

		presenceTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_transitions_total",
			Help: "Online/offline presence transitions written to the stores.",
		}, []string{"state"})

		statusRecomputes = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "room_status_recomputations_total",
			Help: "Recomputations of the per-room unread/mention status map.",
		})

		typingWritesTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "typing_records_written_total",
			Help: "Typing records written or refreshed.",
		})

		reactionsToggledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reactions_toggled_total",
			Help: "Reaction toggles applied to messages.",
		}, []string{"op"})

		messagesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messages_sent_total",
			Help: "Messages persisted, labelled by kind.",
		}, []string{"kind"})

		engineSessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_sessions_active",
			Help: "Currently connected synchronization engine sessions.",
		})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			presenceTransitions,
			statusRecomputes,
			typingWritesTotal,
			reactionsToggledTotal,
			messagesSentTotal,
			engineSessionsActive,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// PresenceTransitions exposes the presence transition counter.
func PresenceTransitions() *prometheus.CounterVec {
	RegisterMetrics()
	return presenceTransitions
}

// StatusRecomputes exposes the room-status recomputation counter.
func StatusRecomputes() prometheus.Counter {
	RegisterMetrics()
	return statusRecomputes
}

// TypingWrites exposes the typing write counter.
func TypingWrites() prometheus.Counter {
	RegisterMetrics()
	return typingWritesTotal
}

// ReactionsToggled exposes the reaction toggle counter.
func ReactionsToggled() *prometheus.CounterVec {
	RegisterMetrics()
	return reactionsToggledTotal
}

// MessagesSent exposes the message counter.
func MessagesSent() *prometheus.CounterVec {
	RegisterMetrics()
	return messagesSentTotal
}

// EngineSessions exposes the active engine session gauge.
func EngineSessions() prometheus.Gauge {
	RegisterMetrics()
	return engineSessionsActive
}
