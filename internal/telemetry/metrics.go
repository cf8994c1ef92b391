package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics — Golden Signals контура оркестрации.
type Metrics struct {
	// Latency: длительность одного цикла автономного контура
	LoopTickDuration prometheus.Histogram

	// Traffic: диспетчеризованные события по типу и источнику
	EventsDispatched *prometheus.CounterVec

	// Errors: отклоненные события и конфликты
	EventsRejected  prometheus.Counter
	ConflictsTotal  prometheus.Counter
	RollbacksTotal  prometheus.Counter
	PolicyDecisions *prometheus.CounterVec

	// Saturation: trust score агента и здоровье федерации
	AgentTrustScore         prometheus.Gauge
	FederationHealthyPeers  prometheus.Gauge
	FederationBroadcastFail prometheus.Counter

	// Телеметрия: заполненность буфера (backpressure) и потери
	TelemetryQueueFill prometheus.Gauge
	TelemetryDropped   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		LoopTickDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "map_loop_tick_duration_seconds",
			Help:    "Histogram of autonomy loop tick durations.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),

		EventsDispatched: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "map_events_dispatched_total",
			Help: "Total number of dispatched protocol events.",
		}, []string{"type", "source"}),

		EventsRejected: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "map_events_rejected_total",
			Help: "Total number of events rejected by schema validation.",
		}),

		ConflictsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "map_conflicts_total",
			Help: "Total number of resolved recommendation conflicts.",
		}),

		RollbacksTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "map_rollbacks_total",
			Help: "Total number of automatic rollbacks.",
		}),

		PolicyDecisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "map_policy_decisions_total",
			Help: "Total number of governance decisions by status.",
		}, []string{"status"}), // статусы: ALLOWED, REVIEW, BLOCKED

		AgentTrustScore: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "map_agent_trust_score",
			Help: "Current composite trust score (0-100).",
		}),

		FederationHealthyPeers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "map_federation_healthy_peers",
			Help: "Number of federation endpoints passing health checks.",
		}),

		FederationBroadcastFail: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "map_federation_broadcast_failures_total",
			Help: "Total number of failed federation broadcast deliveries.",
		}),

		TelemetryQueueFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "map_telemetry_buffer_utilization",
			Help: "Current number of events in the telemetry buffer.",
		}),

		TelemetryDropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "map_telemetry_dropped_total",
			Help: "Total number of telemetry events dropped due to backpressure.",
		}),
	}
}
