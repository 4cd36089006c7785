package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the service's Prometheus metrics.
//
// The set tracks the session streaming pipeline end to end:
//   - channel lifecycle and event delivery
//   - execution outcomes and latency
//   - context compaction frequency and duration
//   - worker pool rejections
//   - pending human interruptions
type Metrics struct {
	// ActiveChannels is a gauge of currently registered output channels.
	ActiveChannels prometheus.Gauge

	// EventsSent counts events delivered to clients.
	// Labels: event (model|thinking|tool|interrupt|context|complete|error)
	EventsSent *prometheus.CounterVec

	// EventSendFailures counts deliveries that failed because the client was
	// gone or the channel already completed.
	EventSendFailures prometheus.Counter

	// ExecutionsTotal counts executions by terminal outcome.
	// Labels: outcome (completed|interrupted|error|rejected)
	ExecutionsTotal *prometheus.CounterVec

	// ExecutionDuration measures execution wall time in seconds.
	ExecutionDuration prometheus.Histogram

	// CompactionsTotal counts history compactions by status.
	// Labels: status (success|error)
	CompactionsTotal *prometheus.CounterVec

	// CompactionDuration measures compaction wall time in seconds.
	CompactionDuration prometheus.Histogram

	// PoolRejections counts executions rejected by the bounded worker pool.
	PoolRejections prometheus.Counter

	// PendingInterruptions is a gauge of sessions awaiting a human decision.
	PendingInterruptions prometheus.Gauge

	// LLMRequestDuration measures provider API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption reported by providers.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec
}

// NewMetrics creates and registers the metric set on the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates the metric set on a specific registerer; tests pass
// a fresh registry to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveChannels: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streamagent_active_channels",
			Help: "Number of currently registered session output channels.",
		}),
		EventsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamagent_events_sent_total",
			Help: "Events delivered to clients by event name.",
		}, []string{"event"}),
		EventSendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamagent_event_send_failures_total",
			Help: "Event deliveries that failed on a closed or broken channel.",
		}),
		ExecutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamagent_executions_total",
			Help: "Agent executions by terminal outcome.",
		}, []string{"outcome"}),
		ExecutionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamagent_execution_duration_seconds",
			Help:    "Agent execution wall time.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		CompactionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamagent_compactions_total",
			Help: "Context compactions by status.",
		}, []string{"status"}),
		CompactionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamagent_compaction_duration_seconds",
			Help:    "History compaction wall time.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		PoolRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamagent_pool_rejections_total",
			Help: "Executions rejected because the worker pool was saturated.",
		}),
		PendingInterruptions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streamagent_pending_interruptions",
			Help: "Sessions currently paused awaiting a human decision.",
		}),
		LLMRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "streamagent_llm_request_duration_seconds",
			Help:    "LLM provider request latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),
		LLMTokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamagent_llm_tokens_used_total",
			Help: "Token consumption reported by LLM providers.",
		}, []string{"provider", "model", "type"}),
	}
}
