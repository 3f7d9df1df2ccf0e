package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for PotLedger.
type Metrics struct {
	// --- Round lifecycle ---
	RoundsOpened   prometheus.Counter
	RoundsSettled  prometheus.Counter
	RoundsFailed   *prometheus.CounterVec
	RoundsSkipped  prometheus.Counter
	RoundDuration  prometheus.Histogram
	CurrentRoundID prometheus.Gauge
	CurrentPhase   *prometheus.GaugeVec

	// --- Deposits ---
	DepositsAccepted *prometheus.CounterVec
	DepositsRejected *prometheus.CounterVec
	PotTotal         prometheus.Gauge
	PotParticipants  prometheus.Gauge
	DepositValue     prometheus.Histogram

	// --- Draw ---
	DrawDuration prometheus.Histogram
	DrawRetries  prometheus.Counter
	DrawFailures prometheus.Counter

	// --- Settlement & confirmations ---
	PlansBuilt           *prometheus.CounterVec
	PlanInstructions     prometheus.Histogram
	ConfirmationsApplied prometheus.Counter
	ConfirmationsExpired prometheus.Counter
	ConfirmationDupes    prometheus.Counter
	PendingSubmissions   prometheus.Gauge

	// --- Oracle ---
	OracleRequests *prometheus.CounterVec
	OracleDuration prometheus.Histogram
	OracleRetries  prometheus.Counter

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     prometheus.Counter
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Persistence ---
	PersistRecordsWritten *prometheus.CounterVec
	PersistBatchSize      prometheus.Histogram
	PersistBatchDur       prometheus.Histogram
	PersistErrors         *prometheus.CounterVec
	PersistRetry          prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	WSClients     prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	drawBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Round lifecycle
		RoundsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pot_rounds_opened_total",
			Help: "Rounds opened for deposits",
		}),

		RoundsSettled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pot_rounds_settled_total",
			Help: "Rounds settled with a winner",
		}),

		RoundsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pot_rounds_failed_total",
			Help: "Rounds that failed to settle",
		}, []string{"reason"}),

		RoundsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pot_rounds_skipped_total",
			Help: "Rounds reset without a draw (zero deposits)",
		}),

		RoundDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pot_round_duration_seconds",
			Help:    "Wall time from round open to settle",
			Buckets: []float64{30, 45, 54, 60, 75, 90, 120, 180},
		}),

		CurrentRoundID: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pot_current_round_id",
			Help: "ID of the current round",
		}),

		CurrentPhase: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pot_current_phase",
			Help: "1 for the active phase, 0 otherwise",
		}, []string{"phase"}),

		// Deposits
		DepositsAccepted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pot_deposits_accepted_total",
			Help: "Deposits recorded into the pot",
		}, []string{"symbol"}),

		DepositsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pot_deposits_rejected_total",
			Help: "Deposits rejected (phase, dust, unknown asset, funds)",
		}, []string{"reason"}),

		PotTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pot_total_value",
			Help: "Current round pot total (fixed-point value units)",
		}),

		PotParticipants: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pot_participants",
			Help: "Distinct participants in the current round",
		}),

		DepositValue: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pot_deposit_value",
			Help:    "Value of accepted deposits (fixed-point value units)",
			Buckets: prometheus.ExponentialBuckets(1e6, 10, 8),
		}),

		// Draw
		DrawDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pot_draw_duration_seconds",
			Help:    "Time to select a winner",
			Buckets: drawBuckets,
		}),

		DrawRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pot_draw_retries_total",
			Help: "Draw attempts beyond the first",
		}),

		DrawFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pot_draw_failures_total",
			Help: "Draws that exhausted all retries",
		}),

		// Settlement & confirmations
		PlansBuilt: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pot_transfer_plans_built_total",
			Help: "Transfer plans built",
		}, []string{"kind"}),

		PlanInstructions: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pot_transfer_plan_instructions",
			Help:    "Instructions per transfer plan",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16},
		}),

		ConfirmationsApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pot_confirmations_applied_total",
			Help: "Transfer confirmations applied to the ledger",
		}),

		ConfirmationsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pot_confirmations_expired_total",
			Help: "Submissions expired before confirmation",
		}),

		ConfirmationDupes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pot_confirmation_duplicates_total",
			Help: "Duplicate transaction references rejected",
		}),

		PendingSubmissions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pot_pending_submissions",
			Help: "Submissions awaiting confirmation",
		}),

		// Oracle
		OracleRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pot_oracle_requests_total",
			Help: "Balance oracle lookups",
		}, []string{"status"}),

		OracleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pot_oracle_request_duration_seconds",
			Help:    "Balance oracle lookup latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),

		OracleRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pot_oracle_retries_total",
			Help: "Oracle request retries",
		}),

		// Channel & Backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pot_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pot_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pot_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pot_projection_drops_total",
			Help: "Events dropped due to full projection channel",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pot_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pot_persist_backpressure_total",
			Help: "Times the controller blocked on the persist channel",
		}),

		// Persistence
		PersistRecordsWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pot_persist_records_written_total",
			Help: "Records written to Postgres",
		}, []string{"table"}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pot_persist_batch_size",
			Help:    "Records per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pot_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pot_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pot_persist_retry_total",
			Help: "Persistence retries",
		}),

		// Query API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pot_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pot_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		WSClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pot_ws_clients",
			Help: "Connected websocket clients",
		}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}

// SetPhase marks one phase gauge as active and clears the rest.
func (m *Metrics) SetPhase(phase string) {
	for _, p := range []string{"starting", "active", "ending", "ended", "failed"} {
		v := 0.0
		if p == phase {
			v = 1.0
		}
		m.CurrentPhase.WithLabelValues(p).Set(v)
	}
}
