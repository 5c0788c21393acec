package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	RPCCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenrunner_rpc_calls_total",
		Help: "The total number of ledger RPC calls by method and outcome",
	}, []string{"method", "status"})

	RPCLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tokenrunner_rpc_latency_seconds",
		Help:    "Ledger RPC round trip time",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"method"})

	RPCRateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokenrunner_rpc_rate_limit_waits_total",
		Help: "Number of RPC calls delayed by the client side rate limiter",
	})

	// AutofillFee is the last fee computed by the autofill engine
	AutofillFee = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tokenrunner_autofill_fee_drops",
		Help: "Most recently autofilled transaction fee in drops",
	}, []string{"network"})

	LoadFactor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tokenrunner_server_load_factor",
		Help: "Load factor reported by the ledger server",
	}, []string{"network"})

	FeeClamped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenrunner_fee_clamped_total",
		Help: "Number of autofilled fees clamped to the configured maximum",
	}, []string{"network"})

	SigningTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tokenrunner_signing_seconds",
		Help:    "Time taken by the signing backend",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10), // mobile approvals can take minutes
	}, []string{"backend"})

	SigningDeclined = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenrunner_signing_declined_total",
		Help: "Number of signing requests declined by the signer",
	}, []string{"backend"})

	// Submissions counts preliminary engine results by class (tes, tec, tef, tel, tem, ter)
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenrunner_submissions_total",
		Help: "The total number of submitted transactions by preliminary result class",
	}, []string{"network", "class"})

	VerificationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenrunner_verification_outcomes_total",
		Help: "Terminal verification outcomes",
	}, []string{"network", "outcome"})

	VerificationTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tokenrunner_verification_seconds",
		Help:    "Time from submission to a terminal verification outcome",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	}, []string{"network"})

	ItemsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tokenrunner_items",
		Help: "Work items per batch run and status",
	}, []string{"run", "status"})

	RunStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tokenrunner_run_status",
		Help: "Set to 1 for the current status of each batch run",
	}, []string{"run", "status"})

	BatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tokenrunner_batch_seconds",
		Help:    "Duration of a single RunBatch invocation",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"kind"})

	BatchItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenrunner_batch_items_total",
		Help: "Batch items handled per invocation by kind and result",
	}, []string{"kind", "result"})

	ReconcileDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenrunner_reconcile_decisions_total",
		Help: "Operator decisions applied to ambiguous items",
	}, []string{"decision"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tokenrunner_circuit_breaker_state",
		Help: "1 when the circuit breaker is open",
	}, []string{"name"})

	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenrunner_circuit_breaker_trips_total",
		Help: "Number of times the circuit breaker tripped",
	}, []string{"name"})
)
