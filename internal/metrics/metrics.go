package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels.
// These ensure metrics don't have unbounded label values which can cause memory issues.
const (
	// Circuit breaker reasons (bounded set)
	ReasonMaxDrawdown    = "max_drawdown"
	ReasonHighVolatility = "high_volatility"
	ReasonRateLimit      = "rate_limit"
	ReasonManualHalt     = "manual_halt"
	ReasonOther          = "other"
)

// NormalizeCircuitBreakerReason maps arbitrary reasons to a bounded set, so
// breaker-trip labels don't grow unbounded cardinality off raw error text.
func NormalizeCircuitBreakerReason(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "drawdown"):
		return ReasonMaxDrawdown
	case strings.Contains(lower, "volatility"):
		return ReasonHighVolatility
	case strings.Contains(lower, "rate") || strings.Contains(lower, "limit"):
		return ReasonRateLimit
	case strings.Contains(lower, "manual") || strings.Contains(lower, "halt"):
		return ReasonManualHalt
	default:
		return ReasonOther
	}
}

// HTTP / API metrics
var (
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradesim_api_request_duration_ms",
		Help:    "API request duration in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"method", "path", "status_code"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status_code"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_errors_total",
		Help: "Total number of errors by type and component",
	}, []string{"type", "component"})
)

// Sector / market metrics
var (
	SectorPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradesim_sector_price",
		Help: "Current simulated price by sector",
	}, []string{"sector_id"})

	SectorRiskScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradesim_sector_risk_score",
		Help: "Current risk score (0-100) by sector",
	}, []string{"sector_id"})

	SectorBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradesim_sector_balance",
		Help: "Current balance by sector",
	}, []string{"sector_id"})

	RedisOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_redis_operations_total",
		Help: "Total number of Redis operations by type, for the price-tick cache",
	}, []string{"operation"})

	RedisCacheHitRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradesim_redis_cache_hit_rate",
		Help: "Current Redis cache hit rate for the price-tick cache",
	})
)

// Agent activity metrics
var (
	ActiveAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradesim_active_agents",
		Help: "Number of currently registered agents",
	})

	AgentConfidence = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradesim_agent_confidence",
		Help: "Agent confidence level (0-100) by agent id",
	}, []string{"agent_id", "role"})

	AgentProposals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_agent_proposals_total",
		Help: "Total proposals by agent role and action type",
	}, []string{"role", "action"})
)

// Discussion engine metrics
var (
	DiscussionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradesim_discussions_started_total",
		Help: "Total discussions started",
	})

	DiscussionsDecided = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradesim_discussions_decided_total",
		Help: "Total discussions reaching DECIDED",
	})

	DiscussionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_discussions_closed_total",
		Help: "Total discussions closed, by reason",
	}, []string{"reason"})

	RoundsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_discussion_rounds_completed_total",
		Help: "Total discussion rounds completed by sector",
	}, []string{"sector_id"})

	ChecklistItemsByStatus = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_checklist_items_total",
		Help: "Total checklist items reaching a terminal status",
	}, []string{"status"})

	ManagerDecisionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradesim_manager_decision_duration_ms",
		Help:    "Manager evaluation duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})
)

// LLM adapter metrics
var (
	LLMDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_llm_decisions_total",
		Help: "Total number of LLM-backed proposals by action",
	}, []string{"action"})

	LLMRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradesim_llm_request_duration_ms",
		Help:    "LLM request duration in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000},
	})

	LLMFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_llm_fallbacks_total",
		Help: "Total times the LLM adapter degraded to the neutral HOLD fallback, by reason",
	}, []string{"reason"})
)

// Execution metrics
var (
	TotalTrades = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_trades_total",
		Help: "Total executed trades by action",
	}, []string{"action"})

	TradeNotional = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_trade_notional_total",
		Help: "Total notional value traded by action",
	}, []string{"action"})
)

// Circuit breaker metrics
var (
	CircuitBreakerStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradesim_circuit_breaker_status",
		Help: "Circuit breaker status (1 = open/tripped, 0 = closed)",
	}, []string{"breaker_type"})

	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_circuit_breaker_trips_total",
		Help: "Total number of circuit breaker trips",
	}, []string{"breaker_type", "reason"})
)

// Helper functions to update metrics

// RecordAPIRequest records an API request with duration.
func RecordAPIRequest(method, path, statusCode string, durationMs float64) {
	APIRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationMs)
	HTTPRequests.WithLabelValues(method, path, statusCode).Inc()
}

// RecordError records an error by type and originating component.
func RecordError(errorType, component string) {
	Errors.WithLabelValues(errorType, component).Inc()
}

// RecordRedisOperation records a Redis operation against the price-tick cache.
func RecordRedisOperation(operation string) {
	RedisOperations.WithLabelValues(operation).Inc()
}

// SetSectorTick updates the per-sector gauges after a scheduler tick.
func SetSectorTick(sectorID string, price, riskScore, balance float64) {
	SectorPrice.WithLabelValues(sectorID).Set(price)
	SectorRiskScore.WithLabelValues(sectorID).Set(riskScore)
	SectorBalance.WithLabelValues(sectorID).Set(balance)
}

// RecordAgentProposal records a worker agent's proposal.
func RecordAgentProposal(role, action string, confidence float64, agentID string) {
	AgentProposals.WithLabelValues(role, action).Inc()
	AgentConfidence.WithLabelValues(agentID, role).Set(confidence)
}

// RecordDiscussionStarted records a new discussion.
func RecordDiscussionStarted() { DiscussionsStarted.Inc() }

// RecordDiscussionDecided records a discussion reaching DECIDED.
func RecordDiscussionDecided() { DiscussionsDecided.Inc() }

// RecordDiscussionClosed records a discussion closing for reason.
func RecordDiscussionClosed(reason string) { DiscussionsClosed.WithLabelValues(reason).Inc() }

// RecordRoundCompleted records one completed discussion round for sectorID.
func RecordRoundCompleted(sectorID string) { RoundsCompleted.WithLabelValues(sectorID).Inc() }

// RecordChecklistItem records a checklist item reaching a terminal status.
func RecordChecklistItem(status string) { ChecklistItemsByStatus.WithLabelValues(status).Inc() }

// RecordManagerDecision records one manager evaluation's duration.
func RecordManagerDecision(durationMs float64) { ManagerDecisionDuration.Observe(durationMs) }

// RecordLLMDecision records an LLM-backed proposal and its latency.
func RecordLLMDecision(action string, durationMs float64) {
	LLMDecisions.WithLabelValues(action).Inc()
	LLMRequestDuration.Observe(durationMs)
}

// RecordLLMFallback records a degrade-to-HOLD fallback and its reason.
func RecordLLMFallback(reason string) { LLMFallbacks.WithLabelValues(reason).Inc() }

// RecordTrade records a completed trade's action and notional value.
func RecordTrade(action string, notional float64) {
	TotalTrades.WithLabelValues(action).Inc()
	TradeNotional.WithLabelValues(action).Add(notional)
}

// UpdateCircuitBreaker updates circuit breaker status.
func UpdateCircuitBreaker(breakerType string, open bool) {
	status := 0.0
	if open {
		status = 1.0
	}
	CircuitBreakerStatus.WithLabelValues(breakerType).Set(status)
}

// RecordCircuitBreakerTrip records a circuit breaker trip with a normalized reason.
func RecordCircuitBreakerTrip(breakerType, reason string) {
	normalizedReason := NormalizeCircuitBreakerReason(reason)
	CircuitBreakerTrips.WithLabelValues(breakerType, normalizedReason).Inc()
}
