package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	LegOutcomeCompleted  = "completed"
	LegOutcomeProcessing = "processing"
	LegOutcomeFailed     = "failed"
	LegOutcomeSkipped    = "skipped"
	LegOutcomeBlocked    = "blocked"
)

const (
	GatewayResultOK          = "ok"
	GatewayResultRejected    = "rejected"
	GatewayResultUnavailable = "unavailable"
	GatewayResultTimeout     = "timeout"
)

const (
	ErrorReasonDeadlineExceeded     = "deadline_exceeded"
	ErrorReasonDBLockTimeout        = "db_lock_timeout"
	ErrorReasonSerializationFailure = "serialization_failure"
	ErrorReasonUniqueViolation      = "unique_violation"
	ErrorReasonDB                   = "db"
	ErrorReasonUnknown              = "unknown"
)

// SettlementMetrics captures booking and payout health signals.
type SettlementMetrics struct {
	transitions     *prometheus.CounterVec
	legs            *prometheus.CounterVec
	legAmount       *prometheus.CounterVec
	gatewayCalls    *prometheus.HistogramVec
	sweepRuns       *prometheus.CounterVec
	sweepDuration   prometheus.Observer
	sweepBookings   *prometheus.CounterVec
	pendingLegs     prometheus.Gauge
	webhookOutcomes *prometheus.CounterVec
}

var (
	settlementMetricsOnce sync.Once
	settlementMetrics     *SettlementMetrics
)

// Settlement returns the process-wide settlement metrics registered on the default registerer.
func Settlement(cfg Config) *SettlementMetrics {
	settlementMetricsOnce.Do(func() {
		settlementMetrics = NewSettlementMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return settlementMetrics
}

// NewSettlementMetrics registers a fresh set of collectors on registerer.
func NewSettlementMetrics(registerer prometheus.Registerer, cfg Config) *SettlementMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "gigpay"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "gigpay_booking_transitions_total",
		Help:        "Committed booking state transitions.",
		ConstLabels: constLabels,
	}, []string{"from", "to"})
	legs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "gigpay_settlement_legs_total",
		Help:        "Settlement leg outcomes by transaction kind.",
		ConstLabels: constLabels,
	}, []string{"kind", "outcome"})
	legAmount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "gigpay_settlement_amount_minor_total",
		Help:        "Minor currency units moved by completed settlement legs.",
		ConstLabels: constLabels,
	}, []string{"kind", "currency"})
	gatewayCalls := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "gigpay_gateway_call_duration_seconds",
		Help:        "Outbound gateway call latency by operation and result.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		ConstLabels: constLabels,
	}, []string{"operation", "result"})
	sweepRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "gigpay_settlement_sweep_runs_total",
		Help:        "Retry sweep runs by result.",
		ConstLabels: constLabels,
	}, []string{"result"})
	sweepDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "gigpay_settlement_sweep_duration_seconds",
		Help:        "Retry sweep wall time.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		ConstLabels: constLabels,
	})
	sweepBookings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "gigpay_settlement_sweep_bookings_total",
		Help:        "Bookings visited by the retry sweep by result.",
		ConstLabels: constLabels,
	}, []string{"result"})
	pendingLegs := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "gigpay_settlement_sweep_candidates",
		Help:        "Bookings selected by the most recent sweep.",
		ConstLabels: constLabels,
	})
	webhookOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "gigpay_gateway_webhooks_total",
		Help:        "Gateway webhook deliveries by provider and outcome.",
		ConstLabels: constLabels,
	}, []string{"provider", "outcome"})

	registerer.MustRegister(
		transitions,
		legs,
		legAmount,
		gatewayCalls,
		sweepRuns,
		sweepDuration,
		sweepBookings,
		pendingLegs,
		webhookOutcomes,
	)

	return &SettlementMetrics{
		transitions:     transitions,
		legs:            legs,
		legAmount:       legAmount,
		gatewayCalls:    gatewayCalls,
		sweepRuns:       sweepRuns,
		sweepDuration:   sweepDuration,
		sweepBookings:   sweepBookings,
		pendingLegs:     pendingLegs,
		webhookOutcomes: webhookOutcomes,
	}
}

func (m *SettlementMetrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordLeg counts a leg outcome. Amount is only added for completed legs.
func (m *SettlementMetrics) RecordLeg(kind, outcome, currency string, amount int64) {
	if m == nil {
		return
	}
	m.legs.WithLabelValues(kind, outcome).Inc()
	if outcome == LegOutcomeCompleted && amount > 0 {
		m.legAmount.WithLabelValues(kind, strings.ToUpper(currency)).Add(float64(amount))
	}
}

func (m *SettlementMetrics) ObserveGatewayCall(operation, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(operation, result).Observe(duration.Seconds())
}

func (m *SettlementMetrics) ObserveSweep(result string, duration time.Duration, candidates int) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(result).Inc()
	m.sweepDuration.Observe(duration.Seconds())
	m.pendingLegs.Set(float64(candidates))
}

func (m *SettlementMetrics) AddSweepBookings(result string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.sweepBookings.WithLabelValues(result).Add(float64(count))
}

func (m *SettlementMetrics) RecordWebhook(provider, outcome string) {
	if m == nil {
		return
	}
	m.webhookOutcomes.WithLabelValues(provider, outcome).Inc()
}

// ClassifyErrorReason maps infrastructure errors to low-cardinality reasons.
func ClassifyErrorReason(err error) string {
	if err == nil {
		return ErrorReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorReasonDeadlineExceeded
	}
	if hasPGCode(err, "55P03") {
		return ErrorReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return ErrorReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return ErrorReasonUniqueViolation
	}
	if isDBError(err) {
		return ErrorReasonDB
	}
	return ErrorReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
