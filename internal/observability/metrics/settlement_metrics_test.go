package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifyErrorReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: ErrorReasonDeadlineExceeded},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: ErrorReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: ErrorReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: ErrorReasonUniqueViolation},
		{name: "other pg error", err: &pgconn.PgError{Code: "42P01"}, want: ErrorReasonDB},
		{name: "unknown", err: errors.New("boom"), want: ErrorReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyErrorReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestRecordLegAddsAmountOnlyWhenCompleted(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewSettlementMetrics(registry, Config{ServiceName: "gigpay", Environment: "test"})

	m.RecordLeg("PROVIDER_PAYOUT", LegOutcomeCompleted, "ngn", 90_000)
	m.RecordLeg("PROVIDER_PAYOUT", LegOutcomeProcessing, "ngn", 90_000)

	if got := testutil.ToFloat64(m.legs.WithLabelValues("PROVIDER_PAYOUT", LegOutcomeCompleted)); got != 1 {
		t.Fatalf("expected 1 completed leg, got %v", got)
	}
	if got := testutil.ToFloat64(m.legAmount.WithLabelValues("PROVIDER_PAYOUT", "NGN")); got != 90_000 {
		t.Fatalf("expected amount 90000, got %v", got)
	}
}

func TestObserveSweepSetsCandidates(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewSettlementMetrics(registry, Config{})

	m.ObserveSweep("ok", 20*time.Millisecond, 7)
	m.AddSweepBookings("settled", 3)
	m.AddSweepBookings("settled", 0)

	if got := testutil.ToFloat64(m.pendingLegs); got != 7 {
		t.Fatalf("expected gauge 7, got %v", got)
	}
	if got := testutil.ToFloat64(m.sweepBookings.WithLabelValues("settled")); got != 3 {
		t.Fatalf("expected 3 settled, got %v", got)
	}
	if got := testutil.ToFloat64(m.sweepRuns.WithLabelValues("ok")); got != 1 {
		t.Fatalf("expected one run, got %v", got)
	}
}

func TestNilSettlementMetricsIsSafe(t *testing.T) {
	var m *SettlementMetrics
	m.RecordTransition("A", "B")
	m.RecordLeg("REFUND", LegOutcomeFailed, "NGN", 1)
	m.ObserveGatewayCall("transfer", GatewayResultOK, time.Second)
	m.ObserveSweep("ok", time.Second, 1)
	m.AddSweepBookings("ok", 1)
	m.RecordWebhook("paystack", "processed")
}
