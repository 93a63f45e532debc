package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/gymdesk/pkg/failure"
	"gorm.io/gorm"
)

func TestClassifyReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: ReasonDeadlineExceeded},
		{name: "business", err: failure.New(failure.KindUsageLimitExceeded, "coupon_usage_limit_exceeded"), want: ReasonBusinessRule},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: ReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: ReasonSerializationFailure},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, want: ReasonDeadlock},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: ReasonUniqueViolation},
		{name: "unknown", err: errors.New("boom"), want: ReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestObserveTxCountsErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewReconcileMetrics(reg, Config{ServiceName: "gymdesk", Environment: "test"})

	m.ObserveTx(OperationEnroll, 10*time.Millisecond, nil)
	m.ObserveTx(OperationEnroll, 10*time.Millisecond, errors.New("boom"))
	m.IncClaimConflict()
	m.IncLockBusy(LockResourcePayment)

	if got := testutil.ToFloat64(m.txErrors.WithLabelValues(OperationEnroll, ReasonUnknown)); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	if got := testutil.ToFloat64(m.claimConflicts); got != 1 {
		t.Fatalf("expected 1 claim conflict, got %v", got)
	}
	if got := testutil.ToFloat64(m.lockBusy.WithLabelValues(LockResourcePayment)); got != 1 {
		t.Fatalf("expected 1 busy lock, got %v", got)
	}
}

func TestNilReconcileMetricsIsSafe(t *testing.T) {
	var m *ReconcileMetrics
	m.ObserveTx(OperationRecordPayment, time.Second, errors.New("boom"))
	m.ObserveLockWait(LockResourceInvoiceByID, time.Second)
	m.IncClaimConflict()
	m.IncLockBusy(LockResourcePayment)
}
