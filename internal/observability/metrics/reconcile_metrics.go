package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/gymdesk/pkg/failure"
	"gorm.io/gorm"
)

const (
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonDBLockTimeout        = "db_lock_timeout"
	ReasonSerializationFailure = "serialization_failure"
	ReasonDeadlock             = "deadlock"
	ReasonUniqueViolation      = "unique_violation"
	ReasonBusinessRule         = "business_rule"
	ReasonUnknown              = "unknown"
)

const (
	OperationEnroll         = "enroll"
	OperationRecordPayment  = "record_payment"
	OperationRecordRefund   = "record_refund"
	OperationPaymentWebhook = "payment_webhook"
	OperationCreateInvoice  = "create_invoice"
)

const (
	LockResourceInvoiceByID = "invoice_by_id"
	LockResourceSequence    = "document_sequence"
	LockResourcePayment     = "gateway_payment"
)

// ReconcileMetrics captures transaction health for enrollment and billing writes.
type ReconcileMetrics struct {
	txDuration     *prometheus.HistogramVec
	txErrors       *prometheus.CounterVec
	lockWait       *prometheus.HistogramVec
	claimConflicts prometheus.Counter
	lockBusy       *prometheus.CounterVec
	lockObservers  map[string]prometheus.Observer
}

var (
	reconcileMetricsOnce sync.Once
	reconcileMetrics     *ReconcileMetrics
)

// Reconcile returns the process-wide registry registered on the default registerer.
func Reconcile() *ReconcileMetrics {
	return ReconcileWithConfig(Config{})
}

// ReconcileWithConfig returns the process-wide registry using config labels.
func ReconcileWithConfig(cfg Config) *ReconcileMetrics {
	reconcileMetricsOnce.Do(func() {
		reconcileMetrics = NewReconcileMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return reconcileMetrics
}

// NewReconcileMetrics registers the collectors on registerer.
func NewReconcileMetrics(registerer prometheus.Registerer, cfg Config) *ReconcileMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "gymdesk"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	txDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "gymdesk_tx_duration_seconds",
		Help:        "Duration of enrollment and billing transactions.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		ConstLabels: constLabels,
	}, []string{"operation"})
	txErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "gymdesk_tx_errors_total",
		Help:        "Rolled back transactions by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"operation", "reason"})
	lockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "gymdesk_db_lock_wait_seconds",
		Help:        "Row lock wait time for SELECT FOR UPDATE contention.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		ConstLabels: constLabels,
	}, []string{"resource"})
	claimConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "gymdesk_coupon_claim_conflicts_total",
		Help:        "Coupon claims lost to a concurrent redeemer after the pre-check passed.",
		ConstLabels: constLabels,
	})

	lockBusy := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "gymdesk_lock_busy_total",
		Help:        "Distributed lock attempts that found the lock already held.",
		ConstLabels: constLabels,
	}, []string{"resource"})

	registerer.MustRegister(txDuration, txErrors, lockWait, claimConflicts, lockBusy)

	return &ReconcileMetrics{
		txDuration:     txDuration,
		txErrors:       txErrors,
		lockWait:       lockWait,
		claimConflicts: claimConflicts,
		lockBusy:       lockBusy,
		lockObservers: map[string]prometheus.Observer{
			LockResourceInvoiceByID: lockWait.WithLabelValues(LockResourceInvoiceByID),
			LockResourceSequence:    lockWait.WithLabelValues(LockResourceSequence),
		},
	}
}

// ObserveTx records a finished transaction and classifies its error, if any.
func (m *ReconcileMetrics) ObserveTx(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.txDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.txErrors.WithLabelValues(operation, ClassifyReason(err)).Inc()
	}
}

// ObserveLockWait records how long a row lock took to acquire.
func (m *ReconcileMetrics) ObserveLockWait(resource string, duration time.Duration) {
	if m == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	if observer, ok := m.lockObservers[resource]; ok {
		observer.Observe(duration.Seconds())
		return
	}
	m.lockWait.WithLabelValues(resource).Observe(duration.Seconds())
}

// IncClaimConflict counts a coupon claim that matched zero rows.
func (m *ReconcileMetrics) IncClaimConflict() {
	if m == nil {
		return
	}
	m.claimConflicts.Inc()
}

// IncLockBusy counts a lock attempt lost to another holder.
func (m *ReconcileMetrics) IncLockBusy(resource string) {
	if m == nil {
		return
	}
	m.lockBusy.WithLabelValues(resource).Inc()
}

// ClassifyReason maps an error to a low-cardinality reason label.
func ClassifyReason(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonDeadlineExceeded
	}
	if failure.IsBusiness(err) {
		return ReasonBusinessRule
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ReasonUniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03":
			return ReasonDBLockTimeout
		case "40001":
			return ReasonSerializationFailure
		case "40P01":
			return ReasonDeadlock
		case "23505":
			return ReasonUniqueViolation
		}
	}
	return ReasonUnknown
}
