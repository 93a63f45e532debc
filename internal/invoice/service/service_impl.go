package service

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/gymdesk/internal/audit/domain"
	"github.com/smallbiznis/gymdesk/internal/cache"
	"github.com/smallbiznis/gymdesk/internal/clock"
	"github.com/smallbiznis/gymdesk/internal/config"
	invoicedomain "github.com/smallbiznis/gymdesk/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/gymdesk/internal/ledger/domain"
	memberdomain "github.com/smallbiznis/gymdesk/internal/member/domain"
	"github.com/smallbiznis/gymdesk/internal/notification"
	obsmetrics "github.com/smallbiznis/gymdesk/internal/observability/metrics"
	obstracing "github.com/smallbiznis/gymdesk/internal/observability/tracing"
	sequencedomain "github.com/smallbiznis/gymdesk/internal/sequence/domain"
	"github.com/smallbiznis/gymdesk/pkg/db/pagination"
	"github.com/smallbiznis/gymdesk/pkg/failure"
	"github.com/smallbiznis/gymdesk/pkg/rls"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultPaymentMethod = "CASH"

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Repo        invoicedomain.Repository
	MemberRepo  memberdomain.Repository
	SequenceSvc sequencedomain.Service
	AuditSvc    auditdomain.Service
	LedgerSvc   ledgerdomain.Service         `optional:"true"`
	Clock       clock.Clock                  `optional:"true"`
	Notifier    notification.Dispatcher      `optional:"true"`
	Generations *cache.Generations           `optional:"true"`
	Config      config.Config                `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics          `optional:"true"`
	TxMetrics   *obsmetrics.ReconcileMetrics `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node

	repo        invoicedomain.Repository
	memberRepo  memberdomain.Repository
	sequenceSvc sequencedomain.Service
	auditSvc    auditdomain.Service
	ledgerSvc   ledgerdomain.Service
	clock       clock.Clock
	notifier    notification.Dispatcher
	lists       *cache.ListCache[invoicedomain.ListInvoiceResponse]
	obsMetrics  *obsmetrics.Metrics
	txMetrics   *obsmetrics.ReconcileMetrics
}

func NewService(p ServiceParam) invoicedomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.NewSystemClock()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		genID: p.GenID,

		repo:        p.Repo,
		memberRepo:  p.MemberRepo,
		sequenceSvc: p.SequenceSvc,
		auditSvc:    p.AuditSvc,
		ledgerSvc:   p.LedgerSvc,
		clock:       c,
		notifier:    p.Notifier,
		lists:       cache.NewListCache[invoicedomain.ListInvoiceResponse](cache.ResourceInvoices, p.Generations, p.Config.ListCacheTTL),
		obsMetrics:  p.ObsMetrics,
		txMetrics:   p.TxMetrics,
	}
}

// paymentInput is what every money-in path hands to applyPayment.
type paymentInput struct {
	Amount           decimal.Decimal
	Method           string
	Source           invoicedomain.PaymentSource
	GatewayPaymentID *string
	GatewayOrderID   *string
	Notes            string
}

// IssuePaidTx creates an invoice settled in full, with its payment record and
// journals, inside the caller's transaction.
func (s *Service) IssuePaidTx(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, input invoicedomain.IssuePaidInput) (*invoicedomain.Invoice, error) {
	if input.MemberID == 0 {
		return nil, invoicedomain.ErrInvalidMember
	}
	issuedAt := input.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = s.clock.Now()
	}

	invoice, err := s.buildInvoice(scope, input.MemberID, input.Items, input.Discount, issuedAt)
	if err != nil {
		return nil, err
	}
	number, err := s.sequenceSvc.NextInvoiceNumber(ctx, tx, scope.TenantID, issuedAt)
	if err != nil {
		return nil, failure.Aborted(err)
	}
	invoice.InvoiceNumber = number
	invoice.MembershipID = input.MembershipID
	invoice.CouponID = input.CouponID
	invoice.PaidAmount = invoice.TotalAmount
	invoice.BalanceAmount = decimal.Zero
	invoice.Status = ledgerdomain.InvoiceStatusPaid
	invoice.PaidAt = &issuedAt

	if err := s.repo.InsertInvoice(ctx, tx, invoice); err != nil {
		return nil, failure.Aborted(err)
	}
	if err := s.postInvoice(ctx, tx, scope, invoice, issuedAt); err != nil {
		return nil, failure.Aborted(err)
	}

	if invoice.TotalAmount.IsPositive() {
		method := normalizeMethod(input.PaymentMethod)
		if method == "" {
			method = defaultPaymentMethod
		}
		payment := &invoicedomain.Payment{
			ID:          s.genID.Generate(),
			TenantID:    invoice.TenantID,
			BranchID:    invoice.BranchID,
			InvoiceID:   invoice.ID,
			Amount:      invoice.TotalAmount,
			Method:      method,
			Status:      ledgerdomain.PaymentStatusCompleted,
			Source:      invoicedomain.PaymentSourceEnrollment,
			ProcessedBy: scope.Actor(),
			PaidAt:      issuedAt,
			CreatedAt:   issuedAt,
		}
		if err := s.repo.InsertPayment(ctx, tx, payment); err != nil {
			return nil, failure.Aborted(err)
		}
		if err := s.postPayment(ctx, tx, scope, payment); err != nil {
			return nil, failure.Aborted(err)
		}
	}
	return invoice, nil
}

func (s *Service) CreateInvoice(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (*invoicedomain.Invoice, error) {
	scope, ok := tenantctx.FromContext(ctx)
	if !ok {
		return nil, invoicedomain.ErrInvalidTenant
	}
	if req.MemberID == 0 {
		return nil, invoicedomain.ErrInvalidMember
	}
	if req.DiscountAmount.IsNegative() {
		return nil, invoicedomain.ErrInvalidDiscount
	}

	start := time.Now()
	var invoice *invoicedomain.Invoice
	err := s.inTenantTx(ctx, scope, func(tx *gorm.DB) error {
		member, err := s.memberRepo.FindByID(ctx, tx, scope, req.MemberID)
		if err != nil {
			return failure.Aborted(err)
		}
		if member == nil {
			return memberdomain.ErrMemberNotFound
		}

		now := s.clock.Now()
		invoice, err = s.buildInvoice(scope, member.ID, req.Items, req.DiscountAmount, now)
		if err != nil {
			return err
		}
		if invoice.BranchID == nil {
			invoice.BranchID = member.BranchID
		}
		number, err := s.sequenceSvc.NextInvoiceNumber(ctx, tx, scope.TenantID, now)
		if err != nil {
			return failure.Aborted(err)
		}
		invoice.InvoiceNumber = number
		invoice.Status = ledgerdomain.InvoiceStatusDraft
		invoice.PaidAmount = decimal.Zero
		invoice.BalanceAmount = invoice.TotalAmount
		invoice.DueDate = req.DueDate
		invoice.Notes = strings.TrimSpace(req.Notes)

		if err := s.repo.InsertInvoice(ctx, tx, invoice); err != nil {
			return failure.Aborted(err)
		}
		return s.audit(ctx, tx, "invoice.created", invoice, nil, map[string]any{
			"invoice_number": invoice.InvoiceNumber,
			"total_amount":   invoice.TotalAmount.StringFixed(2),
		})
	})
	s.txMetrics.ObserveTx(obsmetrics.OperationCreateInvoice, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, scope)
	return invoice, nil
}

func (s *Service) SendInvoice(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	scope, ok := tenantctx.FromContext(ctx)
	if !ok {
		return nil, invoicedomain.ErrInvalidTenant
	}

	var invoice *invoicedomain.Invoice
	err := s.inTenantTx(ctx, scope, func(tx *gorm.DB) error {
		var err error
		invoice, err = s.lockInvoice(ctx, tx, scope, id)
		if err != nil {
			return err
		}
		if invoice.Status != ledgerdomain.InvoiceStatusDraft {
			return invoicedomain.ErrInvoiceNotDraft
		}

		before := statusSnapshot(invoice)
		now := s.clock.Now()
		invoice.Status = ledgerdomain.InvoiceStatusSent
		invoice.SentAt = &now
		invoice.UpdatedAt = now
		if err := s.repo.UpdateStatus(ctx, tx, invoice); err != nil {
			return failure.Aborted(err)
		}
		if err := s.postInvoice(ctx, tx, scope, invoice, now); err != nil {
			return failure.Aborted(err)
		}
		return s.audit(ctx, tx, "invoice.sent", invoice, before, nil)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, scope)
	return invoice, nil
}

func (s *Service) GetInvoice(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	scope, ok := tenantctx.FromContext(ctx)
	if !ok {
		return nil, invoicedomain.ErrInvalidTenant
	}
	invoice, err := s.repo.FindByID(ctx, s.db, scope, id)
	if err != nil {
		return nil, failure.Aborted(err)
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *Service) ListInvoices(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	scope, ok := tenantctx.FromContext(ctx)
	if !ok {
		return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidTenant
	}

	var afterID snowflake.ID
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidPageToken
	}
	if cursor != nil {
		afterID, err = snowflake.ParseString(strings.TrimSpace(cursor.ID))
		if err != nil || afterID == 0 {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidPageToken
		}
	}

	limit := req.Limit()
	filter := invoicedomain.ListFilter{
		Status:   req.Status,
		MemberID: req.MemberID,
		AfterID:  afterID,
		Limit:    limit,
	}
	query := listQuery(filter)
	if cached, ok := s.lists.Get(ctx, scope, query); ok {
		return cached, nil
	}

	items, err := s.repo.List(ctx, s.db, scope, filter)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, failure.Aborted(err)
	}
	items, pageInfo, err := pagination.BuildCursorPageInfo(items, limit, func(inv *invoicedomain.Invoice) pagination.Cursor {
		return pagination.Cursor{ID: inv.ID.String()}
	})
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	invoices := make([]invoicedomain.Invoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		invoices = append(invoices, *item)
	}
	resp := invoicedomain.ListInvoiceResponse{PageInfo: *pageInfo, Invoices: invoices}
	s.lists.Set(ctx, scope, query, resp)
	return resp, nil
}

func (s *Service) ListPayments(ctx context.Context, invoiceID snowflake.ID) ([]invoicedomain.Payment, error) {
	scope, ok := tenantctx.FromContext(ctx)
	if !ok {
		return nil, invoicedomain.ErrInvalidTenant
	}
	if _, err := s.GetInvoice(ctx, invoiceID); err != nil {
		return nil, err
	}
	payments, err := s.repo.ListPayments(ctx, s.db, scope, invoiceID)
	if err != nil {
		return nil, failure.Aborted(err)
	}
	return payments, nil
}

// RecordPayment is the interactive entry point for partial or full payments.
func (s *Service) RecordPayment(ctx context.Context, req invoicedomain.RecordPaymentRequest) (*invoicedomain.PaymentResult, error) {
	scope, ok := tenantctx.FromContext(ctx)
	if !ok {
		return nil, invoicedomain.ErrInvalidTenant
	}
	if !req.Amount.IsPositive() {
		return nil, invoicedomain.ErrInvalidAmount
	}
	method := normalizeMethod(req.Method)
	if method == "" {
		return nil, invoicedomain.ErrInvalidMethod
	}

	start := time.Now()
	var result *invoicedomain.PaymentResult
	err := s.inTenantTx(ctx, scope, func(tx *gorm.DB) error {
		invoice, err := s.lockInvoice(ctx, tx, scope, req.InvoiceID)
		if err != nil {
			return err
		}
		payment, err := s.applyPayment(ctx, tx, scope, invoice, paymentInput{
			Amount:           req.Amount,
			Method:           method,
			Source:           invoicedomain.PaymentSourceInteractive,
			GatewayPaymentID: trimmed(req.GatewayPaymentID),
			GatewayOrderID:   trimmed(req.GatewayOrderID),
			Notes:            strings.TrimSpace(req.Notes),
		})
		if err != nil {
			return err
		}
		result = &invoicedomain.PaymentResult{Payment: *payment, Invoice: *invoice}
		return nil
	})
	s.txMetrics.ObserveTx(obsmetrics.OperationRecordPayment, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	s.afterPayment(ctx, scope, &result.Invoice, &result.Payment)
	return result, nil
}

func (s *Service) RecordRefund(ctx context.Context, req invoicedomain.RecordRefundRequest) (*invoicedomain.RefundResult, error) {
	scope, ok := tenantctx.FromContext(ctx)
	if !ok {
		return nil, invoicedomain.ErrInvalidTenant
	}
	if !req.Amount.IsPositive() {
		return nil, invoicedomain.ErrInvalidAmount
	}
	method := normalizeMethod(req.Method)
	if method == "" {
		return nil, invoicedomain.ErrInvalidMethod
	}
	amount := ledgerdomain.RoundMoney(req.Amount)

	start := time.Now()
	var result *invoicedomain.RefundResult
	err := s.inTenantTx(ctx, scope, func(tx *gorm.DB) error {
		invoice, err := s.lockInvoice(ctx, tx, scope, req.InvoiceID)
		if err != nil {
			return err
		}
		if !ledgerdomain.CanRefund(invoice.Status) {
			return invoicedomain.ErrInvoiceNotRefundable
		}
		if amount.GreaterThan(invoice.PaidAmount) {
			return invoicedomain.ErrRefundExceedsPaid
		}

		now := s.clock.Now()
		creditNote, err := s.sequenceSvc.NextCreditNoteNumber(ctx, tx, scope.TenantID, now)
		if err != nil {
			return failure.Aborted(err)
		}

		refund := &invoicedomain.Refund{
			ID:               s.genID.Generate(),
			TenantID:         invoice.TenantID,
			BranchID:         invoice.BranchID,
			InvoiceID:        invoice.ID,
			CreditNoteNumber: creditNote,
			Amount:           amount,
			Method:           method,
			Reason:           strings.TrimSpace(req.Reason),
			GatewayRefundID:  trimmed(req.GatewayRefundID),
			ProcessedBy:      scope.Actor(),
			CreatedAt:        now,
		}
		if err := s.repo.InsertRefund(ctx, tx, refund); err != nil {
			return failure.Aborted(err)
		}

		before := moneySnapshot(invoice)
		invoice.ApplyRefund(amount)
		invoice.UpdatedAt = now
		if err := s.repo.UpdateMoney(ctx, tx, invoice); err != nil {
			return failure.Aborted(err)
		}
		if err := s.postRefund(ctx, tx, scope, refund); err != nil {
			return failure.Aborted(err)
		}
		if err := s.audit(ctx, tx, "invoice.refunded", invoice, before, map[string]any{
			"credit_note_number": creditNote,
			"refund_amount":      amount.StringFixed(2),
			"method":             method,
			"reason":             refund.Reason,
		}); err != nil {
			return err
		}

		result = &invoicedomain.RefundResult{Refund: *refund, CreditNoteNumber: creditNote, Invoice: *invoice}
		return nil
	})
	s.txMetrics.ObserveTx(obsmetrics.OperationRecordRefund, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordRefund(ctx, method)
	s.invalidate(ctx, scope)
	s.notify(ctx, notification.Payload{
		Kind:          notification.KindRefund,
		TenantID:      scope.TenantID,
		MemberID:      result.Invoice.MemberID,
		InvoiceNumber: result.Invoice.InvoiceNumber,
		Amount:        result.Refund.Amount,
	})
	return result, nil
}

// HandlePaymentWebhook applies a gateway delivery at most once per gateway
// payment id. A delivery for an invoice that is already paid is acknowledged
// without writing a payment.
func (s *Service) HandlePaymentWebhook(ctx context.Context, delivery invoicedomain.WebhookDelivery) (*invoicedomain.WebhookResult, error) {
	gatewayPaymentID := strings.TrimSpace(delivery.GatewayPaymentID)
	status := strings.ToUpper(strings.TrimSpace(delivery.Status))
	if delivery.InvoiceID == 0 || gatewayPaymentID == "" || status == "" {
		return nil, invoicedomain.ErrInvalidWebhook
	}
	if status == invoicedomain.GatewayStatusPaid && !delivery.Amount.IsPositive() {
		return nil, invoicedomain.ErrInvalidAmount
	}

	owner, err := s.repo.FindOwner(ctx, s.db, delivery.InvoiceID)
	if err != nil {
		return nil, failure.Aborted(err)
	}
	if owner == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	scope := tenantctx.Scope{TenantID: owner.TenantID, BranchID: owner.BranchID}
	ctx = tenantctx.WithScope(ctx, scope)
	ctx, span := obstracing.StartSpan(ctx, "invoice.payment_webhook", attribute.String("invoice_id", delivery.InvoiceID.String()))
	defer span.End()

	start := time.Now()
	result := &invoicedomain.WebhookResult{}
	err = s.inTenantTx(ctx, scope, func(tx *gorm.DB) error {
		now := s.clock.Now()
		entry := &invoicedomain.PaymentGatewayLog{
			ID:               s.genID.Generate(),
			TenantID:         scope.TenantID,
			InvoiceID:        delivery.InvoiceID,
			GatewayPaymentID: gatewayPaymentID,
			Status:           status,
			Amount:           ledgerdomain.RoundMoney(delivery.Amount),
			Method:           normalizeMethod(delivery.Method),
			Outcome:          invoicedomain.GatewayOutcomeIgnored,
			Payload:          jsonPayload(delivery.Payload),
			ReceivedAt:       now,
		}
		inserted, err := s.repo.InsertGatewayLog(ctx, tx, entry)
		if err != nil {
			return failure.Aborted(err)
		}
		upgraded := false
		if !inserted {
			seen, err := s.repo.FindGatewayLog(ctx, tx, scope.TenantID, gatewayPaymentID)
			if err != nil {
				return failure.Aborted(err)
			}
			// Only a delivery that settled the payment id dedupes; an earlier
			// pending or authorized delivery gives way to the paid one.
			if seen == nil || seen.Outcome != invoicedomain.GatewayOutcomeIgnored || status != invoicedomain.GatewayStatusPaid {
				result.Duplicate = true
				if seen != nil {
					result.Outcome = seen.Outcome
				}
				return nil
			}
			entry.ID = seen.ID
			upgraded = true
		}

		if status != invoicedomain.GatewayStatusPaid {
			result.Outcome = invoicedomain.GatewayOutcomeIgnored
			return nil
		}

		start := time.Now()
		invoice, err := s.repo.FindForUpdate(ctx, tx, scope, delivery.InvoiceID)
		s.txMetrics.ObserveLockWait(obsmetrics.LockResourceInvoiceByID, time.Since(start))
		if err != nil {
			return failure.Aborted(err)
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		result.Invoice = invoice

		switch {
		case invoice.Status == ledgerdomain.InvoiceStatusPaid:
			entry.Outcome = invoicedomain.GatewayOutcomeAlreadyPaid
		case !ledgerdomain.AcceptsPayment(invoice.Status, invoice.BalanceAmount):
			entry.Outcome = invoicedomain.GatewayOutcomeIgnored
		default:
			method := entry.Method
			if method == "" {
				method = "GATEWAY"
			}
			payment, err := s.applyPayment(ctx, tx, scope, invoice, paymentInput{
				Amount:           entry.Amount,
				Method:           method,
				Source:           invoicedomain.PaymentSourceWebhook,
				GatewayPaymentID: &gatewayPaymentID,
			})
			if err != nil {
				return err
			}
			entry.Outcome = invoicedomain.GatewayOutcomeApplied
			entry.PaymentID = &payment.ID
			result.Payment = payment
		}

		result.Outcome = entry.Outcome
		if entry.Outcome == invoicedomain.GatewayOutcomeIgnored && !upgraded {
			return nil
		}
		if err := s.repo.UpdateGatewayLog(ctx, tx, entry); err != nil {
			return failure.Aborted(err)
		}
		return nil
	})
	s.txMetrics.ObserveTx(obsmetrics.OperationPaymentWebhook, time.Since(start), err)
	if err != nil {
		s.obsMetrics.RecordWebhookDelivery(ctx, failure.CodeOf(err))
		return nil, err
	}

	outcome := string(result.Outcome)
	if result.Duplicate {
		outcome = "duplicate"
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	s.obsMetrics.RecordWebhookDelivery(ctx, outcome)
	s.log.Info("payment webhook processed",
		zap.String("tenant_id", scope.TenantID.String()),
		zap.String("invoice_id", delivery.InvoiceID.String()),
		zap.String("gateway_payment_id", gatewayPaymentID),
		zap.String("outcome", outcome),
	)
	if result.Payment != nil {
		s.afterPayment(ctx, scope, result.Invoice, result.Payment)
	}
	return result, nil
}

// applyPayment is the only code path that moves money into an invoice. The
// invoice must have been read under lock in tx.
func (s *Service) applyPayment(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, invoice *invoicedomain.Invoice, in paymentInput) (*invoicedomain.Payment, error) {
	amount := ledgerdomain.RoundMoney(in.Amount)
	if !amount.IsPositive() {
		return nil, invoicedomain.ErrInvalidAmount
	}
	if !ledgerdomain.AcceptsPayment(invoice.Status, invoice.BalanceAmount) {
		return nil, invoicedomain.ErrInvoiceNotPayable
	}

	now := s.clock.Now()
	if err := s.postInvoice(ctx, tx, scope, invoice, now); err != nil {
		return nil, failure.Aborted(err)
	}

	payment := &invoicedomain.Payment{
		ID:               s.genID.Generate(),
		TenantID:         invoice.TenantID,
		BranchID:         invoice.BranchID,
		InvoiceID:        invoice.ID,
		Amount:           amount,
		Method:           in.Method,
		Status:           ledgerdomain.PaymentStatusCompleted,
		Source:           in.Source,
		GatewayPaymentID: in.GatewayPaymentID,
		GatewayOrderID:   in.GatewayOrderID,
		ProcessedBy:      scope.Actor(),
		Notes:            in.Notes,
		PaidAt:           now,
		CreatedAt:        now,
	}
	if err := s.repo.InsertPayment(ctx, tx, payment); err != nil {
		return nil, failure.Aborted(err)
	}

	before := moneySnapshot(invoice)
	invoice.ApplyPayment(amount)
	if invoice.Status == ledgerdomain.InvoiceStatusPaid && invoice.PaidAt == nil {
		invoice.PaidAt = &now
	}
	invoice.UpdatedAt = now
	if err := s.repo.UpdateMoney(ctx, tx, invoice); err != nil {
		return nil, failure.Aborted(err)
	}
	if err := s.postPayment(ctx, tx, scope, payment); err != nil {
		return nil, failure.Aborted(err)
	}

	actor := auditdomain.ActorType("")
	if in.Source == invoicedomain.PaymentSourceWebhook {
		actor = auditdomain.ActorTypeGateway
	}
	if err := s.auditSvc.RecordTx(ctx, tx, auditdomain.Entry{
		Action:       "invoice.payment_recorded",
		ResourceType: "invoice",
		ResourceID:   invoice.ID.String(),
		ActorType:    actor,
		Before:       before,
		After:        moneySnapshot(invoice),
		Metadata: map[string]any{
			"payment_id": payment.ID.String(),
			"amount":     amount.StringFixed(2),
			"method":     in.Method,
			"source":     string(in.Source),
		},
	}); err != nil {
		return nil, failure.Aborted(err)
	}
	return payment, nil
}

func (s *Service) inTenantTx(ctx context.Context, scope tenantctx.Scope, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, scope); err != nil {
			return failure.Aborted(err)
		}
		return fn(tx)
	})
}

func (s *Service) lockInvoice(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, id snowflake.ID) (*invoicedomain.Invoice, error) {
	start := time.Now()
	invoice, err := s.repo.FindForUpdate(ctx, tx, scope, id)
	s.txMetrics.ObserveLockWait(obsmetrics.LockResourceInvoiceByID, time.Since(start))
	if err != nil {
		return nil, failure.Aborted(err)
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return invoice, nil
}

// buildInvoice prices line items. Discount is capped so the total never goes negative.
func (s *Service) buildInvoice(scope tenantctx.Scope, memberID snowflake.ID, lines []invoicedomain.LineInput, discount decimal.Decimal, at time.Time) (*invoicedomain.Invoice, error) {
	if len(lines) == 0 {
		return nil, invoicedomain.ErrInvalidItems
	}

	invoiceID := s.genID.Generate()
	items := make([]invoicedomain.InvoiceItem, 0, len(lines))
	subtotal := decimal.Zero
	tax := decimal.Zero
	for _, line := range lines {
		description := strings.TrimSpace(line.Description)
		quantity := line.Quantity
		if quantity.IsZero() {
			quantity = decimal.NewFromInt(1)
		}
		if description == "" || quantity.IsNegative() || line.UnitPrice.IsNegative() || line.TaxRate.IsNegative() {
			return nil, invoicedomain.ErrInvalidItems
		}

		base := quantity.Mul(line.UnitPrice)
		amount := ledgerdomain.RoundMoney(ledgerdomain.ComputeLineTotal(quantity, line.UnitPrice, line.TaxRate))
		subtotal = subtotal.Add(base)
		tax = tax.Add(amount.Sub(ledgerdomain.RoundMoney(base)))

		items = append(items, invoicedomain.InvoiceItem{
			ID:          s.genID.Generate(),
			TenantID:    scope.TenantID,
			InvoiceID:   invoiceID,
			Description: description,
			Quantity:    quantity,
			UnitPrice:   ledgerdomain.RoundMoney(line.UnitPrice),
			TaxRate:     line.TaxRate.Round(2),
			Amount:      amount,
			CreatedAt:   at,
		})
	}

	subtotal = ledgerdomain.RoundMoney(subtotal)
	tax = ledgerdomain.ClampNonNegative(ledgerdomain.RoundMoney(tax))
	gross := subtotal.Add(tax)
	discount = ledgerdomain.ClampNonNegative(ledgerdomain.RoundMoney(discount))
	if discount.GreaterThan(gross) {
		discount = gross
	}
	total := ledgerdomain.ClampNonNegative(gross.Sub(discount))

	return &invoicedomain.Invoice{
		ID:             invoiceID,
		TenantID:       scope.TenantID,
		BranchID:       scope.BranchID,
		MemberID:       memberID,
		Subtotal:       subtotal,
		DiscountAmount: discount,
		TaxAmount:      tax,
		TotalAmount:    total,
		BalanceAmount:  total,
		CreatedBy:      scope.Actor(),
		Items:          items,
		CreatedAt:      at,
		UpdatedAt:      at,
	}, nil
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, action string, invoice *invoicedomain.Invoice, before map[string]any, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	err := s.auditSvc.RecordTx(ctx, tx, auditdomain.Entry{
		Action:       action,
		ResourceType: "invoice",
		ResourceID:   invoice.ID.String(),
		Before:       before,
		After:        moneySnapshot(invoice),
		Metadata:     metadata,
	})
	return failure.Aborted(err)
}

func (s *Service) afterPayment(ctx context.Context, scope tenantctx.Scope, invoice *invoicedomain.Invoice, payment *invoicedomain.Payment) {
	s.obsMetrics.RecordPayment(ctx, string(payment.Source), payment.Method)
	s.invalidate(ctx, scope)
	if invoice == nil {
		return
	}
	s.notify(ctx, notification.Payload{
		Kind:          notification.KindPayment,
		TenantID:      scope.TenantID,
		MemberID:      invoice.MemberID,
		InvoiceNumber: invoice.InvoiceNumber,
		Amount:        payment.Amount,
	})
}

func (s *Service) invalidate(ctx context.Context, scope tenantctx.Scope) {
	if err := s.lists.Invalidate(ctx, scope); err != nil {
		s.log.Warn("invalidate invoice listings", zap.String("tenant_id", scope.TenantID.String()), zap.Error(err))
	}
}

func (s *Service) notify(ctx context.Context, payload notification.Payload) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Dispatch(ctx, payload); err != nil {
		s.log.Warn("notification dispatch failed",
			zap.String("kind", string(payload.Kind)),
			zap.String("invoice_number", payload.InvoiceNumber),
			zap.Error(err),
		)
	}
}

func moneySnapshot(invoice *invoicedomain.Invoice) map[string]any {
	return map[string]any{
		"status":         string(invoice.Status),
		"total_amount":   invoice.TotalAmount.StringFixed(2),
		"paid_amount":    invoice.PaidAmount.StringFixed(2),
		"balance_amount": invoice.BalanceAmount.StringFixed(2),
	}
}

func statusSnapshot(invoice *invoicedomain.Invoice) map[string]any {
	return map[string]any{"status": string(invoice.Status)}
}

func normalizeMethod(method string) string {
	return strings.ToUpper(strings.TrimSpace(method))
}

// jsonPayload keeps the raw gateway body; bodies that are not JSON are dropped
// so the column stays valid on jsonb.
func jsonPayload(payload []byte) datatypes.JSON {
	raw := bytes.TrimSpace(payload)
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return datatypes.JSON(raw)
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		return nil
	}
	return &v
}

func listQuery(filter invoicedomain.ListFilter) string {
	member := ""
	if filter.MemberID != nil {
		member = filter.MemberID.String()
	}
	return "status=" + string(filter.Status) +
		"&member=" + member +
		"&after=" + filter.AfterID.String() +
		"&limit=" + strconv.Itoa(filter.Limit)
}
