package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/gymdesk/internal/authorization"
	coupondomain "github.com/smallbiznis/gymdesk/internal/coupon/domain"
	enrollmentdomain "github.com/smallbiznis/gymdesk/internal/enrollment/domain"
	invoicedomain "github.com/smallbiznis/gymdesk/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/gymdesk/internal/ledger/domain"
	memberdomain "github.com/smallbiznis/gymdesk/internal/member/domain"
	"github.com/smallbiznis/gymdesk/internal/observability"
	"github.com/smallbiznis/gymdesk/pkg/failure"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeEnrollmentService struct {
	lastReq enrollmentdomain.EnrollRequest
	scope   tenantctx.Scope
	err     error
}

func (f *fakeEnrollmentService) Enroll(ctx context.Context, req enrollmentdomain.EnrollRequest) (*enrollmentdomain.EnrollResult, error) {
	f.lastReq = req
	f.scope, _ = tenantctx.FromContext(ctx)
	if f.err != nil {
		return nil, f.err
	}
	return &enrollmentdomain.EnrollResult{
		Member:  memberdomain.Member{ID: snowflake.ID(11), MembershipNumber: "MEM-000001", FirstName: req.Member.FirstName},
		Invoice: invoicedomain.Invoice{ID: snowflake.ID(12), InvoiceNumber: "INV-202603-000001", Status: ledgerdomain.InvoiceStatusPaid},
	}, nil
}

type fakeInvoiceService struct {
	invoicedomain.Service
	refundErr error
	refunds   int
}

func (f *fakeInvoiceService) GetInvoice(_ context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	if id != snowflake.ID(12) {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return &invoicedomain.Invoice{ID: id, InvoiceNumber: "INV-202603-000001"}, nil
}

func (f *fakeInvoiceService) RecordRefund(_ context.Context, req invoicedomain.RecordRefundRequest) (*invoicedomain.RefundResult, error) {
	f.refunds++
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	return &invoicedomain.RefundResult{CreditNoteNumber: "CN-202603-000001", Refund: invoicedomain.Refund{InvoiceID: req.InvoiceID, Amount: req.Amount}}, nil
}

type fakePaymentService struct {
	result *invoicedomain.WebhookResult
	err    error
	calls  int
}

func (f *fakePaymentService) IngestWebhook(context.Context, []byte, http.Header) (*invoicedomain.WebhookResult, error) {
	f.calls++
	return f.result, f.err
}

type stubCouponService struct {
	coupondomain.Service
}

type harness struct {
	engine     http.Handler
	enrollment *fakeEnrollmentService
	invoices   *fakeInvoiceService
	payments   *fakePaymentService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	enforcer, err := authorization.NewEnforcer()
	require.NoError(t, err)
	authz, err := authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer})
	require.NoError(t, err)

	h := &harness{
		enrollment: &fakeEnrollmentService{},
		invoices:   &fakeInvoiceService{},
		payments:   &fakePaymentService{},
	}
	engine := NewEngine(observability.Config{Environment: "test"}, nil)
	NewServer(ServerParams{
		Gin:           engine,
		Log:           zap.NewNop(),
		AuthzSvc:      authz,
		CouponSvc:     stubCouponService{},
		EnrollmentSvc: h.enrollment,
		InvoiceSvc:    h.invoices,
		PaymentSvc:    h.payments,
	})
	h.engine = engine
	return h
}

func (h *harness) do(t *testing.T, method, path, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set(HeaderTenant, "42")
		req.Header.Set(HeaderUser, "staff-1")
		req.Header.Set(HeaderRole, role)
	}
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestEnrollRoute(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/enrollments", "front_desk", map[string]any{
		"member":      map[string]any{"first_name": "Ayu", "email": "ayu@example.com"},
		"plan_id":     "99",
		"start_date":  "2026-03-01",
		"coupon_code": " WELCOME ",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, snowflake.ID(99), h.enrollment.lastReq.PlanID)
	assert.Equal(t, "WELCOME", h.enrollment.lastReq.CouponCode)
	assert.Equal(t, 2026, h.enrollment.lastReq.StartDate.Year())
	assert.Equal(t, snowflake.ID(42), h.enrollment.scope.TenantID)
	assert.Equal(t, "staff-1", h.enrollment.scope.UserID)

	var body struct {
		Data enrollmentdomain.EnrollResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "MEM-000001", body.Data.Member.MembershipNumber)
}

func TestEnrollRouteMapsBusinessErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
		code   string
	}{
		{"coupon exhausted", coupondomain.ErrUsageLimitExceeded, http.StatusUnprocessableEntity, "usage_limit_exceeded", "coupon_usage_limit_exceeded"},
		{"coupon plan", coupondomain.ErrPlanNotApplicable, http.StatusUnprocessableEntity, "plan_not_applicable", "coupon_plan_not_applicable"},
		{"coupon minimum", coupondomain.ErrBelowMinimumPurchase, http.StatusUnprocessableEntity, "below_minimum_purchase", "coupon_below_minimum_purchase"},
		{"missing coupon", coupondomain.ErrCouponNotFound, http.StatusNotFound, "not_found", "coupon_not_found"},
		{"storage failure", failure.Aborted(errors.New("deadlock detected")), http.StatusServiceUnavailable, "transaction_aborted", "transaction_aborted"},
		{"bad first name", memberdomain.ErrInvalidFirstName, http.StatusBadRequest, "validation_error", "invalid_first_name"},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, "internal_error", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.enrollment.err = tc.err

			rec := h.do(t, http.MethodPost, "/v1/enrollments", "owner", map[string]any{
				"member":  map[string]any{"first_name": "Ayu"},
				"plan_id": "99",
			})
			assert.Equal(t, tc.status, rec.Code)
			payload := decodeError(t, rec)
			assert.Equal(t, tc.kind, payload.Type)
			assert.Equal(t, tc.code, payload.Code)
		})
	}
}

func TestEnrollRouteRejectsMalformedInput(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/enrollments", "owner", map[string]any{"plan_id": "abc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_plan", decodeError(t, rec).Errors[0].Code)

	rec = h.do(t, http.MethodPost, "/v1/enrollments", "owner", map[string]any{"plan_id": "9", "start_date": "March"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_start_date", decodeError(t, rec).Errors[0].Code)
}

func TestScopeAndPermissionGate(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/v1/invoices/12", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/invoices/12/refunds", "front_desk", map[string]any{"amount": "10", "method": "CASH"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, h.invoices.refunds)

	rec = h.do(t, http.MethodPost, "/v1/invoices/12/refunds", "manager", map[string]any{"amount": "10", "method": "CASH", "reason": "injury"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 1, h.invoices.refunds)

	req := httptest.NewRequest(http.MethodGet, "/v1/invoices/12", nil)
	req.Header.Set(HeaderTenant, "42")
	req.Header.Set(HeaderBranch, "not-a-branch")
	req.Header.Set(HeaderRole, "owner")
	rec = httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefundExceedingPaidIsConflict(t *testing.T) {
	h := newHarness(t)
	h.invoices.refundErr = invoicedomain.ErrRefundExceedsPaid

	rec := h.do(t, http.MethodPost, "/v1/invoices/12/refunds", "owner", map[string]any{"amount": decimal.NewFromInt(500), "method": "CASH"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "invalid_state", payload.Type)
	assert.Equal(t, "refund_exceeds_paid_amount", payload.Code)
}

func TestInvoiceLookup(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/v1/invoices/12", "front_desk", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/invoices/13", "front_desk", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/invoices/xyz", "front_desk", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_id", decodeError(t, rec).Errors[0].Code)
}

func TestPaymentWebhookRoute(t *testing.T) {
	h := newHarness(t)
	h.payments.result = &invoicedomain.WebhookResult{Outcome: invoicedomain.GatewayOutcomeApplied, Duplicate: true}

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payments", bytes.NewReader([]byte(`{"invoiceId":"12","paymentId":"pay_1","status":"PAID","amount":"100"}`)))
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data invoicedomain.WebhookResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Data.Duplicate)
	assert.Equal(t, 1, h.payments.calls)

	h.payments.result = nil
	h.payments.err = invoicedomain.ErrInvoiceNotFound
	req = httptest.NewRequest(http.MethodPost, "/v1/webhooks/payments", bytes.NewReader([]byte(`{}`)))
	rec = httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/v1/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Type)

	rec = h.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClassifyErrorForLog(t *testing.T) {
	kind, code := classifyErrorForLog(coupondomain.ErrUsageLimitExceeded)
	assert.Equal(t, "usage_limit_exceeded", kind)
	assert.Equal(t, "coupon_usage_limit_exceeded", code)

	kind, code = classifyErrorForLog(newValidationError("plan_id", "invalid_plan", "invalid plan_id"))
	assert.Equal(t, "validation_error", kind)
	assert.Equal(t, "invalid_plan", code)
}
