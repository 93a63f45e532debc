package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/gymdesk/internal/audit/domain"
	auditrepo "github.com/smallbiznis/gymdesk/internal/audit/repository"
	auditservice "github.com/smallbiznis/gymdesk/internal/audit/service"
	benefitdomain "github.com/smallbiznis/gymdesk/internal/benefit/domain"
	benefitrepo "github.com/smallbiznis/gymdesk/internal/benefit/repository"
	benefitservice "github.com/smallbiznis/gymdesk/internal/benefit/service"
	"github.com/smallbiznis/gymdesk/internal/clock"
	coupondomain "github.com/smallbiznis/gymdesk/internal/coupon/domain"
	couponrepo "github.com/smallbiznis/gymdesk/internal/coupon/repository"
	couponservice "github.com/smallbiznis/gymdesk/internal/coupon/service"
	enrollmentdomain "github.com/smallbiznis/gymdesk/internal/enrollment/domain"
	invoicedomain "github.com/smallbiznis/gymdesk/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/gymdesk/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/gymdesk/internal/invoice/service"
	ledgerdomain "github.com/smallbiznis/gymdesk/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/gymdesk/internal/ledger/service"
	memberdomain "github.com/smallbiznis/gymdesk/internal/member/domain"
	memberrepo "github.com/smallbiznis/gymdesk/internal/member/repository"
	"github.com/smallbiznis/gymdesk/internal/notification"
	plandomain "github.com/smallbiznis/gymdesk/internal/plan/domain"
	planrepo "github.com/smallbiznis/gymdesk/internal/plan/repository"
	sequencedomain "github.com/smallbiznis/gymdesk/internal/sequence/domain"
	sequenceservice "github.com/smallbiznis/gymdesk/internal/sequence/service"
	"github.com/smallbiznis/gymdesk/internal/testutil"
	"github.com/smallbiznis/gymdesk/pkg/failure"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type recordingNotifier struct {
	payloads []notification.Payload
}

func (r *recordingNotifier) Dispatch(_ context.Context, payload notification.Payload) error {
	r.payloads = append(r.payloads, payload)
	return nil
}

type failingBenefits struct {
	benefitdomain.Service
}

func (failingBenefits) InitializeTx(context.Context, *gorm.DB, *memberdomain.Member, time.Time, []plandomain.BenefitDefinition) ([]benefitdomain.MemberBenefitBalance, error) {
	return nil, errors.New("benefit store unavailable")
}

// racingCoupons lets another redeemer take the last slot between the
// pre-check and the claim.
type racingCoupons struct {
	coupondomain.Service
}

func (r racingCoupons) Claim(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, coupon *coupondomain.Coupon) error {
	if err := tx.Model(&coupondomain.Coupon{}).
		Where("id = ?", coupon.ID).
		Update("current_usage_count", gorm.Expr("current_usage_count + 1")).Error; err != nil {
		return err
	}
	return r.Service.Claim(ctx, tx, scope, coupon)
}

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	scope    tenantctx.Scope
	ctx      context.Context
	ledger   ledgerdomain.Service
	coupons  coupondomain.Service
	notifier *recordingNotifier
	params   Params
	svc      enrollmentdomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	log := zap.NewNop()
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC))

	sequences := sequenceservice.NewService(sequenceservice.Params{Log: log})
	audits := auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node, Repo: auditrepo.Provide(), Clock: fake})
	ledger := ledgerservice.NewService(ledgerservice.Params{DB: db, Log: log, GenID: node})
	coupons := couponservice.NewService(couponservice.Params{DB: db, Log: log, GenID: node, Repo: couponrepo.Provide(), Clock: fake})
	invoices := invoiceservice.NewService(invoiceservice.ServiceParam{
		DB:          db,
		Log:         log,
		GenID:       node,
		Repo:        invoicerepo.Provide(),
		MemberRepo:  memberrepo.Provide(),
		SequenceSvc: sequences,
		AuditSvc:    audits,
		LedgerSvc:   ledger,
		Clock:       fake,
	})
	notifier := &recordingNotifier{}

	params := Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		PlanRepo:    planrepo.Provide(),
		MemberRepo:  memberrepo.Provide(),
		CouponSvc:   coupons,
		BenefitSvc:  benefitservice.NewService(benefitservice.Params{DB: db, Log: log, GenID: node, Repo: benefitrepo.Provide(), Clock: fake}),
		InvoiceSvc:  invoices,
		SequenceSvc: sequences,
		AuditSvc:    audits,
		Clock:       fake,
		Notifier:    notifier,
	}

	scope := tenantctx.Scope{TenantID: node.Generate(), UserID: "front-desk"}
	return &fixture{
		db:       db,
		node:     node,
		clock:    fake,
		scope:    scope,
		ctx:      tenantctx.WithScope(context.Background(), scope),
		ledger:   ledger,
		coupons:  coupons,
		notifier: notifier,
		params:   params,
		svc:      NewService(params),
	}
}

func (f *fixture) plan(t *testing.T, price, setupFee string, benefits ...plandomain.BenefitDefinition) *plandomain.MembershipPlan {
	t.Helper()
	plan := &plandomain.MembershipPlan{
		ID:           f.node.Generate(),
		TenantID:     f.scope.TenantID,
		Name:         "Gold",
		Price:        decimal.RequireFromString(price),
		SetupFee:     decimal.RequireFromString(setupFee),
		DurationDays: 30,
		IsActive:     true,
		CreatedAt:    f.clock.Now(),
		UpdatedAt:    f.clock.Now(),
	}
	require.NoError(t, f.db.Create(plan).Error)
	for i := range benefits {
		benefits[i].ID = f.node.Generate()
		benefits[i].TenantID = f.scope.TenantID
		benefits[i].PlanID = plan.ID
		benefits[i].CreatedAt = f.clock.Now()
		require.NoError(t, f.db.Create(&benefits[i]).Error)
	}
	return plan
}

func (f *fixture) coupon(t *testing.T, code string, mutate func(*coupondomain.Coupon)) *coupondomain.Coupon {
	t.Helper()
	coupon := &coupondomain.Coupon{
		ID:            f.node.Generate(),
		TenantID:      f.scope.TenantID,
		Code:          code,
		DiscountType:  coupondomain.DiscountTypePercentage,
		DiscountValue: decimal.NewFromInt(10),
		ValidFrom:     f.clock.Now().AddDate(0, 0, -1),
		ValidUntil:    f.clock.Now().AddDate(0, 1, 0),
		IsActive:      true,
		CreatedAt:     f.clock.Now(),
		UpdatedAt:     f.clock.Now(),
	}
	if mutate != nil {
		mutate(coupon)
	}
	require.NoError(t, f.db.Create(coupon).Error)
	return coupon
}

func (f *fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Where("tenant_id = ?", f.scope.TenantID).Count(&n).Error)
	return n
}

func request(planID snowflake.ID, coupon string) enrollmentdomain.EnrollRequest {
	return enrollmentdomain.EnrollRequest{
		Member:     memberdomain.MemberDetails{FirstName: "Rin", LastName: "Okafor", Email: "Rin@Example.com"},
		PlanID:     planID,
		CouponCode: coupon,
	}
}

func TestEnrollChargesPlanAndSetupFee(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, "2999", "500")

	result, err := f.svc.Enroll(f.ctx, request(plan.ID, ""))
	require.NoError(t, err)

	assert.Equal(t, "MEM-000001", result.Member.MembershipNumber)
	assert.Equal(t, "rin@example.com", result.Member.Email)
	assert.NotEmpty(t, result.Member.ReferralCode)
	assert.Equal(t, memberdomain.MemberStatusActive, result.Member.Status)

	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), result.Membership.StartDate)
	assert.Equal(t, time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), result.Membership.EndDate)

	invoice := result.Invoice
	assert.Equal(t, ledgerdomain.InvoiceStatusPaid, invoice.Status)
	assert.True(t, invoice.TotalAmount.Equal(decimal.NewFromInt(3499)), invoice.TotalAmount.String())
	assert.True(t, invoice.PaidAmount.Equal(invoice.TotalAmount))
	assert.True(t, invoice.BalanceAmount.IsZero())
	require.NotNil(t, invoice.MembershipID)
	assert.Equal(t, result.Membership.ID, *invoice.MembershipID)
	assert.Nil(t, result.Usage)

	var items []invoicedomain.InvoiceItem
	require.NoError(t, f.db.Where("invoice_id = ?", invoice.ID).Order("id asc").Find(&items).Error)
	assert.Len(t, items, 2)

	cash, err := f.ledger.Balance(context.Background(), f.scope.TenantID, ledgerdomain.AccountCodeCash)
	require.NoError(t, err)
	assert.True(t, cash.Equal(decimal.NewFromInt(3499)), cash.String())

	var audit auditdomain.AuditLog
	require.NoError(t, f.db.Where("tenant_id = ? AND action = ?", f.scope.TenantID, "member.enrolled").Take(&audit).Error)
	require.NotNil(t, audit.ResourceID)
	assert.Equal(t, result.Member.ID.String(), *audit.ResourceID)

	require.Len(t, f.notifier.payloads, 1)
	sent := f.notifier.payloads[0]
	assert.Equal(t, notification.KindEnrollment, sent.Kind)
	assert.Equal(t, "Gold", sent.PlanName)
	require.NotNil(t, sent.ValidUntil)
	assert.Equal(t, result.Membership.EndDate, *sent.ValidUntil)
}

func TestEnrollAppliesPercentageCoupon(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, "2000", "0")
	coupon := f.coupon(t, "SPRING10", nil)

	result, err := f.svc.Enroll(f.ctx, request(plan.ID, "spring10"))
	require.NoError(t, err)

	assert.True(t, result.Invoice.DiscountAmount.Equal(decimal.NewFromInt(200)))
	assert.True(t, result.Invoice.TotalAmount.Equal(decimal.NewFromInt(1800)), result.Invoice.TotalAmount.String())
	require.NotNil(t, result.Invoice.CouponID)
	assert.Equal(t, coupon.ID, *result.Invoice.CouponID)

	require.NotNil(t, result.Usage)
	assert.Equal(t, result.Member.ID, result.Usage.MemberID)
	assert.Equal(t, result.Invoice.ID, result.Usage.InvoiceID)
	assert.True(t, result.Usage.DiscountAmount.Equal(decimal.NewFromInt(200)))

	var stored coupondomain.Coupon
	require.NoError(t, f.db.First(&stored, "id = ?", coupon.ID).Error)
	assert.Equal(t, 1, stored.CurrentUsageCount)
}

func TestEnrollNeverExceedsCouponCap(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, "1000", "0")
	limit := 1
	coupon := f.coupon(t, "ONCE", func(c *coupondomain.Coupon) { c.MaxUsageCount = &limit })

	_, err := f.svc.Enroll(f.ctx, request(plan.ID, "ONCE"))
	require.NoError(t, err)

	_, err = f.svc.Enroll(f.ctx, request(plan.ID, "ONCE"))
	assert.ErrorIs(t, err, coupondomain.ErrUsageLimitExceeded)

	// A caller holding the pre-redemption row still cannot take the slot.
	err = f.db.Transaction(func(tx *gorm.DB) error {
		return f.coupons.Claim(f.ctx, tx, f.scope, coupon)
	})
	assert.ErrorIs(t, err, coupondomain.ErrUsageLimitExceeded)

	assert.EqualValues(t, 1, f.count(t, &memberdomain.Member{}))
	assert.EqualValues(t, 1, f.count(t, &coupondomain.CouponUsage{}))

	var stored coupondomain.Coupon
	require.NoError(t, f.db.First(&stored, "id = ?", coupon.ID).Error)
	assert.Equal(t, 1, stored.CurrentUsageCount)
}

func TestEnrollLosingClaimRollsBackEverything(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, "1000", "0")
	limit := 1
	coupon := f.coupon(t, "LASTONE", func(c *coupondomain.Coupon) { c.MaxUsageCount = &limit })

	params := f.params
	params.CouponSvc = racingCoupons{Service: f.coupons}
	svc := NewService(params)

	_, err := svc.Enroll(f.ctx, request(plan.ID, "LASTONE"))
	require.Error(t, err)
	assert.ErrorIs(t, err, coupondomain.ErrUsageLimitExceeded)
	assert.Equal(t, failure.KindUsageLimitExceeded, failure.KindOf(err))

	assert.Zero(t, f.count(t, &memberdomain.Member{}))
	assert.Zero(t, f.count(t, &memberdomain.MemberMembership{}))
	assert.Zero(t, f.count(t, &invoicedomain.Invoice{}))
	assert.Zero(t, f.count(t, &invoicedomain.Payment{}))
	assert.Zero(t, f.count(t, &coupondomain.CouponUsage{}))
	assert.Zero(t, f.count(t, &sequencedomain.DocumentSequence{}))
	assert.Zero(t, f.count(t, &auditdomain.AuditLog{}))
	assert.Empty(t, f.notifier.payloads)

	var stored coupondomain.Coupon
	require.NoError(t, f.db.First(&stored, "id = ?", coupon.ID).Error)
	assert.Zero(t, stored.CurrentUsageCount)
}

func TestEnrollRejectsBelowMinimumPurchase(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, "500", "0")
	f.coupon(t, "BIGSPEND", func(c *coupondomain.Coupon) {
		c.MinPurchaseAmount = decimal.NewNullDecimal(decimal.NewFromInt(1000))
	})

	_, err := f.svc.Enroll(f.ctx, request(plan.ID, "BIGSPEND"))
	assert.ErrorIs(t, err, coupondomain.ErrBelowMinimumPurchase)
	assert.Zero(t, f.count(t, &memberdomain.Member{}))
	assert.Zero(t, f.count(t, &invoicedomain.Invoice{}))
}

func TestEnrollRejectsCouponForOtherPlan(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, "500", "0")
	f.coupon(t, "OTHERPLAN", func(c *coupondomain.Coupon) {
		c.ApplicablePlanIDs = datatypes.JSON(`["` + f.node.Generate().String() + `"]`)
	})

	_, err := f.svc.Enroll(f.ctx, request(plan.ID, "OTHERPLAN"))
	assert.ErrorIs(t, err, coupondomain.ErrPlanNotApplicable)
	assert.Zero(t, f.count(t, &memberdomain.Member{}))
}

func TestEnrollRollsBackWhenBenefitsFail(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, "1500", "100")
	coupon := f.coupon(t, "WELCOME", nil)

	params := f.params
	params.BenefitSvc = failingBenefits{}
	svc := NewService(params)

	_, err := svc.Enroll(f.ctx, request(plan.ID, "WELCOME"))
	require.Error(t, err)

	assert.Zero(t, f.count(t, &memberdomain.Member{}))
	assert.Zero(t, f.count(t, &memberdomain.MemberMembership{}))
	assert.Zero(t, f.count(t, &invoicedomain.Invoice{}))
	assert.Zero(t, f.count(t, &invoicedomain.Payment{}))
	assert.Zero(t, f.count(t, &coupondomain.CouponUsage{}))
	assert.Zero(t, f.count(t, &ledgerdomain.LedgerEntry{}))
	assert.Zero(t, f.count(t, &auditdomain.AuditLog{}))

	var stored coupondomain.Coupon
	require.NoError(t, f.db.First(&stored, "id = ?", coupon.ID).Error)
	assert.Zero(t, stored.CurrentUsageCount)
	assert.Empty(t, f.notifier.payloads)

	// Numbering resumes where the failed attempt would have started.
	result, err := f.svc.Enroll(f.ctx, request(plan.ID, "WELCOME"))
	require.NoError(t, err)
	assert.Equal(t, "MEM-000001", result.Member.MembershipNumber)
}

func TestEnrollInitializesBenefitBalances(t *testing.T) {
	f := newFixture(t)
	classCap := 8
	expiry := 30
	plan := f.plan(t, "800", "0",
		plandomain.BenefitDefinition{BenefitType: "CLASS_PASS", Name: "Classes", AccrualQuantity: 10, AccrualType: plandomain.AccrualTypeMonthly, MaxBalance: &classCap},
		plandomain.BenefitDefinition{BenefitType: "GUEST_PASS", Name: "Guests", AccrualQuantity: 2, AccrualType: plandomain.AccrualTypeOneTime, ExpiryDays: &expiry},
	)

	result, err := f.svc.Enroll(f.ctx, request(plan.ID, ""))
	require.NoError(t, err)
	require.Len(t, result.Benefits, 2)

	byType := map[string]benefitdomain.MemberBenefitBalance{}
	for _, b := range result.Benefits {
		byType[b.BenefitType] = b
	}
	assert.Equal(t, 8, byType["CLASS_PASS"].CurrentBalance)
	assert.Equal(t, 2, byType["GUEST_PASS"].CurrentBalance)
	require.NotNil(t, byType["GUEST_PASS"].ExpiryDate)
	assert.Equal(t, result.Membership.StartDate.AddDate(0, 0, 30), *byType["GUEST_PASS"].ExpiryDate)
	assert.EqualValues(t, 2, f.count(t, &benefitdomain.MemberBenefitBalance{}))
}

func TestEnrollHonoursRequestedWindow(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, "100", "0")

	req := request(plan.ID, "")
	req.StartDate = time.Date(2026, 4, 15, 18, 0, 0, 0, time.UTC)
	req.DurationDays = 7
	result, err := f.svc.Enroll(f.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC), result.Membership.StartDate)
	assert.Equal(t, time.Date(2026, 4, 22, 0, 0, 0, 0, time.UTC), result.Membership.EndDate)
}

func TestEnrollValidation(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, "100", "0")

	_, err := f.svc.Enroll(context.Background(), request(plan.ID, ""))
	assert.ErrorIs(t, err, enrollmentdomain.ErrInvalidTenant)

	_, err = f.svc.Enroll(f.ctx, request(0, ""))
	assert.ErrorIs(t, err, enrollmentdomain.ErrInvalidPlan)

	req := request(plan.ID, "")
	req.Member.FirstName = "  "
	_, err = f.svc.Enroll(f.ctx, req)
	assert.ErrorIs(t, err, memberdomain.ErrInvalidFirstName)

	req = request(plan.ID, "")
	req.DurationDays = -1
	_, err = f.svc.Enroll(f.ctx, req)
	assert.ErrorIs(t, err, enrollmentdomain.ErrInvalidDuration)

	_, err = f.svc.Enroll(f.ctx, request(f.node.Generate(), ""))
	assert.ErrorIs(t, err, plandomain.ErrPlanNotFound)

	_, err = f.svc.Enroll(f.ctx, request(plan.ID, "NOPE"))
	assert.ErrorIs(t, err, coupondomain.ErrCouponNotFound)

	req = request(plan.ID, "")
	missing := f.node.Generate()
	req.Member.ReferredBy = &missing
	_, err = f.svc.Enroll(f.ctx, req)
	assert.ErrorIs(t, err, memberdomain.ErrReferrerNotFound)

	branch := f.node.Generate()
	other := f.node.Generate()
	branchCtx := tenantctx.WithScope(context.Background(), tenantctx.Scope{TenantID: f.scope.TenantID, BranchID: &branch})
	req = request(plan.ID, "")
	req.BranchID = &other
	_, err = f.svc.Enroll(branchCtx, req)
	assert.ErrorIs(t, err, enrollmentdomain.ErrInvalidBranch)

	assert.Zero(t, f.count(t, &memberdomain.Member{}))
}

func TestEnrollRecordsReferrer(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, "100", "0")

	first, err := f.svc.Enroll(f.ctx, request(plan.ID, ""))
	require.NoError(t, err)

	req := request(plan.ID, "")
	req.Member.FirstName = "Sol"
	req.Member.ReferredBy = &first.Member.ID
	second, err := f.svc.Enroll(f.ctx, req)
	require.NoError(t, err)

	require.NotNil(t, second.Member.ReferredBy)
	assert.Equal(t, first.Member.ID, *second.Member.ReferredBy)
	assert.Equal(t, "MEM-000002", second.Member.MembershipNumber)
	assert.NotEqual(t, first.Member.ReferralCode, second.Member.ReferralCode)
}
