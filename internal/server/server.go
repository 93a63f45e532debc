package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/gymdesk/internal/audit"
	auditdomain "github.com/smallbiznis/gymdesk/internal/audit/domain"
	"github.com/smallbiznis/gymdesk/internal/authorization"
	"github.com/smallbiznis/gymdesk/internal/benefit"
	benefitdomain "github.com/smallbiznis/gymdesk/internal/benefit/domain"
	"github.com/smallbiznis/gymdesk/internal/cache"
	"github.com/smallbiznis/gymdesk/internal/config"
	"github.com/smallbiznis/gymdesk/internal/coupon"
	coupondomain "github.com/smallbiznis/gymdesk/internal/coupon/domain"
	"github.com/smallbiznis/gymdesk/internal/enrollment"
	enrollmentdomain "github.com/smallbiznis/gymdesk/internal/enrollment/domain"
	"github.com/smallbiznis/gymdesk/internal/invoice"
	invoicedomain "github.com/smallbiznis/gymdesk/internal/invoice/domain"
	"github.com/smallbiznis/gymdesk/internal/ledger"
	"github.com/smallbiznis/gymdesk/internal/member"
	memberdomain "github.com/smallbiznis/gymdesk/internal/member/domain"
	"github.com/smallbiznis/gymdesk/internal/notification"
	"github.com/smallbiznis/gymdesk/internal/observability"
	obsmiddleware "github.com/smallbiznis/gymdesk/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/gymdesk/internal/observability/metrics"
	obstracing "github.com/smallbiznis/gymdesk/internal/observability/tracing"
	"github.com/smallbiznis/gymdesk/internal/payment"
	paymentdomain "github.com/smallbiznis/gymdesk/internal/payment/domain"
	"github.com/smallbiznis/gymdesk/internal/plan"
	plandomain "github.com/smallbiznis/gymdesk/internal/plan/domain"
	"github.com/smallbiznis/gymdesk/internal/ratelimit"
	"github.com/smallbiznis/gymdesk/internal/sequence"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	cache.Module,
	notification.Module,
	ratelimit.Module,
	authorization.Module,
	audit.Module,
	ledger.Module,
	sequence.Module,
	plan.Module,
	member.Module,
	coupon.Module,
	benefit.Module,
	invoice.Module,
	payment.Module,
	enrollment.Module,
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if httpMetrics != nil {
		r.Use(httpMetrics.GinMiddleware())
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	log           *zap.Logger
	authzSvc      authorization.Service
	auditSvc      auditdomain.Service
	memberSvc     memberdomain.Service
	benefitSvc    benefitdomain.Service
	planSvc       plandomain.Service
	couponSvc     coupondomain.Service
	enrollmentSvc enrollmentdomain.Service
	invoiceSvc    invoicedomain.Service
	paymentSvc    paymentdomain.Service
	limiter       *ratelimit.WebhookLimiter
	obsMetrics    *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Log           *zap.Logger
	AuthzSvc      authorization.Service
	AuditSvc      auditdomain.Service
	MemberSvc     memberdomain.Service
	BenefitSvc    benefitdomain.Service
	PlanSvc       plandomain.Service
	CouponSvc     coupondomain.Service
	EnrollmentSvc enrollmentdomain.Service
	InvoiceSvc    invoicedomain.Service
	PaymentSvc    paymentdomain.Service
	Limiter       *ratelimit.WebhookLimiter `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics       `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		log:           p.Log.Named("http.server"),
		authzSvc:      p.AuthzSvc,
		auditSvc:      p.AuditSvc,
		memberSvc:     p.MemberSvc,
		benefitSvc:    p.BenefitSvc,
		planSvc:       p.PlanSvc,
		couponSvc:     p.CouponSvc,
		enrollmentSvc: p.EnrollmentSvc,
		invoiceSvc:    p.InvoiceSvc,
		paymentSvc:    p.PaymentSvc,
		limiter:       p.Limiter,
		obsMetrics:    p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1", s.ScopeRequired())

	// -------- Enrollment --------
	api.POST("/enrollments", s.require(authorization.PermissionMembersCreate), s.Enroll)

	// -------- Members --------
	api.GET("/members", s.require(authorization.PermissionMembersView), s.ListMembers)
	api.GET("/members/:id", s.require(authorization.PermissionMembersView), s.GetMember)
	api.GET("/members/:id/memberships", s.require(authorization.PermissionMembersView), s.ListMemberships)
	api.GET("/members/:id/benefits", s.require(authorization.PermissionMembersView), s.ListMemberBenefits)

	// -------- Plans --------
	api.POST("/plans", s.require(authorization.PermissionPlansCreate), s.CreatePlan)
	api.GET("/plans/:id", s.require(authorization.PermissionPlansView), s.GetPlan)

	// -------- Coupons --------
	api.POST("/coupons", s.require(authorization.PermissionCouponsCreate), s.CreateCoupon)
	api.POST("/coupons/validate", s.require(authorization.PermissionCouponsValidate), s.ValidateCoupon)

	// -------- Invoices --------
	api.GET("/invoices", s.require(authorization.PermissionInvoicesView), s.ListInvoices)
	api.POST("/invoices", s.require(authorization.PermissionInvoicesCreate), s.CreateInvoice)
	api.GET("/invoices/:id", s.require(authorization.PermissionInvoicesView), s.GetInvoice)
	api.POST("/invoices/:id/send", s.require(authorization.PermissionInvoicesCreate), s.SendInvoice)
	api.GET("/invoices/:id/payments", s.require(authorization.PermissionInvoicesView), s.ListInvoicePayments)
	api.POST("/invoices/:id/payments", s.require(authorization.PermissionInvoicesPayment), s.RecordPayment)
	api.POST("/invoices/:id/refunds", s.require(authorization.PermissionInvoicesRefund), s.RecordRefund)

	// -------- Audit --------
	api.GET("/audit-logs", s.require(authorization.PermissionAuditLogView), s.ListAuditLogs)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/v1/webhooks/payments", s.WebhookRateLimit(), s.HandlePaymentWebhook)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
