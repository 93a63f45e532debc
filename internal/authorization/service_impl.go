package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	auditdomain "github.com/smallbiznis/gymdesk/internal/audit/domain"
	"github.com/smallbiznis/gymdesk/internal/config"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	DB       *gorm.DB                    `optional:"true"`
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	Billing  *config.BillingConfigHolder `optional:"true"`
	AuditSvc auditdomain.Service         `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	billing  *config.BillingConfigHolder
	auditSvc auditdomain.Service

	mu     sync.Mutex
	seeded bool
	loaded uint64
}

// NewEnforcer builds an in-memory RBAC enforcer. Policies come from the billing
// config roles and are re-seeded when that config reloads.
func NewEnforcer() (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoBuildRoleLinks(true)
	return enforcer, nil
}

func NewService(p Params) (Service, error) {
	s := &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		billing:  p.Billing,
		auditSvc: p.AuditSvc,
	}
	if err := s.sync(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ServiceImpl) Authorize(ctx context.Context, role string, permission string) error {
	scope, ok := tenantctx.FromContext(ctx)
	if !ok {
		return ErrInvalidActor
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return ErrInvalidRole
	}
	object, action, ok := splitPermission(permission)
	if !ok {
		return ErrInvalidPermission
	}
	if err := s.sync(); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(roleSubject(role), object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, scope, role, permission)
		return ErrForbidden
	}
	return nil
}

// sync reloads policies when the billing config version moved.
func (s *ServiceImpl) sync() error {
	version := s.billing.Version()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seeded && s.loaded == version {
		return nil
	}

	s.enforcer.ClearPolicy()
	if err := seedPolicies(s.enforcer, s.billing.Get().Roles); err != nil {
		return err
	}
	s.seeded = true
	s.loaded = version
	s.log.Info("authorization policy loaded", zap.Uint64("version", version))
	return nil
}

func (s *ServiceImpl) auditDenied(ctx context.Context, scope tenantctx.Scope, role, permission string) {
	s.log.Info("permission denied",
		zap.String("tenant_id", scope.TenantID.String()),
		zap.String("role", role),
		zap.String("permission", permission),
	)
	if s.auditSvc == nil || s.db == nil {
		return
	}
	if err := s.auditSvc.RecordTx(ctx, s.db, auditdomain.Entry{
		Action:       "authorization.denied",
		ResourceType: "authorization",
		ResourceID:   permission,
		Metadata: map[string]any{
			"role":       role,
			"permission": permission,
		},
	}); err != nil {
		s.log.Warn("audit denied permission", zap.Error(err))
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer, roles []config.RolePolicy) error {
	var policies [][]string
	for _, role := range roles {
		name := strings.ToLower(strings.TrimSpace(role.Role))
		if name == "" {
			continue
		}
		for _, permission := range role.Permissions {
			object, action, ok := splitPermission(permission)
			if !ok {
				return fmt.Errorf("role %s: invalid permission %q", name, permission)
			}
			policies = append(policies, []string{roleSubject(name), object, action})
		}
	}
	if len(policies) == 0 {
		return nil
	}
	_, err := enforcer.AddPolicies(policies)
	return err
}

func splitPermission(permission string) (string, string, bool) {
	permission = strings.ToLower(strings.TrimSpace(permission))
	if permission == "*" {
		return "*", "*", true
	}
	object, action, ok := strings.Cut(permission, ".")
	if !ok || object == "" || action == "" {
		return "", "", false
	}
	return object, action, true
}

func roleSubject(role string) string {
	return "role:" + role
}
