// Package tenantctx carries the resolved caller scope through request contexts.
package tenantctx

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

type keyType string

const scopeKey keyType = "tenant_scope"

// Scope is the caller context produced by the authorization gate.
// BranchID is nil when the caller operates tenant-wide.
type Scope struct {
	TenantID snowflake.ID
	BranchID *snowflake.ID
	UserID   string
}

// Valid reports whether the scope names a tenant.
func (s Scope) Valid() bool {
	return s.TenantID != 0
}

// HasBranch reports whether branch scoping is active.
func (s Scope) HasBranch() bool {
	return s.BranchID != nil && *s.BranchID != 0
}

// Actor returns the user id, or nil for system callers.
func (s Scope) Actor() *string {
	id := strings.TrimSpace(s.UserID)
	if id == "" {
		return nil
	}
	return &id
}

// WithScope stores the scope in ctx.
func WithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeKey, scope)
}

// FromContext returns the scope stored in ctx, if any.
func FromContext(ctx context.Context) (Scope, bool) {
	if ctx == nil {
		return Scope{}, false
	}
	scope, ok := ctx.Value(scopeKey).(Scope)
	if !ok || !scope.Valid() {
		return Scope{}, false
	}
	return scope, true
}

// TenantID returns the tenant id stored in ctx.
func TenantID(ctx context.Context) (snowflake.ID, bool) {
	scope, ok := FromContext(ctx)
	if !ok {
		return 0, false
	}
	return scope.TenantID, true
}

// ParseBranch turns a raw branch identifier into a pointer; blank means tenant-wide.
func ParseBranch(raw string) (*snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, nil
	}
	return &id, nil
}
