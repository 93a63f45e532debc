package authorization

import (
	"context"
	"errors"
)

// Permissions are "<object>.<action>". A policy entry of "*" grants everything.
const (
	PermissionMembersCreate   = "members.create"
	PermissionMembersView     = "members.view"
	PermissionInvoicesCreate  = "invoices.create"
	PermissionInvoicesView    = "invoices.view"
	PermissionInvoicesPayment = "invoices.payment"
	PermissionInvoicesRefund  = "invoices.refund"
	PermissionCouponsValidate = "coupons.validate"
	PermissionCouponsCreate   = "coupons.create"
	PermissionPlansCreate     = "plans.create"
	PermissionPlansView       = "plans.view"
	PermissionAuditLogView    = "audit_logs.view"
)

// Service checks a permission for the scope carried by ctx.
type Service interface {
	Authorize(ctx context.Context, role string, permission string) error
}

var (
	ErrInvalidActor      = errors.New("invalid_actor")
	ErrInvalidRole       = errors.New("invalid_role")
	ErrInvalidPermission = errors.New("invalid_permission")
	ErrForbidden         = errors.New("forbidden")
)
