// Package rls applies tenant and branch isolation to queries.
package rls

import (
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"gorm.io/gorm"
)

// WithTenant sets the Postgres row-level-security tenant for the current
// transaction. Other dialects rely on the query scopes below.
func WithTenant(tx *gorm.DB, scope tenantctx.Scope) error {
	if tx.Dialector == nil || tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("SELECT set_config('app.current_tenant_id', ?, true)", scope.TenantID.String()).Error
}

// Owned restricts rows that belong to exactly one branch.
func Owned(scope tenantctx.Scope, table string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Where(column(table, "tenant_id")+" = ?", scope.TenantID)
		if scope.HasBranch() {
			db = db.Where(column(table, "branch_id")+" = ?", *scope.BranchID)
		}
		return db
	}
}

// Catalog restricts rows that may be tenant-wide (branch_id NULL) or branch specific.
func Catalog(scope tenantctx.Scope, table string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Where(column(table, "tenant_id")+" = ?", scope.TenantID)
		if scope.HasBranch() {
			branch := column(table, "branch_id")
			db = db.Where("("+branch+" = ? OR "+branch+" IS NULL)", *scope.BranchID)
		}
		return db
	}
}

func column(table, name string) string {
	if table == "" {
		return name
	}
	return table + "." + name
}
