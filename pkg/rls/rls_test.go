package rls

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type scopedRow struct {
	ID       int64 `gorm:"primaryKey"`
	TenantID snowflake.ID
	BranchID *snowflake.ID
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&scopedRow{}))
	return db
}

func ids(t *testing.T, db *gorm.DB, scope func(*gorm.DB) *gorm.DB) []int64 {
	t.Helper()
	var out []int64
	require.NoError(t, db.Model(&scopedRow{}).Scopes(scope).Order("id").Pluck("id", &out).Error)
	return out
}

func TestScopes(t *testing.T) {
	db := openDB(t)
	tenant, other := snowflake.ID(10), snowflake.ID(20)
	branchA, branchB := snowflake.ID(1), snowflake.ID(2)
	require.NoError(t, db.Create([]scopedRow{
		{ID: 1, TenantID: tenant},
		{ID: 2, TenantID: tenant, BranchID: &branchA},
		{ID: 3, TenantID: tenant, BranchID: &branchB},
		{ID: 4, TenantID: other, BranchID: &branchA},
	}).Error)

	wide := tenantctx.Scope{TenantID: tenant}
	inA := tenantctx.Scope{TenantID: tenant, BranchID: &branchA}

	assert.Equal(t, []int64{1, 2, 3}, ids(t, db, Owned(wide, "")))
	assert.Equal(t, []int64{2}, ids(t, db, Owned(inA, "scoped_rows")))
	assert.Equal(t, []int64{1, 2}, ids(t, db, Catalog(inA, "scoped_rows")))
	assert.Equal(t, []int64{1, 2, 3}, ids(t, db, Catalog(wide, "")))
}

func TestWithTenantIsNoopOutsidePostgres(t *testing.T) {
	db := openDB(t)
	assert.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return WithTenant(tx, tenantctx.Scope{TenantID: 10})
	}))
}
