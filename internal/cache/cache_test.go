package cache

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCacheExpiry(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	c := newTTLCache[string, int](func() time.Time { return now })

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, 0)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)

	v, ok = c.Get("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())

	c.Delete("b")
	assert.Equal(t, 0, c.Len())
}

func TestListCacheInvalidateIsPerTenant(t *testing.T) {
	ctx := context.Background()
	gens := NewGenerations(nil, nil)
	lc := NewListCache[[]string](ResourceMembers, gens, time.Minute)

	branch := snowflake.ID(9)
	tenantA := tenantctx.Scope{TenantID: 1, BranchID: &branch}
	tenantB := tenantctx.Scope{TenantID: 2}

	lc.Set(ctx, tenantA, "page=1", []string{"alice"})
	lc.Set(ctx, tenantB, "page=1", []string{"bob"})

	got, ok := lc.Get(ctx, tenantA, "page=1")
	require.True(t, ok)
	assert.Equal(t, []string{"alice"}, got)

	_, ok = lc.Get(ctx, tenantctx.Scope{TenantID: 1}, "page=1")
	assert.False(t, ok, "tenant-wide scope must not see branch page")

	require.NoError(t, lc.Invalidate(ctx, tenantA))

	_, ok = lc.Get(ctx, tenantA, "page=1")
	assert.False(t, ok)
	_, ok = lc.Get(ctx, tenantB, "page=1")
	assert.True(t, ok)
}

func TestNilListCacheIsNoop(t *testing.T) {
	var lc *ListCache[int]
	ctx := context.Background()
	lc.Set(ctx, tenantctx.Scope{TenantID: 1}, "q", 1)
	_, ok := lc.Get(ctx, tenantctx.Scope{TenantID: 1}, "q")
	assert.False(t, ok)
	assert.NoError(t, lc.Invalidate(ctx, tenantctx.Scope{TenantID: 1}))
}

func TestListCacheWithoutGenerationsDoesNotCache(t *testing.T) {
	ctx := context.Background()
	lc := NewListCache[[]string](ResourceInvoices, nil, time.Minute)
	scope := tenantctx.Scope{TenantID: 1}

	lc.Set(ctx, scope, "page=1", []string{"INV-1"})
	_, ok := lc.Get(ctx, scope, "page=1")
	assert.False(t, ok)
	assert.NoError(t, lc.Invalidate(ctx, scope))
}
