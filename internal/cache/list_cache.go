package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
)

const (
	ResourceMembers  = "members"
	ResourceInvoices = "invoices"

	defaultListTTL = 30 * time.Second
)

// ListCache stores listing pages per caller scope and query. Without
// generations nothing could invalidate a page, so nothing is cached.
type ListCache[V any] struct {
	resource string
	gens     *Generations
	entries  Cache[string, V]
	ttl      time.Duration
}

func NewListCache[V any](resource string, gens *Generations, ttl time.Duration) *ListCache[V] {
	if ttl <= 0 {
		ttl = defaultListTTL
	}
	return &ListCache[V]{
		resource: resource,
		gens:     gens,
		entries:  NewTTLCache[string, V](),
		ttl:      ttl,
	}
}

func (c *ListCache[V]) enabled() bool {
	return c != nil && c.gens != nil
}

func (c *ListCache[V]) Get(ctx context.Context, scope tenantctx.Scope, query string) (V, bool) {
	if !c.enabled() {
		var zero V
		return zero, false
	}
	return c.entries.Get(c.key(ctx, scope, query))
}

func (c *ListCache[V]) Set(ctx context.Context, scope tenantctx.Scope, query string, value V) {
	if !c.enabled() {
		return
	}
	c.entries.Set(c.key(ctx, scope, query), value, c.ttl)
}

// Invalidate drops all pages cached for the tenant, across branches.
func (c *ListCache[V]) Invalidate(ctx context.Context, scope tenantctx.Scope) error {
	if !c.enabled() {
		return nil
	}
	return c.gens.Bump(ctx, scope.TenantID, c.resource)
}

func (c *ListCache[V]) key(ctx context.Context, scope tenantctx.Scope, query string) string {
	branch := "all"
	if scope.HasBranch() {
		branch = scope.BranchID.String()
	}
	gen := c.gens.Current(ctx, scope.TenantID, c.resource)
	return cacheKey(c.resource, scope.TenantID.String(), branch, strconv.FormatInt(gen, 10), query)
}
