package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
)

const (
	HeaderTenant = "X-Tenant-ID"
	HeaderBranch = "X-Branch-ID"
	HeaderUser   = "X-User-ID"
	HeaderRole   = "X-Role"

	contextRoleKey = "role"
)

// ScopeRequired resolves the caller scope set by the upstream identity gateway.
// A branch header confines every read and write to that branch.
func (s *Server) ScopeRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, err := snowflake.ParseString(strings.TrimSpace(c.GetHeader(HeaderTenant)))
		if err != nil || tenantID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		branchID, err := tenantctx.ParseBranch(c.GetHeader(HeaderBranch))
		if err != nil {
			AbortWithError(c, newValidationError("branch", "invalid_branch", "invalid branch"))
			return
		}

		scope := tenantctx.Scope{
			TenantID: tenantID,
			BranchID: branchID,
			UserID:   strings.TrimSpace(c.GetHeader(HeaderUser)),
		}
		c.Request = c.Request.WithContext(tenantctx.WithScope(c.Request.Context(), scope))
		c.Set(contextRoleKey, strings.TrimSpace(c.GetHeader(HeaderRole)))
		c.Next()
	}
}

// require enforces permission for the role resolved by ScopeRequired.
func (s *Server) require(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authzSvc.Authorize(c.Request.Context(), c.GetString(contextRoleKey), permission); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
