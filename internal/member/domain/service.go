package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gymdesk/pkg/db/pagination"
	"github.com/smallbiznis/gymdesk/pkg/failure"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"gorm.io/gorm"
)

// MemberDetails is the identity captured at enrollment.
type MemberDetails struct {
	FirstName   string        `json:"first_name"`
	LastName    string        `json:"last_name"`
	Email       string        `json:"email"`
	Phone       string        `json:"phone"`
	DateOfBirth *time.Time    `json:"date_of_birth"`
	Gender      *string       `json:"gender"`
	ReferredBy  *snowflake.ID `json:"referred_by"`
}

type ListMembersRequest struct {
	pagination.Pagination
	Status MemberStatus `form:"status"`
}

type ListMembersResponse struct {
	pagination.PageInfo
	Members []Member `json:"members"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, member *Member) error
	InsertMembership(ctx context.Context, db *gorm.DB, membership *MemberMembership) error
	FindByID(ctx context.Context, db *gorm.DB, scope tenantctx.Scope, id snowflake.ID) (*Member, error)
	ReferralCodeExists(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, code string) (bool, error)
	List(ctx context.Context, db *gorm.DB, scope tenantctx.Scope, status MemberStatus, afterID snowflake.ID, limit int) ([]*Member, error)
	ListMemberships(ctx context.Context, db *gorm.DB, scope tenantctx.Scope, memberID snowflake.ID) ([]MemberMembership, error)
}

type Service interface {
	Get(ctx context.Context, id snowflake.ID) (*Member, error)
	List(ctx context.Context, req ListMembersRequest) (ListMembersResponse, error)
	Memberships(ctx context.Context, memberID snowflake.ID) ([]MemberMembership, error)
}

var (
	ErrMemberNotFound     = failure.New(failure.KindNotFound, "member_not_found")
	ErrInvalidTenant      = failure.New(failure.KindInvalidRequest, "invalid_tenant")
	ErrInvalidFirstName   = failure.New(failure.KindInvalidRequest, "invalid_first_name")
	ErrInvalidPageToken   = failure.New(failure.KindInvalidRequest, "invalid_page_token")
	ErrReferrerNotFound   = failure.New(failure.KindNotFound, "referrer_not_found")
	ErrReferralCodeExists = failure.New(failure.KindTransactionAborted, "referral_code_collision")
)
