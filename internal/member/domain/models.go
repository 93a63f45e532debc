package domain

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
)

type MemberStatus string

const (
	MemberStatusActive    MemberStatus = "ACTIVE"
	MemberStatusInactive  MemberStatus = "INACTIVE"
	MemberStatusSuspended MemberStatus = "SUSPENDED"
)

type MembershipStatus string

const (
	MembershipStatusActive    MembershipStatus = "ACTIVE"
	MembershipStatusExpired   MembershipStatus = "EXPIRED"
	MembershipStatusCancelled MembershipStatus = "CANCELLED"
	MembershipStatusFrozen    MembershipStatus = "FROZEN"
)

// Member is never deleted, only deactivated.
type Member struct {
	ID               snowflake.ID  `gorm:"primaryKey" json:"id"`
	TenantID         snowflake.ID  `gorm:"not null;uniqueIndex:ux_members_tenant_number,priority:1;uniqueIndex:ux_members_tenant_referral,priority:1" json:"tenant_id"`
	BranchID         *snowflake.ID `gorm:"index" json:"branch_id,omitempty"`
	MembershipNumber string        `gorm:"type:text;not null;uniqueIndex:ux_members_tenant_number,priority:2" json:"membership_number"`
	FirstName        string        `gorm:"type:text;not null" json:"first_name"`
	LastName         string        `gorm:"type:text" json:"last_name,omitempty"`
	Email            string        `gorm:"type:text" json:"email,omitempty"`
	Phone            string        `gorm:"type:text" json:"phone,omitempty"`
	DateOfBirth      *time.Time    `json:"date_of_birth,omitempty"`
	Gender           *string       `gorm:"type:text" json:"gender,omitempty"`
	ReferralCode     string        `gorm:"type:text;not null;uniqueIndex:ux_members_tenant_referral,priority:2" json:"referral_code"`
	ReferredBy       *snowflake.ID `json:"referred_by,omitempty"`
	Status           MemberStatus  `gorm:"type:text;not null" json:"status"`
	CreatedAt        time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time     `gorm:"not null" json:"updated_at"`
}

func (Member) TableName() string { return "members" }

// MemberMembership binds a member to a plan for [StartDate, EndDate).
type MemberMembership struct {
	ID        snowflake.ID     `gorm:"primaryKey" json:"id"`
	TenantID  snowflake.ID     `gorm:"not null;index" json:"tenant_id"`
	BranchID  *snowflake.ID    `gorm:"index" json:"branch_id,omitempty"`
	MemberID  snowflake.ID     `gorm:"not null;index" json:"member_id"`
	PlanID    snowflake.ID     `gorm:"not null;index" json:"plan_id"`
	StartDate time.Time        `gorm:"not null" json:"start_date"`
	EndDate   time.Time        `gorm:"not null" json:"end_date"`
	Status    MembershipStatus `gorm:"type:text;not null" json:"status"`
	CreatedAt time.Time        `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time        `gorm:"not null" json:"updated_at"`
}

func (MemberMembership) TableName() string { return "member_memberships" }

// Contains reports whether t falls inside the half-open membership interval.
func (m MemberMembership) Contains(t time.Time) bool {
	return !t.Before(m.StartDate) && t.Before(m.EndDate)
}

const (
	referralPrefixMax = 8
	referralSuffixLen = 4
	referralAlphabet  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// NewReferralCode builds NAME-XXXX from the member's first name.
func NewReferralCode(firstName string) (string, error) {
	prefix := strings.ToUpper(strings.ReplaceAll(slug.Make(firstName), "-", ""))
	if len(prefix) > referralPrefixMax {
		prefix = prefix[:referralPrefixMax]
	}
	if prefix == "" {
		prefix = "MEMBER"
	}

	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte('-')
	max := big.NewInt(int64(len(referralAlphabet)))
	for i := 0; i < referralSuffixLen; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(referralAlphabet[n.Int64()])
	}
	return b.String(), nil
}
