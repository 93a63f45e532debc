package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeUser    ActorType = "user"
	ActorTypeSystem  ActorType = "system"
	ActorTypeGateway ActorType = "gateway"
)

// AuditLog is an append-only record of a state-changing operation.
type AuditLog struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	TenantID     snowflake.ID      `gorm:"not null;index:idx_audit_logs_tenant_created,priority:1" json:"tenant_id"`
	BranchID     *snowflake.ID     `gorm:"index" json:"branch_id,omitempty"`
	ActorType    ActorType         `gorm:"type:text;not null" json:"actor_type"`
	ActorID      *string           `gorm:"type:text" json:"actor_id,omitempty"`
	Action       string            `gorm:"type:text;not null;index" json:"action"`
	ResourceType string            `gorm:"type:text;not null" json:"resource_type"`
	ResourceID   *string           `gorm:"type:text;index" json:"resource_id,omitempty"`
	Before       datatypes.JSONMap `json:"before,omitempty"`
	After        datatypes.JSONMap `json:"after,omitempty"`
	Metadata     datatypes.JSONMap `json:"metadata,omitempty"`
	RequestID    *string           `gorm:"type:text" json:"request_id,omitempty"`
	IPAddress    *string           `gorm:"type:text" json:"ip_address,omitempty"`
	CreatedAt    time.Time         `gorm:"not null;index:idx_audit_logs_tenant_created,priority:2" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	TenantID     snowflake.ID
	Action       string
	ResourceType string
	ResourceID   string
	StartAt      *time.Time
	EndAt        *time.Time
	Cursor       *AuditCursor
	Limit        int
}
