package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/gymdesk/pkg/db/pagination"
	"gorm.io/gorm"
)

// Entry describes one audited change. Before and After hold the changed fields.
type Entry struct {
	Action       string
	ResourceType string
	ResourceID   string
	ActorType    ActorType
	Before       map[string]any
	After        map[string]any
	Metadata     map[string]any
}

type ListAuditLogRequest struct {
	pagination.Pagination
	Action       string
	ResourceType string
	ResourceID   string
	StartAt      *time.Time
	EndAt        *time.Time
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}

// Service appends audit records. RecordTx must be given the business
// transaction so the record commits or rolls back with it.
type Service interface {
	RecordTx(ctx context.Context, tx *gorm.DB, entry Entry) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidTenant    = errors.New("invalid_tenant")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidAction    = errors.New("invalid_action")
)
