package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionDecision       = "ADMISSION_DECISION"
	AuditActionReversal       = "ADMISSION_REVERSAL"
	AuditActionQuotaCreate    = "QUOTA_CREATE"
	AuditActionQuotaAdjust    = "QUOTA_ADJUST"
	AuditActionAllocationRun  = "ALLOCATION_RUN"
	AuditActionMaterialVerify = "MATERIAL_VERIFY"
	AuditActionWithdraw       = "APPLICATION_WITHDRAW"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	Note       *string   `db:"note" json:"note,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Pagination describes list response paging metadata.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
