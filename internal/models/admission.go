package models

import "time"

// Decision enumerates terminal admission outcomes.
type Decision string

const (
	DecisionAdmitted Decision = "ADMITTED"
	DecisionRejected Decision = "REJECTED"
)

// AdmissionResult is the terminal record for an application. It is written
// exactly once when the decision lands and only mutated by the audited
// reversal procedure.
type AdmissionResult struct {
	ID            string     `db:"id" json:"id"`
	ApplicationID string     `db:"application_id" json:"application_id"`
	PlanID        string     `db:"plan_id" json:"plan_id"`
	ClassID       *string    `db:"class_id" json:"class_id,omitempty"`
	Decision      Decision   `db:"decision" json:"decision"`
	DecidedBy     string     `db:"decided_by" json:"decided_by"`
	DecidedAt     time.Time  `db:"decided_at" json:"decided_at"`
	Reversed      bool       `db:"reversed" json:"reversed"`
	ReversedBy    *string    `db:"reversed_by" json:"reversed_by,omitempty"`
	ReversedAt    *time.Time `db:"reversed_at" json:"reversed_at,omitempty"`
	AuditNote     *string    `db:"audit_note" json:"audit_note,omitempty"`
}
