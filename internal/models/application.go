package models

import "time"

// ApplicationStatus represents the workflow state of an enrollment application.
type ApplicationStatus string

// Workflow states. WAITLISTED is a sub-state of SUBMITTED entered when the
// target cell had no capacity at submission time.
const (
	ApplicationStatusDraft             ApplicationStatus = "DRAFT"
	ApplicationStatusSubmitted         ApplicationStatus = "SUBMITTED"
	ApplicationStatusWaitlisted        ApplicationStatus = "WAITLISTED"
	ApplicationStatusMaterialsVerified ApplicationStatus = "MATERIALS_VERIFIED"
	ApplicationStatusUnderReview       ApplicationStatus = "UNDER_REVIEW"
	ApplicationStatusAdmitted          ApplicationStatus = "ADMITTED"
	ApplicationStatusRejected          ApplicationStatus = "REJECTED"
	ApplicationStatusNotified          ApplicationStatus = "NOTIFIED"
	ApplicationStatusWithdrawn         ApplicationStatus = "WITHDRAWN"
)

// Terminal reports whether no further workflow transition is possible
// besides notification of an existing decision.
func (s ApplicationStatus) Terminal() bool {
	switch s {
	case ApplicationStatusAdmitted, ApplicationStatusRejected,
		ApplicationStatusNotified, ApplicationStatusWithdrawn:
		return true
	}
	return false
}

// Decided reports whether the application carries an admission decision.
func (s ApplicationStatus) Decided() bool {
	switch s {
	case ApplicationStatusAdmitted, ApplicationStatusRejected, ApplicationStatusNotified:
		return true
	}
	return false
}

// Application is one child's enrollment request against a plan/class.
type Application struct {
	ID          string            `db:"id" json:"id"`
	PlanID      string            `db:"plan_id" json:"plan_id"`
	ClassID     string            `db:"class_id" json:"class_id"`
	ChildName   string            `db:"child_name" json:"child_name"`
	ParentName  string            `db:"parent_name" json:"parent_name"`
	ParentPhone string            `db:"parent_phone" json:"parent_phone"`
	Priority    bool              `db:"priority" json:"priority"`
	Status      ApplicationStatus `db:"status" json:"status"`
	ReviewerID  *string           `db:"reviewer_id" json:"reviewer_id,omitempty"`
	SubmittedAt *time.Time        `db:"submitted_at" json:"submitted_at,omitempty"`
	CreatedBy   string            `db:"created_by" json:"created_by"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

// ApplicationFilter constrains application listing queries.
type ApplicationFilter struct {
	PlanID   string
	ClassID  string
	Status   ApplicationStatus
	Page     int
	PageSize int
}
