package dto

import (
	"github.com/noah-isme/kg-enroll-api/internal/models"
)

// CreateQuotaRequest publishes a quota cell for a plan/class pair.
type CreateQuotaRequest struct {
	PlanID     string `json:"planId" validate:"required"`
	ClassID    string `json:"classId" validate:"required"`
	TotalQuota int    `json:"totalQuota" validate:"required,gt=0"`
	Remark     string `json:"remark"`
}

// UpdateQuotaRequest adjusts the fixed capacity of a cell.
type UpdateQuotaRequest struct {
	TotalQuota int    `json:"totalQuota" validate:"required,gt=0"`
	Remark     string `json:"remark"`
}

// CreateApplicationRequest opens a draft enrollment application.
type CreateApplicationRequest struct {
	PlanID      string `json:"planId" validate:"required"`
	ClassID     string `json:"classId" validate:"required"`
	ChildName   string `json:"childName" validate:"required"`
	ParentName  string `json:"parentName" validate:"required"`
	ParentPhone string `json:"parentPhone" validate:"required"`
	Priority    bool   `json:"priority"`
}

// AddMaterialRequest attaches one document to an application.
type AddMaterialRequest struct {
	Type   models.MaterialType `json:"type" validate:"required"`
	Name   string              `json:"name" validate:"required"`
	FileID string              `json:"fileId" validate:"required"`
}

// VerifyMaterialRequest records the verification outcome of one material.
type VerifyMaterialRequest struct {
	Status models.MaterialStatus `json:"status" validate:"required,oneof=VERIFIED REJECTED"`
}

// StartReviewRequest assigns a reviewer and opens review.
type StartReviewRequest struct {
	ReviewerID string `json:"reviewerId" validate:"required"`
}

// DecideRequest carries the reviewer decision.
type DecideRequest struct {
	Outcome models.Decision `json:"outcome" validate:"required,oneof=ADMITTED REJECTED"`
}

// TransferRequest moves an application's reservation to another class.
type TransferRequest struct {
	NewClassID string `json:"newClassId" validate:"required"`
}

// ReverseRequest reverses an admitted decision with an audit note.
type ReverseRequest struct {
	Note string `json:"note" validate:"required"`
}

// AllocationRunRequest triggers a batch allocation pass. An empty ClassID
// runs every class of the plan that still has pending applications.
type AllocationRunRequest struct {
	PlanID  string `json:"planId" validate:"required"`
	ClassID string `json:"classId"`
}

// MaterialCheck reports which required material types block verification.
type MaterialCheck struct {
	Complete   bool                  `json:"complete"`
	Missing    []models.MaterialType `json:"missing,omitempty"`
	Unverified []models.MaterialType `json:"unverified,omitempty"`
}

// AllocationReport summarises the outcome of one allocation run.
type AllocationReport struct {
	PlanID     string                `json:"planId"`
	Results    []AllocationCellState `json:"results"`
	StartedAt  string                `json:"startedAt"`
	FinishedAt string                `json:"finishedAt"`
}

// AllocationCellState reports per-class allocation counts.
type AllocationCellState struct {
	ClassID  string `json:"classId"`
	Admitted int    `json:"admitted"`
	Rejected int    `json:"rejected"`
	Queued   int    `json:"queued"`
	Promoted int    `json:"promoted"`
}
