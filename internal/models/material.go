package models

import "time"

// MaterialType enumerates document categories collected with an application.
type MaterialType string

const (
	MaterialTypeHouseholdRegister MaterialType = "HOUSEHOLD_REGISTER"
	MaterialTypeBirthCertificate  MaterialType = "BIRTH_CERTIFICATE"
	MaterialTypeVaccinationRecord MaterialType = "VACCINATION_RECORD"
	MaterialTypeHealthReport      MaterialType = "HEALTH_REPORT"
	MaterialTypePhoto             MaterialType = "PHOTO"
	MaterialTypeOther             MaterialType = "OTHER"
)

// RequiredMaterialTypes lists the document types every application must
// provide in verified form before review can start.
var RequiredMaterialTypes = []MaterialType{
	MaterialTypeHouseholdRegister,
	MaterialTypeBirthCertificate,
	MaterialTypeVaccinationRecord,
}

// MaterialStatus tracks verification of one uploaded document.
type MaterialStatus string

const (
	MaterialStatusPending  MaterialStatus = "PENDING"
	MaterialStatusVerified MaterialStatus = "VERIFIED"
	MaterialStatusRejected MaterialStatus = "REJECTED"
)

// Material is one document attached to an application. File storage is a
// collaborator concern; only the file reference is kept here.
type Material struct {
	ID            string         `db:"id" json:"id"`
	ApplicationID string         `db:"application_id" json:"application_id"`
	Type          MaterialType   `db:"material_type" json:"material_type"`
	Name          string         `db:"material_name" json:"material_name"`
	FileID        string         `db:"file_id" json:"file_id"`
	Status        MaterialStatus `db:"status" json:"status"`
	VerifiedBy    *string        `db:"verified_by" json:"verified_by,omitempty"`
	VerifiedAt    *time.Time     `db:"verified_at" json:"verified_at,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}
