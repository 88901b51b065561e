package models

import "time"

// ReservationStatus tracks the lifecycle of a seat hold.
type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "ACTIVE"
	ReservationStatusCommitted ReservationStatus = "COMMITTED"
	ReservationStatusReleased  ReservationStatus = "RELEASED"
)

// Reservation is a temporary hold of exactly one seat in a quota cell on
// behalf of one application. At most one active reservation exists per
// application; its class always matches the application's current target.
type Reservation struct {
	ID            string            `db:"id" json:"id"`
	ApplicationID string            `db:"application_id" json:"application_id"`
	QuotaID       string            `db:"quota_id" json:"quota_id"`
	PlanID        string            `db:"plan_id" json:"plan_id"`
	ClassID       string            `db:"class_id" json:"class_id"`
	Status        ReservationStatus `db:"status" json:"status"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	ResolvedAt    *time.Time        `db:"resolved_at" json:"resolved_at,omitempty"`
}
