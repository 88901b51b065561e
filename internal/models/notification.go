package models

import "time"

// NotificationStatus tracks outbound delivery of a decision notification.
type NotificationStatus string

const (
	NotificationStatusPending   NotificationStatus = "PENDING"
	NotificationStatusSent      NotificationStatus = "SENT"
	NotificationStatusDelivered NotificationStatus = "DELIVERED"
	NotificationStatusRead      NotificationStatus = "READ"
	NotificationStatusFailed    NotificationStatus = "FAILED"
)

// DecisionEvent is the payload handed to the notification collaborator.
// Emission is at-least-once; consumers must handle duplicates.
type DecisionEvent struct {
	ApplicationID string    `json:"application_id"`
	Decision      Decision  `json:"decision"`
	ClassID       string    `json:"class_id,omitempty"`
	DecidedAt     time.Time `json:"decided_at"`
}

// Notification is one outbox row created per terminal decision. The
// dispatcher worker drains PENDING and FAILED rows independently of any
// ledger state, which is final before a row is ever created.
type Notification struct {
	ID            string             `db:"id" json:"id"`
	ApplicationID string             `db:"application_id" json:"application_id"`
	Decision      Decision           `db:"decision" json:"decision"`
	ClassID       *string            `db:"class_id" json:"class_id,omitempty"`
	Recipient     string             `db:"recipient" json:"recipient"`
	Status        NotificationStatus `db:"status" json:"status"`
	Attempts      int                `db:"attempts" json:"attempts"`
	DecidedAt     time.Time          `db:"decided_at" json:"decided_at"`
	SentAt        *time.Time         `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt   *time.Time         `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt        *time.Time         `db:"read_at" json:"read_at,omitempty"`
	LastError     *string            `db:"last_error" json:"last_error,omitempty"`
	CreatedAt     time.Time          `db:"created_at" json:"created_at"`
}
