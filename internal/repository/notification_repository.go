package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/kg-enroll-api/internal/models"
)

// NotificationRepository persists the decision-notification outbox.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

const notificationColumns = `id, application_id, decision, class_id, recipient, status, attempts, decided_at, sent_at, delivered_at, read_at, last_error, created_at`

// Create appends one outbox row for a terminal decision. The partial unique
// index on application_id for non-FAILED rows makes repeated notify calls
// collapse onto the existing row, preserving exactly-once emission intent.
func (r *NotificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	if notification.Status == "" {
		notification.Status = models.NotificationStatusPending
	}
	const query = `INSERT INTO admission_notifications (id, application_id, decision, class_id, recipient, status, attempts, decided_at, created_at)
        VALUES (:id, :application_id, :decision, :class_id, :recipient, :status, :attempts, :decided_at, :created_at)
        ON CONFLICT (application_id) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, notification); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// FindByID returns a notification by its ID.
func (r *NotificationRepository) FindByID(ctx context.Context, id string) (*models.Notification, error) {
	query := fmt.Sprintf(`SELECT %s FROM admission_notifications WHERE id = $1`, notificationColumns)
	var notification models.Notification
	if err := r.db.GetContext(ctx, &notification, query, id); err != nil {
		return nil, err
	}
	return &notification, nil
}

// FindByApplication returns the notification row for an application.
func (r *NotificationRepository) FindByApplication(ctx context.Context, applicationID string) (*models.Notification, error) {
	query := fmt.Sprintf(`SELECT %s FROM admission_notifications WHERE application_id = $1`, notificationColumns)
	var notification models.Notification
	if err := r.db.GetContext(ctx, &notification, query, applicationID); err != nil {
		return nil, err
	}
	return &notification, nil
}

// ListUndelivered returns rows the dispatch worker should (re)send.
func (r *NotificationRepository) ListUndelivered(ctx context.Context, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM admission_notifications
        WHERE status IN ($1, $2) ORDER BY created_at ASC LIMIT %d`, notificationColumns, limit)
	var notifications []models.Notification
	if err := r.db.SelectContext(ctx, &notifications, query,
		models.NotificationStatusPending, models.NotificationStatusFailed); err != nil {
		return nil, fmt.Errorf("list undelivered notifications: %w", err)
	}
	return notifications, nil
}

// MarkSent records a successful hand-off to the delivery channel.
func (r *NotificationRepository) MarkSent(ctx context.Context, id string) error {
	const query = `UPDATE admission_notifications
        SET status = $2, attempts = attempts + 1, sent_at = $3, last_error = NULL WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.NotificationStatusSent, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}

// MarkFailed records a failed delivery attempt for a later retry.
func (r *NotificationRepository) MarkFailed(ctx context.Context, id string, cause string) error {
	const query = `UPDATE admission_notifications
        SET status = $2, attempts = attempts + 1, last_error = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.NotificationStatusFailed, cause); err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	return nil
}

// MarkDelivered acknowledges delivery reported by the channel.
func (r *NotificationRepository) MarkDelivered(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE admission_notifications SET status = $2, delivered_at = $3
        WHERE id = $1 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, id, models.NotificationStatusDelivered,
		time.Now().UTC(), models.NotificationStatusSent)
	if err != nil {
		return false, fmt.Errorf("mark notification delivered: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark notification delivered: %w", err)
	}
	return affected > 0, nil
}

// MarkRead records the recipient opening the notification.
func (r *NotificationRepository) MarkRead(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE admission_notifications SET status = $2, read_at = $3
        WHERE id = $1 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, id, models.NotificationStatusRead,
		time.Now().UTC(), models.NotificationStatusDelivered)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	return affected > 0, nil
}
