package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/kg-enroll-api/internal/models"
	appErrors "github.com/noah-isme/kg-enroll-api/pkg/errors"
	"github.com/noah-isme/kg-enroll-api/pkg/export"
	"github.com/noah-isme/kg-enroll-api/pkg/jobs"
)

type notificationStore interface {
	Create(ctx context.Context, notification *models.Notification) error
	FindByID(ctx context.Context, id string) (*models.Notification, error)
	FindByApplication(ctx context.Context, applicationID string) (*models.Notification, error)
	ListUndelivered(ctx context.Context, limit int) ([]models.Notification, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause string) error
	MarkDelivered(ctx context.Context, id string) (bool, error)
	MarkRead(ctx context.Context, id string) (bool, error)
}

// Sender delivers one decision event to the family's channel (SMS,
// in-app message, or print queue). Implementations must tolerate
// duplicate deliveries for the same application.
type Sender interface {
	Send(ctx context.Context, notification models.Notification) error
}

type notificationMetrics interface {
	ObserveNotification(status string)
}

type letterRenderer interface {
	RenderLetter(letter export.Letter) ([]byte, error)
}

// NotificationService owns the decision-notification outbox. Rows are
// created transactionally separate from the admission ledger, then drained
// by a worker queue with retries; a row that exhausts retries parks as
// FAILED and the periodic drain picks it up again.
type NotificationService struct {
	store   notificationStore
	sender  Sender
	letters letterRenderer
	metrics notificationMetrics
	queue   *jobs.Queue
	logger  *zap.Logger
}

// NewNotificationService constructs the service and its dispatch queue.
func NewNotificationService(store notificationStore, sender Sender, letters letterRenderer, metrics notificationMetrics, workers, maxRetries int, retryDelay time.Duration, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{
		store:   store,
		sender:  sender,
		letters: letters,
		metrics: metrics,
		logger:  logger,
	}
	s.queue = jobs.NewQueue("notification-dispatch", s.handleDispatch, jobs.QueueConfig{
		Workers:    workers,
		MaxRetries: maxRetries,
		RetryDelay: retryDelay,
		Logger:     logger,
		OnDrop:     s.handleDrop,
	})
	return s
}

// Start launches the dispatch workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the dispatch workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// CreateForDecision writes the outbox row for a decided application and
// enqueues dispatch. Calling it again for the same application returns the
// existing row; emission stays at-least-once toward the channel, not more
// than once in the outbox.
func (s *NotificationService) CreateForDecision(ctx context.Context, app *models.Application, result *models.AdmissionResult) (*models.Notification, error) {
	if app == nil || result == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "application and decision are required")
	}
	notification := &models.Notification{
		ApplicationID: app.ID,
		Decision:      result.Decision,
		ClassID:       result.ClassID,
		Recipient:     app.ParentPhone,
		Status:        models.NotificationStatusPending,
		DecidedAt:     result.DecidedAt,
	}
	if err := s.store.Create(ctx, notification); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create notification")
	}
	// The insert is a no-op on conflict, so reload to get the canonical row.
	stored, err := s.store.FindByApplication(ctx, app.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load notification")
	}
	if s.metrics != nil {
		s.metrics.ObserveNotification(string(models.NotificationStatusPending))
	}
	s.enqueue(*stored)
	return stored, nil
}

// Get returns one notification.
func (s *NotificationService) Get(ctx context.Context, id string) (*models.Notification, error) {
	notification, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load notification")
	}
	return notification, nil
}

// GetByApplication returns the notification row for an application.
func (s *NotificationService) GetByApplication(ctx context.Context, applicationID string) (*models.Notification, error) {
	notification, err := s.store.FindByApplication(ctx, applicationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no notification for application")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load notification")
	}
	return notification, nil
}

// DrainPending re-enqueues unsent and failed rows. Called on startup and
// on a timer so crashed dispatches are never lost.
func (s *NotificationService) DrainPending(ctx context.Context, limit int) (int, error) {
	pending, err := s.store.ListUndelivered(ctx, limit)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pending notifications")
	}
	for _, notification := range pending {
		s.enqueue(notification)
	}
	return len(pending), nil
}

// MarkDelivered records a delivery receipt from the channel.
func (s *NotificationService) MarkDelivered(ctx context.Context, id string) error {
	moved, err := s.store.MarkDelivered(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification delivered")
	}
	if !moved {
		return appErrors.Clone(appErrors.ErrInvalidStateTransition, "notification is not in SENT state")
	}
	if s.metrics != nil {
		s.metrics.ObserveNotification(string(models.NotificationStatusDelivered))
	}
	return nil
}

// MarkRead records the recipient opening the notification.
func (s *NotificationService) MarkRead(ctx context.Context, id string) error {
	moved, err := s.store.MarkRead(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	if !moved {
		return appErrors.Clone(appErrors.ErrInvalidStateTransition, "notification is not in DELIVERED state")
	}
	if s.metrics != nil {
		s.metrics.ObserveNotification(string(models.NotificationStatusRead))
	}
	return nil
}

// AdmissionLetter renders the printable letter for an admitted
// application's notification.
func (s *NotificationService) AdmissionLetter(ctx context.Context, applicationID, childName, className string) ([]byte, error) {
	notification, err := s.GetByApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if notification.Decision != models.DecisionAdmitted {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "admission letters exist only for admitted applications")
	}
	letter := export.Letter{
		Kindergarten: "Kindergarten Enrollment Office",
		ChildName:    childName,
		ClassName:    className,
		Decision:     string(notification.Decision),
		DecidedAt:    notification.DecidedAt.Format("2006-01-02"),
		SerialNo:     notification.ID,
		Body: fmt.Sprintf("We are pleased to inform you that %s has been admitted. "+
			"Please present this letter together with the registered materials at check-in.", childName),
	}
	data, err := s.letters.RenderLetter(letter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render admission letter")
	}
	return data, nil
}

func (s *NotificationService) enqueue(notification models.Notification) {
	if err := s.queue.Enqueue(jobs.Job{
		ID:      notification.ID,
		Type:    "decision-notification",
		Payload: notification.ID,
	}); err != nil {
		s.logger.Warn("failed to enqueue notification dispatch",
			zap.String("notification_id", notification.ID), zap.Error(err))
	}
}

// handleDispatch runs inside the worker pool. It re-reads the row so a
// duplicate job for an already-sent notification is a cheap no-op.
func (s *NotificationService) handleDispatch(ctx context.Context, job jobs.Job) error {
	id, ok := job.Payload.(string)
	if !ok {
		return fmt.Errorf("unexpected dispatch payload %T", job.Payload)
	}
	notification, err := s.store.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load notification %s: %w", id, err)
	}
	switch notification.Status {
	case models.NotificationStatusPending, models.NotificationStatusFailed:
	default:
		return nil
	}
	if err := s.sender.Send(ctx, *notification); err != nil {
		return fmt.Errorf("send notification %s: %w", id, err)
	}
	if err := s.store.MarkSent(ctx, id); err != nil {
		return fmt.Errorf("mark notification %s sent: %w", id, err)
	}
	if s.metrics != nil {
		s.metrics.ObserveNotification(string(models.NotificationStatusSent))
	}
	return nil
}

// handleDrop parks the row as FAILED after retries are spent; the next
// drain cycle picks it back up.
func (s *NotificationService) handleDrop(job jobs.Job, err error) {
	id, ok := job.Payload.(string)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if markErr := s.store.MarkFailed(ctx, id, err.Error()); markErr != nil {
		s.logger.Error("failed to park notification after retries",
			zap.String("notification_id", id), zap.Error(markErr))
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveNotification(string(models.NotificationStatusFailed))
	}
}
