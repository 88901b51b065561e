package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/kg-enroll-api/internal/models"
)

// LogSender is the default delivery channel. The platform's SMS and in-app
// gateways live outside this service; until one is attached, dispatches
// land in the structured log so the outbox lifecycle stays observable.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender constructs the sender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send logs the decision event as a delivered message.
func (s *LogSender) Send(_ context.Context, notification models.Notification) error {
	s.logger.Info("decision notification dispatched",
		zap.String("notification_id", notification.ID),
		zap.String("application_id", notification.ApplicationID),
		zap.String("decision", string(notification.Decision)),
		zap.String("recipient", notification.Recipient))
	return nil
}
