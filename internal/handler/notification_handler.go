package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kg-enroll-api/internal/models"
	"github.com/noah-isme/kg-enroll-api/pkg/response"
)

type notificationService interface {
	Get(ctx context.Context, id string) (*models.Notification, error)
	GetByApplication(ctx context.Context, applicationID string) (*models.Notification, error)
	DrainPending(ctx context.Context, limit int) (int, error)
	MarkDelivered(ctx context.Context, id string) error
	MarkRead(ctx context.Context, id string) error
	AdmissionLetter(ctx context.Context, applicationID, childName, className string) ([]byte, error)
}

type applicationLookup interface {
	Get(ctx context.Context, id string) (*models.Application, error)
}

// NotificationHandler exposes notification tracking endpoints.
type NotificationHandler struct {
	service notificationService
	apps    applicationLookup
}

// NewNotificationHandler constructs the handler.
func NewNotificationHandler(service notificationService, apps applicationLookup) *NotificationHandler {
	return &NotificationHandler{service: service, apps: apps}
}

// Get returns one notification.
func (h *NotificationHandler) Get(c *gin.Context) {
	notification, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, notification, nil)
}

// GetByApplication returns the notification row for an application.
func (h *NotificationHandler) GetByApplication(c *gin.Context) {
	notification, err := h.service.GetByApplication(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, notification, nil)
}

// Drain re-enqueues pending and failed notifications for dispatch.
func (h *NotificationHandler) Drain(c *gin.Context) {
	count, err := h.service.DrainPending(c.Request.Context(), 100)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"enqueued": count}, nil)
}

// MarkDelivered records a delivery receipt from the channel.
func (h *NotificationHandler) MarkDelivered(c *gin.Context) {
	if err := h.service.MarkDelivered(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// MarkRead records the recipient opening the notification.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	if err := h.service.MarkRead(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// AdmissionLetter streams the printable letter for an admitted application.
func (h *NotificationHandler) AdmissionLetter(c *gin.Context) {
	applicationID := c.Param("id")
	app, err := h.apps.Get(c.Request.Context(), applicationID)
	if err != nil {
		response.Error(c, err)
		return
	}
	payload, err := h.service.AdmissionLetter(c.Request.Context(), applicationID, app.ChildName, app.ClassID)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=admission-letter-%s.pdf", applicationID))
	c.Data(http.StatusOK, "application/pdf", payload)
}
