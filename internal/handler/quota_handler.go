package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kg-enroll-api/internal/dto"
	"github.com/noah-isme/kg-enroll-api/internal/models"
	appErrors "github.com/noah-isme/kg-enroll-api/pkg/errors"
	"github.com/noah-isme/kg-enroll-api/pkg/response"
)

type quotaService interface {
	Create(ctx context.Context, req dto.CreateQuotaRequest, userID string) (*models.Quota, error)
	Get(ctx context.Context, id string) (*models.Quota, error)
	List(ctx context.Context, filter models.QuotaFilter) ([]models.Quota, *models.Pagination, error)
	UpdateTotal(ctx context.Context, id string, req dto.UpdateQuotaRequest, userID string) (*models.Quota, error)
	Archive(ctx context.Context, id, userID string) error
	PlanStats(ctx context.Context, planID string) (*models.QuotaPlanStats, error)
}

// QuotaHandler exposes REST endpoints for quota administration.
type QuotaHandler struct {
	service quotaService
}

// NewQuotaHandler constructs the handler.
func NewQuotaHandler(service quotaService) *QuotaHandler {
	return &QuotaHandler{service: service}
}

// Create opens a quota cell for a plan/class pair.
func (h *QuotaHandler) Create(c *gin.Context) {
	var req dto.CreateQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid quota payload"))
		return
	}
	quota, err := h.service.Create(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, quota, nil)
}

// Get returns one quota cell.
func (h *QuotaHandler) Get(c *gin.Context) {
	quota, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quota, nil)
}

// List returns quota cells, optionally only those with open seats.
func (h *QuotaHandler) List(c *gin.Context) {
	filter := models.QuotaFilter{
		PlanID:  strings.TrimSpace(c.Query("planId")),
		ClassID: strings.TrimSpace(c.Query("classId")),
	}
	if raw := c.Query("status"); raw != "" {
		filter.Status = models.QuotaStatus(strings.ToUpper(strings.TrimSpace(raw)))
	}
	filter.AvailableOnly = c.Query("availableOnly") == "true"
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	quotas, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quotas, pagination)
}

// Update resizes a quota cell.
func (h *QuotaHandler) Update(c *gin.Context) {
	var req dto.UpdateQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid quota payload"))
		return
	}
	quota, err := h.service.UpdateTotal(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quota, nil)
}

// Archive closes a cell to new reservations.
func (h *QuotaHandler) Archive(c *gin.Context) {
	if err := h.service.Archive(c.Request.Context(), c.Param("id"), actorFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// PlanStats returns plan-level seat utilization.
func (h *QuotaHandler) PlanStats(c *gin.Context) {
	stats, err := h.service.PlanStats(c.Request.Context(), c.Param("planId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}
