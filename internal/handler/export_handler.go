package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kg-enroll-api/internal/models"
	"github.com/noah-isme/kg-enroll-api/pkg/response"
)

type exportService interface {
	AdmissionRoster(ctx context.Context, planID, format string, decision models.Decision) ([]byte, string, error)
}

// ExportHandler streams admission rosters for office use.
type ExportHandler struct {
	service exportService
}

// NewExportHandler constructs the handler.
func NewExportHandler(service exportService) *ExportHandler {
	return &ExportHandler{service: service}
}

// AdmissionRoster renders the decided applications of a plan.
func (h *ExportHandler) AdmissionRoster(c *gin.Context) {
	planID := c.Param("planId")
	format := strings.ToLower(c.DefaultQuery("format", "csv"))
	var decision models.Decision
	if raw := c.Query("decision"); raw != "" {
		decision = models.Decision(strings.ToUpper(strings.TrimSpace(raw)))
	}
	payload, contentType, err := h.service.AdmissionRoster(c.Request.Context(), planID, format, decision)
	if err != nil {
		response.Error(c, err)
		return
	}
	ext := "csv"
	if format == "pdf" {
		ext = "pdf"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=admissions-%s.%s", planID, ext))
	c.Data(http.StatusOK, contentType, payload)
}
