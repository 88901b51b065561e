package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kg-enroll-api/internal/dto"
	appErrors "github.com/noah-isme/kg-enroll-api/pkg/errors"
	"github.com/noah-isme/kg-enroll-api/pkg/response"
)

type allocationService interface {
	Run(ctx context.Context, req dto.AllocationRunRequest, trigger string) (*dto.AllocationReport, error)
}

// AllocationHandler exposes the manual allocation trigger.
type AllocationHandler struct {
	service allocationService
}

// NewAllocationHandler constructs the handler.
func NewAllocationHandler(service allocationService) *AllocationHandler {
	return &AllocationHandler{service: service}
}

// Run executes one allocation pass for a plan.
func (h *AllocationHandler) Run(c *gin.Context) {
	var req dto.AllocationRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid allocation payload"))
		return
	}
	report, err := h.service.Run(c.Request.Context(), req, "manual")
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}
