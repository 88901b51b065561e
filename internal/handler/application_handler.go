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

type workflowService interface {
	CreateDraft(ctx context.Context, req dto.CreateApplicationRequest, userID string) (*models.Application, error)
	Get(ctx context.Context, id string) (*models.Application, error)
	List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, *models.Pagination, error)
	Submit(ctx context.Context, id string) (*models.Application, error)
	AddMaterial(ctx context.Context, applicationID string, req dto.AddMaterialRequest, userID string) (*models.Material, error)
	VerifyMaterial(ctx context.Context, materialID string, req dto.VerifyMaterialRequest, verifierID string) (*models.Material, error)
	CheckMaterials(ctx context.Context, applicationID string) (*dto.MaterialCheck, error)
	VerifyMaterials(ctx context.Context, applicationID string) (*dto.MaterialCheck, error)
	StartReview(ctx context.Context, applicationID string, req dto.StartReviewRequest) (*models.Application, error)
	Decide(ctx context.Context, applicationID string, req dto.DecideRequest, deciderID string) (*models.AdmissionResult, error)
	Withdraw(ctx context.Context, applicationID, userID string) error
	Transfer(ctx context.Context, applicationID string, req dto.TransferRequest) (*models.Reservation, error)
	Reverse(ctx context.Context, applicationID string, req dto.ReverseRequest, actorID string) (*models.AdmissionResult, error)
	Notify(ctx context.Context, applicationID string, result *models.AdmissionResult) (*models.Notification, error)
}

type admissionLookup interface {
	FindByApplication(ctx context.Context, applicationID string) (*models.AdmissionResult, error)
}

// ApplicationHandler exposes REST endpoints for the enrollment workflow.
type ApplicationHandler struct {
	service    workflowService
	admissions admissionLookup
}

// NewApplicationHandler constructs the handler.
func NewApplicationHandler(service workflowService, admissions admissionLookup) *ApplicationHandler {
	return &ApplicationHandler{service: service, admissions: admissions}
}

// Create opens a draft application.
func (h *ApplicationHandler) Create(c *gin.Context) {
	var req dto.CreateApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid application payload"))
		return
	}
	app, err := h.service.CreateDraft(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, app, nil)
}

// Get returns one application.
func (h *ApplicationHandler) Get(c *gin.Context) {
	app, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// List returns applications filtered by plan, class, and status.
func (h *ApplicationHandler) List(c *gin.Context) {
	filter := models.ApplicationFilter{
		PlanID:  strings.TrimSpace(c.Query("planId")),
		ClassID: strings.TrimSpace(c.Query("classId")),
	}
	if raw := c.Query("status"); raw != "" {
		filter.Status = models.ApplicationStatus(strings.ToUpper(strings.TrimSpace(raw)))
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	apps, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, apps, pagination)
}

// Submit moves a draft into the workflow and reserves a seat.
func (h *ApplicationHandler) Submit(c *gin.Context) {
	app, err := h.service.Submit(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// AddMaterial attaches a document to an application.
func (h *ApplicationHandler) AddMaterial(c *gin.Context) {
	var req dto.AddMaterialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid material payload"))
		return
	}
	material, err := h.service.AddMaterial(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, material, nil)
}

// VerifyMaterial records the verification outcome for one material.
func (h *ApplicationHandler) VerifyMaterial(c *gin.Context) {
	var req dto.VerifyMaterialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid verification payload"))
		return
	}
	material, err := h.service.VerifyMaterial(c.Request.Context(), c.Param("materialId"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, material, nil)
}

// CheckMaterials reports which required materials are still missing.
func (h *ApplicationHandler) CheckMaterials(c *gin.Context) {
	check, err := h.service.CheckMaterials(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, check, nil)
}

// VerifyMaterials advances the application once all required materials
// are verified. An incomplete set returns the blocking list alongside
// the error.
func (h *ApplicationHandler) VerifyMaterials(c *gin.Context) {
	check, err := h.service.VerifyMaterials(c.Request.Context(), c.Param("id"))
	if err != nil {
		if check != nil {
			appErr := appErrors.FromError(err)
			c.JSON(appErr.Status, response.Envelope{Data: check, Error: appErr})
			return
		}
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, check, nil)
}

// StartReview assigns a reviewer and opens review.
func (h *ApplicationHandler) StartReview(c *gin.Context) {
	var req dto.StartReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid review payload"))
		return
	}
	app, err := h.service.StartReview(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// Decide lands the admission decision.
func (h *ApplicationHandler) Decide(c *gin.Context) {
	var req dto.DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid decision payload"))
		return
	}
	result, err := h.service.Decide(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Withdraw closes the application on applicant request.
func (h *ApplicationHandler) Withdraw(c *gin.Context) {
	if err := h.service.Withdraw(c.Request.Context(), c.Param("id"), actorFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Transfer retargets the held seat to a different class.
func (h *ApplicationHandler) Transfer(c *gin.Context) {
	var req dto.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid transfer payload"))
		return
	}
	reservation, err := h.service.Transfer(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reservation, nil)
}

// Reverse undoes an admitted decision with an audit note.
func (h *ApplicationHandler) Reverse(c *gin.Context) {
	var req dto.ReverseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid reversal payload"))
		return
	}
	result, err := h.service.Reverse(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Notify emits the decision notification for a decided application.
func (h *ApplicationHandler) Notify(c *gin.Context) {
	applicationID := c.Param("id")
	result, err := h.admissions.FindByApplication(c.Request.Context(), applicationID)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "no decision recorded for application"))
		return
	}
	notification, err := h.service.Notify(c.Request.Context(), applicationID, result)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, notification, nil)
}
