package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/kg-enroll-api/internal/dto"
	"github.com/noah-isme/kg-enroll-api/internal/models"
	"github.com/noah-isme/kg-enroll-api/internal/repository"
	appErrors "github.com/noah-isme/kg-enroll-api/pkg/errors"
)

type applicationStore interface {
	Create(ctx context.Context, app *models.Application) error
	FindByID(ctx context.Context, id string) (*models.Application, error)
	List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, int, error)
	TransitionStatus(ctx context.Context, id string, from []models.ApplicationStatus, to models.ApplicationStatus) (bool, error)
	AssignReviewer(ctx context.Context, id, reviewerID string) (bool, error)
}

type seatLedger interface {
	Submit(ctx context.Context, applicationID string) (*repository.SubmitOutcome, error)
	Decide(ctx context.Context, params repository.DecideParams) (*models.AdmissionResult, error)
	Withdraw(ctx context.Context, applicationID string) error
	Reverse(ctx context.Context, params repository.ReverseParams) (*models.AdmissionResult, error)
	Transfer(ctx context.Context, reservationID, newClassID string) (*models.Reservation, error)
	ActiveReservation(ctx context.Context, applicationID string) (*models.Reservation, error)
}

type materialStore interface {
	Create(ctx context.Context, material *models.Material) error
	FindByID(ctx context.Context, id string) (*models.Material, error)
	ListByApplication(ctx context.Context, applicationID string) ([]models.Material, error)
	SetStatus(ctx context.Context, id string, status models.MaterialStatus, verifierID string) error
	VerifiedTypes(ctx context.Context, applicationID string) ([]models.MaterialType, error)
}

type decisionNotifier interface {
	CreateForDecision(ctx context.Context, app *models.Application, result *models.AdmissionResult) (*models.Notification, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type workflowMetrics interface {
	ObserveReservation(result string)
	ObserveDecision(outcome string)
	ObserveLedgerTx(operation string, duration time.Duration)
}

// WorkflowService drives a single application from draft through
// verification, review, decision, and notification. Every state flip is
// guarded; ledger-coupled transitions run inside ledger transactions so a
// failed seat operation rolls the whole transition back.
type WorkflowService struct {
	apps      applicationStore
	ledger    seatLedger
	materials materialStore
	notifier  decisionNotifier
	audit     auditLogger
	metrics   workflowMetrics
	validator *validator.Validate
	logger    *zap.Logger
}

// NewWorkflowService constructs the service.
func NewWorkflowService(apps applicationStore, ledger seatLedger, materials materialStore, notifier decisionNotifier, audit auditLogger, metrics workflowMetrics, validate *validator.Validate, logger *zap.Logger) *WorkflowService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowService{
		apps:      apps,
		ledger:    ledger,
		materials: materials,
		notifier:  notifier,
		audit:     audit,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// CreateDraft opens a new draft application.
func (s *WorkflowService) CreateDraft(ctx context.Context, req dto.CreateApplicationRequest, userID string) (*models.Application, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid application payload")
	}
	app := &models.Application{
		PlanID:      req.PlanID,
		ClassID:     req.ClassID,
		ChildName:   req.ChildName,
		ParentName:  req.ParentName,
		ParentPhone: req.ParentPhone,
		Priority:    req.Priority,
		Status:      models.ApplicationStatusDraft,
		CreatedBy:   userID,
	}
	if err := s.apps.Create(ctx, app); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create application")
	}
	return app, nil
}

// Get returns one application.
func (s *WorkflowService) Get(ctx context.Context, id string) (*models.Application, error) {
	app, err := s.apps.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	return app, nil
}

// List returns applications with pagination metadata.
func (s *WorkflowService) List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, *models.Pagination, error) {
	apps, total, err := s.apps.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applications")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return apps, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Submit moves a draft to SUBMITTED and reserves its seat. An exhausted
// cell degrades to WAITLISTED instead of failing the applicant.
func (s *WorkflowService) Submit(ctx context.Context, id string) (*models.Application, error) {
	app, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.Status != models.ApplicationStatusDraft {
		return nil, appErrors.Clone(appErrors.ErrInvalidStateTransition, fmt.Sprintf("cannot submit application in state %s", app.Status))
	}
	if app.ChildName == "" || app.ParentName == "" || app.ParentPhone == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "child name and parent contact fields are required before submission")
	}

	start := time.Now()
	outcome, err := s.ledger.Submit(ctx, id)
	s.observeLedger("submit", start)
	if err != nil {
		return nil, err
	}
	if outcome.Reservation != nil {
		s.observeReservation("reserved")
	} else {
		s.observeReservation("waitlisted")
		s.logger.Info("application waitlisted on submit",
			zap.String("application_id", id),
			zap.String("plan_id", app.PlanID),
			zap.String("class_id", app.ClassID))
	}
	app.Status = outcome.Status
	return app, nil
}

// AddMaterial attaches a document to a submitted or waitlisted application.
func (s *WorkflowService) AddMaterial(ctx context.Context, applicationID string, req dto.AddMaterialRequest, userID string) (*models.Material, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid material payload")
	}
	app, err := s.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidStateTransition, "cannot attach materials to a closed application")
	}
	material := &models.Material{
		ApplicationID: applicationID,
		Type:          req.Type,
		Name:          req.Name,
		FileID:        req.FileID,
		Status:        models.MaterialStatusPending,
	}
	if err := s.materials.Create(ctx, material); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to attach material")
	}
	return material, nil
}

// VerifyMaterial records the verification outcome for one material.
func (s *WorkflowService) VerifyMaterial(ctx context.Context, materialID string, req dto.VerifyMaterialRequest, verifierID string) (*models.Material, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid verification payload")
	}
	material, err := s.materials.FindByID(ctx, materialID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "material not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load material")
	}
	if err := s.materials.SetStatus(ctx, materialID, req.Status, verifierID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify material")
	}
	material.Status = req.Status
	material.VerifiedBy = &verifierID
	now := time.Now().UTC()
	material.VerifiedAt = &now
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &verifierID,
		Action:     models.AuditActionMaterialVerify,
		Resource:   "material",
		ResourceID: &materialID,
	})
	return material, nil
}

// CheckMaterials diffs an application's verified materials against the
// required taxonomy without changing state.
func (s *WorkflowService) CheckMaterials(ctx context.Context, applicationID string) (*dto.MaterialCheck, error) {
	verified, err := s.materials.VerifiedTypes(ctx, applicationID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check materials")
	}
	verifiedSet := make(map[models.MaterialType]bool, len(verified))
	for _, t := range verified {
		verifiedSet[t] = true
	}

	check := &dto.MaterialCheck{Complete: true}
	attached, err := s.materials.ListByApplication(ctx, applicationID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list materials")
	}
	attachedSet := make(map[models.MaterialType]bool, len(attached))
	for _, m := range attached {
		attachedSet[m.Type] = true
	}
	for _, required := range models.RequiredMaterialTypes {
		if verifiedSet[required] {
			continue
		}
		check.Complete = false
		if attachedSet[required] {
			check.Unverified = append(check.Unverified, required)
		} else {
			check.Missing = append(check.Missing, required)
		}
	}
	return check, nil
}

// VerifyMaterials advances SUBMITTED to MATERIALS_VERIFIED once every
// required material type is present and individually verified. Otherwise
// the application stays put and the check reports what blocks it.
func (s *WorkflowService) VerifyMaterials(ctx context.Context, applicationID string) (*dto.MaterialCheck, error) {
	app, err := s.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.Status != models.ApplicationStatusSubmitted {
		return nil, appErrors.Clone(appErrors.ErrInvalidStateTransition, fmt.Sprintf("cannot verify materials in state %s", app.Status))
	}
	check, err := s.CheckMaterials(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if !check.Complete {
		return check, appErrors.Clone(appErrors.ErrMissingMaterials, "required materials missing or unverified")
	}
	moved, err := s.apps.TransitionStatus(ctx, applicationID,
		[]models.ApplicationStatus{models.ApplicationStatusSubmitted}, models.ApplicationStatusMaterialsVerified)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to advance application")
	}
	if !moved {
		return nil, appErrors.Clone(appErrors.ErrConflict, "application state changed concurrently")
	}
	return check, nil
}

// StartReview assigns a reviewer and opens review.
func (s *WorkflowService) StartReview(ctx context.Context, applicationID string, req dto.StartReviewRequest) (*models.Application, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}
	moved, err := s.apps.AssignReviewer(ctx, applicationID, req.ReviewerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start review")
	}
	if !moved {
		return nil, appErrors.Clone(appErrors.ErrInvalidStateTransition, "application is not ready for review")
	}
	return s.Get(ctx, applicationID)
}

// Decide lands a terminal decision. The status flip, the seat commit or
// release, and the admission result are one transaction in the ledger; a
// lost seat rolls the decision back and surfaces as a conflict.
func (s *WorkflowService) Decide(ctx context.Context, applicationID string, req dto.DecideRequest, deciderID string) (*models.AdmissionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}
	start := time.Now()
	result, err := s.ledger.Decide(ctx, repository.DecideParams{
		ApplicationID: applicationID,
		Outcome:       req.Outcome,
		DeciderID:     deciderID,
	})
	s.observeLedger("decide", start)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ObserveDecision(string(result.Decision))
	}
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &deciderID,
		Action:     models.AuditActionDecision,
		Resource:   "application",
		ResourceID: &applicationID,
		NewValues:  []byte(fmt.Sprintf(`{"decision":%q}`, result.Decision)),
	})
	return result, nil
}

// Withdraw closes a pre-terminal application on applicant request and
// releases any held seat. Racing against a concurrent decide, exactly one
// of the two commits; the loser gets a conflict.
func (s *WorkflowService) Withdraw(ctx context.Context, applicationID, userID string) error {
	start := time.Now()
	err := s.ledger.Withdraw(ctx, applicationID)
	s.observeLedger("withdraw", start)
	if err != nil {
		return err
	}
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionWithdraw,
		Resource:   "application",
		ResourceID: &applicationID,
	})
	return nil
}

// Transfer retargets an application's held seat to a new class during
// review. An exhausted target cell fails the transfer and leaves the
// original reservation untouched.
func (s *WorkflowService) Transfer(ctx context.Context, applicationID string, req dto.TransferRequest) (*models.Reservation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transfer payload")
	}
	reservation, err := s.ledger.ActiveReservation(ctx, applicationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrReservationNotFound, "application holds no active reservation")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reservation")
	}
	start := time.Now()
	replacement, err := s.ledger.Transfer(ctx, reservation.ID, req.NewClassID)
	s.observeLedger("transfer", start)
	if err != nil {
		return nil, err
	}
	return replacement, nil
}

// Reverse is the audited inverse of an admitted decision: the committed
// seat returns to the cell and the application flips to REJECTED.
func (s *WorkflowService) Reverse(ctx context.Context, applicationID string, req dto.ReverseRequest, actorID string) (*models.AdmissionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reversal payload")
	}
	start := time.Now()
	result, err := s.ledger.Reverse(ctx, repository.ReverseParams{
		ApplicationID: applicationID,
		ActorID:       actorID,
		Note:          req.Note,
	})
	s.observeLedger("reverse", start)
	if err != nil {
		return nil, err
	}
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionReversal,
		Resource:   "application",
		ResourceID: &applicationID,
		Note:       &req.Note,
	})
	return result, nil
}

// Notify emits the decision event toward the notification collaborator and
// marks the application NOTIFIED. Ledger state is final before this step
// ever runs, so it retries independently of the ledger.
func (s *WorkflowService) Notify(ctx context.Context, applicationID string, result *models.AdmissionResult) (*models.Notification, error) {
	app, err := s.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	switch app.Status {
	case models.ApplicationStatusAdmitted, models.ApplicationStatusRejected, models.ApplicationStatusNotified:
	default:
		return nil, appErrors.Clone(appErrors.ErrInvalidStateTransition, fmt.Sprintf("cannot notify application in state %s", app.Status))
	}
	notification, err := s.notifier.CreateForDecision(ctx, app, result)
	if err != nil {
		return nil, err
	}
	if app.Status != models.ApplicationStatusNotified {
		if _, err := s.apps.TransitionStatus(ctx, applicationID,
			[]models.ApplicationStatus{models.ApplicationStatusAdmitted, models.ApplicationStatusRejected},
			models.ApplicationStatusNotified); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark application notified")
		}
	}
	return notification, nil
}

func (s *WorkflowService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func (s *WorkflowService) observeLedger(operation string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveLedgerTx(operation, time.Since(start))
	}
}

func (s *WorkflowService) observeReservation(result string) {
	if s.metrics != nil {
		s.metrics.ObserveReservation(result)
	}
}
