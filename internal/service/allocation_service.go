package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/kg-enroll-api/internal/dto"
	"github.com/noah-isme/kg-enroll-api/internal/models"
	"github.com/noah-isme/kg-enroll-api/internal/repository"
	appErrors "github.com/noah-isme/kg-enroll-api/pkg/errors"
)

type allocationApplicationStore interface {
	ListForAllocation(ctx context.Context, planID, classID string) ([]models.Application, error)
	ListWaitlisted(ctx context.Context, planID, classID string) ([]models.Application, error)
	ClassIDsWithPending(ctx context.Context, planID string) ([]string, error)
	TransitionStatus(ctx context.Context, id string, from []models.ApplicationStatus, to models.ApplicationStatus) (bool, error)
}

type allocationLedger interface {
	Reserve(ctx context.Context, planID, classID, applicationID string) (*models.Reservation, error)
	Decide(ctx context.Context, params repository.DecideParams) (*models.AdmissionResult, error)
}

type allocationQuotaStore interface {
	ActivePlanIDs(ctx context.Context) ([]string, error)
}

type allocationCache interface {
	Invalidate(ctx context.Context, key string)
}

type allocationMetrics interface {
	ObserveAllocationRun(trigger string)
	ObserveDecision(outcome string)
}

// AllocationService ranks pending applications per quota cell and lands
// batch admission decisions. Ranking is deterministic, so re-running over
// the same state is a no-op: already-decided applications drop out of the
// candidate query and idempotent seat operations absorb the rest.
type AllocationService struct {
	apps    allocationApplicationStore
	ledger  allocationLedger
	quotas  allocationQuotaStore
	cache   allocationCache
	audit   auditLogger
	metrics allocationMetrics
	rolling bool
	logger  *zap.Logger
}

// NewAllocationService constructs the service. rolling keeps unseated
// candidates queued instead of rejecting them when a cell runs out.
func NewAllocationService(apps allocationApplicationStore, ledger allocationLedger, quotas allocationQuotaStore, cache allocationCache, audit auditLogger, metrics allocationMetrics, rolling bool, logger *zap.Logger) *AllocationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AllocationService{
		apps:    apps,
		ledger:  ledger,
		quotas:  quotas,
		cache:   cache,
		audit:   audit,
		metrics: metrics,
		rolling: rolling,
		logger:  logger,
	}
}

// Run executes one allocation pass for a plan, or for a single class of
// the plan when the request names one.
func (s *AllocationService) Run(ctx context.Context, req dto.AllocationRunRequest, trigger string) (*dto.AllocationReport, error) {
	if req.PlanID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "plan id is required")
	}
	classIDs := []string{req.ClassID}
	if req.ClassID == "" {
		ids, err := s.apps.ClassIDsWithPending(ctx, req.PlanID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pending classes")
		}
		classIDs = ids
	}

	report := &dto.AllocationReport{
		PlanID:    req.PlanID,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
	for _, classID := range classIDs {
		cell, err := s.allocateCell(ctx, req.PlanID, classID)
		if err != nil {
			return nil, err
		}
		report.Results = append(report.Results, *cell)
	}
	report.FinishedAt = time.Now().UTC().Format(time.RFC3339)

	if s.metrics != nil {
		s.metrics.ObserveAllocationRun(trigger)
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, repository.QuotaStatsKey(req.PlanID))
	}
	s.auditRun(ctx, trigger, report)
	s.logger.Info("allocation run finished",
		zap.String("plan_id", req.PlanID),
		zap.String("trigger", trigger),
		zap.Int("classes", len(report.Results)))
	return report, nil
}

// RunAllPlans runs an allocation pass over every active plan. Used by the
// scheduled trigger; per-plan failures are logged and do not stop the rest.
func (s *AllocationService) RunAllPlans(ctx context.Context, trigger string) {
	planIDs, err := s.quotas.ActivePlanIDs(ctx)
	if err != nil {
		s.logger.Error("failed to list active plans for scheduled allocation", zap.Error(err))
		return
	}
	for _, planID := range planIDs {
		if _, err := s.Run(ctx, dto.AllocationRunRequest{PlanID: planID}, trigger); err != nil {
			s.logger.Error("scheduled allocation failed",
				zap.String("plan_id", planID), zap.Error(err))
		}
	}
}

// allocateCell decides one plan/class cell. Rolling mode first promotes
// waitlisted applications into free seats, then ranking admits until the
// cell exhausts; what remains is rejected, or kept queued in rolling mode.
func (s *AllocationService) allocateCell(ctx context.Context, planID, classID string) (*dto.AllocationCellState, error) {
	cell := &dto.AllocationCellState{ClassID: classID}

	if s.rolling {
		promoted, err := s.promoteWaitlisted(ctx, planID, classID)
		if err != nil {
			return nil, err
		}
		cell.Promoted = promoted
	}

	candidates, err := s.apps.ListForAllocation(ctx, planID, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list candidates")
	}

	exhausted := false
	for _, app := range candidates {
		if !exhausted {
			_, err := s.ledger.Reserve(ctx, planID, classID, app.ID)
			switch {
			case err == nil:
				if err := s.decide(ctx, app.ID, models.DecisionAdmitted); err != nil {
					return nil, err
				}
				cell.Admitted++
				continue
			case appErrors.Is(err, appErrors.ErrQuotaExhausted):
				exhausted = true
			default:
				return nil, err
			}
		}
		if s.rolling {
			cell.Queued++
			continue
		}
		if err := s.decide(ctx, app.ID, models.DecisionRejected); err != nil {
			return nil, err
		}
		cell.Rejected++
	}
	return cell, nil
}

// promoteWaitlisted moves waitlisted applications back into SUBMITTED as
// long as the cell still has seats, reserving one per promotion. The first
// exhausted reserve ends the sweep.
func (s *AllocationService) promoteWaitlisted(ctx context.Context, planID, classID string) (int, error) {
	waitlisted, err := s.apps.ListWaitlisted(ctx, planID, classID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list waitlist")
	}
	promoted := 0
	for _, app := range waitlisted {
		_, err := s.ledger.Reserve(ctx, planID, classID, app.ID)
		if err != nil {
			if appErrors.Is(err, appErrors.ErrQuotaExhausted) {
				break
			}
			return promoted, err
		}
		moved, err := s.apps.TransitionStatus(ctx, app.ID,
			[]models.ApplicationStatus{models.ApplicationStatusWaitlisted}, models.ApplicationStatusSubmitted)
		if err != nil {
			return promoted, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to promote waitlisted application")
		}
		if moved {
			promoted++
			s.logger.Info("promoted waitlisted application",
				zap.String("application_id", app.ID),
				zap.String("class_id", classID))
		}
	}
	return promoted, nil
}

func (s *AllocationService) decide(ctx context.Context, applicationID string, outcome models.Decision) error {
	result, err := s.ledger.Decide(ctx, repository.DecideParams{
		ApplicationID: applicationID,
		Outcome:       outcome,
		DeciderID:     "allocation-engine",
	})
	if err != nil {
		return fmt.Errorf("decide application %s: %w", applicationID, err)
	}
	if s.metrics != nil {
		s.metrics.ObserveDecision(string(result.Decision))
	}
	return nil
}

func (s *AllocationService) auditRun(ctx context.Context, trigger string, report *dto.AllocationReport) {
	if s.audit == nil {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		payload = nil
	}
	actor := "allocation-engine:" + trigger
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actor,
		Action:     models.AuditActionAllocationRun,
		Resource:   "enrollment_plan",
		ResourceID: &report.PlanID,
		NewValues:  payload,
	}); err != nil {
		s.logger.Warn("failed to persist allocation audit log", zap.Error(err))
	}
}
