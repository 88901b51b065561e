package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kg-enroll-api/internal/dto"
	"github.com/noah-isme/kg-enroll-api/internal/models"
	"github.com/noah-isme/kg-enroll-api/internal/repository"
	appErrors "github.com/noah-isme/kg-enroll-api/pkg/errors"
)

type allocationAppsStub struct {
	candidates map[string][]models.Application
	waitlisted map[string][]models.Application
	pending    []string
	statuses   map[string]models.ApplicationStatus
}

func newAllocationAppsStub() *allocationAppsStub {
	return &allocationAppsStub{
		candidates: make(map[string][]models.Application),
		waitlisted: make(map[string][]models.Application),
		statuses:   make(map[string]models.ApplicationStatus),
	}
}

func (s *allocationAppsStub) ListForAllocation(ctx context.Context, planID, classID string) ([]models.Application, error) {
	return s.candidates[classID], nil
}

func (s *allocationAppsStub) ListWaitlisted(ctx context.Context, planID, classID string) ([]models.Application, error) {
	return s.waitlisted[classID], nil
}

func (s *allocationAppsStub) ClassIDsWithPending(ctx context.Context, planID string) ([]string, error) {
	return s.pending, nil
}

func (s *allocationAppsStub) TransitionStatus(ctx context.Context, id string, from []models.ApplicationStatus, to models.ApplicationStatus) (bool, error) {
	s.statuses[id] = to
	return true, nil
}

// allocLedgerStub grants seats until capacity runs out, mirroring the
// quota exhaustion behaviour of the real ledger.
type allocLedgerStub struct {
	capacity  int
	reserved  map[string]bool
	decisions map[string]models.Decision
}

func newAllocLedgerStub(capacity int) *allocLedgerStub {
	return &allocLedgerStub{
		capacity:  capacity,
		reserved:  make(map[string]bool),
		decisions: make(map[string]models.Decision),
	}
}

func (l *allocLedgerStub) Reserve(ctx context.Context, planID, classID, applicationID string) (*models.Reservation, error) {
	if l.reserved[applicationID] {
		return &models.Reservation{ID: "res-" + applicationID, ApplicationID: applicationID, ClassID: classID}, nil
	}
	if len(l.reserved) >= l.capacity {
		return nil, appErrors.ErrQuotaExhausted
	}
	l.reserved[applicationID] = true
	return &models.Reservation{ID: "res-" + applicationID, ApplicationID: applicationID, ClassID: classID}, nil
}

func (l *allocLedgerStub) Decide(ctx context.Context, params repository.DecideParams) (*models.AdmissionResult, error) {
	l.decisions[params.ApplicationID] = params.Outcome
	return &models.AdmissionResult{ApplicationID: params.ApplicationID, Decision: params.Outcome, DecidedAt: time.Now()}, nil
}

type allocQuotasStub struct {
	planIDs []string
}

func (q *allocQuotasStub) ActivePlanIDs(ctx context.Context) ([]string, error) {
	return q.planIDs, nil
}

type allocCacheStub struct {
	invalidated []string
}

func (c *allocCacheStub) Invalidate(ctx context.Context, key string) {
	c.invalidated = append(c.invalidated, key)
}

func rankedCandidates(ids ...string) []models.Application {
	apps := make([]models.Application, 0, len(ids))
	for _, id := range ids {
		apps = append(apps, models.Application{ID: id, PlanID: "plan-1", ClassID: "class-1", Status: models.ApplicationStatusUnderReview})
	}
	return apps
}

func TestAllocationAdmitsUntilExhaustedThenRejects(t *testing.T) {
	apps := newAllocationAppsStub()
	apps.candidates["class-1"] = rankedCandidates("app-1", "app-2", "app-3")
	ledger := newAllocLedgerStub(2)
	cache := &allocCacheStub{}
	audit := &auditStub{}
	metrics := &metricsStub{}
	svc := NewAllocationService(apps, ledger, &allocQuotasStub{}, cache, audit, metrics, false, nil)

	report, err := svc.Run(context.Background(), dto.AllocationRunRequest{PlanID: "plan-1", ClassID: "class-1"}, "manual")
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	cell := report.Results[0]
	require.Equal(t, 2, cell.Admitted)
	require.Equal(t, 1, cell.Rejected)
	require.Equal(t, 0, cell.Queued)
	require.Equal(t, models.DecisionAdmitted, ledger.decisions["app-1"])
	require.Equal(t, models.DecisionAdmitted, ledger.decisions["app-2"])
	require.Equal(t, models.DecisionRejected, ledger.decisions["app-3"])
	require.Len(t, cache.invalidated, 1)
	require.Len(t, audit.logs, 1)
	require.Equal(t, models.AuditActionAllocationRun, audit.logs[0].Action)
	require.Equal(t, []string{"manual"}, metrics.allocations)
}

func TestAllocationRollingKeepsLosersQueued(t *testing.T) {
	apps := newAllocationAppsStub()
	apps.candidates["class-1"] = rankedCandidates("app-1", "app-2", "app-3")
	ledger := newAllocLedgerStub(1)
	svc := NewAllocationService(apps, ledger, &allocQuotasStub{}, &allocCacheStub{}, &auditStub{}, &metricsStub{}, true, nil)

	report, err := svc.Run(context.Background(), dto.AllocationRunRequest{PlanID: "plan-1", ClassID: "class-1"}, "manual")
	require.NoError(t, err)
	cell := report.Results[0]
	require.Equal(t, 1, cell.Admitted)
	require.Equal(t, 0, cell.Rejected)
	require.Equal(t, 2, cell.Queued)
	_, decided := ledger.decisions["app-2"]
	require.False(t, decided)
}

func TestAllocationRollingPromotesWaitlist(t *testing.T) {
	apps := newAllocationAppsStub()
	apps.waitlisted["class-1"] = []models.Application{
		{ID: "wait-1", PlanID: "plan-1", ClassID: "class-1", Status: models.ApplicationStatusWaitlisted},
		{ID: "wait-2", PlanID: "plan-1", ClassID: "class-1", Status: models.ApplicationStatusWaitlisted},
	}
	ledger := newAllocLedgerStub(1)
	svc := NewAllocationService(apps, ledger, &allocQuotasStub{}, &allocCacheStub{}, &auditStub{}, &metricsStub{}, true, nil)

	report, err := svc.Run(context.Background(), dto.AllocationRunRequest{PlanID: "plan-1", ClassID: "class-1"}, "scheduled")
	require.NoError(t, err)
	cell := report.Results[0]
	require.Equal(t, 1, cell.Promoted)
	require.Equal(t, models.ApplicationStatusSubmitted, apps.statuses["wait-1"])
	_, promoted := apps.statuses["wait-2"]
	require.False(t, promoted)
}

func TestAllocationSweepsAllPendingClasses(t *testing.T) {
	apps := newAllocationAppsStub()
	apps.pending = []string{"class-1", "class-2"}
	apps.candidates["class-1"] = rankedCandidates("app-1")
	apps.candidates["class-2"] = []models.Application{
		{ID: "app-2", PlanID: "plan-1", ClassID: "class-2", Status: models.ApplicationStatusUnderReview},
	}
	ledger := newAllocLedgerStub(5)
	svc := NewAllocationService(apps, ledger, &allocQuotasStub{}, &allocCacheStub{}, &auditStub{}, &metricsStub{}, false, nil)

	report, err := svc.Run(context.Background(), dto.AllocationRunRequest{PlanID: "plan-1"}, "manual")
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	require.Equal(t, models.DecisionAdmitted, ledger.decisions["app-1"])
	require.Equal(t, models.DecisionAdmitted, ledger.decisions["app-2"])
}

func TestAllocationRequiresPlan(t *testing.T) {
	svc := NewAllocationService(newAllocationAppsStub(), newAllocLedgerStub(0), &allocQuotasStub{}, &allocCacheStub{}, &auditStub{}, &metricsStub{}, false, nil)

	_, err := svc.Run(context.Background(), dto.AllocationRunRequest{}, "manual")
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}
