package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kg-enroll-api/internal/dto"
	"github.com/noah-isme/kg-enroll-api/internal/models"
	"github.com/noah-isme/kg-enroll-api/internal/repository"
	appErrors "github.com/noah-isme/kg-enroll-api/pkg/errors"
)

type applicationStoreStub struct {
	apps        map[string]*models.Application
	transitions []models.ApplicationStatus
}

func newApplicationStoreStub() *applicationStoreStub {
	return &applicationStoreStub{apps: make(map[string]*models.Application)}
}

func (s *applicationStoreStub) Create(ctx context.Context, app *models.Application) error {
	if app.ID == "" {
		app.ID = "app-" + app.ChildName
	}
	s.apps[app.ID] = app
	return nil
}

func (s *applicationStoreStub) FindByID(ctx context.Context, id string) (*models.Application, error) {
	if app, ok := s.apps[id]; ok {
		copy := *app
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *applicationStoreStub) List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, int, error) {
	result := make([]models.Application, 0, len(s.apps))
	for _, app := range s.apps {
		result = append(result, *app)
	}
	return result, len(result), nil
}

func (s *applicationStoreStub) TransitionStatus(ctx context.Context, id string, from []models.ApplicationStatus, to models.ApplicationStatus) (bool, error) {
	app, ok := s.apps[id]
	if !ok {
		return false, nil
	}
	for _, origin := range from {
		if app.Status == origin {
			app.Status = to
			s.transitions = append(s.transitions, to)
			return true, nil
		}
	}
	return false, nil
}

func (s *applicationStoreStub) AssignReviewer(ctx context.Context, id, reviewerID string) (bool, error) {
	app, ok := s.apps[id]
	if !ok || app.Status != models.ApplicationStatusMaterialsVerified {
		return false, nil
	}
	app.Status = models.ApplicationStatusUnderReview
	app.ReviewerID = &reviewerID
	return true, nil
}

type ledgerStub struct {
	submitOutcome *repository.SubmitOutcome
	submitErr     error
	decideResult  *models.AdmissionResult
	decideErr     error
	reservation   *models.Reservation
	transferErr   error
	withdrawn     []string
}

func (l *ledgerStub) Submit(ctx context.Context, applicationID string) (*repository.SubmitOutcome, error) {
	if l.submitErr != nil {
		return nil, l.submitErr
	}
	return l.submitOutcome, nil
}

func (l *ledgerStub) Decide(ctx context.Context, params repository.DecideParams) (*models.AdmissionResult, error) {
	if l.decideErr != nil {
		return nil, l.decideErr
	}
	return l.decideResult, nil
}

func (l *ledgerStub) Withdraw(ctx context.Context, applicationID string) error {
	l.withdrawn = append(l.withdrawn, applicationID)
	return nil
}

func (l *ledgerStub) Reverse(ctx context.Context, params repository.ReverseParams) (*models.AdmissionResult, error) {
	note := params.Note
	return &models.AdmissionResult{ApplicationID: params.ApplicationID, Reversed: true, AuditNote: &note}, nil
}

func (l *ledgerStub) Transfer(ctx context.Context, reservationID, newClassID string) (*models.Reservation, error) {
	if l.transferErr != nil {
		return nil, l.transferErr
	}
	return &models.Reservation{ID: "res-new", ClassID: newClassID, Status: models.ReservationStatusActive}, nil
}

func (l *ledgerStub) ActiveReservation(ctx context.Context, applicationID string) (*models.Reservation, error) {
	if l.reservation == nil {
		return nil, sql.ErrNoRows
	}
	return l.reservation, nil
}

type materialStoreStub struct {
	materials map[string]*models.Material
	verified  []models.MaterialType
}

func newMaterialStoreStub() *materialStoreStub {
	return &materialStoreStub{materials: make(map[string]*models.Material)}
}

func (m *materialStoreStub) Create(ctx context.Context, material *models.Material) error {
	if material.ID == "" {
		material.ID = "mat-" + string(material.Type)
	}
	m.materials[material.ID] = material
	return nil
}

func (m *materialStoreStub) FindByID(ctx context.Context, id string) (*models.Material, error) {
	if material, ok := m.materials[id]; ok {
		copy := *material
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *materialStoreStub) ListByApplication(ctx context.Context, applicationID string) ([]models.Material, error) {
	result := make([]models.Material, 0, len(m.materials))
	for _, material := range m.materials {
		result = append(result, *material)
	}
	return result, nil
}

func (m *materialStoreStub) SetStatus(ctx context.Context, id string, status models.MaterialStatus, verifierID string) error {
	if material, ok := m.materials[id]; ok {
		material.Status = status
	}
	return nil
}

func (m *materialStoreStub) VerifiedTypes(ctx context.Context, applicationID string) ([]models.MaterialType, error) {
	return m.verified, nil
}

type notifierStub struct {
	created []string
}

func (n *notifierStub) CreateForDecision(ctx context.Context, app *models.Application, result *models.AdmissionResult) (*models.Notification, error) {
	n.created = append(n.created, app.ID)
	return &models.Notification{ID: "ntf-1", ApplicationID: app.ID, Status: models.NotificationStatusPending}, nil
}

type auditStub struct {
	logs []*models.AuditLog
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type metricsStub struct {
	reservations  []string
	decisions     []string
	ledgerOps     []string
	allocations   []string
	notifications []string
}

func (m *metricsStub) ObserveReservation(result string) {
	m.reservations = append(m.reservations, result)
}
func (m *metricsStub) ObserveDecision(outcome string) { m.decisions = append(m.decisions, outcome) }
func (m *metricsStub) ObserveAllocationRun(trigger string) {
	m.allocations = append(m.allocations, trigger)
}
func (m *metricsStub) ObserveNotification(status string) {
	m.notifications = append(m.notifications, status)
}
func (m *metricsStub) ObserveLedgerTx(operation string, duration time.Duration) {
	m.ledgerOps = append(m.ledgerOps, operation)
}

func newWorkflowFixture() (*WorkflowService, *applicationStoreStub, *ledgerStub, *materialStoreStub, *notifierStub, *auditStub, *metricsStub) {
	apps := newApplicationStoreStub()
	ledger := &ledgerStub{}
	materials := newMaterialStoreStub()
	notifier := &notifierStub{}
	audit := &auditStub{}
	metrics := &metricsStub{}
	svc := NewWorkflowService(apps, ledger, materials, notifier, audit, metrics, nil, nil)
	return svc, apps, ledger, materials, notifier, audit, metrics
}

func draftApplication(id string) *models.Application {
	return &models.Application{
		ID:          id,
		PlanID:      "plan-1",
		ClassID:     "class-1",
		ChildName:   "Mei Lin",
		ParentName:  "Lin Wei",
		ParentPhone: "13800000000",
		Status:      models.ApplicationStatusDraft,
	}
}

func TestWorkflowSubmitReservesSeat(t *testing.T) {
	svc, apps, ledger, _, _, _, metrics := newWorkflowFixture()
	apps.apps["app-1"] = draftApplication("app-1")
	ledger.submitOutcome = &repository.SubmitOutcome{
		Status:      models.ApplicationStatusSubmitted,
		Reservation: &models.Reservation{ID: "res-1", Status: models.ReservationStatusActive},
	}

	app, err := svc.Submit(context.Background(), "app-1")
	require.NoError(t, err)
	require.Equal(t, models.ApplicationStatusSubmitted, app.Status)
	require.Equal(t, []string{"reserved"}, metrics.reservations)
}

func TestWorkflowSubmitWaitlistsOnExhaustion(t *testing.T) {
	svc, apps, ledger, _, _, _, metrics := newWorkflowFixture()
	apps.apps["app-1"] = draftApplication("app-1")
	ledger.submitOutcome = &repository.SubmitOutcome{Status: models.ApplicationStatusWaitlisted}

	app, err := svc.Submit(context.Background(), "app-1")
	require.NoError(t, err)
	require.Equal(t, models.ApplicationStatusWaitlisted, app.Status)
	require.Equal(t, []string{"waitlisted"}, metrics.reservations)
}

func TestWorkflowSubmitRequiresDraft(t *testing.T) {
	svc, apps, _, _, _, _, _ := newWorkflowFixture()
	app := draftApplication("app-1")
	app.Status = models.ApplicationStatusSubmitted
	apps.apps["app-1"] = app

	_, err := svc.Submit(context.Background(), "app-1")
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidStateTransition))
}

func TestWorkflowSubmitRequiresContactFields(t *testing.T) {
	svc, apps, _, _, _, _, _ := newWorkflowFixture()
	app := draftApplication("app-1")
	app.ParentPhone = ""
	apps.apps["app-1"] = app

	_, err := svc.Submit(context.Background(), "app-1")
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestWorkflowVerifyMaterialsIncomplete(t *testing.T) {
	svc, apps, _, materials, _, _, _ := newWorkflowFixture()
	app := draftApplication("app-1")
	app.Status = models.ApplicationStatusSubmitted
	apps.apps["app-1"] = app
	materials.materials["mat-1"] = &models.Material{
		ID: "mat-1", ApplicationID: "app-1",
		Type: models.MaterialTypeHouseholdRegister, Status: models.MaterialStatusPending,
	}
	materials.verified = nil

	check, err := svc.VerifyMaterials(context.Background(), "app-1")
	require.True(t, appErrors.Is(err, appErrors.ErrMissingMaterials))
	require.NotNil(t, check)
	require.False(t, check.Complete)
	require.Contains(t, check.Unverified, models.MaterialTypeHouseholdRegister)
	require.Contains(t, check.Missing, models.MaterialTypeBirthCertificate)
	require.Contains(t, check.Missing, models.MaterialTypeVaccinationRecord)
	require.Equal(t, models.ApplicationStatusSubmitted, apps.apps["app-1"].Status)
}

func TestWorkflowVerifyMaterialsComplete(t *testing.T) {
	svc, apps, _, materials, _, _, _ := newWorkflowFixture()
	app := draftApplication("app-1")
	app.Status = models.ApplicationStatusSubmitted
	apps.apps["app-1"] = app
	materials.verified = models.RequiredMaterialTypes

	check, err := svc.VerifyMaterials(context.Background(), "app-1")
	require.NoError(t, err)
	require.True(t, check.Complete)
	require.Equal(t, models.ApplicationStatusMaterialsVerified, apps.apps["app-1"].Status)
}

func TestWorkflowStartReviewGuarded(t *testing.T) {
	svc, apps, _, _, _, _, _ := newWorkflowFixture()
	app := draftApplication("app-1")
	app.Status = models.ApplicationStatusSubmitted
	apps.apps["app-1"] = app

	_, err := svc.StartReview(context.Background(), "app-1", dto.StartReviewRequest{ReviewerID: "reviewer-1"})
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidStateTransition))

	apps.apps["app-1"].Status = models.ApplicationStatusMaterialsVerified
	reviewed, err := svc.StartReview(context.Background(), "app-1", dto.StartReviewRequest{ReviewerID: "reviewer-1"})
	require.NoError(t, err)
	require.Equal(t, models.ApplicationStatusUnderReview, reviewed.Status)
}

func TestWorkflowDecideEmitsAudit(t *testing.T) {
	svc, apps, ledger, _, _, audit, metrics := newWorkflowFixture()
	apps.apps["app-1"] = draftApplication("app-1")
	class := "class-1"
	ledger.decideResult = &models.AdmissionResult{
		ID: "result-1", ApplicationID: "app-1",
		Decision: models.DecisionAdmitted, ClassID: &class, DecidedAt: time.Now(),
	}

	result, err := svc.Decide(context.Background(), "app-1", dto.DecideRequest{Outcome: models.DecisionAdmitted}, "staff-1")
	require.NoError(t, err)
	require.Equal(t, models.DecisionAdmitted, result.Decision)
	require.Len(t, audit.logs, 1)
	require.Equal(t, models.AuditActionDecision, audit.logs[0].Action)
	require.Equal(t, []string{"ADMITTED"}, metrics.decisions)
}

func TestWorkflowTransferWithoutReservation(t *testing.T) {
	svc, apps, _, _, _, _, _ := newWorkflowFixture()
	apps.apps["app-1"] = draftApplication("app-1")

	_, err := svc.Transfer(context.Background(), "app-1", dto.TransferRequest{NewClassID: "class-2"})
	require.True(t, appErrors.Is(err, appErrors.ErrReservationNotFound))
}

func TestWorkflowTransferRetargetsSeat(t *testing.T) {
	svc, apps, ledger, _, _, _, _ := newWorkflowFixture()
	apps.apps["app-1"] = draftApplication("app-1")
	ledger.reservation = &models.Reservation{ID: "res-1", ClassID: "class-1", Status: models.ReservationStatusActive}

	replacement, err := svc.Transfer(context.Background(), "app-1", dto.TransferRequest{NewClassID: "class-2"})
	require.NoError(t, err)
	require.Equal(t, "class-2", replacement.ClassID)
}

func TestWorkflowWithdrawAudits(t *testing.T) {
	svc, _, ledger, _, _, audit, _ := newWorkflowFixture()

	require.NoError(t, svc.Withdraw(context.Background(), "app-1", "parent-1"))
	require.Equal(t, []string{"app-1"}, ledger.withdrawn)
	require.Len(t, audit.logs, 1)
	require.Equal(t, models.AuditActionWithdraw, audit.logs[0].Action)
}

func TestWorkflowNotifyMarksNotified(t *testing.T) {
	svc, apps, _, _, notifier, _, _ := newWorkflowFixture()
	app := draftApplication("app-1")
	app.Status = models.ApplicationStatusAdmitted
	apps.apps["app-1"] = app
	class := "class-1"
	result := &models.AdmissionResult{ApplicationID: "app-1", Decision: models.DecisionAdmitted, ClassID: &class}

	notification, err := svc.Notify(context.Background(), "app-1", result)
	require.NoError(t, err)
	require.Equal(t, "ntf-1", notification.ID)
	require.Equal(t, []string{"app-1"}, notifier.created)
	require.Equal(t, models.ApplicationStatusNotified, apps.apps["app-1"].Status)
}

func TestWorkflowNotifyRejectsUndecided(t *testing.T) {
	svc, apps, _, _, _, _, _ := newWorkflowFixture()
	app := draftApplication("app-1")
	app.Status = models.ApplicationStatusUnderReview
	apps.apps["app-1"] = app

	_, err := svc.Notify(context.Background(), "app-1", &models.AdmissionResult{})
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidStateTransition))
}
