package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kg-enroll-api/internal/models"
	appErrors "github.com/noah-isme/kg-enroll-api/pkg/errors"
	"github.com/noah-isme/kg-enroll-api/pkg/export"
)

type admissionReaderStub struct {
	results []models.AdmissionResult
}

func (s *admissionReaderStub) ListByPlan(ctx context.Context, planID string, decision models.Decision) ([]models.AdmissionResult, error) {
	var filtered []models.AdmissionResult
	for _, result := range s.results {
		if decision != "" && result.Decision != decision {
			continue
		}
		filtered = append(filtered, result)
	}
	return filtered, nil
}

type exportAppsStub struct {
	apps map[string]*models.Application
}

func (s *exportAppsStub) FindByID(ctx context.Context, id string) (*models.Application, error) {
	if app, ok := s.apps[id]; ok {
		return app, nil
	}
	return nil, sql.ErrNoRows
}

func exportFixture() *ExportService {
	class := "class-1"
	admissions := &admissionReaderStub{results: []models.AdmissionResult{
		{ApplicationID: "app-1", PlanID: "plan-1", ClassID: &class, Decision: models.DecisionAdmitted, DecidedBy: "staff-1", DecidedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)},
		{ApplicationID: "app-2", PlanID: "plan-1", Decision: models.DecisionRejected, DecidedBy: "staff-1", DecidedAt: time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC)},
	}}
	apps := &exportAppsStub{apps: map[string]*models.Application{
		"app-1": {ID: "app-1", ChildName: "Mei Lin"},
		"app-2": {ID: "app-2", ChildName: "Xiao Ming"},
	}}
	return NewExportService(admissions, apps, export.NewPDFExporter(), export.NewCSVExporter(), nil)
}

func TestExportAdmissionRosterCSV(t *testing.T) {
	svc := exportFixture()

	payload, contentType, err := svc.AdmissionRoster(context.Background(), "plan-1", "csv", "")
	require.NoError(t, err)
	require.Equal(t, "text/csv", contentType)
	body := string(payload)
	require.Contains(t, body, "Mei Lin")
	require.Contains(t, body, "Xiao Ming")
	require.Contains(t, body, "ADMITTED")
	require.Contains(t, body, "REJECTED")
	require.Equal(t, 3, strings.Count(body, "\n"))
}

func TestExportAdmissionRosterFiltersDecision(t *testing.T) {
	svc := exportFixture()

	payload, _, err := svc.AdmissionRoster(context.Background(), "plan-1", "csv", models.DecisionAdmitted)
	require.NoError(t, err)
	body := string(payload)
	require.Contains(t, body, "Mei Lin")
	require.NotContains(t, body, "Xiao Ming")
}

func TestExportAdmissionRosterPDF(t *testing.T) {
	svc := exportFixture()

	payload, contentType, err := svc.AdmissionRoster(context.Background(), "plan-1", "pdf", "")
	require.NoError(t, err)
	require.Equal(t, "application/pdf", contentType)
	require.True(t, strings.HasPrefix(string(payload), "%PDF"))
}

func TestExportAdmissionRosterRejectsFormat(t *testing.T) {
	svc := exportFixture()

	_, _, err := svc.AdmissionRoster(context.Background(), "plan-1", "xlsx", "")
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}
