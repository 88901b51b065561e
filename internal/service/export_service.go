package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/kg-enroll-api/internal/models"
	appErrors "github.com/noah-isme/kg-enroll-api/pkg/errors"
	"github.com/noah-isme/kg-enroll-api/pkg/export"
)

type admissionReader interface {
	ListByPlan(ctx context.Context, planID string, decision models.Decision) ([]models.AdmissionResult, error)
}

type exportApplicationReader interface {
	FindByID(ctx context.Context, id string) (*models.Application, error)
}

type tableRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ExportService renders admission rosters for office use.
type ExportService struct {
	admissions admissionReader
	apps       exportApplicationReader
	pdf        tableRenderer
	csv        csvRenderer
	logger     *zap.Logger
}

// NewExportService constructs the service.
func NewExportService(admissions admissionReader, apps exportApplicationReader, pdf tableRenderer, csv csvRenderer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		admissions: admissions,
		apps:       apps,
		pdf:        pdf,
		csv:        csv,
		logger:     logger,
	}
}

var rosterHeaders = []string{"Application", "Child", "Class", "Decision", "Decided By", "Decided At"}

// AdmissionRoster renders the decided applications of a plan as CSV or PDF.
// format is "csv" or "pdf"; decision narrows to one outcome when non-empty.
func (s *ExportService) AdmissionRoster(ctx context.Context, planID, format string, decision models.Decision) ([]byte, string, error) {
	results, err := s.admissions.ListByPlan(ctx, planID, decision)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list admissions")
	}

	data := export.Dataset{Headers: rosterHeaders}
	for _, result := range results {
		row := map[string]string{
			"Application": result.ApplicationID,
			"Decision":    string(result.Decision),
			"Decided By":  result.DecidedBy,
			"Decided At":  result.DecidedAt.Format("2006-01-02 15:04"),
		}
		if result.ClassID != nil {
			row["Class"] = *result.ClassID
		}
		if app, err := s.apps.FindByID(ctx, result.ApplicationID); err == nil {
			row["Child"] = app.ChildName
		} else {
			s.logger.Warn("roster row missing application",
				zap.String("application_id", result.ApplicationID), zap.Error(err))
		}
		data.Rows = append(data.Rows, row)
	}

	switch strings.ToLower(format) {
	case "csv", "":
		payload, err := s.csv.Render(data)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv roster")
		}
		return payload, "text/csv", nil
	case "pdf":
		title := fmt.Sprintf("Admission roster %s", planID)
		payload, err := s.pdf.Render(data, title)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf roster")
		}
		return payload, "application/pdf", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}
