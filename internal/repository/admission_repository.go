package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/kg-enroll-api/internal/models"
)

// AdmissionRepository reads terminal admission records. Writes happen
// inside LedgerRepository transactions only.
type AdmissionRepository struct {
	db *sqlx.DB
}

// NewAdmissionRepository constructs the repository.
func NewAdmissionRepository(db *sqlx.DB) *AdmissionRepository {
	return &AdmissionRepository{db: db}
}

const admissionColumns = `id, application_id, plan_id, class_id, decision, decided_by, decided_at, reversed, reversed_by, reversed_at, audit_note`

// FindByApplication returns the admission result for an application.
func (r *AdmissionRepository) FindByApplication(ctx context.Context, applicationID string) (*models.AdmissionResult, error) {
	query := fmt.Sprintf(`SELECT %s FROM admission_results WHERE application_id = $1`, admissionColumns)
	var result models.AdmissionResult
	if err := r.db.GetContext(ctx, &result, query, applicationID); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListByPlan returns admission results for a plan, optionally narrowed to
// one decision, ordered by decision time for export.
func (r *AdmissionRepository) ListByPlan(ctx context.Context, planID string, decision models.Decision) ([]models.AdmissionResult, error) {
	conditions := []string{"plan_id = $1"}
	args := []interface{}{planID}
	if decision != "" {
		conditions = append(conditions, fmt.Sprintf("decision = $%d", len(args)+1))
		args = append(args, decision)
	}
	query := fmt.Sprintf(`SELECT %s FROM admission_results WHERE %s ORDER BY decided_at ASC, id ASC`,
		admissionColumns, strings.Join(conditions, " AND "))
	var results []models.AdmissionResult
	if err := r.db.SelectContext(ctx, &results, query, args...); err != nil {
		return nil, fmt.Errorf("list admission results: %w", err)
	}
	return results, nil
}
