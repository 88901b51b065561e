package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/kg-enroll-api/internal/models"
)

// ApplicationRepository handles persistence of enrollment applications
// outside the ledger transaction path.
type ApplicationRepository struct {
	db *sqlx.DB
}

// NewApplicationRepository constructs the repository.
func NewApplicationRepository(db *sqlx.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

const applicationColumns = `id, plan_id, class_id, child_name, parent_name, parent_phone, priority, status, reviewer_id, submitted_at, created_by, created_at, updated_at`

// Create persists a new draft application.
func (r *ApplicationRepository) Create(ctx context.Context, app *models.Application) error {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}
	app.UpdatedAt = now
	if app.Status == "" {
		app.Status = models.ApplicationStatusDraft
	}
	const query = `INSERT INTO enrollment_applications (id, plan_id, class_id, child_name, parent_name, parent_phone, priority, status, reviewer_id, submitted_at, created_by, created_at, updated_at)
        VALUES (:id, :plan_id, :class_id, :child_name, :parent_name, :parent_phone, :priority, :status, :reviewer_id, :submitted_at, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, app); err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	return nil
}

// FindByID returns an application by its ID.
func (r *ApplicationRepository) FindByID(ctx context.Context, id string) (*models.Application, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollment_applications WHERE id = $1`, applicationColumns)
	var app models.Application
	if err := r.db.GetContext(ctx, &app, query, id); err != nil {
		return nil, err
	}
	return &app, nil
}

// List returns applications filtered by the provided criteria.
func (r *ApplicationRepository) List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, int, error) {
	base := "FROM enrollment_applications"
	var conditions []string
	var args []interface{}

	if filter.PlanID != "" {
		conditions = append(conditions, fmt.Sprintf("plan_id = $%d", len(args)+1))
		args = append(args, filter.PlanID)
	}
	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		applicationColumns, base+clause, size, offset)

	var apps []models.Application
	if err := r.db.SelectContext(ctx, &apps, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list applications: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count applications: %w", err)
	}
	return apps, total, nil
}

// TransitionStatus flips the status only when the current status is one of
// the allowed origins, reporting whether the guard held. The single guarded
// UPDATE keeps the transition atomic without an explicit transaction.
func (r *ApplicationRepository) TransitionStatus(ctx context.Context, id string, from []models.ApplicationStatus, to models.ApplicationStatus) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition requires at least one origin status")
	}
	placeholders := make([]string, len(from))
	args := []interface{}{id, to, time.Now().UTC()}
	for i, status := range from {
		placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
		args = append(args, status)
	}
	query := fmt.Sprintf(`UPDATE enrollment_applications SET status = $2, updated_at = $3
        WHERE id = $1 AND status IN (%s)`, strings.Join(placeholders, ","))
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition application status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition application status: %w", err)
	}
	return affected > 0, nil
}

// AssignReviewer starts review: MATERIALS_VERIFIED to UNDER_REVIEW with the
// reviewer recorded, guarded the same way as TransitionStatus.
func (r *ApplicationRepository) AssignReviewer(ctx context.Context, id, reviewerID string) (bool, error) {
	const query = `UPDATE enrollment_applications SET status = $2, reviewer_id = $3, updated_at = $4
        WHERE id = $1 AND status = $5`
	res, err := r.db.ExecContext(ctx, query, id, models.ApplicationStatusUnderReview, reviewerID,
		time.Now().UTC(), models.ApplicationStatusMaterialsVerified)
	if err != nil {
		return false, fmt.Errorf("assign reviewer: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("assign reviewer: %w", err)
	}
	return affected > 0, nil
}

// ListForAllocation returns the UNDER_REVIEW candidates for one cell in
// ranking order: priority children first, then earliest submission, then
// application id as the final tie-break so re-runs are fully deterministic.
func (r *ApplicationRepository) ListForAllocation(ctx context.Context, planID, classID string) ([]models.Application, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollment_applications
        WHERE plan_id = $1 AND class_id = $2 AND status = $3
        ORDER BY priority DESC, submitted_at ASC, id ASC`, applicationColumns)
	var apps []models.Application
	if err := r.db.SelectContext(ctx, &apps, query, planID, classID, models.ApplicationStatusUnderReview); err != nil {
		return nil, fmt.Errorf("list allocation candidates: %w", err)
	}
	return apps, nil
}

// ListWaitlisted returns waitlisted applications for a cell in submission
// order, for rolling admissions to pick up once seats free.
func (r *ApplicationRepository) ListWaitlisted(ctx context.Context, planID, classID string) ([]models.Application, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollment_applications
        WHERE plan_id = $1 AND class_id = $2 AND status = $3
        ORDER BY priority DESC, submitted_at ASC, id ASC`, applicationColumns)
	var apps []models.Application
	if err := r.db.SelectContext(ctx, &apps, query, planID, classID, models.ApplicationStatusWaitlisted); err != nil {
		return nil, fmt.Errorf("list waitlisted applications: %w", err)
	}
	return apps, nil
}

// ClassIDsWithPending returns the distinct classes of a plan that still
// have applications waiting on review or waitlisted.
func (r *ApplicationRepository) ClassIDsWithPending(ctx context.Context, planID string) ([]string, error) {
	const query = `SELECT DISTINCT class_id FROM enrollment_applications
        WHERE plan_id = $1 AND status IN ($2, $3) ORDER BY class_id ASC`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, planID,
		models.ApplicationStatusUnderReview, models.ApplicationStatusWaitlisted); err != nil {
		return nil, fmt.Errorf("list pending classes: %w", err)
	}
	return ids, nil
}
