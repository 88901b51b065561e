package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/kg-enroll-api/internal/models"
)

// QuotaRepository handles persistence of quota cells outside the ledger
// mutation path. Counter mutations go through LedgerRepository.
type QuotaRepository struct {
	db *sqlx.DB
}

// NewQuotaRepository constructs the repository.
func NewQuotaRepository(db *sqlx.DB) *QuotaRepository {
	return &QuotaRepository{db: db}
}

// Create persists a new quota cell for a plan/class pair.
func (r *QuotaRepository) Create(ctx context.Context, quota *models.Quota) error {
	if quota.ID == "" {
		quota.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if quota.CreatedAt.IsZero() {
		quota.CreatedAt = now
	}
	quota.UpdatedAt = now
	if quota.Status == "" {
		quota.Status = models.QuotaStatusActive
	}
	const query = `INSERT INTO enrollment_quotas (id, plan_id, class_id, total_quota, used_quota, reserved_quota, status, remark, created_at, updated_at)
        VALUES (:id, :plan_id, :class_id, :total_quota, :used_quota, :reserved_quota, :status, :remark, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, quota); err != nil {
		return fmt.Errorf("create quota: %w", err)
	}
	return nil
}

// FindByID returns a quota cell by its ID.
func (r *QuotaRepository) FindByID(ctx context.Context, id string) (*models.Quota, error) {
	const query = `SELECT id, plan_id, class_id, total_quota, used_quota, reserved_quota, status, remark, created_at, updated_at
        FROM enrollment_quotas WHERE id = $1`
	var quota models.Quota
	if err := r.db.GetContext(ctx, &quota, query, id); err != nil {
		return nil, err
	}
	return &quota, nil
}

// FindByPlanAndClass returns the quota cell for a plan/class pair.
func (r *QuotaRepository) FindByPlanAndClass(ctx context.Context, planID, classID string) (*models.Quota, error) {
	const query = `SELECT id, plan_id, class_id, total_quota, used_quota, reserved_quota, status, remark, created_at, updated_at
        FROM enrollment_quotas WHERE plan_id = $1 AND class_id = $2`
	var quota models.Quota
	if err := r.db.GetContext(ctx, &quota, query, planID, classID); err != nil {
		return nil, err
	}
	return &quota, nil
}

// List returns quota cells filtered by the provided criteria.
func (r *QuotaRepository) List(ctx context.Context, filter models.QuotaFilter) ([]models.Quota, int, error) {
	base := "FROM enrollment_quotas"
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
	if filter.AvailableOnly {
		conditions = append(conditions, "total_quota > (used_quota + reserved_quota)")
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

	query := fmt.Sprintf(`SELECT id, plan_id, class_id, total_quota, used_quota, reserved_quota, status, remark, created_at, updated_at
        %s ORDER BY plan_id ASC, class_id ASC LIMIT %d OFFSET %d`, base+clause, size, offset)

	var quotas []models.Quota
	if err := r.db.SelectContext(ctx, &quotas, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list quotas: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count quotas: %w", err)
	}
	return quotas, total, nil
}

// UpdateTotal adjusts the fixed capacity of a cell. The write is guarded at
// the database level so the invariant used + reserved <= total survives
// concurrent ledger traffic; zero rows affected means the new total would
// undercut seats already held.
func (r *QuotaRepository) UpdateTotal(ctx context.Context, id string, totalQuota int, remark *string) (bool, error) {
	const query = `UPDATE enrollment_quotas
        SET total_quota = $2, remark = COALESCE($3, remark), updated_at = $4
        WHERE id = $1 AND used_quota + reserved_quota <= $2`
	res, err := r.db.ExecContext(ctx, query, id, totalQuota, remark, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("update quota total: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update quota total: %w", err)
	}
	return affected > 0, nil
}

// Archive soft-archives a cell together with its plan. Archived cells are
// never deleted while linked applications exist.
func (r *QuotaRepository) Archive(ctx context.Context, id string) error {
	const query = `UPDATE enrollment_quotas SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.QuotaStatusArchived, time.Now().UTC()); err != nil {
		return fmt.Errorf("archive quota: %w", err)
	}
	return nil
}

// PlanStats aggregates seat accounting across every cell of a plan.
func (r *QuotaRepository) PlanStats(ctx context.Context, planID string) (*models.QuotaPlanStats, error) {
	const query = `SELECT class_id, total_quota, used_quota, reserved_quota
        FROM enrollment_quotas WHERE plan_id = $1 ORDER BY class_id ASC`
	var cells []models.QuotaClassStat
	if err := r.db.SelectContext(ctx, &cells, query, planID); err != nil {
		return nil, fmt.Errorf("plan quota stats: %w", err)
	}
	if len(cells) == 0 {
		return nil, sql.ErrNoRows
	}

	stats := &models.QuotaPlanStats{PlanID: planID, Classes: cells}
	for i := range stats.Classes {
		cell := &stats.Classes[i]
		cell.AvailableQuota = cell.TotalQuota - cell.UsedQuota - cell.ReservedQuota
		if cell.TotalQuota > 0 {
			cell.UtilizationRate = float64(cell.UsedQuota) / float64(cell.TotalQuota) * 100
		}
		stats.TotalQuota += cell.TotalQuota
		stats.UsedQuota += cell.UsedQuota
		stats.ReservedQuota += cell.ReservedQuota
	}
	stats.AvailableQuota = stats.TotalQuota - stats.UsedQuota - stats.ReservedQuota
	if stats.TotalQuota > 0 {
		stats.UtilizationRate = float64(stats.UsedQuota) / float64(stats.TotalQuota) * 100
	}
	return stats, nil
}

// ActivePlanIDs returns the distinct plans with at least one active cell.
func (r *QuotaRepository) ActivePlanIDs(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT plan_id FROM enrollment_quotas WHERE status = $1 ORDER BY plan_id ASC`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, models.QuotaStatusActive); err != nil {
		return nil, fmt.Errorf("list active plans: %w", err)
	}
	return ids, nil
}
