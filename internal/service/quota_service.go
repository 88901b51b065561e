package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/kg-enroll-api/internal/dto"
	"github.com/noah-isme/kg-enroll-api/internal/models"
	"github.com/noah-isme/kg-enroll-api/internal/repository"
	appErrors "github.com/noah-isme/kg-enroll-api/pkg/errors"
)

type quotaStore interface {
	Create(ctx context.Context, quota *models.Quota) error
	FindByID(ctx context.Context, id string) (*models.Quota, error)
	FindByPlanAndClass(ctx context.Context, planID, classID string) (*models.Quota, error)
	List(ctx context.Context, filter models.QuotaFilter) ([]models.Quota, int, error)
	UpdateTotal(ctx context.Context, id string, totalQuota int, remark *string) (bool, error)
	Archive(ctx context.Context, id string) error
	PlanStats(ctx context.Context, planID string) (*models.QuotaPlanStats, error)
}

type quotaCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, key string)
}

// QuotaService manages quota cells and plan-level utilization stats. Stats
// reads go through the cache; every mutation invalidates the plan's key so
// the next read rebuilds from the ledger tables.
type QuotaService struct {
	quotas    quotaStore
	cache     quotaCache
	audit     auditLogger
	statsTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewQuotaService constructs the service.
func NewQuotaService(quotas quotaStore, cache quotaCache, audit auditLogger, statsTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *QuotaService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if statsTTL <= 0 {
		statsTTL = 30 * time.Second
	}
	return &QuotaService{
		quotas:    quotas,
		cache:     cache,
		audit:     audit,
		statsTTL:  statsTTL,
		validator: validate,
		logger:    logger,
	}
}

// Create opens a new quota cell. One cell per plan/class pair.
func (s *QuotaService) Create(ctx context.Context, req dto.CreateQuotaRequest, userID string) (*models.Quota, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid quota payload")
	}
	existing, err := s.quotas.FindByPlanAndClass(ctx, req.PlanID, req.ClassID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing quota")
	}
	if existing != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "quota already exists for this plan and class")
	}
	quota := &models.Quota{
		PlanID:     req.PlanID,
		ClassID:    req.ClassID,
		TotalQuota: req.TotalQuota,
		Status:     models.QuotaStatusActive,
	}
	if req.Remark != "" {
		quota.Remark = &req.Remark
	}
	if err := s.quotas.Create(ctx, quota); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create quota")
	}
	s.invalidateStats(ctx, req.PlanID)
	s.emitQuotaAudit(ctx, userID, models.AuditActionQuotaCreate, quota.ID)
	return quota, nil
}

// Get returns one quota cell.
func (s *QuotaService) Get(ctx context.Context, id string) (*models.Quota, error) {
	quota, err := s.quotas.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "quota not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load quota")
	}
	return quota, nil
}

// List returns quota cells with pagination metadata.
func (s *QuotaService) List(ctx context.Context, filter models.QuotaFilter) ([]models.Quota, *models.Pagination, error) {
	quotas, total, err := s.quotas.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list quotas")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return quotas, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// UpdateTotal resizes a cell. Shrinking below the seats already used or
// reserved is refused so the ledger never goes negative.
func (s *QuotaService) UpdateTotal(ctx context.Context, id string, req dto.UpdateQuotaRequest, userID string) (*models.Quota, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid quota payload")
	}
	quota, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var remark *string
	if req.Remark != "" {
		remark = &req.Remark
	}
	updated, err := s.quotas.UpdateTotal(ctx, id, req.TotalQuota, remark)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update quota")
	}
	if !updated {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "total quota cannot drop below seats already used or reserved")
	}
	quota.TotalQuota = req.TotalQuota
	quota.Remark = remark
	s.invalidateStats(ctx, quota.PlanID)
	s.emitQuotaAudit(ctx, userID, models.AuditActionQuotaAdjust, id)
	return quota, nil
}

// Archive closes a cell to new reservations. Existing reservations and
// committed seats are untouched.
func (s *QuotaService) Archive(ctx context.Context, id, userID string) error {
	quota, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.quotas.Archive(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to archive quota")
	}
	s.invalidateStats(ctx, quota.PlanID)
	s.emitQuotaAudit(ctx, userID, models.AuditActionQuotaAdjust, id)
	return nil
}

// PlanStats returns plan-level utilization, served from cache when fresh.
func (s *QuotaService) PlanStats(ctx context.Context, planID string) (*models.QuotaPlanStats, error) {
	key := repository.QuotaStatsKey(planID)
	if s.cache != nil {
		var cached models.QuotaPlanStats
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		} else if !appErrors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("quota stats cache read failed", zap.Error(err))
		}
	}
	stats, err := s.quotas.PlanStats(ctx, planID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no quotas for plan")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute quota stats")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, stats, s.statsTTL); err != nil {
			s.logger.Warn("quota stats cache write failed", zap.Error(err))
		}
	}
	return stats, nil
}

func (s *QuotaService) invalidateStats(ctx context.Context, planID string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, repository.QuotaStatsKey(planID))
	}
}

func (s *QuotaService) emitQuotaAudit(ctx context.Context, userID, action, quotaID string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "quota",
		ResourceID: &quotaID,
	}); err != nil {
		s.logger.Warn("failed to persist quota audit log", zap.Error(err))
	}
}
