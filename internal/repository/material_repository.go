package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/kg-enroll-api/internal/models"
)

// MaterialRepository handles persistence of application materials.
type MaterialRepository struct {
	db *sqlx.DB
}

// NewMaterialRepository constructs the repository.
func NewMaterialRepository(db *sqlx.DB) *MaterialRepository {
	return &MaterialRepository{db: db}
}

// Create persists a new material record in PENDING state.
func (r *MaterialRepository) Create(ctx context.Context, material *models.Material) error {
	if material.ID == "" {
		material.ID = uuid.NewString()
	}
	if material.CreatedAt.IsZero() {
		material.CreatedAt = time.Now().UTC()
	}
	if material.Status == "" {
		material.Status = models.MaterialStatusPending
	}
	const query = `INSERT INTO enrollment_materials (id, application_id, material_type, material_name, file_id, status, verified_by, verified_at, created_at)
        VALUES (:id, :application_id, :material_type, :material_name, :file_id, :status, :verified_by, :verified_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, material); err != nil {
		return fmt.Errorf("create material: %w", err)
	}
	return nil
}

// FindByID returns a material by its ID.
func (r *MaterialRepository) FindByID(ctx context.Context, id string) (*models.Material, error) {
	const query = `SELECT id, application_id, material_type, material_name, file_id, status, verified_by, verified_at, created_at
        FROM enrollment_materials WHERE id = $1`
	var material models.Material
	if err := r.db.GetContext(ctx, &material, query, id); err != nil {
		return nil, err
	}
	return &material, nil
}

// ListByApplication returns all materials attached to an application.
func (r *MaterialRepository) ListByApplication(ctx context.Context, applicationID string) ([]models.Material, error) {
	const query = `SELECT id, application_id, material_type, material_name, file_id, status, verified_by, verified_at, created_at
        FROM enrollment_materials WHERE application_id = $1 ORDER BY created_at ASC`
	var materials []models.Material
	if err := r.db.SelectContext(ctx, &materials, query, applicationID); err != nil {
		return nil, fmt.Errorf("list materials: %w", err)
	}
	return materials, nil
}

// SetStatus records the verification outcome for one material.
func (r *MaterialRepository) SetStatus(ctx context.Context, id string, status models.MaterialStatus, verifierID string) error {
	const query = `UPDATE enrollment_materials SET status = $2, verified_by = $3, verified_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, verifierID, time.Now().UTC()); err != nil {
		return fmt.Errorf("set material status: %w", err)
	}
	return nil
}

// VerifiedTypes returns the distinct material types an application has in
// VERIFIED state. verifyMaterials diffs this against the required taxonomy.
func (r *MaterialRepository) VerifiedTypes(ctx context.Context, applicationID string) ([]models.MaterialType, error) {
	const query = `SELECT DISTINCT material_type FROM enrollment_materials
        WHERE application_id = $1 AND status = $2`
	var types []models.MaterialType
	if err := r.db.SelectContext(ctx, &types, query, applicationID, models.MaterialStatusVerified); err != nil {
		return nil, fmt.Errorf("list verified material types: %w", err)
	}
	return types, nil
}
