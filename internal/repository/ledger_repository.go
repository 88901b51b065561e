package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/kg-enroll-api/internal/models"
	appErrors "github.com/noah-isme/kg-enroll-api/pkg/errors"
)

// LedgerRepository owns every mutation of quota counters. Each operation
// runs in a single database transaction holding a row-level lock on the
// target quota cell for the duration of the check-and-increment, so two
// concurrent reservations can never both pass the capacity check. In-process
// locking is no substitute because the workflow runs across server
// instances.
//
// Lock order is application row first, reservation row second, quota row
// last, and within one transaction quota rows are locked in ascending class
// order. Every method keeps this order to stay deadlock free, and the
// application lock is what serializes concurrent reserves for the same
// application: when no reservation row exists yet, the reservation lookup
// locks nothing.
type LedgerRepository struct {
	db        *sqlx.DB
	txTimeout time.Duration
}

// NewLedgerRepository constructs the repository. txTimeout bounds each
// transaction; past the deadline it aborts and releases its locks, and the
// caller retries idempotently.
func NewLedgerRepository(db *sqlx.DB, txTimeout time.Duration) *LedgerRepository {
	if txTimeout <= 0 {
		txTimeout = 5 * time.Second
	}
	return &LedgerRepository{db: db, txTimeout: txTimeout}
}

// DecideParams carries one admission decision into the ledger transaction.
type DecideParams struct {
	ApplicationID string
	Outcome       models.Decision
	DeciderID     string
}

// ReverseParams identifies an admitted decision to reverse.
type ReverseParams struct {
	ApplicationID string
	ActorID       string
	Note          string
}

// SubmitOutcome reports how a submission landed: reserved, or degraded to
// the waitlist because the cell was exhausted.
type SubmitOutcome struct {
	Status      models.ApplicationStatus
	Reservation *models.Reservation
}

type lockedQuota struct {
	ID            string `db:"id"`
	TotalQuota    int    `db:"total_quota"`
	UsedQuota     int    `db:"used_quota"`
	ReservedQuota int    `db:"reserved_quota"`
}

func (r *LedgerRepository) inTx(ctx context.Context, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.txTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger transaction: %w", err)
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return mapDeadline(err)
	}
	if err := tx.Commit(); err != nil {
		return mapDeadline(fmt.Errorf("commit ledger transaction: %w", err))
	}
	return nil
}

func mapDeadline(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return appErrors.Wrap(err, appErrors.ErrTransactionTimeout.Code, appErrors.ErrTransactionTimeout.Status, appErrors.ErrTransactionTimeout.Message)
	}
	return err
}

func lockQuotaCell(ctx context.Context, tx *sqlx.Tx, planID, classID string) (*lockedQuota, error) {
	const query = `SELECT id, total_quota, used_quota, reserved_quota
        FROM enrollment_quotas WHERE plan_id = $1 AND class_id = $2 AND status = $3 FOR UPDATE`
	var cell lockedQuota
	if err := tx.GetContext(ctx, &cell, query, planID, classID, models.QuotaStatusActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no active quota for class")
		}
		return nil, fmt.Errorf("lock quota cell: %w", err)
	}
	return &cell, nil
}

func lockActiveReservation(ctx context.Context, tx *sqlx.Tx, applicationID string) (*models.Reservation, error) {
	const query = `SELECT id, application_id, quota_id, plan_id, class_id, status, created_at, resolved_at
        FROM enrollment_reservations WHERE application_id = $1 AND status = $2 FOR UPDATE`
	var reservation models.Reservation
	if err := tx.GetContext(ctx, &reservation, query, applicationID, models.ReservationStatusActive); err != nil {
		return nil, err
	}
	return &reservation, nil
}

func lockReservation(ctx context.Context, tx *sqlx.Tx, reservationID string) (*models.Reservation, error) {
	const query = `SELECT id, application_id, quota_id, plan_id, class_id, status, created_at, resolved_at
        FROM enrollment_reservations WHERE id = $1 FOR UPDATE`
	var reservation models.Reservation
	if err := tx.GetContext(ctx, &reservation, query, reservationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrReservationNotFound, "reservation not found")
		}
		return nil, fmt.Errorf("lock reservation: %w", err)
	}
	return &reservation, nil
}

func insertReservation(ctx context.Context, tx *sqlx.Tx, applicationID string, cell *lockedQuota, planID, classID string) (*models.Reservation, error) {
	reservation := &models.Reservation{
		ID:            uuid.NewString(),
		ApplicationID: applicationID,
		QuotaID:       cell.ID,
		PlanID:        planID,
		ClassID:       classID,
		Status:        models.ReservationStatusActive,
		CreatedAt:     time.Now().UTC(),
	}
	const query = `INSERT INTO enrollment_reservations (id, application_id, quota_id, plan_id, class_id, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := tx.ExecContext(ctx, query, reservation.ID, reservation.ApplicationID, reservation.QuotaID,
		reservation.PlanID, reservation.ClassID, reservation.Status, reservation.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert reservation: %w", err)
	}
	return reservation, nil
}

func adjustQuota(ctx context.Context, tx *sqlx.Tx, quotaID string, usedDelta, reservedDelta int) error {
	const query = `UPDATE enrollment_quotas
        SET used_quota = used_quota + $2, reserved_quota = reserved_quota + $3, updated_at = $4
        WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, quotaID, usedDelta, reservedDelta, time.Now().UTC()); err != nil {
		return fmt.Errorf("adjust quota counters: %w", err)
	}
	return nil
}

func resolveReservation(ctx context.Context, tx *sqlx.Tx, reservationID string, status models.ReservationStatus) error {
	const query = `UPDATE enrollment_reservations SET status = $2, resolved_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, reservationID, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("resolve reservation: %w", err)
	}
	return nil
}

// reserveLocked performs the capacity check-and-increment. The caller must
// hold the application row lock; without it two transactions can both see
// "no active reservation" and both insert one. Idempotent per application:
// an existing active reservation for the same class is returned as-is.
func reserveLocked(ctx context.Context, tx *sqlx.Tx, planID, classID, applicationID string) (*models.Reservation, error) {
	existing, err := lockActiveReservation(ctx, tx, applicationID)
	if err == nil {
		if existing.ClassID != classID {
			return nil, appErrors.Clone(appErrors.ErrConflict, "active reservation exists for a different class")
		}
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find active reservation: %w", err)
	}

	cell, err := lockQuotaCell(ctx, tx, planID, classID)
	if err != nil {
		return nil, err
	}
	if cell.UsedQuota+cell.ReservedQuota >= cell.TotalQuota {
		return nil, appErrors.ErrQuotaExhausted
	}
	if err := adjustQuota(ctx, tx, cell.ID, 0, +1); err != nil {
		return nil, err
	}
	return insertReservation(ctx, tx, applicationID, cell, planID, classID)
}

// Reserve holds one seat in the plan/class cell for the application.
// Fails with ErrQuotaExhausted when the cell has no free capacity.
func (r *LedgerRepository) Reserve(ctx context.Context, planID, classID, applicationID string) (*models.Reservation, error) {
	var reservation *models.Reservation
	err := r.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		if _, err := lockApplication(ctx, tx, applicationID); err != nil {
			return err
		}
		var err error
		reservation, err = reserveLocked(ctx, tx, planID, classID, applicationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

// Commit converts a reservation into a permanently used seat. A repeat call
// after a successful commit is a no-op success so the workflow layer can
// retry under at-least-once semantics; a released reservation surfaces as
// ErrReservationNotFound.
func (r *LedgerRepository) Commit(ctx context.Context, reservationID string) error {
	return r.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		reservation, err := lockReservation(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		switch reservation.Status {
		case models.ReservationStatusCommitted:
			return nil
		case models.ReservationStatusReleased:
			return appErrors.Clone(appErrors.ErrReservationNotFound, "reservation already released")
		}
		if _, err := lockQuotaCell(ctx, tx, reservation.PlanID, reservation.ClassID); err != nil {
			return err
		}
		if err := adjustQuota(ctx, tx, reservation.QuotaID, +1, -1); err != nil {
			return err
		}
		return resolveReservation(ctx, tx, reservation.ID, models.ReservationStatusCommitted)
	})
}

// Release gives a held seat back to the cell. Idempotent on repeat calls;
// a committed reservation cannot be released this way.
func (r *LedgerRepository) Release(ctx context.Context, reservationID string) error {
	return r.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		reservation, err := lockReservation(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		switch reservation.Status {
		case models.ReservationStatusReleased:
			return nil
		case models.ReservationStatusCommitted:
			return appErrors.Clone(appErrors.ErrReservationNotFound, "reservation already committed")
		}
		if _, err := lockQuotaCell(ctx, tx, reservation.PlanID, reservation.ClassID); err != nil {
			return err
		}
		if err := adjustQuota(ctx, tx, reservation.QuotaID, 0, -1); err != nil {
			return err
		}
		return resolveReservation(ctx, tx, reservation.ID, models.ReservationStatusReleased)
	})
}

// Transfer moves an active reservation to a new class within the same plan:
// release on the old cell plus reserve on the new cell inside one
// transaction. When the new cell is exhausted the whole transfer fails and
// the original reservation is left untouched.
func (r *LedgerRepository) Transfer(ctx context.Context, reservationID, newClassID string) (*models.Reservation, error) {
	var replacement *models.Reservation
	err := r.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		reservation, err := lockReservation(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		if reservation.Status != models.ReservationStatusActive {
			return appErrors.Clone(appErrors.ErrReservationNotFound, "reservation is not active")
		}
		if reservation.ClassID == newClassID {
			replacement = reservation
			return nil
		}

		// Ascending class order keeps concurrent transfers deadlock free.
		first, second := reservation.ClassID, newClassID
		if second < first {
			first, second = second, first
		}
		cells := map[string]*lockedQuota{}
		for _, classID := range []string{first, second} {
			cell, err := lockQuotaCell(ctx, tx, reservation.PlanID, classID)
			if err != nil {
				return err
			}
			cells[classID] = cell
		}

		target := cells[newClassID]
		if target.UsedQuota+target.ReservedQuota >= target.TotalQuota {
			return appErrors.ErrQuotaExhausted
		}
		if err := adjustQuota(ctx, tx, cells[reservation.ClassID].ID, 0, -1); err != nil {
			return err
		}
		if err := adjustQuota(ctx, tx, target.ID, 0, +1); err != nil {
			return err
		}
		if err := resolveReservation(ctx, tx, reservation.ID, models.ReservationStatusReleased); err != nil {
			return err
		}
		replacement, err = insertReservation(ctx, tx, reservation.ApplicationID, target, reservation.PlanID, newClassID)
		if err != nil {
			return err
		}
		const query = `UPDATE enrollment_applications SET class_id = $2, updated_at = $3 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, query, reservation.ApplicationID, newClassID, time.Now().UTC()); err != nil {
			return fmt.Errorf("retarget application: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return replacement, nil
}

// Submit flips a draft application to SUBMITTED and reserves its seat in
// the same transaction. An exhausted cell degrades the application to
// WAITLISTED instead of failing the applicant-facing flow.
func (r *LedgerRepository) Submit(ctx context.Context, applicationID string) (*SubmitOutcome, error) {
	outcome := &SubmitOutcome{}
	err := r.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		app, err := lockApplication(ctx, tx, applicationID)
		if err != nil {
			return err
		}
		if app.Status != models.ApplicationStatusDraft {
			return appErrors.Clone(appErrors.ErrInvalidStateTransition, "application is not a draft")
		}

		status := models.ApplicationStatusSubmitted
		reservation, err := reserveLocked(ctx, tx, app.PlanID, app.ClassID, app.ID)
		switch {
		case err == nil:
			outcome.Reservation = reservation
		case appErrors.Is(err, appErrors.ErrQuotaExhausted):
			status = models.ApplicationStatusWaitlisted
		default:
			return err
		}

		now := time.Now().UTC()
		const query = `UPDATE enrollment_applications SET status = $2, submitted_at = $3, updated_at = $3 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, query, app.ID, status, now); err != nil {
			return fmt.Errorf("submit application: %w", err)
		}
		outcome.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// Decide lands a terminal decision: the application status flip, the ledger
// commit or release, and the admission result row all happen in one
// transaction. A concurrent withdraw makes the status guard fail and the
// whole decision rolls back as a conflict.
func (r *LedgerRepository) Decide(ctx context.Context, params DecideParams) (*models.AdmissionResult, error) {
	var result *models.AdmissionResult
	err := r.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		app, err := lockApplication(ctx, tx, params.ApplicationID)
		if err != nil {
			return err
		}
		if app.Status != models.ApplicationStatusUnderReview {
			// Retry tolerance: a repeat decide whose outcome already landed
			// is a no-op success, anything else is a conflict.
			if app.Status.Decided() {
				existing, ferr := findAdmissionResult(ctx, tx, app.ID)
				if ferr == nil && existing.Decision == params.Outcome && !existing.Reversed {
					result = existing
					return nil
				}
			}
			return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("application is %s, not under review", app.Status))
		}

		reservation, err := lockActiveReservation(ctx, tx, app.ID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("find active reservation: %w", err)
		}

		var committedClass *string
		switch params.Outcome {
		case models.DecisionAdmitted:
			if reservation == nil {
				return appErrors.Clone(appErrors.ErrReservationNotFound, "seat no longer available, re-run allocation")
			}
			if _, err := lockQuotaCell(ctx, tx, reservation.PlanID, reservation.ClassID); err != nil {
				return err
			}
			if err := adjustQuota(ctx, tx, reservation.QuotaID, +1, -1); err != nil {
				return err
			}
			if err := resolveReservation(ctx, tx, reservation.ID, models.ReservationStatusCommitted); err != nil {
				return err
			}
			committedClass = &reservation.ClassID
		case models.DecisionRejected:
			if reservation != nil {
				if _, err := lockQuotaCell(ctx, tx, reservation.PlanID, reservation.ClassID); err != nil {
					return err
				}
				if err := adjustQuota(ctx, tx, reservation.QuotaID, 0, -1); err != nil {
					return err
				}
				if err := resolveReservation(ctx, tx, reservation.ID, models.ReservationStatusReleased); err != nil {
					return err
				}
			}
		default:
			return appErrors.Clone(appErrors.ErrValidation, "decision must be ADMITTED or REJECTED")
		}

		now := time.Now().UTC()
		result = &models.AdmissionResult{
			ID:            uuid.NewString(),
			ApplicationID: app.ID,
			PlanID:        app.PlanID,
			ClassID:       committedClass,
			Decision:      params.Outcome,
			DecidedBy:     params.DeciderID,
			DecidedAt:     now,
		}
		const insertResult = `INSERT INTO admission_results (id, application_id, plan_id, class_id, decision, decided_by, decided_at, reversed)
            VALUES ($1, $2, $3, $4, $5, $6, $7, false)`
		if _, err := tx.ExecContext(ctx, insertResult, result.ID, result.ApplicationID, result.PlanID,
			result.ClassID, result.Decision, result.DecidedBy, result.DecidedAt); err != nil {
			return fmt.Errorf("insert admission result: %w", err)
		}

		status := models.ApplicationStatusAdmitted
		if params.Outcome == models.DecisionRejected {
			status = models.ApplicationStatusRejected
		}
		const updateApp = `UPDATE enrollment_applications SET status = $2, updated_at = $3 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, updateApp, app.ID, status, now); err != nil {
			return fmt.Errorf("update application status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Withdraw moves a pre-terminal application to WITHDRAWN and releases any
// active reservation in the same transaction. A concurrent decide makes the
// status guard fail here instead of double-applying.
func (r *LedgerRepository) Withdraw(ctx context.Context, applicationID string) error {
	return r.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		app, err := lockApplication(ctx, tx, applicationID)
		if err != nil {
			return err
		}
		if app.Status.Terminal() {
			return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("application already %s", app.Status))
		}

		reservation, err := lockActiveReservation(ctx, tx, app.ID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("find active reservation: %w", err)
		}
		if reservation != nil {
			if _, err := lockQuotaCell(ctx, tx, reservation.PlanID, reservation.ClassID); err != nil {
				return err
			}
			if err := adjustQuota(ctx, tx, reservation.QuotaID, 0, -1); err != nil {
				return err
			}
			if err := resolveReservation(ctx, tx, reservation.ID, models.ReservationStatusReleased); err != nil {
				return err
			}
		}

		const query = `UPDATE enrollment_applications SET status = $2, updated_at = $3 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, query, app.ID, models.ApplicationStatusWithdrawn, time.Now().UTC()); err != nil {
			return fmt.Errorf("withdraw application: %w", err)
		}
		return nil
	})
}

// Reverse is the audited inverse of an admitted decision: the committed
// seat goes back to the cell, the application flips to REJECTED, and the
// admission result records who reversed it and why. This is the only path
// that mutates a terminal admission result.
func (r *LedgerRepository) Reverse(ctx context.Context, params ReverseParams) (*models.AdmissionResult, error) {
	var result *models.AdmissionResult
	err := r.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		app, err := lockApplication(ctx, tx, params.ApplicationID)
		if err != nil {
			return err
		}
		if app.Status != models.ApplicationStatusAdmitted && app.Status != models.ApplicationStatusNotified {
			return appErrors.Clone(appErrors.ErrConflict, "application is not admitted")
		}

		const resultQuery = `SELECT id, application_id, plan_id, class_id, decision, decided_by, decided_at, reversed, reversed_by, reversed_at, audit_note
            FROM admission_results WHERE application_id = $1 FOR UPDATE`
		var existing models.AdmissionResult
		if err := tx.GetContext(ctx, &existing, resultQuery, app.ID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "admission result not found")
			}
			return fmt.Errorf("lock admission result: %w", err)
		}
		if existing.Decision != models.DecisionAdmitted || existing.Reversed {
			return appErrors.Clone(appErrors.ErrConflict, "decision is not an active admission")
		}
		if existing.ClassID == nil {
			return appErrors.Clone(appErrors.ErrConflict, "admission carries no committed class")
		}

		if _, err := lockQuotaCell(ctx, tx, existing.PlanID, *existing.ClassID); err != nil {
			return err
		}
		const freeSeat = `UPDATE enrollment_quotas SET used_quota = used_quota - 1, updated_at = $2
            WHERE plan_id = $1 AND class_id = $3 AND used_quota > 0`
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, freeSeat, existing.PlanID, now, *existing.ClassID); err != nil {
			return fmt.Errorf("release committed seat: %w", err)
		}

		const updateResult = `UPDATE admission_results SET reversed = true, reversed_by = $2, reversed_at = $3, audit_note = $4 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, updateResult, existing.ID, params.ActorID, now, params.Note); err != nil {
			return fmt.Errorf("mark admission reversed: %w", err)
		}
		const updateApp = `UPDATE enrollment_applications SET status = $2, updated_at = $3 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, updateApp, app.ID, models.ApplicationStatusRejected, now); err != nil {
			return fmt.Errorf("update application status: %w", err)
		}

		existing.Reversed = true
		existing.ReversedBy = &params.ActorID
		existing.ReversedAt = &now
		existing.AuditNote = &params.Note
		result = &existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ActiveReservation returns the live reservation for an application, or
// sql.ErrNoRows when none exists.
func (r *LedgerRepository) ActiveReservation(ctx context.Context, applicationID string) (*models.Reservation, error) {
	const query = `SELECT id, application_id, quota_id, plan_id, class_id, status, created_at, resolved_at
        FROM enrollment_reservations WHERE application_id = $1 AND status = $2`
	var reservation models.Reservation
	if err := r.db.GetContext(ctx, &reservation, query, applicationID, models.ReservationStatusActive); err != nil {
		return nil, err
	}
	return &reservation, nil
}

func findAdmissionResult(ctx context.Context, tx *sqlx.Tx, applicationID string) (*models.AdmissionResult, error) {
	const query = `SELECT id, application_id, plan_id, class_id, decision, decided_by, decided_at, reversed, reversed_by, reversed_at, audit_note
        FROM admission_results WHERE application_id = $1`
	var result models.AdmissionResult
	if err := tx.GetContext(ctx, &result, query, applicationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "admission result not found")
		}
		return nil, fmt.Errorf("find admission result: %w", err)
	}
	return &result, nil
}

func lockApplication(ctx context.Context, tx *sqlx.Tx, applicationID string) (*models.Application, error) {
	const query = `SELECT id, plan_id, class_id, child_name, parent_name, parent_phone, priority, status, reviewer_id, submitted_at, created_by, created_at, updated_at
        FROM enrollment_applications WHERE id = $1 FOR UPDATE`
	var app models.Application
	if err := tx.GetContext(ctx, &app, query, applicationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, fmt.Errorf("lock application: %w", err)
	}
	return &app, nil
}
