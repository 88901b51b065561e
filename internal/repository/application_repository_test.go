package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kg-enroll-api/internal/models"
)

func newApplicationRepoMock(t *testing.T) (*ApplicationRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewApplicationRepository(sqlx.NewDb(db, "sqlmock")), mock, func() { db.Close() }
}

func appRows(id, planID, classID string, priority bool, status models.ApplicationStatus) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "plan_id", "class_id", "child_name", "parent_name", "parent_phone", "priority", "status", "reviewer_id", "submitted_at", "created_by", "created_at", "updated_at"}).
		AddRow(id, planID, classID, "Mei Lin", "Lin Wei", "13800000000", priority, status, nil, time.Now(), "staff-1", time.Now(), time.Now())
}

func TestApplicationRepositoryCreateAndFind(t *testing.T) {
	repo, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollment_applications")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	app := &models.Application{PlanID: "plan-1", ClassID: "class-1", ChildName: "Mei Lin", ParentName: "Lin Wei", ParentPhone: "13800000000", CreatedBy: "staff-1"}
	require.NoError(t, repo.Create(context.Background(), app))
	require.NotEmpty(t, app.ID)
	require.Equal(t, models.ApplicationStatusDraft, app.Status)

	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollment_applications WHERE id = $1")).
		WithArgs(app.ID).
		WillReturnRows(appRows(app.ID, "plan-1", "class-1", false, models.ApplicationStatusDraft))
	found, err := repo.FindByID(context.Background(), app.ID)
	require.NoError(t, err)
	require.Equal(t, "Mei Lin", found.ChildName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryTransitionStatusGuarded(t *testing.T) {
	repo, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollment_applications SET status = $2")).
		WithArgs("app-1", string(models.ApplicationStatusMaterialsVerified), sqlmock.AnyArg(), string(models.ApplicationStatusSubmitted)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := repo.TransitionStatus(context.Background(), "app-1",
		[]models.ApplicationStatus{models.ApplicationStatusSubmitted}, models.ApplicationStatusMaterialsVerified)
	require.NoError(t, err)
	require.True(t, ok)

	// The guard holds: an application no longer in the origin state is untouched.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollment_applications SET status = $2")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = repo.TransitionStatus(context.Background(), "app-1",
		[]models.ApplicationStatus{models.ApplicationStatusSubmitted}, models.ApplicationStatusMaterialsVerified)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryTransitionStatusNeedsOrigin(t *testing.T) {
	repo, _, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	_, err := repo.TransitionStatus(context.Background(), "app-1", nil, models.ApplicationStatusSubmitted)
	require.Error(t, err)
}

func TestApplicationRepositoryAssignReviewer(t *testing.T) {
	repo, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollment_applications SET status = $2, reviewer_id = $3")).
		WithArgs("app-1", string(models.ApplicationStatusUnderReview), "reviewer-1", sqlmock.AnyArg(), string(models.ApplicationStatusMaterialsVerified)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := repo.AssignReviewer(context.Background(), "app-1", "reviewer-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryListForAllocationOrder(t *testing.T) {
	repo, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "plan_id", "class_id", "child_name", "parent_name", "parent_phone", "priority", "status", "reviewer_id", "submitted_at", "created_by", "created_at", "updated_at"}).
		AddRow("app-1", "plan-1", "class-1", "A", "PA", "1", true, "UNDER_REVIEW", nil, time.Now(), "s", time.Now(), time.Now()).
		AddRow("app-2", "plan-1", "class-1", "B", "PB", "2", false, "UNDER_REVIEW", nil, time.Now(), "s", time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY priority DESC, submitted_at ASC, id ASC")).
		WithArgs("plan-1", "class-1", string(models.ApplicationStatusUnderReview)).
		WillReturnRows(rows)

	apps, err := repo.ListForAllocation(context.Background(), "plan-1", "class-1")
	require.NoError(t, err)
	require.Len(t, apps, 2)
	require.True(t, apps[0].Priority)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryListFilters(t *testing.T) {
	repo, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollment_applications WHERE plan_id = $1 AND status = $2")).
		WithArgs("plan-1", string(models.ApplicationStatusWaitlisted)).
		WillReturnRows(appRows("app-1", "plan-1", "class-1", false, models.ApplicationStatusWaitlisted))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs("plan-1", string(models.ApplicationStatusWaitlisted)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	apps, total, err := repo.List(context.Background(), models.ApplicationFilter{
		PlanID: "plan-1",
		Status: models.ApplicationStatusWaitlisted,
	})
	require.NoError(t, err)
	require.Len(t, apps, 1)
	require.Equal(t, 1, total)
	require.NoError(t, mock.ExpectationsWereMet())
}
