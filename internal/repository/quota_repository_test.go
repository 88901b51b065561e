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

func newQuotaRepoMock(t *testing.T) (*QuotaRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewQuotaRepository(sqlx.NewDb(db, "sqlmock")), mock, func() { db.Close() }
}

func quotaRows(id, planID, classID string, total, used, reserved int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "plan_id", "class_id", "total_quota", "used_quota", "reserved_quota", "status", "remark", "created_at", "updated_at"}).
		AddRow(id, planID, classID, total, used, reserved, "ACTIVE", nil, time.Now(), time.Now())
}

func TestQuotaRepositoryCreateAndFind(t *testing.T) {
	repo, mock, cleanup := newQuotaRepoMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollment_quotas")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	quota := &models.Quota{PlanID: "plan-1", ClassID: "class-1", TotalQuota: 30}
	require.NoError(t, repo.Create(context.Background(), quota))
	require.NotEmpty(t, quota.ID)
	require.Equal(t, models.QuotaStatusActive, quota.Status)

	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollment_quotas WHERE id = $1")).
		WithArgs(quota.ID).
		WillReturnRows(quotaRows(quota.ID, "plan-1", "class-1", 30, 0, 0))
	found, err := repo.FindByID(context.Background(), quota.ID)
	require.NoError(t, err)
	require.Equal(t, 30, found.TotalQuota)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaRepositoryListAvailableOnly(t *testing.T) {
	repo, mock, cleanup := newQuotaRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("total_quota > (used_quota + reserved_quota)")).
		WithArgs("plan-1").
		WillReturnRows(quotaRows("quota-1", "plan-1", "class-1", 30, 10, 5))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs("plan-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	quotas, total, err := repo.List(context.Background(), models.QuotaFilter{
		PlanID:        "plan-1",
		AvailableOnly: true,
	})
	require.NoError(t, err)
	require.Len(t, quotas, 1)
	require.Equal(t, 1, total)
	require.Equal(t, 15, quotas[0].Available())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaRepositoryUpdateTotalGuarded(t *testing.T) {
	repo, mock, cleanup := newQuotaRepoMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollment_quotas")).
		WithArgs("quota-1", 25, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := repo.UpdateTotal(context.Background(), "quota-1", 25, nil)
	require.NoError(t, err)
	require.True(t, ok)

	// Shrinking below seats already held affects zero rows.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollment_quotas")).
		WithArgs("quota-1", 3, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = repo.UpdateTotal(context.Background(), "quota-1", 3, nil)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaRepositoryPlanStats(t *testing.T) {
	repo, mock, cleanup := newQuotaRepoMock(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"class_id", "total_quota", "used_quota", "reserved_quota"}).
		AddRow("class-1", 30, 15, 5).
		AddRow("class-2", 20, 20, 0)
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollment_quotas WHERE plan_id = $1 ORDER BY class_id ASC")).
		WithArgs("plan-1").
		WillReturnRows(rows)

	stats, err := repo.PlanStats(context.Background(), "plan-1")
	require.NoError(t, err)
	require.Equal(t, 50, stats.TotalQuota)
	require.Equal(t, 35, stats.UsedQuota)
	require.Equal(t, 5, stats.ReservedQuota)
	require.Equal(t, 10, stats.AvailableQuota)
	require.InDelta(t, 70.0, stats.UtilizationRate, 0.01)
	require.Len(t, stats.Classes, 2)
	require.InDelta(t, 100.0, stats.Classes[1].UtilizationRate, 0.01)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaRepositoryPlanStatsEmpty(t *testing.T) {
	repo, mock, cleanup := newQuotaRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollment_quotas WHERE plan_id = $1")).
		WithArgs("plan-x").
		WillReturnRows(sqlmock.NewRows([]string{"class_id", "total_quota", "used_quota", "reserved_quota"}))

	_, err := repo.PlanStats(context.Background(), "plan-x")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
