package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kg-enroll-api/internal/dto"
	"github.com/noah-isme/kg-enroll-api/internal/models"
	appErrors "github.com/noah-isme/kg-enroll-api/pkg/errors"
)

type quotaServiceMock struct {
	createResp *models.Quota
	createErr  error
	statsResp  *models.QuotaPlanStats
	statsErr   error
	lastFilter models.QuotaFilter
	lastActor  string
}

func (m *quotaServiceMock) Create(ctx context.Context, req dto.CreateQuotaRequest, userID string) (*models.Quota, error) {
	m.lastActor = userID
	return m.createResp, m.createErr
}

func (m *quotaServiceMock) Get(ctx context.Context, id string) (*models.Quota, error) {
	return m.createResp, m.createErr
}

func (m *quotaServiceMock) List(ctx context.Context, filter models.QuotaFilter) ([]models.Quota, *models.Pagination, error) {
	m.lastFilter = filter
	return nil, &models.Pagination{Page: 1, PageSize: 20}, nil
}

func (m *quotaServiceMock) UpdateTotal(ctx context.Context, id string, req dto.UpdateQuotaRequest, userID string) (*models.Quota, error) {
	return m.createResp, m.createErr
}

func (m *quotaServiceMock) Archive(ctx context.Context, id, userID string) error {
	return m.createErr
}

func (m *quotaServiceMock) PlanStats(ctx context.Context, planID string) (*models.QuotaPlanStats, error) {
	return m.statsResp, m.statsErr
}

func TestQuotaHandlerCreate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &quotaServiceMock{createResp: &models.Quota{ID: "quota-1", TotalQuota: 30}}
	handler := NewQuotaHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/quotas",
		bytes.NewBufferString(`{"planId":"plan-1","classId":"class-1","totalQuota":30}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", "admin-1")
	c.Request = req

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "admin-1", mockSvc.lastActor)
}

func TestQuotaHandlerCreateInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewQuotaHandler(&quotaServiceMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/quotas", bytes.NewBufferString(`{"planId":`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Create(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQuotaHandlerListParsesFilter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &quotaServiceMock{}
	handler := NewQuotaHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/quotas?planId=plan-1&availableOnly=true&status=active", nil)
	c.Request = req

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "plan-1", mockSvc.lastFilter.PlanID)
	assert.True(t, mockSvc.lastFilter.AvailableOnly)
	assert.Equal(t, models.QuotaStatusActive, mockSvc.lastFilter.Status)
}

func TestQuotaHandlerPlanStatsNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &quotaServiceMock{statsErr: appErrors.Clone(appErrors.ErrNotFound, "no quotas for plan")}
	handler := NewQuotaHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/plans/plan-x/quota-stats", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "planId", Value: "plan-x"}}

	handler.PlanStats(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}
