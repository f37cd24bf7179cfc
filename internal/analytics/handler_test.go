package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatsync/backend/internal/auth"
	"github.com/seatsync/backend/internal/middleware"
	"github.com/seatsync/backend/internal/models"
	"github.com/seatsync/backend/pkg/queue"
)

type fakeExportJobs struct {
	got []queue.ReportExportPayload
}

func (f *fakeExportJobs) EnqueueReportExport(_ context.Context, p queue.ReportExportPayload) error {
	f.got = append(f.got, p)
	return nil
}

type memExports map[uuid.UUID]Export

func (m memExports) Save(_ context.Context, e *Export) error {
	m[e.ID] = *e
	return nil
}

func (m memExports) Get(_ context.Context, id uuid.UUID) (*Export, error) {
	e, ok := m[id]
	if !ok {
		return nil, ErrExportNotFound
	}
	return &e, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newAnalyticsRouter(h *Handler, caller uuid.UUID, dept string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		middleware.SetClaims(c, &auth.Claims{UserID: caller, Role: string(models.RoleAdmin), Department: dept})
		c.Next()
	})
	r.GET("/me/compliance", h.MyCompliance)
	r.GET("/admin/analytics/events", h.Events)
	r.POST("/admin/reports/export", h.Export)
	r.GET("/admin/reports/:id", h.ExportStatus)
	return r
}

func call(r http.Handler, method, path string, body interface{}) (int, envelope) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w.Code, env
}

func TestExportLifecycle(t *testing.T) {
	admin := uuid.New()
	jobs := &fakeExportJobs{}
	exports := memExports{}
	svc := NewService(&fakeEvents{}, &fakeLedger{}, fakeUsers{}, nil, nil)
	r := newAnalyticsRouter(NewHandler(svc, jobs, exports, nil), admin, "")

	code, _ := call(r, http.MethodPost, "/admin/reports/export", gin.H{"kind": "payments"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := call(r, http.MethodPost, "/admin/reports/export", gin.H{"kind": ReportCompliance})
	require.Equal(t, http.StatusAccepted, code)
	var exp Export
	require.NoError(t, json.Unmarshal(env.Data, &exp))
	assert.Equal(t, ExportQueued, exp.Status)
	require.Len(t, jobs.got, 1)
	assert.Equal(t, exp.ID, jobs.got[0].ExportID)
	assert.Equal(t, admin, jobs.got[0].RequestedBy)

	code, env = call(r, http.MethodGet, "/admin/reports/"+exp.ID.String(), nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	code, _ = call(r, http.MethodGet, "/admin/reports/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestExportWithoutQueue(t *testing.T) {
	svc := NewService(&fakeEvents{}, &fakeLedger{}, fakeUsers{}, nil, nil)
	r := newAnalyticsRouter(NewHandler(svc, nil, nil, nil), uuid.New(), "")

	code, _ := call(r, http.MethodPost, "/admin/reports/export", gin.H{"kind": ReportEvents})
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestMyComplianceUsesCallerDepartment(t *testing.T) {
	student := uuid.New()
	mine := event("ECE Orientation", 50, true, "ECE")
	other := event("CSE Orientation", 50, true, "CSE")
	ledger := &fakeLedger{regs: []models.Registration{reg(student, mine)}}
	svc := NewService(&fakeEvents{list: []models.Event{mine, other}}, ledger, fakeUsers{}, nil, nil)
	r := newAnalyticsRouter(NewHandler(svc, nil, nil, nil), student, "ECE")

	code, env := call(r, http.MethodGet, "/me/compliance", nil)
	require.Equal(t, http.StatusOK, code)
	var sc StudentCompliance
	require.NoError(t, json.Unmarshal(env.Data, &sc))
	require.Len(t, sc.Mandatory, 1)
	assert.True(t, sc.Mandatory[0].Completed)
	assert.Equal(t, 100, sc.CompliancePercent)
	assert.True(t, sc.IsCompliant)
}
