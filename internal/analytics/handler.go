package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seatsync/backend/internal/middleware"
	"github.com/seatsync/backend/pkg/queue"
	"github.com/seatsync/backend/pkg/response"
)

// ExportEnqueuer schedules report exports.
type ExportEnqueuer interface {
	EnqueueReportExport(ctx context.Context, payload queue.ReportExportPayload) error
}

// Handler serves analytics, compliance and report exports.
type Handler struct {
	svc     *Service
	jobs    ExportEnqueuer
	exports ExportStore
	logger  *zap.Logger
}

// NewHandler creates an analytics handler. jobs and exports may be nil when
// no queue is configured; exports then answer 503.
func NewHandler(svc *Service, jobs ExportEnqueuer, exports ExportStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, jobs: jobs, exports: exports, logger: logger}
}

// Events handles GET /admin/analytics/events.
func (h *Handler) Events(c *gin.Context) {
	out, err := h.svc.EventAnalytics(c.Request.Context())
	if err != nil {
		h.logger.Error("event analytics", zap.Error(err))
		response.Internal(c, "failed to load analytics")
		return
	}
	response.OK(c, out)
}

// Compliance handles GET /admin/analytics/compliance.
func (h *Handler) Compliance(c *gin.Context) {
	out, err := h.svc.Compliance(c.Request.Context())
	if err != nil {
		h.logger.Error("compliance analytics", zap.Error(err))
		response.Internal(c, "failed to load compliance")
		return
	}
	response.OK(c, out)
}

// MyCompliance handles GET /me/compliance.
func (h *Handler) MyCompliance(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}
	out, err := h.svc.StudentCompliance(c.Request.Context(), userID, middleware.Department(c))
	if err != nil {
		h.logger.Error("student compliance", zap.String("user_id", userID.String()), zap.Error(err))
		response.Internal(c, "failed to load compliance")
		return
	}
	response.OK(c, out)
}

type exportRequest struct {
	Kind string `json:"kind" binding:"required"`
}

// Export handles POST /admin/reports/export.
func (h *Handler) Export(c *gin.Context) {
	if h.jobs == nil || h.exports == nil {
		response.ServiceUnavailable(c, "report export is not configured")
		return
	}
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "kind is required")
		return
	}
	if !ValidReportKind(req.Kind) {
		response.BadRequest(c, "kind must be events or compliance")
		return
	}
	userID, _ := middleware.UserID(c)
	ctx := c.Request.Context()

	exp := &Export{
		ID:          uuid.New(),
		Kind:        req.Kind,
		Status:      ExportQueued,
		RequestedBy: userID,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := h.exports.Save(ctx, exp); err != nil {
		h.logger.Error("save export", zap.Error(err))
		response.Internal(c, "failed to queue export")
		return
	}
	if err := h.jobs.EnqueueReportExport(ctx, queue.ReportExportPayload{ExportID: exp.ID, Kind: exp.Kind, RequestedBy: userID}); err != nil {
		h.logger.Error("enqueue export", zap.Error(err))
		response.Internal(c, "failed to queue export")
		return
	}
	response.Accepted(c, exp)
}

// ExportStatus handles GET /admin/reports/:id.
func (h *Handler) ExportStatus(c *gin.Context) {
	if h.exports == nil {
		response.ServiceUnavailable(c, "report export is not configured")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid export id")
		return
	}
	exp, err := h.exports.Get(c.Request.Context(), id)
	if errors.Is(err, ErrExportNotFound) {
		response.NotFound(c, "export not found")
		return
	}
	if err != nil {
		h.logger.Error("load export", zap.Error(err))
		response.Internal(c, "failed to load export")
		return
	}
	response.OK(c, exp)
}
