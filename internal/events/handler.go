package events

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seatsync/backend/internal/middleware"
	"github.com/seatsync/backend/internal/models"
	"github.com/seatsync/backend/pkg/response"
)

// Store is the event persistence the handler needs.
type Store interface {
	Create(ctx context.Context, e *models.Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
	List(ctx context.Context, f Filter) ([]models.Event, error)
	Update(ctx context.Context, id uuid.UUID, u Update) (*models.Event, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.EventStatus) error
}

// ChangeNotifier is told when an admin creates or edits an event.
type ChangeNotifier interface {
	EventChanged(ctx context.Context, ev *models.Event)
}

// Handler handles event HTTP endpoints.
type Handler struct {
	store     Store
	notifiers []ChangeNotifier
	logger    *zap.Logger
}

// NewHandler creates an events handler. notifier may be nil.
func NewHandler(store Store, notifier ChangeNotifier, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{store: store, logger: logger}
	h.AddNotifier(notifier)
	return h
}

// AddNotifier registers another ChangeNotifier. Nil is ignored.
func (h *Handler) AddNotifier(n ChangeNotifier) {
	if n != nil {
		h.notifiers = append(h.notifiers, n)
	}
}

// List handles GET /events. Students only see events open to their
// department; admins see everything. ?status= filters by status.
func (h *Handler) List(c *gin.Context) {
	var f Filter
	if s := c.Query("status"); s != "" {
		st, err := ParseStatus(s)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		f.Status = st
	}
	if !middleware.IsAdmin(c) {
		dept := middleware.Department(c)
		if dept == "" {
			response.Forbidden(c, "no department on account")
			return
		}
		f.Department = dept
	}
	list, err := h.store.List(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("list events failed", zap.Error(err))
		response.Internal(c, "failed to list events")
		return
	}
	response.OK(c, list)
}

// Get handles GET /events/:id.
func (h *Handler) Get(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ev, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "get event failed")
		return
	}
	if !middleware.IsAdmin(c) && !ev.EligibleFor(middleware.Department(c)) {
		response.NotFound(c, ErrNotFound.Error())
		return
	}
	response.OK(c, ev)
}

// Create handles POST /events (admin).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ev, err := req.Event()
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if uid, ok := middleware.UserID(c); ok {
		ev.CreatedBy = &uid
	}
	if err := h.store.Create(c.Request.Context(), ev); err != nil {
		h.logger.Error("create event failed", zap.Error(err))
		response.Internal(c, "failed to create event")
		return
	}
	h.logger.Info("event created",
		zap.String("event_id", ev.ID.String()),
		zap.String("title", ev.Title),
		zap.Int("total_seats", ev.TotalSeats),
	)
	h.changed(c.Request.Context(), ev)
	response.Created(c, ev)
}

// Update handles PATCH /events/:id (admin).
func (h *Handler) Update(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	current, err := h.store.GetByID(ctx, id)
	if err != nil {
		h.fail(c, err, "get event failed")
		return
	}
	u, err := req.Update(current)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	ev, err := h.store.Update(ctx, id, u)
	if err != nil {
		h.fail(c, err, "update event failed")
		return
	}
	h.changed(ctx, ev)
	response.OK(c, ev)
}

// UpdateStatus handles PATCH /events/:id/status (admin).
func (h *Handler) UpdateStatus(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	status, err := ParseStatus(req.Status)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	if err := h.store.UpdateStatus(ctx, id, status); err != nil {
		h.fail(c, err, "update event status failed")
		return
	}
	ev, err := h.store.GetByID(ctx, id)
	if err != nil {
		h.fail(c, err, "get event failed")
		return
	}
	h.logger.Info("event status changed", zap.String("event_id", id.String()), zap.String("status", string(status)))
	h.changed(ctx, ev)
	response.OK(c, ev)
}

func (h *Handler) changed(ctx context.Context, ev *models.Event) {
	ctx = context.WithoutCancel(ctx)
	for _, n := range h.notifiers {
		n.EventChanged(ctx, ev)
	}
}

func (h *Handler) fail(c *gin.Context, err error, msg string) {
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, err.Error())
		return
	}
	h.logger.Error(msg, zap.Error(err))
	response.Internal(c, "internal error")
}

func idParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return uuid.Nil, false
	}
	return id, true
}
