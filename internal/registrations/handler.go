package registrations

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seatsync/backend/internal/booking"
	"github.com/seatsync/backend/internal/middleware"
	"github.com/seatsync/backend/pkg/response"
)

// RosterReader returns rosters joined with student details.
type RosterReader interface {
	Roster(ctx context.Context, eventID uuid.UUID) ([]RosterEntry, error)
	WaitlistRoster(ctx context.Context, eventID uuid.UUID) ([]RosterEntry, error)
}

// Handler exposes the booking coordinator over HTTP.
type Handler struct {
	coord   *booking.Coordinator
	rosters RosterReader
	logger  *zap.Logger
}

// NewHandler creates a registrations handler. rosters may be nil, in which
// case rosters are served without student details.
func NewHandler(coord *booking.Coordinator, rosters RosterReader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{coord: coord, rosters: rosters, logger: logger}
}

// Register handles POST /events/:id/register.
func (h *Handler) Register(c *gin.Context) {
	userID, eventID, ok := h.params(c)
	if !ok {
		return
	}
	res, err := h.coord.Register(c.Request.Context(), userID, eventID, middleware.Department(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, res)
}

// Cancel handles DELETE /events/:id/register.
func (h *Handler) Cancel(c *gin.Context) {
	userID, eventID, ok := h.params(c)
	if !ok {
		return
	}
	res, err := h.coord.Cancel(c.Request.Context(), userID, eventID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, res)
}

// State handles GET /events/:id/booking.
func (h *Handler) State(c *gin.Context) {
	userID, eventID, ok := h.params(c)
	if !ok {
		return
	}
	state, err := h.coord.State(c.Request.Context(), userID, eventID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, state)
}

// Conflicts handles GET /events/:id/conflicts. With ?date= (and optional
// start, end) it checks that window instead of the event's own.
func (h *Handler) Conflicts(c *gin.Context) {
	userID, eventID, ok := h.params(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if date := c.Query("date"); date != "" {
		w := booking.Window{Date: date, Start: c.Query("start"), End: c.Query("end")}
		for _, v := range []string{w.Start, w.End} {
			if v == "" {
				continue
			}
			if _, err := booking.ParseClock(v); err != nil {
				response.BadRequest(c, err.Error())
				return
			}
		}
		res, err := h.coord.CheckConflict(ctx, userID, w, &eventID)
		if err != nil {
			h.fail(c, err)
			return
		}
		response.OK(c, res)
		return
	}
	res, err := h.coord.CheckEventConflict(ctx, userID, eventID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, res)
}

// Roster handles GET /events/:id/registrations (admin).
func (h *Handler) Roster(c *gin.Context) {
	eventID, ok := eventParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if h.rosters != nil {
		if _, err := h.coord.Event(ctx, eventID); err != nil {
			h.fail(c, err)
			return
		}
		list, err := h.rosters.Roster(ctx, eventID)
		if err != nil {
			h.fail(c, err)
			return
		}
		response.OK(c, list)
		return
	}
	list, err := h.coord.EventRoster(ctx, eventID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, list)
}

// Waitlist handles GET /events/:id/waitlist (admin), in position order.
func (h *Handler) Waitlist(c *gin.Context) {
	eventID, ok := eventParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if h.rosters != nil {
		if _, err := h.coord.Event(ctx, eventID); err != nil {
			h.fail(c, err)
			return
		}
		list, err := h.rosters.WaitlistRoster(ctx, eventID)
		if err != nil {
			h.fail(c, err)
			return
		}
		response.OK(c, list)
		return
	}
	list, err := h.coord.EventWaitlist(ctx, eventID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, list)
}

// MyRegistrations handles GET /me/registrations.
func (h *Handler) MyRegistrations(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	list, err := h.coord.UserRegistrations(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, list)
}

// MyWaitlist handles GET /me/waitlist.
func (h *Handler) MyWaitlist(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	list, err := h.coord.UserWaitlist(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, list)
}

func (h *Handler) params(c *gin.Context) (userID, eventID uuid.UUID, ok bool) {
	userID, ok = middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return uuid.Nil, uuid.Nil, false
	}
	eventID, ok = eventParam(c)
	return userID, eventID, ok
}

func eventParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return uuid.Nil, false
	}
	return id, true
}

// fail translates engine errors into HTTP responses.
func (h *Handler) fail(c *gin.Context, err error) {
	var conflict *booking.ScheduleConflictError
	switch {
	case errors.As(err, &conflict):
		response.FailWith(c, http.StatusConflict, "schedule_conflict", err.Error(), gin.H{
			"with_event_id": conflict.EventID,
			"with_title":    conflict.Title,
		})
	case errors.Is(err, booking.ErrNotFound):
		response.Fail(c, http.StatusNotFound, "event_not_found", err.Error())
	case errors.Is(err, booking.ErrRegistrationNotFound):
		response.Fail(c, http.StatusNotFound, "registration_not_found", err.Error())
	case errors.Is(err, booking.ErrAlreadyRegistered):
		response.Fail(c, http.StatusConflict, "already_registered", err.Error())
	case errors.Is(err, booking.ErrAlreadyWaitlisted):
		response.Fail(c, http.StatusConflict, "already_waitlisted", err.Error())
	case errors.Is(err, booking.ErrEventClosed):
		response.Fail(c, http.StatusConflict, "event_closed", err.Error())
	case errors.Is(err, booking.ErrBranchIneligible):
		response.Fail(c, http.StatusForbidden, "branch_ineligible", err.Error())
	case errors.Is(err, booking.ErrTransientFailure):
		c.Header("Retry-After", "1")
		response.Fail(c, http.StatusServiceUnavailable, "transient_failure", booking.ErrTransientFailure.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		response.ServiceUnavailable(c, "request cancelled")
	default:
		h.logger.Error("booking request failed", zap.Error(err), zap.String("path", c.FullPath()))
		response.Internal(c, "internal error")
	}
}
