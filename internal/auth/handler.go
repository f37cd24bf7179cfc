package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/seatsync/backend/internal/models"
	"github.com/seatsync/backend/pkg/response"
	"github.com/seatsync/backend/pkg/utils"
)

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required,min=6"`
	FullName   string `json:"full_name" binding:"required"`
	RegNo      string `json:"reg_no"`
	Department string `json:"department"`
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token string            `json:"token"`
	User  models.UserPublic `json:"user"`
}

// RegistrationNotifier is told about newly created accounts.
type RegistrationNotifier interface {
	UserRegistered(ctx context.Context, u models.UserPublic)
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	users      UserStore
	jwt        *JWTService
	adminEmail string
	notifiers  []RegistrationNotifier
	logger     *zap.Logger
}

// NewHandler creates an auth handler. Accounts registered with adminEmail
// get the admin role, and an existing account with that e-mail is promoted
// on its next login. Everyone else is a student.
func NewHandler(users UserStore, jwt *JWTService, adminEmail string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{users: users, jwt: jwt, adminEmail: strings.ToLower(strings.TrimSpace(adminEmail)), logger: logger}
}

// AddNotifier registers a RegistrationNotifier. Nil is ignored.
func (h *Handler) AddNotifier(n RegistrationNotifier) {
	if n != nil {
		h.notifiers = append(h.notifiers, n)
	}
}

func (h *Handler) roleFor(email string) models.Role {
	if h.adminEmail != "" && strings.EqualFold(email, h.adminEmail) {
		return models.RoleAdmin
	}
	return models.RoleStudent
}

// Register handles POST /auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	role := h.roleFor(req.Email)
	req.RegNo = strings.ToUpper(strings.TrimSpace(req.RegNo))
	if role == models.RoleStudent {
		if req.RegNo == "" {
			response.BadRequest(c, "reg_no is required")
			return
		}
		if !models.IsDepartment(req.Department) {
			response.BadRequest(c, "unknown department "+req.Department)
			return
		}
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		response.Internal(c, "failed to hash password")
		return
	}

	user := &models.User{
		Email:      strings.ToLower(strings.TrimSpace(req.Email)),
		Password:   hash,
		FullName:   req.FullName,
		RegNo:      req.RegNo,
		Department: req.Department,
		Role:       role,
	}
	if err := h.users.Create(c.Request.Context(), user); err != nil {
		switch {
		case errors.Is(err, ErrEmailTaken), errors.Is(err, ErrRegNoTaken):
			response.Conflict(c, err.Error())
		default:
			h.logger.Error("create user failed", zap.Error(err))
			response.Internal(c, "failed to create user")
		}
		return
	}

	token, err := h.jwt.Generate(user)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	h.logger.Info("user registered", zap.String("user_id", user.ID.String()), zap.String("role", string(role)))
	ctx := context.WithoutCancel(c.Request.Context())
	for _, n := range h.notifiers {
		n.UserRegistered(ctx, user.ToPublic())
	}
	response.Created(c, TokenResponse{Token: token, User: user.ToPublic()})
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	user, err := h.users.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			h.logger.Error("load user failed", zap.Error(err))
		}
		response.Unauthorized(c, "invalid email or password")
		return
	}
	if !utils.CheckPassword(req.Password, user.Password) {
		response.Unauthorized(c, "invalid email or password")
		return
	}

	if h.roleFor(user.Email) == models.RoleAdmin && user.Role != models.RoleAdmin {
		if err := h.users.UpdateRole(c.Request.Context(), user.ID, models.RoleAdmin); err != nil {
			h.logger.Error("promote admin failed", zap.String("user_id", user.ID.String()), zap.Error(err))
			response.Internal(c, "failed to update role")
			return
		}
		user.Role = models.RoleAdmin
		h.logger.Info("user promoted to admin", zap.String("user_id", user.ID.String()))
	}

	token, err := h.jwt.Generate(user)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, TokenResponse{Token: token, User: user.ToPublic()})
}

// List handles GET /users (admin only).
func (h *Handler) List(c *gin.Context) {
	list, err := h.users.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list users failed", zap.Error(err))
		response.Internal(c, "failed to list users")
		return
	}
	response.OK(c, list)
}
