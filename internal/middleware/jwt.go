package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/seatsync/backend/internal/auth"
	"github.com/seatsync/backend/internal/models"
	"github.com/seatsync/backend/pkg/response"
)

const (
	// ContextUserID is the key for the caller's uuid.UUID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for user role in gin context.
	ContextUserRole = "user_role"
	// ContextUserEmail is the key for user email in gin context.
	ContextUserEmail = "user_email"
	// ContextUserDepartment is the key for the caller's branch code.
	ContextUserDepartment = "user_department"
)

// JWT returns a middleware that validates a bearer token and sets the
// caller's claims in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		SetClaims(c, claims)
		c.Next()
	}
}

// SetClaims stores claims in the gin context under the Context* keys.
func SetClaims(c *gin.Context, claims *auth.Claims) {
	c.Set(ContextUserID, claims.UserID)
	c.Set(ContextUserRole, claims.Role)
	c.Set(ContextUserEmail, claims.Email)
	c.Set(ContextUserDepartment, claims.Department)
}

// UserID returns the authenticated caller's id.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// Department returns the authenticated caller's branch code.
func Department(c *gin.Context) string {
	return c.GetString(ContextUserDepartment)
}

// IsAdmin reports whether the caller has the admin role.
func IsAdmin(c *gin.Context) bool {
	return c.GetString(ContextUserRole) == string(models.RoleAdmin)
}
