package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/seatsync/backend/internal/models"
	"github.com/seatsync/backend/pkg/response"
)

// RequireRole allows only callers holding one of roles.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[string(r)] = struct{}{}
	}
	return func(c *gin.Context) {
		role, ok := c.Get(ContextUserRole)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		s, _ := role.(string)
		if _, ok := allowed[s]; !ok {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}
