package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gaslight/leakview/internal/auth"
	"github.com/gaslight/leakview/pkg/response"
)

const (
	// ContextSessionID is the key for the token's session ID in gin context.
	ContextSessionID = "session_id"
)

// JWT returns a middleware that validates the bearer token and requires it to
// grant the session named by the :id path parameter.
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
		if raw := c.Param("id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				response.BadRequest(c, "invalid session id")
				c.Abort()
				return
			}
			if id != claims.SessionID {
				response.Forbidden(c, "token does not grant this session")
				c.Abort()
				return
			}
		}
		c.Set(ContextSessionID, claims.SessionID)
		c.Next()
	}
}

// SessionID returns the session granted by the token, set by JWT.
func SessionID(c *gin.Context) uuid.UUID {
	v, _ := c.Get(ContextSessionID)
	id, _ := v.(uuid.UUID)
	return id
}
