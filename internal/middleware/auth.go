package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"mail-service/internal/session"
)

// SessionResolver validates a bearer credential.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (session.Identity, error)
}

// Auth resolves the Authorization header against the session store and
// attaches the verified identity to the request context.
func Auth(sessions SessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		ident, err := sessions.Resolve(c.Request.Context(), parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}

		c.Set("userID", ident.UserID)
		c.Set("tenantID", ident.TenantID)
		c.Next()
	}
}

// UserID reads the verified user id from the request context.
func UserID(c *gin.Context) int64 {
	v, _ := c.Get("userID")
	id, _ := v.(int64)
	return id
}

// TenantID reads the verified tenant id from the request context.
func TenantID(c *gin.Context) int64 {
	v, _ := c.Get("tenantID")
	id, _ := v.(int64)
	return id
}
