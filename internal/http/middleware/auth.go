// README: Firebase ID token middleware exposing the caller's uid and role to handlers.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"hailing/internal/infra"
)

const (
	ctxCallerUID  = "auth.uid"
	ctxCallerRole = "auth.role"
)

// Auth rejects requests without a valid bearer token.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxCallerUID, token.UID)
		if role, ok := token.Claims["role"].(string); ok {
			c.Set(ctxCallerRole, role)
		}
		c.Next()
	}
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxCallerUID)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxCallerRole)
}

// Authenticated reports whether Auth ran for this request.
func Authenticated(c *gin.Context) bool {
	_, ok := c.Get(ctxCallerUID)
	return ok
}
