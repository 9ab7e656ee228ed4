package middleware

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"hailing/internal/logging"
)

func Recovery(log *slog.Logger) gin.HandlerFunc {
	log = logging.OrDefault(log)
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("http_panic", "route", c.FullPath(), "panic", r)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
		}()
		c.Next()
	}
}
