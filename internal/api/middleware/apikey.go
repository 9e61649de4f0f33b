package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/ecosync/internal/logger"
)

// Header names of the static keys.
const (
	HeaderAdminKey = "X-Admin-Key"
	HeaderAIKey    = "X-AI-KEY"
)

// RequireKey rejects requests whose header does not match key.
// With required set and no key configured every request is refused;
// otherwise an empty key lets all requests through.
func RequireKey(header, key string, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			if required {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "endpoint disabled: no key configured"})
				return
			}
			c.Next()
			return
		}
		if subtle.ConstantTimeCompare([]byte(c.GetHeader(header)), []byte(key)) != 1 {
			logger.CtxWarn(c.Request.Context(), "Rejected request with bad %s: path=%s, client_ip=%s",
				header, c.Request.URL.Path, c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing " + header})
			return
		}
		c.Next()
	}
}
