package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// AuthErrorResponse represents the JSON response for authentication failures.
type AuthErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

// ServiceTokenAuth returns a middleware that requires a bearer service
// token on every request. When devMode is true the check is skipped so
// local clients can talk to the broker without provisioning a token.
func ServiceTokenAuth(token string, devMode bool, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if devMode {
			c.Next()
			return
		}

		presented := bearerToken(c.GetHeader("Authorization"))
		if presented == "" {
			logger.Warn().
				Str("clientIP", c.ClientIP()).
				Str("path", c.Request.URL.Path).
				Msg("missing service token")
			respondUnauthorized(c, "missing bearer token")
			return
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			logger.Warn().
				Str("clientIP", c.ClientIP()).
				Str("path", c.Request.URL.Path).
				Msg("invalid service token")
			respondUnauthorized(c, "invalid service token")
			return
		}

		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

func respondUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, AuthErrorResponse{
		Error:      "unauthorized",
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	})
}
