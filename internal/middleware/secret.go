package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	"github.com/aura-meetings/backend/pkg/response"
)

// HeaderWebhookSecret carries the shared secret of machine-to-machine callers.
const HeaderWebhookSecret = "X-Webhook-Secret"

// RequireSharedSecret allows only requests carrying the configured secret. An empty secret
// rejects everything, so an unconfigured endpoint is closed rather than open.
func RequireSharedSecret(secret string) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(HeaderWebhookSecret))
		if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			response.Unauthorized(c, "invalid webhook secret")
			c.Abort()
			return
		}
		c.Next()
	}
}
