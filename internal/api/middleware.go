package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"transfer-service/internal/auth"
	"transfer-service/internal/models"

	"github.com/gin-gonic/gin"
)

const (
	callerKey       = "caller"
	signatureHeader = "X-Signature"
)

// authMiddleware resolves the bearer token into a caller for the handlers below it
func (h *Handler) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := h.guard.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

func callerFrom(c *gin.Context) models.Caller {
	caller, _ := c.MustGet(callerKey).(models.Caller)
	return caller
}

// verifySignature checks the hex HMAC-SHA256 of the raw body. Without a secret
// every webhook is refused unless unsigned webhooks are explicitly allowed.
func (h *Handler) verifySignature(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			if h.opts.AllowUnsignedWebhooks {
				c.Next()
				return
			}
			h.writeError(c, fmt.Errorf("%w: webhook secret not configured", auth.ErrUnauthenticated))
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			h.badRequest(c, err)
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		got, err := hex.DecodeString(c.GetHeader(signatureHeader))
		if err != nil || !hmac.Equal(got, Sign(secret, body)) {
			h.writeError(c, fmt.Errorf("%w: bad webhook signature", auth.ErrUnauthenticated))
			return
		}
		c.Next()
	}
}

// Sign returns the HMAC-SHA256 of body under secret
func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
