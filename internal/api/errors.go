package api

import (
	"errors"
	"net/http"

	"transfer-service/internal/auth"
	"transfer-service/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorClass struct {
	err    error
	status int
	code   string
}

// order matters: refinements come before the errors they wrap
var errorClasses = []errorClass{
	{models.ErrInsufficientStock, http.StatusConflict, "insufficient_stock"},
	{models.ErrListingMismatch, http.StatusUnprocessableEntity, "listing_mismatch"},
	{models.ErrListingInactive, http.StatusConflict, "listing_inactive"},
	{models.ErrIdempotencyConflict, http.StatusConflict, "idempotency_conflict"},
	{models.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{models.ErrForbidden, http.StatusForbidden, "forbidden"},
	{models.ErrNotFound, http.StatusNotFound, "not_found"},
	{models.ErrProviderFailure, http.StatusBadGateway, "provider_failure"},
	{models.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{auth.ErrAccountDisabled, http.StatusUnauthorized, "account_disabled"},
	{auth.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
}

// classify maps an error to its HTTP status and machine code
func classify(err error) (int, string) {
	for _, ec := range errorClasses {
		if errors.Is(err, ec.err) {
			return ec.status, ec.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError responds with the class of err. Internal errors are logged and their
// detail is withheld.
func (h *Handler) writeError(c *gin.Context, err error) {
	status, code := classify(err)
	details := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		details = "internal error"
	}

	c.AbortWithStatusJSON(status, gin.H{
		"error":   code,
		"details": details,
	})
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_input",
		"details": err.Error(),
	})
}
