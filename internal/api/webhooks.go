package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"transfer-service/internal/models"

	"github.com/gin-gonic/gin"
)

// paymentWebhook receives payment provider callbacks. Replays answer 200.
func (h *Handler) paymentWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.badRequest(c, err)
		return
	}
	var ev models.PaymentConfirmedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		h.badRequest(c, err)
		return
	}
	ev.Payload = string(body)

	h.acknowledge(c, h.orderService.HandlePaymentWebhook(c.Request.Context(), &ev))
}

// courierWebhook receives courier status callbacks. Replays answer 200.
func (h *Handler) courierWebhook(c *gin.Context) {
	var ev models.CourierStatusEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		h.badRequest(c, err)
		return
	}

	h.acknowledge(c, h.orderService.HandleCourierWebhook(c.Request.Context(), &ev))
}

func (h *Handler) acknowledge(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrDuplicateWebhook):
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
	case err != nil:
		h.writeError(c, err)
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
