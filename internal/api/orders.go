package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"transfer-service/internal/models"
	"transfer-service/internal/service"

	"github.com/gin-gonic/gin"
)

// getListing handles get listing by ID
func (h *Handler) getListing(c *gin.Context) {
	listing, err := h.orderService.Inventory().GetListing(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (h *Handler) deactivateListing(c *gin.Context) {
	if err := h.orderService.Inventory().DeactivateListing(c.Request.Context(), callerFrom(c), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// createOrder handles order creation. A replayed Idempotency-Key answers 200 with the
// original order.
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderInput
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	view, created, err := h.orderService.CreateOrder(c.Request.Context(), callerFrom(c), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, view)
}

func (h *Handler) listOrders(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	result, err := h.orderService.ListOrders(c.Request.Context(), callerFrom(c), service.ListOrdersInput{
		Side:   c.Query("side"),
		Status: models.OrderStatus(c.Query("status")),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	view, err := h.orderService.GetOrder(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) confirmOrder(c *gin.Context) {
	order, err := h.orderService.ConfirmOrder(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type preparePaymentRequest struct {
	Method string `json:"method" binding:"required"`
}

func (h *Handler) preparePayment(c *gin.Context) {
	var req preparePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	payment, err := h.orderService.PreparePayment(c.Request.Context(), callerFrom(c), c.Param("id"), req.Method)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *Handler) simulatePayment(c *gin.Context) {
	payment, err := h.orderService.SimulatePayment(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *Handler) requestQuote(c *gin.Context) {
	shipment, err := h.orderService.RequestQuote(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, shipment)
}

func (h *Handler) dispatch(c *gin.Context) {
	shipment, err := h.orderService.Dispatch(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, shipment)
}

type simulateCourierRequest struct {
	Status models.ShipmentStatus `json:"status" binding:"required"`
}

func (h *Handler) simulateCourier(c *gin.Context) {
	var req simulateCourierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	shipment, err := h.orderService.SimulateCourierStatus(c.Request.Context(), callerFrom(c), c.Param("id"), req.Status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, shipment)
}

type acceptRequest struct {
	ProofPhotos []string `json:"proof_photos"`
}

func (h *Handler) acceptDelivery(c *gin.Context) {
	var req acceptRequest
	// the body is optional
	if c.Request.Body != nil && c.Request.Body != http.NoBody {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			h.badRequest(c, err)
			return
		}
	}

	order, err := h.orderService.AcceptDelivery(c.Request.Context(), callerFrom(c), c.Param("id"), req.ProofPhotos)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type proofRequest struct {
	Photos []string `json:"photos" binding:"required"`
}

func (h *Handler) uploadProof(c *gin.Context) {
	var req proofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	shipment, err := h.orderService.UploadProof(c.Request.Context(), callerFrom(c), c.Param("id"), req.Photos)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, shipment)
}
