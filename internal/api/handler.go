package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"transfer-service/internal/models"
	"transfer-service/internal/service"
	"transfer-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Authenticator resolves a bearer token to a caller
type Authenticator interface {
	Authenticate(ctx context.Context, header string) (models.Caller, error)
}

// Options configure the HTTP surface
type Options struct {
	PaymentWebhookSecret string
	CourierWebhookSecret string

	// AllowUnsignedWebhooks lets webhooks through when their secret is empty.
	// Development only; otherwise such webhooks are rejected.
	AllowUnsignedWebhooks bool

	// Ready reports whether dependencies are reachable. nil means always ready.
	Ready func(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orderService *service.OrderService
	guard        Authenticator
	opts         Options
	logger       *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(orderService *service.OrderService, guard Authenticator, opts Options) *Handler {
	return &Handler{
		orderService: orderService,
		guard:        guard,
		opts:         opts,
		logger:       util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	webhooks := router.Group("/webhooks")
	{
		webhooks.POST("/payment", h.verifySignature(h.opts.PaymentWebhookSecret), h.paymentWebhook)
		webhooks.POST("/courier", h.verifySignature(h.opts.CourierWebhookSecret), h.courierWebhook)
	}

	v1 := router.Group("/api/v1")
	v1.Use(h.authMiddleware())
	{
		v1.GET("/listings/:id", h.getListing)
		v1.POST("/listings/:id/deactivate", h.deactivateListing)

		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/confirm", h.confirmOrder)
		v1.POST("/orders/:id/payment", h.preparePayment)
		v1.POST("/orders/:id/payment/simulate", h.simulatePayment)
		v1.POST("/orders/:id/shipment/quote", h.requestQuote)
		v1.POST("/orders/:id/shipment/dispatch", h.dispatch)
		v1.POST("/orders/:id/shipment/simulate", h.simulateCourier)
		v1.POST("/orders/:id/accept", h.acceptDelivery)
		v1.POST("/orders/:id/proof", h.uploadProof)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	if h.opts.Ready != nil {
		if err := h.opts.Ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unavailable",
				"details": err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
