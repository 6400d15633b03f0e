package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"locker-service/internal/models"
	"locker-service/internal/service"
	"locker-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RentalAPI is the service surface the HTTP layer drives
type RentalAPI interface {
	InitiateReservation(ctx context.Context, req service.InitiateRequest) (*service.InitiateResponse, error)
	Reconcile(ctx context.Context, n service.PaymentNotification) (service.Outcome, error)
	RentalStatus(ctx context.Context, orderID string) (*service.RentalView, error)
	Occupancy(ctx context.Context, locationID, slotID string) (*service.OccupancyView, error)
}

// ReadinessCheck is a named dependency probed by /ready
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	rentals RentalAPI
	checks  []ReadinessCheck
	logger  *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(rentals RentalAPI, checks ...ReadinessCheck) *Handler {
	return &Handler{
		rentals: rentals,
		checks:  checks,
		logger:  util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/uptime", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/snap-token", h.createSnapToken)
	router.POST("/payment-notification", h.paymentNotification)
	router.POST("/midtrans-notif", h.paymentNotification)

	router.GET("/rentals/:orderId", h.getRental)
	router.GET("/occupancies/:locationId/:slotId", h.getOccupancy)
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports 503 while any dependency is unreachable
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failing := gin.H{}
	for _, check := range h.checks {
		if err := check.Check(ctx); err != nil {
			failing[check.Name] = err.Error()
		}
	}

	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failing,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createSnapToken handles snap token requests from the kiosk
func (h *Handler) createSnapToken(c *gin.Context) {
	var body snapTokenRequest

	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	req, err := body.toInitiateRequest()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.rentals.InitiateReservation(c.Request.Context(), req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error":   "Failed to create snap token",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// paymentNotification handles the provider webhook. The reconcile runs detached
// from the request so a dropped connection cannot abort a commit half way.
func (h *Handler) paymentNotification(c *gin.Context) {
	var body paymentNotificationRequest

	if err := c.ShouldBindJSON(&body); err != nil {
		util.NotificationsTotal.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid notification",
			"details": err.Error(),
		})
		return
	}

	h.logger.Info("Payment notification received",
		zap.String("order_id", body.OrderID),
		zap.String("transaction_status", body.TransactionStatus),
		zap.String("fraud_status", body.FraudStatus),
		zap.String("transaction_id", body.TransactionID),
		zap.String("payment_type", body.PaymentType))

	outcome, err := h.rentals.Reconcile(context.WithoutCancel(c.Request.Context()), service.PaymentNotification{
		OrderID:           body.OrderID,
		TransactionStatus: body.TransactionStatus,
		FraudStatus:       body.FraudStatus,
	})
	if err != nil {
		util.NotificationsTotal.WithLabelValues("error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	if outcome.Settled {
		util.NotificationsTotal.WithLabelValues("ok").Inc()
	} else {
		util.NotificationsTotal.WithLabelValues("ignored").Inc()
	}

	c.JSON(http.StatusOK, gin.H{
		"status": outcome.Status(),
	})
}

// getRental handles rental lookup by order id
func (h *Handler) getRental(c *gin.Context) {
	view, err := h.rentals.RentalStatus(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		body := gin.H{
			"error":   "Rental not found",
			"details": err.Error(),
		}
		if errors.Is(err, models.ErrRentalNotFound) {
			body["state"] = models.RentalStateNone
		}
		c.JSON(statusFor(err), body)
		return
	}

	c.JSON(http.StatusOK, view)
}

// getOccupancy handles slot occupancy lookup
func (h *Handler) getOccupancy(c *gin.Context) {
	view, err := h.rentals.Occupancy(c.Request.Context(), c.Param("locationId"), c.Param("slotId"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error":   "Occupancy not found",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, view)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrRentalNotFound), errors.Is(err, models.ErrOccupancyNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()
	}
}
