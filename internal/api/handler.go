package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/processor"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type checkoutCreator interface {
	CreateCheckout(ctx context.Context, req *service.CheckoutRequest) (*service.CheckoutResponse, error)
}

type accountManager interface {
	CreateOnboardingLink(ctx context.Context, tenantID string) (string, *models.PaymentAccount, error)
	RefreshStatus(ctx context.Context, tenantID string) (*service.AccountStatus, error)
}

type orderReader interface {
	GetOrder(ctx context.Context, tenantID string, orderID int64) (*service.OrderDetails, error)
}

// Pinger is a dependency the readiness check pings
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	checkout  checkoutCreator
	accounts  accountManager
	orders    orderReader
	webhooks  *WebhookHandler
	auth      *Authenticator
	readiness map[string]Pinger
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	checkout checkoutCreator,
	accounts accountManager,
	orders orderReader,
	webhooks *WebhookHandler,
	auth *Authenticator,
	readiness map[string]Pinger,
) *Handler {
	return &Handler{
		checkout:  checkout,
		accounts:  accounts,
		orders:    orders,
		webhooks:  webhooks,
		auth:      auth,
		readiness: readiness,
		logger:    util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/stripe", h.webhooks.Handle)

	v1 := router.Group("/api/v1", h.auth.Middleware())
	{
		v1.POST("/checkout", h.createCheckout)
		v1.POST("/payment-account/onboarding", h.startOnboarding)
		v1.GET("/payment-account/status", h.accountStatus)
		v1.GET("/orders/:id", h.getOrder)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when every dependency answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, dep := range h.readiness {
		if err := dep.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createCheckout opens a hosted payment session for the caller's tenant
func (h *Handler) createCheckout(c *gin.Context) {
	var req service.CheckoutRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	req.TenantID = c.GetString(ctxTenantID)
	req.ActorID = c.GetString(ctxActorID)
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	resp, err := h.checkout.CreateCheckout(c.Request.Context(), &req)
	if err != nil {
		h.checkoutError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) checkoutError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNeedsOnboarding):
		c.JSON(http.StatusConflict, gin.H{
			"error":           "Payment account onboarding is not complete",
			"needsOnboarding": true,
		})
	case errors.Is(err, service.ErrCheckoutInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "Checkout already in progress for this idempotency key"})
	case errors.Is(err, service.ErrInvalidCart):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cart", "details": err.Error()})
	case errors.Is(err, service.ErrProductNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown product", "details": err.Error()})
	case errors.Is(err, service.ErrTenantNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Tenant not found"})
	case errors.Is(err, service.ErrPriceMappingMissing), errors.Is(err, processor.ErrUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":     "Payment processor unavailable",
			"retryable": true,
		})
	default:
		h.logger.Error("Checkout failed", zap.String("tenant_id", c.GetString(ctxTenantID)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create checkout"})
	}
}

// startOnboarding ensures a payment account exists and returns a setup link
func (h *Handler) startOnboarding(c *gin.Context) {
	tenantID := c.GetString(ctxTenantID)

	url, acct, err := h.accounts.CreateOnboardingLink(c.Request.Context(), tenantID)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrTenantNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Tenant not found"})
		return
	case errors.Is(err, service.ErrAccountBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "Payment account setup already in progress"})
		return
	default:
		h.logger.Error("Onboarding failed", zap.String("tenant_id", tenantID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"error":     "Failed to start onboarding",
			"retryable": true,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":        url,
		"account_id": acct.AccountID,
		"state":      acct.State,
	})
}

// accountStatus refreshes and returns the tenant's payment-account status.
// A failed refresh still answers with the last known flags marked stale.
func (h *Handler) accountStatus(c *gin.Context) {
	tenantID := c.GetString(ctxTenantID)

	status, err := h.accounts.RefreshStatus(c.Request.Context(), tenantID)
	if errors.Is(err, service.ErrTenantNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Tenant not found"})
		return
	}
	if err != nil && status == nil {
		h.logger.Error("Account status failed", zap.String("tenant_id", tenantID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load payment account"})
		return
	}

	c.JSON(http.StatusOK, status)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	idStr := c.Param("id")
	orderID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid order ID",
		})
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), c.GetString(ctxTenantID), orderID)
	if errors.Is(err, service.ErrOrderNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}
	if err != nil {
		h.logger.Error("Order lookup failed", zap.Int64("order_id", orderID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load order"})
		return
	}

	c.JSON(http.StatusOK, order)
}
