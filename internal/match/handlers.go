package match

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hundinet/hundi/internal/auth"
	"github.com/hundinet/hundi/internal/trust"
	"github.com/hundinet/hundi/internal/users"
	"github.com/hundinet/hundi/internal/validation"
)

// Handler provides HTTP endpoints for the order book.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new order book handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up public order book routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/orders", h.ListOpen)
	r.GET("/orders/:id", h.GetOrder)
}

// RegisterProtectedRoutes sets up auth-required order routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/orders", h.PlaceOrder)
	r.DELETE("/orders/:id", h.CancelOrder)
	r.GET("/orders/mine", h.ListMine)
}

// PlaceOrder handles POST /v1/orders
func (h *Handler) PlaceOrder(c *gin.Context) {
	var req PlaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("amountCrypto", req.AmountCrypto),
		validation.ValidAmount("amountCrypto", req.AmountCrypto),
		validation.Required("amountFiat", req.AmountFiat),
		validation.ValidAmount("amountFiat", req.AmountFiat),
		validation.Required("fiatCurrency", req.FiatCurrency),
		validation.ValidCurrency("fiatCurrency", req.FiatCurrency),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	req.UserID = auth.GetAuthenticatedUser(c)
	placement, err := h.engine.PlaceOrder(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidOrder):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_order",
				"message": err.Error(),
			})
		case errors.Is(err, ErrTradeLimitExceeded):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "trade_limit_exceeded",
				"message": err.Error(),
			})
		case errors.Is(err, users.ErrUserNotFound), errors.Is(err, trust.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "User not found",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "order_failed",
				"message": "Failed to place order",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order":   placement.Order,
		"trade":   placement.Trade,
		"matched": placement.Trade != nil,
	})
}

// GetOrder handles GET /v1/orders/:id
func (h *Handler) GetOrder(c *gin.Context) {
	o, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Order not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "lookup_failed",
			"message": "Failed to fetch order",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

// ListOpen handles GET /v1/orders?side=buy&currency=INR
func (h *Handler) ListOpen(c *gin.Context) {
	side := Side(c.DefaultQuery("side", string(SideSell)))
	if side != SideBuy && side != SideSell {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "side must be buy or sell",
		})
		return
	}
	currency := c.Query("currency")
	if !validation.IsValidCurrency(currency) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "currency must be a 3-letter code",
		})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	orders, err := h.engine.ListOpen(c.Request.Context(), side, currency, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list orders",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"count":  len(orders),
	})
}

// ListMine handles GET /v1/orders/mine
func (h *Handler) ListMine(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	callerID := auth.GetAuthenticatedUser(c)

	orders, err := h.engine.ListByUser(c.Request.Context(), callerID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list orders",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"count":  len(orders),
	})
}

// CancelOrder handles DELETE /v1/orders/:id
func (h *Handler) CancelOrder(c *gin.Context) {
	callerID := auth.GetAuthenticatedUser(c)
	o, err := h.engine.CancelOrder(c.Request.Context(), c.Param("id"), callerID)
	if err != nil {
		switch {
		case errors.Is(err, ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Order not found",
			})
		case errors.Is(err, ErrNotOrderOwner):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "You do not own this order",
			})
		case errors.Is(err, ErrOrderNotOpen):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "invalid_state",
				"message": err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "cancel_failed",
				"message": "Failed to cancel order",
			})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}
