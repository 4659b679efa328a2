package trade

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hundinet/hundi/internal/auth"
	"github.com/hundinet/hundi/internal/dispute"
	"github.com/hundinet/hundi/internal/escrow"
	"github.com/hundinet/hundi/internal/validation"
)

// Handler provides HTTP endpoints for the trade lifecycle.
type Handler struct {
	service *Service
}

// NewHandler creates a new trade handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) trade routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/trades/:id", h.GetTrade)
}

// RegisterProtectedRoutes sets up auth-required trade routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/trades", h.ListMyTrades)
	r.POST("/trades", h.CreateTrade)
	r.POST("/trades/:id/confirm", h.ConfirmPayment)
	r.POST("/trades/:id/cancel", h.CancelTrade)
	r.POST("/trades/:id/dispute", h.FileDispute)
}

// CreateTradeRequest is the request body for opening a trade directly,
// outside the matching engine.
type CreateTradeRequest struct {
	BuyerID       string `json:"buyerId"`
	AmountCrypto  string `json:"amountCrypto"`
	AmountFiat    string `json:"amountFiat"`
	FiatCurrency  string `json:"fiatCurrency"`
	PaymentMethod string `json:"paymentMethod"`
}

// CreateTrade handles POST /v1/trades. The authenticated caller is the
// seller; their crypto is escrowed immediately.
func (h *Handler) CreateTrade(c *gin.Context) {
	var req CreateTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("buyerId", req.BuyerID),
		validation.ValidID("buyerId", req.BuyerID),
		validation.Required("amountCrypto", req.AmountCrypto),
		validation.ValidAmount("amountCrypto", req.AmountCrypto),
		validation.Required("amountFiat", req.AmountFiat),
		validation.ValidAmount("amountFiat", req.AmountFiat),
		validation.Required("fiatCurrency", req.FiatCurrency),
		validation.ValidCurrency("fiatCurrency", req.FiatCurrency),
		validation.Required("paymentMethod", req.PaymentMethod),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	sellerID := auth.GetAuthenticatedUser(c)
	t, err := h.service.Create(c.Request.Context(), CreateRequest{
		BuyerID:       req.BuyerID,
		SellerID:      sellerID,
		AmountCrypto:  req.AmountCrypto,
		AmountFiat:    req.AmountFiat,
		FiatCurrency:  req.FiatCurrency,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"trade": t})
}

// GetTrade handles GET /v1/trades/:id
func (h *Handler) GetTrade(c *gin.Context) {
	t, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trade": t})
}

// ListMyTrades handles GET /v1/trades
func (h *Handler) ListMyTrades(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	callerID := auth.GetAuthenticatedUser(c)

	trades, err := h.service.ListByUser(c.Request.Context(), callerID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list trades",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trades": trades,
		"count":  len(trades),
	})
}

// ConfirmPayment handles POST /v1/trades/:id/confirm
func (h *Handler) ConfirmPayment(c *gin.Context) {
	callerID := auth.GetAuthenticatedUser(c)
	t, err := h.service.ConfirmPayment(c.Request.Context(), c.Param("id"), callerID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trade": t})
}

// CancelTradeRequest is the request body for cancelling a trade.
type CancelTradeRequest struct {
	Reason string `json:"reason"`
}

// CancelTrade handles POST /v1/trades/:id/cancel
func (h *Handler) CancelTrade(c *gin.Context) {
	var req CancelTradeRequest
	c.ShouldBindJSON(&req)
	req.Reason = validation.SanitizeString(req.Reason, 500)
	if req.Reason == "" {
		req.Reason = "cancelled by user"
	}

	callerID := auth.GetAuthenticatedUser(c)
	t, err := h.service.Cancel(c.Request.Context(), c.Param("id"), callerID, req.Reason)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trade": t})
}

// FileDisputeRequest is the request body for opening a dispute.
type FileDisputeRequest struct {
	Reason string `json:"reason"`
}

// FileDispute handles POST /v1/trades/:id/dispute
func (h *Handler) FileDispute(c *gin.Context) {
	var req FileDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	req.Reason = validation.SanitizeString(req.Reason, 2000)
	if req.Reason == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "reason is required",
		})
		return
	}

	callerID := auth.GetAuthenticatedUser(c)
	d, err := h.service.FileDispute(c.Request.Context(), c.Param("id"), callerID, req.Reason)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"dispute": d})
}

// renderError maps domain errors onto HTTP statuses.
func (h *Handler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrTradeNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Trade not found",
		})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": err.Error(),
		})
	case errors.Is(err, ErrSelfTrade):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "self_trade",
			"message": err.Error(),
		})
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, escrow.ErrAlreadyReleased),
		errors.Is(err, escrow.ErrInvalidEscrowState),
		errors.Is(err, dispute.ErrDisputeAlreadyOpen):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_state",
			"message": err.Error(),
		})
	case errors.Is(err, escrow.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "trade_failed",
			"message": "Trade operation failed",
		})
	}
}
