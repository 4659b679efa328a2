package users

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hundinet/hundi/internal/auth"
	"github.com/hundinet/hundi/internal/validation"
)

// KeyIssuer issues API keys on registration. Implemented by auth.Manager.
type KeyIssuer interface {
	GenerateKey(ctx context.Context, userID, name string) (string, *auth.APIKey, error)
}

// Handler provides HTTP endpoints for trader accounts.
type Handler struct {
	service *Service
	keys    KeyIssuer
}

// NewHandler creates a new users handler.
func NewHandler(service *Service, keys KeyIssuer) *Handler {
	return &Handler{service: service, keys: keys}
}

// RegisterRoutes sets up public user routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/users", h.Register)
	r.GET("/users/:id", h.GetUser)
}

// RegisterProtectedRoutes sets up auth-required user routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/users/me/online", h.SetOnline)
	r.POST("/users/me/blocks", h.Block)
	r.DELETE("/users/me/blocks/:target", h.Unblock)
}

// Register handles POST /v1/users. The primary API key is returned once.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	req.DisplayName = validation.SanitizeString(req.DisplayName, 120)
	if errs := validation.Validate(
		validation.Required("displayName", req.DisplayName),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	u, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "registration_failed",
			"message": "Failed to register user",
		})
		return
	}

	rawKey, keyInfo, err := h.keys.GenerateKey(c.Request.Context(), u.ID, "Primary key")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "key_issue_failed",
			"message": "User created but API key issue failed; contact support",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"user":    u,
		"apiKey":  rawKey,
		"keyId":   keyInfo.ID,
		"warning": "Store this key securely. It will not be shown again.",
	})
}

// GetUser handles GET /v1/users/:id
func (h *Handler) GetUser(c *gin.Context) {
	u, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "User not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "lookup_failed",
			"message": "Failed to fetch user",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// OnlineRequest is the request body for presence updates.
type OnlineRequest struct {
	Online bool `json:"online"`
}

// SetOnline handles POST /v1/users/me/online
func (h *Handler) SetOnline(c *gin.Context) {
	var req OnlineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	callerID := auth.GetAuthenticatedUser(c)
	u, err := h.service.SetOnline(c.Request.Context(), callerID, req.Online)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "update_failed",
			"message": "Failed to update presence",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// BlockRequest is the request body for blocking a counterparty.
type BlockRequest struct {
	UserID string `json:"userId"`
}

// Block handles POST /v1/users/me/blocks
func (h *Handler) Block(c *gin.Context) {
	var req BlockRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "userId is required",
		})
		return
	}

	callerID := auth.GetAuthenticatedUser(c)
	u, err := h.service.Block(c.Request.Context(), callerID, req.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "User not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "block_failed",
			"message": "Failed to block user",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// Unblock handles DELETE /v1/users/me/blocks/:target
func (h *Handler) Unblock(c *gin.Context) {
	callerID := auth.GetAuthenticatedUser(c)
	u, err := h.service.Unblock(c.Request.Context(), callerID, c.Param("target"))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "User not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "unblock_failed",
			"message": "Failed to unblock user",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}
