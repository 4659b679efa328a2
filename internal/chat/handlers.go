package chat

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hundinet/hundi/internal/auth"
	"github.com/hundinet/hundi/internal/validation"
)

// Handler provides HTTP endpoints for trade chat.
type Handler struct {
	bus *Bus
}

// NewHandler creates a new chat handler.
func NewHandler(bus *Bus) *Handler {
	return &Handler{bus: bus}
}

// RegisterProtectedRoutes sets up auth-required chat routes. Chat is
// participant-only, so nothing is public.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/trades/:id/messages", h.ListMessages)
	r.POST("/trades/:id/messages", h.SendMessage)
}

// SendMessageRequest is the request body for a chat message.
type SendMessageRequest struct {
	Type      string `json:"type"`
	Body      string `json:"body"`
	Encrypted bool   `json:"encrypted"`
}

// SendMessage handles POST /v1/trades/:id/messages
func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	req.Body = validation.SanitizeString(req.Body, validation.MaxStringLength)

	callerID := auth.GetAuthenticatedUser(c)
	m, err := h.bus.Append(c.Request.Context(), c.Param("id"), AppendRequest{
		Sender:    callerID,
		Type:      Type(req.Type),
		Body:      req.Body,
		Encrypted: req.Encrypted,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNotParticipant):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Only trade participants can post messages",
			})
		case errors.Is(err, ErrEmptyBody), errors.Is(err, ErrInvalidType):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_message",
				"message": err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "send_failed",
				"message": "Failed to send message",
			})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": m})
}

// ListMessages handles GET /v1/trades/:id/messages?after=0&limit=100
func (h *Handler) ListMessages(c *gin.Context) {
	after, _ := strconv.ParseInt(c.DefaultQuery("after", "0"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	msgs, err := h.bus.Since(c.Request.Context(), c.Param("id"), after, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list messages",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": msgs,
		"count":    len(msgs),
	})
}
