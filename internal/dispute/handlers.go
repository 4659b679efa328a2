package dispute

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for the dispute workflow. Resolution is a
// moderator action and is mounted on the admin-guarded route group.
type Handler struct {
	workflow *Workflow
}

// NewHandler creates a new dispute handler.
func NewHandler(workflow *Workflow) *Handler {
	return &Handler{workflow: workflow}
}

// RegisterProtectedRoutes sets up auth-required read routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/disputes/:id", h.GetDispute)
	r.GET("/trades/:id/disputes", h.GetOpenForTrade)
}

// RegisterModeratorRoutes sets up moderator-only routes.
func (h *Handler) RegisterModeratorRoutes(r *gin.RouterGroup) {
	r.GET("/disputes", h.ListOpen)
	r.POST("/disputes/:id/resolve", h.Resolve)
}

// GetDispute handles GET /v1/disputes/:id
func (h *Handler) GetDispute(c *gin.Context) {
	d, err := h.workflow.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// GetOpenForTrade handles GET /v1/trades/:id/disputes
func (h *Handler) GetOpenForTrade(c *gin.Context) {
	d, err := h.workflow.OpenForTrade(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// ListOpen handles GET /admin/disputes
func (h *Handler) ListOpen(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	disputes, err := h.workflow.ListOpen(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list disputes",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"disputes": disputes,
		"count":    len(disputes),
	})
}

// ResolveRequest is the request body for a moderator ruling.
type ResolveRequest struct {
	Resolution  string `json:"resolution"`
	ModeratorID string `json:"moderatorId"`
}

// Resolve handles POST /admin/disputes/:id/resolve
func (h *Handler) Resolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	d, err := h.workflow.Resolve(c.Request.Context(), c.Param("id"), Resolution(req.Resolution), req.ModeratorID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

func (h *Handler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrDisputeNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Dispute not found",
		})
	case errors.Is(err, ErrInvalidResolution):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_resolution",
			"message": err.Error(),
		})
	case errors.Is(err, ErrDisputeResolved):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_resolved",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "dispute_failed",
			"message": "Dispute operation failed",
		})
	}
}
