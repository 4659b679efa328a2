package admin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hundinet/hundi/internal/escrow"
)

// Handler provides admin HTTP endpoints.
type Handler struct {
	escrows    EscrowAdmin
	sweeper    ExpirySweeper
	reconciler ReconciliationRunner
	realtime   RealtimeStats
}

// NewHandler creates a new admin handler.
func NewHandler() *Handler {
	return &Handler{}
}

// WithEscrowAdmin sets the escrow lister for inspection endpoints.
func (h *Handler) WithEscrowAdmin(e EscrowAdmin) *Handler {
	h.escrows = e
	return h
}

// WithExpirySweeper sets the trade expiry sweeper.
func (h *Handler) WithExpirySweeper(s ExpirySweeper) *Handler {
	h.sweeper = s
	return h
}

// WithReconciler sets the reconciliation runner for on-demand audits.
func (h *Handler) WithReconciler(r ReconciliationRunner) *Handler {
	h.reconciler = r
	return h
}

// WithRealtimeStats sets the WebSocket hub stats source.
func (h *Handler) WithRealtimeStats(r RealtimeStats) *Handler {
	h.realtime = r
	return h
}

// RegisterRoutes sets up admin routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/admin/escrows", h.listEscrows)
	r.POST("/admin/trades/sweep-expired", h.sweepExpired)
	r.POST("/admin/reconcile", h.triggerReconciliation)
	r.GET("/admin/realtime/stats", h.realtimeStats)
}

var listableStates = map[escrow.State]bool{
	escrow.StateLocked:   true,
	escrow.StateFrozen:   true,
	escrow.StateReleased: true,
	escrow.StateRefunded: true,
}

// listEscrows returns escrows in a given state, frozen by default.
func (h *Handler) listEscrows(c *gin.Context) {
	if h.escrows == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "escrow admin not configured"})
		return
	}

	state := escrow.State(c.DefaultQuery("state", string(escrow.StateFrozen)))
	if !listableStates[state] {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_state",
			"message": "Unknown escrow state: " + string(state),
		})
		return
	}

	limit := 100
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	list, err := h.escrows.ListByState(c.Request.Context(), state, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list escrows", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrows": list, "count": len(list), "state": state})
}

// sweepExpired runs an immediate trade expiry pass.
func (h *Handler) sweepExpired(c *gin.Context) {
	if h.sweeper == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "expiry sweeper not configured"})
		return
	}

	expired := h.sweeper.SweepNow(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"expiredCount": expired})
}

// triggerReconciliation runs an on-demand escrow/trade consistency audit.
func (h *Handler) triggerReconciliation(c *gin.Context) {
	if h.reconciler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reconciliation not configured"})
		return
	}

	report, err := h.reconciler.RunAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation failed", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"report": report})
}

// realtimeStats returns WebSocket hub statistics.
func (h *Handler) realtimeStats(c *gin.Context) {
	if h.realtime == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime hub not configured"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": h.realtime.Stats()})
}
