package escrow

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides read-only HTTP endpoints for escrows. All mutations go
// through the trade state machine; there is no direct escrow write API.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a new escrow handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterRoutes sets up public escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/escrows/:id", h.GetEscrow)
	r.GET("/trades/:id/escrow", h.GetByTrade)
}

// GetEscrow handles GET /v1/escrows/:id
func (h *Handler) GetEscrow(c *gin.Context) {
	e, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// GetByTrade handles GET /v1/trades/:id/escrow
func (h *Handler) GetByTrade(c *gin.Context) {
	e, err := h.ledger.GetByTrade(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

func (h *Handler) renderError(c *gin.Context, err error) {
	if errors.Is(err, ErrEscrowNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Escrow not found",
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "lookup_failed",
		"message": "Failed to fetch escrow",
	})
}
