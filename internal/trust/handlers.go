package trust

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for trust scores.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new trust handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up public trust routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/users/:id/trust", h.GetScore)
	r.GET("/trust/tiers", h.ListTiers)
}

// GetScore handles GET /v1/users/:id/trust
func (h *Handler) GetScore(c *gin.Context) {
	stats, err := h.engine.Score(c.Request.Context(), c.Param("id"))
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
			"message": "Failed to fetch trust score",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trust":      stats,
		"tradeLimit": TradeLimit(stats.Tier),
	})
}

// ListTiers handles GET /v1/trust/tiers
func (h *Handler) ListTiers(c *gin.Context) {
	tiers := []Tier{TierNew, TierBronze, TierSilver, TierGold, TierPlatinum, TierDiamond}
	out := make([]gin.H, len(tiers))
	for i, t := range tiers {
		out[i] = gin.H{
			"tier":          t,
			"tradeLimit":    TradeLimit(t),
			"priorityBonus": PriorityBonus(t),
		}
	}
	c.JSON(http.StatusOK, gin.H{"tiers": out})
}
