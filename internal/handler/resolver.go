package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"betengine/internal/repository"
	"betengine/internal/resolver"
)

type ResolverHandler struct {
	Predictions *resolver.PredictionResolver
	Positions   *resolver.PositionResolver
	Markets     *resolver.MarketResolver
	Repo        repository.Repository
}

func (h *ResolverHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/resolver")
	g.GET("/status", h.status)
	g.POST("/run/:loop", h.run)
}

// @Summary Resolver loop status
// @Tags resolver
// @Success 200 {object} map[string]any
// @Router /api/v1/resolver/status [get]
func (h *ResolverHandler) status(c *gin.Context) {
	loops := make([]resolver.LoopStatus, 0, 3)
	if h.Predictions != nil {
		loops = append(loops, h.Predictions.Status())
	}
	if h.Positions != nil {
		loops = append(loops, h.Positions.Status())
	}
	if h.Markets != nil {
		loops = append(loops, h.Markets.Status())
	}
	var counts *repository.OpenPositionCounts
	if h.Repo != nil {
		counts, _ = h.Repo.CountOpenPositions(c.Request.Context())
	}
	Ok(c, gin.H{
		"loops":          loops,
		"open_positions": counts,
	}, nil)
}

// @Summary Trigger one resolver cycle
// @Tags resolver
// @Param loop path string true "predictions | positions | markets"
// @Success 200 {object} map[string]any
// @Router /api/v1/resolver/run/{loop} [post]
func (h *ResolverHandler) run(c *gin.Context) {
	loop := strings.ToLower(strings.TrimSpace(c.Param("loop")))
	var err error
	switch loop {
	case "predictions":
		if h.Predictions == nil {
			Error(c, http.StatusServiceUnavailable, "loop unavailable", nil)
			return
		}
		err = h.Predictions.RunOnce(c.Request.Context())
	case "positions":
		if h.Positions == nil {
			Error(c, http.StatusServiceUnavailable, "loop unavailable", nil)
			return
		}
		err = h.Positions.RunOnce(c.Request.Context())
	case "markets":
		if h.Markets == nil {
			Error(c, http.StatusServiceUnavailable, "loop unavailable", nil)
			return
		}
		err = h.Markets.RunOnce(c.Request.Context())
	default:
		Error(c, http.StatusBadRequest, "unknown loop", nil)
		return
	}
	if err != nil {
		Error(c, statusFor(err), err.Error(), nil)
		return
	}
	Ok(c, gin.H{"loop": loop, "triggered": true}, nil)
}
