package handler

import (
	"github.com/gin-gonic/gin"

	"betengine/internal/outcomefeed"
	"betengine/internal/pricefeed"
	"betengine/internal/repository"
)

type FeedsHandler struct {
	Feed     *pricefeed.Feed
	Outcomes *outcomefeed.Client
	Repo     repository.Repository
}

func (h *FeedsHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/feeds/health", h.health)
}

// @Summary Feed source health
// @Tags feeds
// @Success 200 {object} map[string]any
// @Router /api/v1/feeds/health [get]
func (h *FeedsHandler) health(c *gin.Context) {
	live := make([]gin.H, 0, 4)
	if h.Feed != nil {
		for _, src := range h.Feed.Health() {
			live = append(live, gin.H{
				"name":         src.Name,
				"source_type":  "price",
				"endpoint":     src.Endpoint,
				"status":       src.Status,
				"last_poll_at": src.LastPollAt,
				"last_error":   src.LastError,
			})
		}
		live = append(live, gin.H{
			"name":          "price_cache",
			"source_type":   "price",
			"status":        "ok",
			"fresh_symbols": h.Feed.CachedSymbols(),
		})
	}
	if h.Outcomes != nil {
		oh := h.Outcomes.Health()
		live = append(live, gin.H{
			"name":         "outcome_feed",
			"source_type":  "outcome",
			"endpoint":     oh.Endpoint,
			"status":       oh.Status,
			"last_poll_at": oh.LastPollAt,
			"last_error":   oh.LastError,
		})
	}

	stored := make([]gin.H, 0, 4)
	if h.Repo != nil {
		rows, err := h.Repo.ListFeedSourceStatuses(c.Request.Context())
		if err == nil {
			for _, row := range rows {
				stored = append(stored, gin.H{
					"name":         row.Name,
					"source_type":  row.SourceType,
					"endpoint":     row.Endpoint,
					"status":       row.Status,
					"last_poll_at": row.LastPollAt,
					"last_error":   row.LastError,
					"updated_at":   row.UpdatedAt,
				})
			}
		}
	}

	Ok(c, gin.H{"live": live, "stored": stored}, nil)
}
