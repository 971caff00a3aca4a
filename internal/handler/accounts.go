package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"betengine/internal/repository"
)

type AccountsHandler struct {
	Repo repository.Repository
}

func (h *AccountsHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/accounts")
	g.GET("/:id", h.get)
	g.GET("/:id/ledger", h.listLedger)
}

// @Summary Account balance
// @Tags accounts
// @Param id path int true "account id"
// @Success 200 {object} map[string]any
// @Router /api/v1/accounts/{id} [get]
func (h *AccountsHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := parseUint64(c.Param("id"))
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid account id", nil)
		return
	}
	acct, err := h.Repo.GetAccount(c.Request.Context(), id)
	if err != nil {
		Error(c, statusFor(err), err.Error(), nil)
		return
	}
	Ok(c, gin.H{
		"account_id": acct.ID,
		"balance":    acct.Balance,
		"updated_at": acct.UpdatedAt,
	}, nil)
}

// @Summary Account ledger entries
// @Tags accounts
// @Param id path int true "account id"
// @Param limit query int false "page size"
// @Param offset query int false "page offset"
// @Param reason query string false "stake | payout | refund | deposit"
// @Success 200 {object} map[string]any
// @Router /api/v1/accounts/{id}/ledger [get]
func (h *AccountsHandler) listLedger(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := parseUint64(c.Param("id"))
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid account id", nil)
		return
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	params := repository.ListLedgerEntriesParams{
		AccountID: &id,
		Limit:     limit,
		Offset:    offset,
	}
	if v := strings.TrimSpace(c.Query("reason")); v != "" {
		params.Reason = &v
	}
	entries, err := h.Repo.ListLedgerEntries(c.Request.Context(), params)
	if err != nil {
		Error(c, statusFor(err), err.Error(), nil)
		return
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"id":           e.ID,
			"account_id":   e.AccountID,
			"amount":       e.Amount,
			"balance":      e.Balance,
			"reason":       e.Reason,
			"reference":    e.Reference,
			"position_ref": e.PositionRef,
			"created_at":   e.CreatedAt,
		})
	}
	Ok(c, out, paginationMeta(limit, offset, int64(offset+len(entries))))
}

func intQuery(c *gin.Context, key string, def int) int {
	if val := c.Query(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return def
}

func parseUint64(v string) uint64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	var out uint64
	for i := 0; i < len(v); i++ {
		ch := v[i]
		if ch < '0' || ch > '9' {
			return 0
		}
		out = out*10 + uint64(ch-'0')
	}
	return out
}

func paginationMeta(limit, offset int, total int64) map[string]any {
	if limit <= 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	hasNext := int64(offset+limit) < total
	return map[string]any{
		"limit":    limit,
		"offset":   offset,
		"total":    total,
		"has_next": hasNext,
	}
}
