package reporting

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/schooltino/creditcore/internal/pagination"
	"github.com/schooltino/creditcore/internal/wallet"
)

// defaultWindow is the reporting window when the caller omits ?since.
const defaultWindow = 30 * 24 * time.Hour

// Transaction listings are cursor-paged.
const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// Handler provides the read-only HTTP reporting surface.
type Handler struct {
	service *Service
	store   wallet.Store
	now     func() time.Time
}

// NewHandler creates a new reporting handler.
func NewHandler(service *Service, store wallet.Store) *Handler {
	return &Handler{service: service, store: store, now: time.Now}
}

// RegisterRoutes sets up reporting routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tenants/:tenant/wallet", h.GetSharedWallet)
	r.GET("/tenants/:tenant/users/:user/balance", h.GetBalance)
	r.GET("/tenants/:tenant/usage", h.GetTenantUsage)
	r.GET("/tenants/:tenant/users/:user/usage", h.GetUserUsage)
	r.GET("/tenants/:tenant/transactions", h.ListTenantTransactions)
	r.GET("/tenants/:tenant/users/:user/transactions", h.ListUserTransactions)
	r.GET("/tenants/:tenant/rollup", h.GetRollup)
}

// GetSharedWallet handles GET /v1/tenants/:tenant/wallet
func (h *Handler) GetSharedWallet(c *gin.Context) {
	w, err := h.store.GetShared(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"wallet":    w,
		"available": w.Available(),
	})
}

// GetBalance handles GET /v1/tenants/:tenant/users/:user/balance
func (h *Handler) GetBalance(c *gin.Context) {
	b, err := h.service.Balance(c.Request.Context(), c.Param("tenant"), c.Param("user"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// GetTenantUsage handles GET /v1/tenants/:tenant/usage
func (h *Handler) GetTenantUsage(c *gin.Context) {
	since, ok := h.since(c)
	if !ok {
		return
	}
	report, err := h.service.TenantUsage(c.Request.Context(), c.Param("tenant"), since)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetUserUsage handles GET /v1/tenants/:tenant/users/:user/usage
func (h *Handler) GetUserUsage(c *gin.Context) {
	since, ok := h.since(c)
	if !ok {
		return
	}
	report, err := h.service.UserUsage(c.Request.Context(), c.Param("tenant"), c.Param("user"), since)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ListTenantTransactions handles GET /v1/tenants/:tenant/transactions
func (h *Handler) ListTenantTransactions(c *gin.Context) {
	since, ok := h.since(c)
	if !ok {
		return
	}
	txns, err := h.store.QueryTenantUsage(c.Request.Context(), c.Param("tenant"), since)
	if err != nil {
		writeError(c, err)
		return
	}
	h.writePage(c, txns)
}

// ListUserTransactions handles GET /v1/tenants/:tenant/users/:user/transactions
func (h *Handler) ListUserTransactions(c *gin.Context) {
	since, ok := h.since(c)
	if !ok {
		return
	}
	txns, err := h.store.QueryUsage(c.Request.Context(), c.Param("tenant"), c.Param("user"), since)
	if err != nil {
		writeError(c, err)
		return
	}
	h.writePage(c, txns)
}

// writePage applies ?limit and ?cursor to a transaction slice and writes
// the page. The cursor names the last transaction of the previous page.
func (h *Handler) writePage(c *gin.Context, txns []*wallet.Transaction) {
	limit := defaultPageLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "limit must be a positive integer",
			})
			return
		}
		limit = min(n, maxPageLimit)
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}
	if cursor != nil {
		for i, txn := range txns {
			if txn.ID == cursor.ID {
				txns = txns[i+1:]
				break
			}
		}
	}
	if len(txns) > limit+1 {
		txns = txns[:limit+1]
	}

	page, next, hasMore := pagination.ComputePage(txns, limit, func(t *wallet.Transaction) (time.Time, string) {
		return t.At, t.ID
	})
	c.JSON(http.StatusOK, gin.H{
		"transactions": page,
		"nextCursor":   next,
		"hasMore":      hasMore,
	})
}

// GetRollup handles GET /v1/tenants/:tenant/rollup
func (h *Handler) GetRollup(c *gin.Context) {
	since, ok := h.since(c)
	if !ok {
		return
	}
	rollup, err := h.service.Rollup(c.Request.Context(), c.Param("tenant"), since)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rollup)
}

// since parses the optional ?since=RFC3339 query parameter. Writes the
// error response itself when the value is malformed.
func (h *Handler) since(c *gin.Context) (time.Time, bool) {
	raw := c.Query("since")
	if raw == "" {
		return h.now().Add(-defaultWindow), true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "since must be RFC3339",
		})
		return time.Time{}, false
	}
	return t, true
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, wallet.ErrWalletNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, wallet.ErrInvalidRequest):
		status = http.StatusBadRequest
		code = "invalid_request"
	case errors.Is(err, wallet.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
		code = "storage_unavailable"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
