package roster

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/schooltino/creditcore/internal/validation"
	"github.com/schooltino/creditcore/internal/wallet"
)

// Handler provides HTTP endpoints for roster management.
type Handler struct {
	store Store
	now   func() time.Time
}

// NewHandler creates a new roster handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store, now: time.Now}
}

// RegisterRoutes sets up roster routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/tenants/:tenant/roster", h.Enrol)
	r.GET("/tenants/:tenant/roster", h.List)
	r.DELETE("/tenants/:tenant/roster/:user", h.Deactivate)
}

// EnrolRequest is the enrolment request body.
type EnrolRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	UserKind string `json:"user_kind" binding:"required"`
}

// Enrol handles POST /v1/tenants/:tenant/roster
func (h *Handler) Enrol(c *gin.Context) {
	var req EnrolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if verrs := validation.Validate(
		validation.Required("user_id", req.UserID),
		validation.ValidIdent("user_id", req.UserID),
	); len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": verrs.Error(),
			"fields":  verrs,
		})
		return
	}
	kind := wallet.UserKind(req.UserKind)
	if !wallet.ValidUserKind(kind) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "user_kind must be student or teacher",
		})
		return
	}

	now := h.now()
	u := &User{
		TenantID:  c.Param("tenant"),
		UserID:    req.UserID,
		UserKind:  kind,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.Upsert(c.Request.Context(), u); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "storage_unavailable",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": u})
}

// List handles GET /v1/tenants/:tenant/roster
func (h *Handler) List(c *gin.Context) {
	var (
		users []*User
		err   error
	)
	if c.Query("active") == "true" {
		users, err = h.store.ListActive(c.Request.Context(), c.Param("tenant"))
	} else {
		users, err = h.store.List(c.Request.Context(), c.Param("tenant"))
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "storage_unavailable",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

// Deactivate handles DELETE /v1/tenants/:tenant/roster/:user
func (h *Handler) Deactivate(c *gin.Context) {
	err := h.store.Deactivate(c.Request.Context(), c.Param("tenant"), c.Param("user"), h.now())
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No such roster user",
			})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "storage_unavailable",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}
