package usage

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/schooltino/creditcore/internal/validation"
	"github.com/schooltino/creditcore/internal/wallet"
)

// Handler provides the HTTP consumption endpoint.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new usage handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up consumption routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/tenants/:tenant/users/:user/consume", h.Consume)
}

// ConsumeRequest is the consumption request body. Count defaults to 1.
type ConsumeRequest struct {
	Feature  string `json:"feature" binding:"required"`
	UserKind string `json:"user_kind" binding:"required"`
	Count    int64  `json:"count"`
}

// Consume handles POST /v1/tenants/:tenant/users/:user/consume
func (h *Handler) Consume(c *gin.Context) {
	var req ConsumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if verrs := validation.Validate(
		validation.Required("feature", req.Feature),
		validation.ValidIdent("feature", req.Feature),
		validation.Required("user_kind", req.UserKind),
	); len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": verrs.Error(),
			"fields":  verrs,
		})
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}

	result, err := h.engine.Consume(c.Request.Context(),
		c.Param("tenant"), c.Param("user"), wallet.UserKind(req.UserKind), req.Feature, req.Count)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, wallet.ErrInvalidRequest):
			status = http.StatusBadRequest
			code = "invalid_request"
		case errors.Is(err, wallet.ErrConcurrentModification):
			status = http.StatusConflict
			code = "conflict"
		case errors.Is(err, wallet.ErrStorageUnavailable):
			status = http.StatusServiceUnavailable
			code = "storage_unavailable"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}
