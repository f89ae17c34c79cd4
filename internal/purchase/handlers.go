package purchase

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/schooltino/creditcore/internal/catalog"
	"github.com/schooltino/creditcore/internal/validation"
	"github.com/schooltino/creditcore/internal/wallet"
)

// Handler provides HTTP endpoints for purchase activation.
type Handler struct {
	service *Service
}

// NewHandler creates a new purchase handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up purchase routes. Callers are the backend's own
// payment callback workers, not end users; the gateway signature check
// happens before these endpoints and is reported via payment_verified.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/tenants/:tenant/plan/activate", h.ActivatePlan)
	r.POST("/tenants/:tenant/users/:user/pack/activate", h.ActivatePack)
}

// PlanPurchaseRequest is the plan activation request body.
type PlanPurchaseRequest struct {
	PlanID          string `json:"plan_id" binding:"required"`
	GatewayRef      string `json:"gateway_ref" binding:"required"`
	PaymentVerified bool   `json:"payment_verified"`
}

// PackPurchaseRequest is the pack activation request body.
type PackPurchaseRequest struct {
	PackID          string `json:"pack_id" binding:"required"`
	UserKind        string `json:"user_kind" binding:"required"`
	GatewayRef      string `json:"gateway_ref" binding:"required"`
	PaymentVerified bool   `json:"payment_verified"`
}

// ActivatePlan handles POST /v1/tenants/:tenant/plan/activate
func (h *Handler) ActivatePlan(c *gin.Context) {
	var req PlanPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if verrs := validation.Validate(
		validation.Required("plan_id", req.PlanID),
		validation.ValidIdent("plan_id", req.PlanID),
		validation.Required("gateway_ref", req.GatewayRef),
		validation.MaxLength("gateway_ref", req.GatewayRef, validation.MaxIdentLength),
	); len(verrs) > 0 {
		writeValidationErrors(c, verrs)
		return
	}

	result, err := h.service.ActivatePlan(c.Request.Context(), PlanPurchase{
		TenantID:        c.Param("tenant"),
		PlanID:          req.PlanID,
		GatewayRef:      req.GatewayRef,
		PaymentVerified: req.PaymentVerified,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// ActivatePack handles POST /v1/tenants/:tenant/users/:user/pack/activate
func (h *Handler) ActivatePack(c *gin.Context) {
	var req PackPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if verrs := validation.Validate(
		validation.Required("pack_id", req.PackID),
		validation.ValidIdent("pack_id", req.PackID),
		validation.Required("user_kind", req.UserKind),
		validation.Required("gateway_ref", req.GatewayRef),
		validation.MaxLength("gateway_ref", req.GatewayRef, validation.MaxIdentLength),
	); len(verrs) > 0 {
		writeValidationErrors(c, verrs)
		return
	}

	result, err := h.service.ActivatePack(c.Request.Context(), PackPurchase{
		TenantID:        c.Param("tenant"),
		UserID:          c.Param("user"),
		UserKind:        wallet.UserKind(req.UserKind),
		PackID:          req.PackID,
		GatewayRef:      req.GatewayRef,
		PaymentVerified: req.PaymentVerified,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func writeValidationErrors(c *gin.Context, verrs validation.ValidationErrors) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": verrs.Error(),
		"fields":  verrs,
	})
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrPaymentNotVerified):
		status = http.StatusPaymentRequired
		code = "payment_not_verified"
	case errors.Is(err, catalog.ErrUnknownPlan):
		status = http.StatusNotFound
		code = "unknown_plan"
	case errors.Is(err, catalog.ErrUnknownPack):
		status = http.StatusNotFound
		code = "unknown_pack"
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
}
