package catalog

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler serves the read-only catalogue.
type Handler struct{}

// NewHandler creates a new catalog handler.
func NewHandler() *Handler {
	return &Handler{}
}

// RegisterRoutes sets up catalogue routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/plans", h.ListPlans)
	r.GET("/packs", h.ListPacks)
	r.GET("/features", h.ListFeatures)
}

// ListPlans handles GET /v1/plans
func (h *Handler) ListPlans(c *gin.Context) {
	plans := ListPlans()
	c.JSON(http.StatusOK, gin.H{"plans": plans, "count": len(plans)})
}

// ListPacks handles GET /v1/packs
func (h *Handler) ListPacks(c *gin.Context) {
	packs := ListPacks()
	c.JSON(http.StatusOK, gin.H{"packs": packs, "count": len(packs)})
}

// ListFeatures handles GET /v1/features
func (h *Handler) ListFeatures(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"features":          FeatureCosts(),
		"default_unit_cost": DefaultUnitCost,
	})
}
