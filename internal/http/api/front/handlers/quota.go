package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/draftforge/usagegate/internal/catalog"
	"github.com/draftforge/usagegate/internal/enforcement"
	"github.com/draftforge/usagegate/internal/metering"
)

// QuotaHandler serves read-only quota headroom lookups.
type QuotaHandler struct {
	catalog  *catalog.Catalog
	metering *metering.Service
}

// NewQuotaHandler constructs a QuotaHandler.
func NewQuotaHandler(cat *catalog.Catalog, svc *metering.Service) *QuotaHandler {
	return &QuotaHandler{catalog: cat, metering: svc}
}

// Get reports remaining quota for a feature without side effects.
func (h *QuotaHandler) Get(c *gin.Context) {
	tc := Tenant(c)
	if tc == nil {
		WriteKindError(c, enforcement.KindTenantUnresolved, "missing tenant credentials")
		return
	}
	featureCode := strings.TrimSpace(c.Query("feature"))
	if featureCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "feature is required"})
		return
	}
	if tc.PlanID == 0 {
		WriteKindError(c, enforcement.KindPlanExpired, "tenant has no effective plan")
		return
	}

	feature, errFeature := h.catalog.GetFeature(c.Request.Context(), featureCode)
	if errFeature != nil {
		WriteError(c, errFeature)
		return
	}
	if feature == nil {
		WriteKindError(c, enforcement.KindFeatureUnavailable, "unknown feature "+featureCode)
		return
	}

	check, errCheck := h.metering.CheckQuota(c.Request.Context(), enforcement.QuotaQuery{
		TenantID:  tc.TenantID,
		PlanID:    tc.PlanID,
		FeatureID: feature.ID,
		TaskCode:  strings.TrimSpace(c.Query("task")),
	})
	if errCheck != nil {
		WriteError(c, errCheck)
		return
	}
	c.JSON(http.StatusOK, check)
}
