package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/draftforge/usagegate/internal/catalog"
	"github.com/draftforge/usagegate/internal/enforcement"
	"github.com/draftforge/usagegate/internal/metering"
	"github.com/draftforge/usagegate/internal/models"
)

// UsageHandler serves usage settlement and usage reporting.
type UsageHandler struct {
	db       *gorm.DB
	catalog  *catalog.Catalog
	metering *metering.Service
}

// NewUsageHandler constructs a UsageHandler.
func NewUsageHandler(db *gorm.DB, cat *catalog.Catalog, svc *metering.Service) *UsageHandler {
	return &UsageHandler{db: db, catalog: cat, metering: svc}
}

// recordUsageRequest defines the request body for usage settlement.
type recordUsageRequest struct {
	ReservationID uint64  `json:"reservation_id"`
	InputTokens   int64   `json:"input_tokens"`
	OutputTokens  int64   `json:"output_tokens"`
	APICalls      int64   `json:"api_calls"`
	ModelClass    string  `json:"model_class"`
	UserID        *uint64 `json:"user_id"`
}

// Record settles a reservation with the tenant's actual consumption.
func (h *UsageHandler) Record(c *gin.Context) {
	tc := Tenant(c)
	if tc == nil {
		WriteKindError(c, enforcement.KindTenantUnresolved, "missing tenant credentials")
		return
	}

	var body recordUsageRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.ReservationID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reservation_id is required"})
		return
	}
	if body.InputTokens < 0 || body.OutputTokens < 0 || body.APICalls < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "usage counters must be non-negative"})
		return
	}

	if !h.ownsReservation(c, tc.TenantID, body.ReservationID) {
		return
	}

	result := h.metering.RecordUsage(c.Request.Context(), body.ReservationID, enforcement.UsageStats{
		InputTokens:  body.InputTokens,
		OutputTokens: body.OutputTokens,
		APICalls:     body.APICalls,
		ModelClass:   strings.TrimSpace(body.ModelClass),
	}, body.UserID)
	if result.Success {
		c.JSON(http.StatusOK, result)
		return
	}
	c.JSON(result.Reason.Status(), gin.H{
		"result": result,
		"error":  ErrorBody(result.Reason, result.Message)["error"],
	})
}

// Get reports the tenant's meter position for a feature window.
func (h *UsageHandler) Get(c *gin.Context) {
	tc := Tenant(c)
	if tc == nil {
		WriteKindError(c, enforcement.KindTenantUnresolved, "missing tenant credentials")
		return
	}

	query, period, ok := h.windowQuery(c, tc)
	if !ok {
		return
	}

	report, errGet := h.metering.GetUsage(c.Request.Context(), query, period)
	if errGet != nil {
		WriteError(c, errGet)
		return
	}
	periodName := "monthly"
	if period == models.PeriodTypeDaily {
		periodName = "daily"
	}
	c.JSON(http.StatusOK, gin.H{
		"feature":    c.Query("feature"),
		"task":       query.TaskCode,
		"period":     periodName,
		"current":    report.Current,
		"limit":      report.Limit,
		"reset_time": report.ResetTime,
	})
}

// windowQuery resolves the feature/task query parameters to a meter window.
func (h *UsageHandler) windowQuery(c *gin.Context, tc *enforcement.TenantContext) (enforcement.QuotaQuery, models.PeriodType, bool) {
	featureCode := strings.TrimSpace(c.Query("feature"))
	if featureCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "feature is required"})
		return enforcement.QuotaQuery{}, 0, false
	}
	period := models.PeriodTypeMonthly
	switch strings.ToLower(strings.TrimSpace(c.Query("period"))) {
	case "", "monthly":
	case "daily":
		period = models.PeriodTypeDaily
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "period must be daily or monthly"})
		return enforcement.QuotaQuery{}, 0, false
	}
	if tc.PlanID == 0 {
		WriteKindError(c, enforcement.KindPlanExpired, "tenant has no effective plan")
		return enforcement.QuotaQuery{}, 0, false
	}

	feature, errFeature := h.catalog.GetFeature(c.Request.Context(), featureCode)
	if errFeature != nil {
		WriteError(c, errFeature)
		return enforcement.QuotaQuery{}, 0, false
	}
	if feature == nil {
		WriteKindError(c, enforcement.KindFeatureUnavailable, "unknown feature "+featureCode)
		return enforcement.QuotaQuery{}, 0, false
	}
	return enforcement.QuotaQuery{
		TenantID:  tc.TenantID,
		PlanID:    tc.PlanID,
		FeatureID: feature.ID,
		TaskCode:  strings.TrimSpace(c.Query("task")),
	}, period, true
}

// ownsReservation verifies the reservation belongs to the tenant.
// Foreign reservations read as not found so ids do not leak.
func (h *UsageHandler) ownsReservation(c *gin.Context, tenantID, reservationID uint64) bool {
	var row models.UsageReservation
	errFind := h.db.WithContext(c.Request.Context()).
		Select("id", "tenant_id").
		Take(&row, reservationID).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			WriteKindError(c, enforcement.KindReservationNotFound, "reservation not found")
			return false
		}
		WriteKindError(c, enforcement.KindDatabaseError, "load reservation failed")
		return false
	}
	if row.TenantID != tenantID {
		WriteKindError(c, enforcement.KindReservationNotFound, "reservation not found")
		return false
	}
	return true
}
