package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/draftforge/usagegate/internal/enforcement"
	"github.com/draftforge/usagegate/internal/models"
	"github.com/draftforge/usagegate/internal/reservation"
)

// ReservationHandler serves reservation lifecycle endpoints.
type ReservationHandler struct {
	db          *gorm.DB
	coordinator *reservation.Coordinator
}

// NewReservationHandler constructs a ReservationHandler.
func NewReservationHandler(db *gorm.DB, coordinator *reservation.Coordinator) *ReservationHandler {
	return &ReservationHandler{db: db, coordinator: coordinator}
}

// Release frees a reservation the caller will not settle, for workloads
// that abort between the decision and the work.
func (h *ReservationHandler) Release(c *gin.Context) {
	tc := Tenant(c)
	if tc == nil {
		WriteKindError(c, enforcement.KindTenantUnresolved, "missing tenant credentials")
		return
	}
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reservation id"})
		return
	}

	var row models.UsageReservation
	errFind := h.db.WithContext(c.Request.Context()).
		Select("id", "tenant_id").
		Take(&row, id).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			WriteKindError(c, enforcement.KindReservationNotFound, "reservation not found")
			return
		}
		WriteKindError(c, enforcement.KindDatabaseError, "load reservation failed")
		return
	}
	if row.TenantID != tc.TenantID {
		WriteKindError(c, enforcement.KindReservationNotFound, "reservation not found")
		return
	}

	if errRelease := h.coordinator.ReleaseReservation(c.Request.Context(), id); errRelease != nil {
		WriteError(c, errRelease)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": true})
}
