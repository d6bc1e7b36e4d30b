package metering

import (
	"context"
	"errors"
	"time"

	"github.com/draftforge/usagegate/internal/enforcement"
	"github.com/draftforge/usagegate/internal/identity"
	"github.com/draftforge/usagegate/internal/models"
	internalsettings "github.com/draftforge/usagegate/internal/settings"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service settles reservations into period-bucketed usage meters,
// appends usage log rows, answers quota checks, and maintains quota
// alerts.
type Service struct {
	db    *gorm.DB
	nowFn func() time.Time
}

// NewService constructs a metering Service.
func NewService(conn *gorm.DB) *Service {
	return &Service{db: conn, nowFn: time.Now}
}

// RecordUsage settles a reservation: increments the monthly and daily
// meters, appends a usage log row, and transitions the reservation to
// Completed. A settlement that starts but fails leaves the reservation
// Failed with a Failed log row, never dangling Active. Alert checking
// runs afterwards as a best-effort side effect.
func (s *Service) RecordUsage(ctx context.Context, reservationID uint64, stats enforcement.UsageStats, userID *uint64) enforcement.MeteringResult {
	if s == nil || s.db == nil {
		return failure(enforcement.KindServiceUnavailable, "metering service not initialized")
	}

	var reservation models.UsageReservation
	errFind := s.db.WithContext(ctx).Take(&reservation, reservationID).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return failure(enforcement.KindReservationNotFound, "reservation %d not found", reservationID)
		}
		return failure(enforcement.KindDatabaseError, "load reservation %d: %v", reservationID, errFind)
	}

	now := s.nowFn()
	if reservation.Status != models.ReservationStatusActive {
		return failure(enforcement.KindReservationFailed, "reservation %d already settled (status %d)", reservationID, reservation.Status)
	}
	if !reservation.ExpiresAt.After(now) {
		return failure(enforcement.KindReservationExpired, "reservation %d expired at %s", reservationID, reservation.ExpiresAt.Format(time.RFC3339))
	}

	units := stats.Units()
	featureID := uint64(0)
	if reservation.FeatureID != nil {
		featureID = *reservation.FeatureID
	}
	if userID == nil {
		userID = reservation.UserID
	}

	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errMeter := incrementMeter(tx, reservation.TenantID, featureID, reservation.TaskCode, models.PeriodTypeMonthly, MonthlyKey(now), units, now); errMeter != nil {
			return errMeter
		}
		if errMeter := incrementMeter(tx, reservation.TenantID, featureID, reservation.TaskCode, models.PeriodTypeDaily, DailyKey(now), units, now); errMeter != nil {
			return errMeter
		}

		entry := models.UsageLog{
			TenantID:      reservation.TenantID,
			ReservationID: reservation.ID,
			FeatureID:     reservation.FeatureID,
			TaskCode:      reservation.TaskCode,
			InputTokens:   stats.InputTokens,
			OutputTokens:  stats.OutputTokens,
			APICalls:      stats.APICalls,
			Units:         units,
			ModelClass:    stats.ModelClass,
			Status:        models.UsageLogStatusCompleted,
			UserID:        userID,
		}
		if errLog := tx.Create(&entry).Error; errLog != nil {
			return errLog
		}

		res := tx.Model(&models.UsageReservation{}).
			Where("id = ? AND status = ?", reservation.ID, models.ReservationStatusActive).
			Updates(map[string]any{"status": models.ReservationStatusCompleted, "updated_at": now.UTC()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.New("reservation settled concurrently")
		}
		return nil
	})
	if errTx != nil {
		s.markSettlementFailed(ctx, &reservation, stats, userID, errTx)
	}

	// Alert checking runs after every settlement attempt; its own
	// failure never changes the settlement result.
	if errAlerts := s.CheckQuotaAlerts(ctx, reservation.TenantID, featureID, reservation.TaskCode); errAlerts != nil {
		log.WithError(errAlerts).Warn("metering: quota alert check failed")
	}

	if errTx != nil {
		return failure(enforcement.KindReservationFailed, "settle reservation %d: %v", reservationID, errTx)
	}
	return enforcement.MeteringResult{Success: true, UsageCommitted: true, Units: units}
}

// markSettlementFailed transitions the reservation to Failed and writes
// the failed log row after a settlement transaction rolled back.
func (s *Service) markSettlementFailed(ctx context.Context, reservation *models.UsageReservation, stats enforcement.UsageStats, userID *uint64, cause error) {
	now := s.nowFn().UTC()
	if errUpdate := s.db.WithContext(ctx).Model(&models.UsageReservation{}).
		Where("id = ? AND status = ?", reservation.ID, models.ReservationStatusActive).
		Updates(map[string]any{"status": models.ReservationStatusFailed, "updated_at": now}).Error; errUpdate != nil {
		log.WithError(errUpdate).Warn("metering: failed to mark reservation failed")
	}

	entry := models.UsageLog{
		TenantID:      reservation.TenantID,
		ReservationID: reservation.ID,
		FeatureID:     reservation.FeatureID,
		TaskCode:      reservation.TaskCode,
		InputTokens:   stats.InputTokens,
		OutputTokens:  stats.OutputTokens,
		APICalls:      stats.APICalls,
		ModelClass:    stats.ModelClass,
		Status:        models.UsageLogStatusFailed,
		ErrorText:     cause.Error(),
		UserID:        userID,
	}
	if errLog := s.db.WithContext(ctx).Create(&entry).Error; errLog != nil {
		log.WithError(errLog).Warn("metering: failed to write failure log row")
	}
}

// CheckQuota computes per-window headroom for a resolved quota target.
// Nil plan quotas mean unlimited; both windows need headroom for the
// check to pass.
func (s *Service) CheckQuota(ctx context.Context, q enforcement.QuotaQuery) (enforcement.QuotaCheck, error) {
	if s == nil || s.db == nil {
		return enforcement.QuotaCheck{}, enforcement.NewError(enforcement.KindServiceUnavailable, "metering service not initialized")
	}

	grant, errGrant := s.featureGrant(ctx, q.PlanID, q.FeatureID)
	if errGrant != nil {
		return enforcement.QuotaCheck{}, errGrant
	}

	// Quotas attach to the plan feature, so windows sum across tasks
	// regardless of which task the caller is asking for.
	q.TaskCode = ""

	now := s.nowFn()
	check := enforcement.QuotaCheck{Allowed: true, ResetTime: NextMonthStart(now)}

	var monthlyQuota, dailyQuota *int64
	if grant != nil {
		monthlyQuota = grant.MonthlyQuota
		dailyQuota = grant.DailyQuota
	}

	if monthlyQuota != nil {
		used, errUsed := s.usageFor(ctx, q, models.PeriodTypeMonthly, MonthlyKey(now))
		if errUsed != nil {
			return enforcement.QuotaCheck{}, errUsed
		}
		remaining := *monthlyQuota - used
		if remaining < 0 {
			remaining = 0
		}
		check.Remaining.Monthly = &remaining
		if remaining <= 0 {
			check.Allowed = false
		}
	}
	if dailyQuota != nil {
		used, errUsed := s.usageFor(ctx, q, models.PeriodTypeDaily, DailyKey(now))
		if errUsed != nil {
			return enforcement.QuotaCheck{}, errUsed
		}
		remaining := *dailyQuota - used
		if remaining < 0 {
			remaining = 0
		}
		check.Remaining.Daily = &remaining
		if remaining <= 0 {
			check.Allowed = false
		}
	}
	return check, nil
}

// UsageReport describes current consumption for one window.
type UsageReport struct {
	Current   int64     `json:"current"`
	Limit     *int64    `json:"limit"`
	ResetTime time.Time `json:"reset_time"`
}

// GetUsage reports current usage and the plan limit for one period type.
func (s *Service) GetUsage(ctx context.Context, q enforcement.QuotaQuery, period models.PeriodType) (*UsageReport, error) {
	if s == nil || s.db == nil {
		return nil, enforcement.NewError(enforcement.KindServiceUnavailable, "metering service not initialized")
	}

	now := s.nowFn()
	key := MonthlyKey(now)
	reset := NextMonthStart(now)
	if period == models.PeriodTypeDaily {
		key = DailyKey(now)
		reset = NextDayStart(now)
	}

	used, errUsed := s.usageFor(ctx, q, period, key)
	if errUsed != nil {
		return nil, errUsed
	}

	report := UsageReport{Current: used, ResetTime: reset}
	grant, errGrant := s.featureGrant(ctx, q.PlanID, q.FeatureID)
	if errGrant != nil {
		return nil, errGrant
	}
	if grant != nil {
		if period == models.PeriodTypeDaily {
			report.Limit = grant.DailyQuota
		} else {
			report.Limit = grant.MonthlyQuota
		}
	}
	return &report, nil
}

// CheckQuotaAlerts raises or refreshes quota alerts from the monthly
// usage percentage. At most one live alert row exists per severity;
// repeat crossings update threshold and notified_at in place.
func (s *Service) CheckQuotaAlerts(ctx context.Context, tenantID, featureID uint64, taskCode string) error {
	if s == nil || s.db == nil {
		return enforcement.NewError(enforcement.KindServiceUnavailable, "metering service not initialized")
	}

	assignment, errPlan := identity.EffectivePlan(ctx, s.db, tenantID, s.nowFn())
	if errPlan != nil {
		return errPlan
	}
	if assignment == nil {
		return nil
	}
	grant, errGrant := s.featureGrant(ctx, assignment.PlanID, featureID)
	if errGrant != nil {
		return errGrant
	}
	if grant == nil || grant.MonthlyQuota == nil || *grant.MonthlyQuota <= 0 {
		return nil
	}

	// The percentage is of the feature-wide monthly quota; the alert row
	// records which task crossed it.
	now := s.nowFn()
	used, errUsed := s.usageFor(ctx, enforcement.QuotaQuery{TenantID: tenantID, FeatureID: featureID}, models.PeriodTypeMonthly, MonthlyKey(now))
	if errUsed != nil {
		return errUsed
	}

	percent := int(used * 100 / *grant.MonthlyQuota)
	warning, exceeded := internalsettings.AlertThresholds()

	switch {
	case percent >= exceeded:
		return s.upsertAlert(ctx, tenantID, featureID, taskCode, models.AlertTypeQuotaExceeded, percent, now)
	case percent >= warning:
		return s.upsertAlert(ctx, tenantID, featureID, taskCode, models.AlertTypeQuotaWarning, percent, now)
	default:
		return nil
	}
}

// upsertAlert inserts the alert row or refreshes the existing one.
func (s *Service) upsertAlert(ctx context.Context, tenantID, featureID uint64, taskCode string, alertType models.AlertType, percent int, now time.Time) error {
	row := models.QuotaAlert{
		TenantID:   tenantID,
		FeatureID:  featureID,
		TaskCode:   taskCode,
		AlertType:  alertType,
		Threshold:  percent,
		NotifiedAt: now.UTC(),
	}
	errUpsert := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"}, {Name: "feature_id"}, {Name: "task_code"}, {Name: "alert_type"},
		},
		DoUpdates: clause.Assignments(map[string]any{
			"threshold":   percent,
			"notified_at": now.UTC(),
			"updated_at":  now.UTC(),
		}),
	}).Create(&row).Error
	if errUpsert != nil {
		return enforcement.WrapError(enforcement.KindDatabaseError, errUpsert, "upsert quota alert")
	}
	return nil
}

// incrementMeter upserts one period meter row and atomically adds units.
func incrementMeter(tx *gorm.DB, tenantID, featureID uint64, taskCode string, period models.PeriodType, key string, units int64, now time.Time) error {
	row := models.UsageMeter{
		TenantID:     tenantID,
		FeatureID:    featureID,
		TaskCode:     taskCode,
		PeriodType:   period,
		PeriodKey:    key,
		CurrentUsage: units,
		LastUpdated:  now.UTC(),
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"}, {Name: "feature_id"}, {Name: "task_code"},
			{Name: "period_type"}, {Name: "period_key"},
		},
		DoUpdates: clause.Assignments(map[string]any{
			"current_usage": gorm.Expr("current_usage + ?", units),
			"last_updated":  now.UTC(),
		}),
	}).Create(&row).Error
}

// usageFor sums meter rows for the window, scoped to one task when the
// query names it and across all of the feature's tasks otherwise.
func (s *Service) usageFor(ctx context.Context, q enforcement.QuotaQuery, period models.PeriodType, key string) (int64, error) {
	query := s.db.WithContext(ctx).Model(&models.UsageMeter{}).
		Where("tenant_id = ? AND feature_id = ? AND period_type = ? AND period_key = ?", q.TenantID, q.FeatureID, period, key)
	if q.TaskCode != "" {
		query = query.Where("task_code = ?", q.TaskCode)
	}

	var used int64
	if errSum := query.Select("COALESCE(SUM(current_usage), 0)").Scan(&used).Error; errSum != nil {
		return 0, enforcement.WrapError(enforcement.KindDatabaseError, errSum, "sum usage meters")
	}
	return used, nil
}

// featureGrant loads the plan's quota grant for a feature, nil when the
// plan does not list it.
func (s *Service) featureGrant(ctx context.Context, planID, featureID uint64) (*models.PlanFeature, error) {
	if planID == 0 || featureID == 0 {
		return nil, nil
	}
	var grant models.PlanFeature
	errFind := s.db.WithContext(ctx).
		Where("plan_id = ? AND feature_id = ?", planID, featureID).
		Take(&grant).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, enforcement.WrapError(enforcement.KindDatabaseError, errFind, "load plan feature grant")
	}
	return &grant, nil
}

// failure builds a failed metering result for the given kind.
func failure(kind enforcement.Kind, format string, args ...any) enforcement.MeteringResult {
	err := enforcement.NewError(kind, format, args...)
	return enforcement.MeteringResult{Success: false, UsageCommitted: false, Reason: kind, Message: err.Message}
}
