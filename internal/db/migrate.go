package db

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/draftforge/usagegate/internal/models"
	internalsettings "github.com/draftforge/usagegate/internal/settings"
	"gorm.io/gorm"
)

// Migrate runs database migrations and seeds default settings.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.Tenant{},
		&models.TenantPlan{},
		&models.TenantCredential{},
		&models.Feature{},
		&models.Task{},
		&models.Plan{},
		&models.PlanFeature{},
		&models.PlanTaskAccess{},
		&models.PolicyRule{},
		&models.UsageReservation{},
		&models.UsageMeter{},
		&models.UsageLog{},
		&models.QuotaAlert{},
		&models.Setting{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	if errSeed := ensureDefaultSettings(conn); errSeed != nil {
		return errSeed
	}
	return nil
}

// ensureDefaultSettings inserts missing settings rows with their defaults.
func ensureDefaultSettings(conn *gorm.DB) error {
	defaults := map[string]any{
		internalsettings.ReservationTimeoutMSKey:   internalsettings.DefaultReservationTimeoutMS,
		internalsettings.AlertWarningThresholdKey:  internalsettings.DefaultAlertWarningThreshold,
		internalsettings.AlertExceededThresholdKey: internalsettings.DefaultAlertExceededThreshold,
		internalsettings.RateLimitKey:              internalsettings.DefaultRateLimit,
		internalsettings.RateLimitRedisEnabledKey:  false,
		internalsettings.RateLimitRedisPrefixKey:   internalsettings.DefaultRateLimitRedisPrefix,
	}

	for key, value := range defaults {
		var existing models.Setting
		errFind := conn.Where("key = ?", key).Take(&existing).Error
		if errFind == nil {
			continue
		}
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			return fmt.Errorf("db: read setting %s: %w", key, errFind)
		}

		encoded, errMarshal := json.Marshal(value)
		if errMarshal != nil {
			return fmt.Errorf("db: encode setting %s: %w", key, errMarshal)
		}
		row := models.Setting{Key: key, Value: encoded}
		if errCreate := conn.Create(&row).Error; errCreate != nil {
			if IsUniqueViolation(errCreate) {
				continue
			}
			return fmt.Errorf("db: seed setting %s: %w", key, errCreate)
		}
	}
	return nil
}
