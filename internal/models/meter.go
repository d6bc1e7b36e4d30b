package models

import "time"

// PeriodType represents the accounting window of a usage meter.
type PeriodType int

// PeriodType constants define meter accounting windows.
const (
	// PeriodTypeDaily buckets usage by local calendar day.
	PeriodTypeDaily PeriodType = 1
	// PeriodTypeMonthly buckets usage by local calendar month.
	PeriodTypeMonthly PeriodType = 2
)

// UsageMeter is a period-scoped running counter of consumed units.
// One row exists per (tenant, feature, task, period type, period key);
// CurrentUsage only ever increases within a period.
type UsageMeter struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	TenantID uint64 `gorm:"not null;uniqueIndex:idx_usage_meters_window"` // Owning tenant ID.

	FeatureID uint64 `gorm:"not null;uniqueIndex:idx_usage_meters_window"`                             // Metered feature ID.
	TaskCode  string `gorm:"type:varchar(64);not null;default:'';uniqueIndex:idx_usage_meters_window"` // Metered task code (empty = feature-level).

	PeriodType PeriodType `gorm:"not null;uniqueIndex:idx_usage_meters_window"`                  // Accounting window type.
	PeriodKey  string     `gorm:"type:varchar(10);not null;uniqueIndex:idx_usage_meters_window"` // YYYY-MM-DD or YYYY-MM.

	CurrentUsage int64 `gorm:"not null;default:0"` // Units consumed within the period.

	LastUpdated time.Time `gorm:"not null"`                // Last increment time.
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
