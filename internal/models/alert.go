package models

import "time"

// AlertType represents the severity of a quota alert.
type AlertType int

// AlertType constants define quota alert severities.
const (
	// AlertTypeQuotaWarning fires when monthly usage crosses the warning threshold.
	AlertTypeQuotaWarning AlertType = 1
	// AlertTypeQuotaExceeded fires when monthly usage reaches the full quota.
	AlertTypeQuotaExceeded AlertType = 2
)

// QuotaAlert tracks a live quota threshold crossing. At most one row
// exists per (tenant, feature, task, alert type); repeat triggers update
// Threshold and NotifiedAt in place instead of inserting duplicates.
type QuotaAlert struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	TenantID uint64 `gorm:"not null;uniqueIndex:idx_quota_alerts_scope"` // Owning tenant ID.

	FeatureID uint64 `gorm:"not null;uniqueIndex:idx_quota_alerts_scope"`                             // Alerted feature ID.
	TaskCode  string `gorm:"type:varchar(64);not null;default:'';uniqueIndex:idx_quota_alerts_scope"` // Alerted task code.

	AlertType AlertType `gorm:"not null;uniqueIndex:idx_quota_alerts_scope"` // Alert severity.

	Threshold  int       `gorm:"not null"` // Usage percentage at last trigger.
	NotifiedAt time.Time `gorm:"not null"` // Last trigger time.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
