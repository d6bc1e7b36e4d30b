package models

import "time"

// Feature represents a billable capability gated by plans and quotas.
type Feature struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Code        string `gorm:"type:varchar(64);not null;uniqueIndex"` // Stable feature code.
	Name        string `gorm:"type:varchar(255);not null"`            // Display name.
	Description string `gorm:"type:text"`                             // Feature description.

	IsEnabled bool `gorm:"not null;default:true"` // Whether the feature is active.

	Tasks []Task `gorm:"foreignKey:FeatureID"` // Tasks belonging to this feature.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Task represents a specific operation within a feature, bound to model classes.
type Task struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Code string `gorm:"type:varchar(64);not null;uniqueIndex"` // Stable task code.
	Name string `gorm:"type:varchar(255);not null"`            // Display name.

	FeatureID uint64  `gorm:"not null;index"`       // Owning feature ID.
	Feature   Feature `gorm:"foreignKey:FeatureID"` // Owning feature record.

	IsEnabled bool `gorm:"not null;default:true"` // Whether the task is active.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
