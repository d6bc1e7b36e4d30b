package models

import "time"

// TenantStatus represents the lifecycle state of a tenant.
type TenantStatus int

// TenantStatus constants define tenant lifecycle states.
const (
	// TenantStatusActive marks a tenant allowed to consume features.
	TenantStatusActive TenantStatus = 1
	// TenantStatusSuspended marks a tenant blocked from all features.
	TenantStatusSuspended TenantStatus = 2
)

// Tenant represents a billing/organizational unit consuming metered features.
type Tenant struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name   string       `gorm:"type:text;not null"` // Display name.
	Status TenantStatus `gorm:"not null;default:1"` // Current tenant status.
	Notes  string       `gorm:"type:text"`          // Free-form admin notes.

	PlanAssignments []TenantPlan       `gorm:"foreignKey:TenantID"` // Plan assignment history.
	Credentials     []TenantCredential `gorm:"foreignKey:TenantID"` // Issued credentials.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TenantPlan assigns a plan to a tenant for an effective window.
type TenantPlan struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	TenantID uint64 `gorm:"not null;index"`      // Owning tenant ID.
	Tenant   Tenant `gorm:"foreignKey:TenantID"` // Owning tenant record.

	PlanID uint64 `gorm:"not null;index"`    // Assigned plan ID.
	Plan   Plan   `gorm:"foreignKey:PlanID"` // Assigned plan record.

	EffectiveFrom time.Time  `gorm:"not null;index"` // Assignment start time.
	ExpiresAt     *time.Time `gorm:"index"`          // Assignment end time (nil = open-ended).

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TenantCredential stores an API credential issued to a tenant.
// The credential presented by callers is "<key_id>.<secret>"; only a
// bcrypt hash of the secret is persisted.
type TenantCredential struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	TenantID uint64 `gorm:"not null;index"`      // Owning tenant ID.
	Tenant   Tenant `gorm:"foreignKey:TenantID"` // Owning tenant record.

	KeyID      string `gorm:"type:text;not null;uniqueIndex"` // Public credential identifier.
	SecretHash string `gorm:"type:text;not null"`             // Bcrypt hash of the secret part.

	IsEnabled bool `gorm:"not null;default:true"` // Whether the credential is usable.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
