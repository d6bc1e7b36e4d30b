package models

import "time"

// ReservationStatus represents the lifecycle state of a usage reservation.
type ReservationStatus int

// ReservationStatus constants define reservation lifecycle states.
const (
	// ReservationStatusActive marks a reservation holding a concurrency slot.
	ReservationStatusActive ReservationStatus = 1
	// ReservationStatusCompleted marks a reservation settled successfully.
	ReservationStatusCompleted ReservationStatus = 2
	// ReservationStatusFailed marks a reservation whose settlement failed.
	ReservationStatusFailed ReservationStatus = 3
	// ReservationStatusReleased marks a reservation cancelled before settlement.
	ReservationStatusReleased ReservationStatus = 4
)

// UsageReservation is a time-bounded claim on capacity created before a
// gated operation executes. Rows are never deleted, only transitioned,
// to preserve an audit trail. A row still Active past its ExpiresAt is
// logically expired: it stops counting toward concurrency and cannot be
// settled, without any background sweeper touching it.
type UsageReservation struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	TenantID uint64 `gorm:"not null;index"`      // Owning tenant ID.
	Tenant   Tenant `gorm:"foreignKey:TenantID"` // Owning tenant record.

	FeatureID *uint64 `gorm:"index"`                                // Reserved feature ID (nil when unresolved).
	TaskCode  string  `gorm:"type:varchar(64);not null;default:''"` // Reserved task code (empty = feature-level).

	ReservedUnits int64 `gorm:"not null;default:0"` // Estimated units reserved.

	Status    ReservationStatus `gorm:"not null;default:1;index"` // Current reservation status.
	ExpiresAt time.Time         `gorm:"not null;index"`           // Deadline after which the slot is reclaimed.

	IdempotencyKey string `gorm:"type:varchar(255);not null;uniqueIndex"` // Caller-supplied dedupe token.

	UserID *uint64 `gorm:""` // Acting end-user ID, if supplied.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Live reports whether the reservation still holds a concurrency slot at now.
func (r UsageReservation) Live(now time.Time) bool {
	return r.Status == ReservationStatusActive && r.ExpiresAt.After(now)
}
