package models

import "time"

// UsageLogStatus represents the outcome recorded in a usage log row.
type UsageLogStatus int

// UsageLogStatus constants define settlement outcomes.
const (
	// UsageLogStatusCompleted marks a successful settlement.
	UsageLogStatusCompleted UsageLogStatus = 1
	// UsageLogStatusFailed marks a failed settlement attempt.
	UsageLogStatusFailed UsageLogStatus = 2
)

// UsageLog is an append-only record of a settlement attempt. Rows are
// never mutated after creation.
type UsageLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	TenantID uint64 `gorm:"not null;index"` // Owning tenant ID.

	ReservationID uint64           `gorm:"not null;index"`           // Settled reservation ID.
	Reservation   UsageReservation `gorm:"foreignKey:ReservationID"` // Settled reservation record.

	FeatureID *uint64 `gorm:"index"`                                // Metered feature ID.
	TaskCode  string  `gorm:"type:varchar(64);not null;default:''"` // Metered task code.

	InputTokens  int64 `gorm:"not null;default:0"` // Input tokens consumed.
	OutputTokens int64 `gorm:"not null;default:0"` // Output tokens produced.
	APICalls     int64 `gorm:"not null;default:0"` // Upstream API calls made.
	Units        int64 `gorm:"not null;default:0"` // Units charged to the meters.

	ModelClass string `gorm:"type:varchar(64)"` // Model class actually used.

	Status    UsageLogStatus `gorm:"not null;index"` // Settlement outcome.
	ErrorText string         `gorm:"type:text"`      // Failure detail when Status is Failed.

	UserID *uint64 `gorm:""` // Acting end-user ID, if supplied.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}
