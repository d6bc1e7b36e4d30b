package enforcement

import (
	"time"

	"github.com/draftforge/usagegate/internal/models"
)

// Stage identifies which phase of enforcement produced a denial.
type Stage string

// Stage constants define enforcement phases.
const (
	// StageCheck covers eligibility and quota checks before any state changes.
	StageCheck Stage = "check"
	// StageReserve covers reservation creation.
	StageReserve Stage = "reserve"
)

// FeatureRequest asks whether a tenant may consume a gated capability.
type FeatureRequest struct {
	TenantID       uint64  `json:"tenant_id"`
	FeatureCode    string  `json:"feature_code"`
	TaskCode       string  `json:"task_code,omitempty"`
	ModelClass     string  `json:"model_class,omitempty"`
	UserID         *uint64 `json:"user_id,omitempty"`
	IdempotencyKey string  `json:"idempotency_key"`
}

// Limits holds the numeric policy limits resolved for a request.
type Limits struct {
	MaxTokensIn      int64 `json:"max_tokens_in"`
	MaxTokensOut     int64 `json:"max_tokens_out"`
	MaxSteps         int64 `json:"max_steps"`
	MaxFiles         int64 `json:"max_files"`
	ConcurrencyLimit int   `json:"concurrency_limit"`
	RateLimit        int   `json:"rate_limit"`
}

// Built-in limit values, the floor of the policy precedence chain.
const (
	DefaultMaxTokensIn      = 16384
	DefaultMaxTokensOut     = 4096
	DefaultMaxSteps         = 8
	DefaultMaxFiles         = 5
	DefaultConcurrencyLimit = 2
)

// DefaultLimits returns the built-in limits used when no policy rule
// overrides them, including for degraded approvals where the rule
// store is unreachable.
func DefaultLimits() Limits {
	return Limits{
		MaxTokensIn:      DefaultMaxTokensIn,
		MaxTokensOut:     DefaultMaxTokensOut,
		MaxSteps:         DefaultMaxSteps,
		MaxFiles:         DefaultMaxFiles,
		ConcurrencyLimit: DefaultConcurrencyLimit,
	}
}

// RemainingQuota reports per-window headroom. A nil value means the
// window is unlimited.
type RemainingQuota struct {
	Daily   *int64 `json:"daily"`
	Monthly *int64 `json:"monthly"`
}

// QuotaQuery identifies the quota window to inspect after the tenant,
// plan, and feature have been resolved.
type QuotaQuery struct {
	TenantID  uint64
	PlanID    uint64
	FeatureID uint64
	TaskCode  string
}

// QuotaCheck is the outcome of a side-effect-free quota lookup.
type QuotaCheck struct {
	Allowed   bool           `json:"allowed"`
	Remaining RemainingQuota `json:"remaining"`
	ResetTime time.Time      `json:"reset_time"`
}

// Decision is the outcome of an access evaluation. Denials carry the
// reason kind and the stage that produced them; infrastructure denials
// from the check stage may be converted to degraded approvals by the
// fail-open guard.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Kind   `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
	Stage   Stage  `json:"-"`

	ModelClass    string         `json:"model_class,omitempty"`
	Limits        Limits         `json:"limits"`
	ReservationID uint64         `json:"reservation_id,omitempty"`
	Remaining     RemainingQuota `json:"remaining_quota"`

	// Degraded marks a fail-open approval granted while the store was
	// unreachable; no reservation backs it.
	Degraded bool `json:"degraded,omitempty"`
}

// Deny builds a denial decision for the given stage and kind.
func Deny(stage Stage, kind Kind, format string, args ...any) Decision {
	err := NewError(kind, format, args...)
	return Decision{Allowed: false, Reason: kind, Message: err.Message, Stage: stage}
}

// UsageStats carries the actual consumption reported at settlement.
type UsageStats struct {
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	APICalls     int64  `json:"api_calls"`
	ModelClass   string `json:"model_class,omitempty"`
}

// Units returns the meter increment for the stats: the larger of output
// tokens and API calls, and at least one unit per settlement.
func (s UsageStats) Units() int64 {
	units := s.OutputTokens
	if s.APICalls > units {
		units = s.APICalls
	}
	if units < 1 {
		units = 1
	}
	return units
}

// MeteringResult is the outcome of a settlement attempt.
type MeteringResult struct {
	Success        bool   `json:"success"`
	UsageCommitted bool   `json:"usage_committed"`
	Units          int64  `json:"units,omitempty"`
	Reason         Kind   `json:"reason,omitempty"`
	Message        string `json:"message,omitempty"`
}

// TenantContext identifies a resolved tenant and its effective plan.
type TenantContext struct {
	TenantID uint64
	PlanID   uint64
	Status   models.TenantStatus
}
