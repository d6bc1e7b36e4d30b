package models

import (
	"time"

	"gorm.io/datatypes"
)

// PlanStatus represents the lifecycle state of a plan.
type PlanStatus int

// PlanStatus constants define plan lifecycle states.
const (
	// PlanStatusActive marks a plan available for assignment and use.
	PlanStatusActive PlanStatus = 1
	// PlanStatusInactive marks a plan disabled for use.
	PlanStatusInactive PlanStatus = 2
	// PlanStatusDeprecated marks a plan kept only for existing assignments.
	PlanStatusDeprecated PlanStatus = 3
)

// Plan represents a subscription plan configuration.
type Plan struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Code        string     `gorm:"type:varchar(64);not null;uniqueIndex"` // Stable plan code.
	Name        string     `gorm:"type:varchar(255);not null"`            // Plan name.
	Description string     `gorm:"type:text"`                             // Plan description.
	Status      PlanStatus `gorm:"not null;default:1"`                    // Current plan status.

	Features   []PlanFeature    `gorm:"foreignKey:PlanID"` // Feature quota grants.
	TaskAccess []PlanTaskAccess `gorm:"foreignKey:PlanID"` // Task model-class grants.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// PlanFeature grants a feature to a plan with optional period quotas.
// A nil quota means unlimited for that period.
type PlanFeature struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	PlanID uint64 `gorm:"not null;uniqueIndex:idx_plan_features_plan_feature"` // Owning plan ID.
	Plan   Plan   `gorm:"foreignKey:PlanID"`                                   // Owning plan record.

	FeatureID uint64  `gorm:"not null;uniqueIndex:idx_plan_features_plan_feature"` // Granted feature ID.
	Feature   Feature `gorm:"foreignKey:FeatureID"`                                // Granted feature record.

	MonthlyQuota *int64 `gorm:""` // Monthly unit quota (nil = unlimited).
	DailyQuota   *int64 `gorm:""` // Daily unit quota (nil = unlimited).

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// PlanTaskAccess grants a task to a plan with an allowed model-class set.
type PlanTaskAccess struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	PlanID uint64 `gorm:"not null;uniqueIndex:idx_plan_task_access_plan_task"` // Owning plan ID.
	Plan   Plan   `gorm:"foreignKey:PlanID"`                                   // Owning plan record.

	TaskID uint64 `gorm:"not null;uniqueIndex:idx_plan_task_access_plan_task"` // Granted task ID.
	Task   Task   `gorm:"foreignKey:TaskID"`                                   // Granted task record.

	AllowedClasses datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"` // Allowed model class list.
	DefaultClass   string         `gorm:"type:varchar(64);not null"`        // Default model class.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// PolicyScope indicates which level a policy rule applies to.
type PolicyScope int

// PolicyScope constants define policy rule scopes.
const (
	// PolicyScopePlan scopes a rule to every tenant on a plan.
	PolicyScopePlan PolicyScope = 1
	// PolicyScopeTenant scopes a rule to a single tenant.
	PolicyScopeTenant PolicyScope = 2
)

// Well-known policy rule keys.
const (
	// RuleKeyConcurrencyLimit caps simultaneously live reservations.
	RuleKeyConcurrencyLimit = "concurrency_limit"
	// RuleKeyRateLimit caps requests per second at the gateway.
	RuleKeyRateLimit = "rate_limit"
)

// PolicyRule overrides a named numeric limit at plan or tenant scope.
// Tenant-scoped rules win over plan-scoped rules on the same key.
type PolicyRule struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Scope   PolicyScope `gorm:"not null;uniqueIndex:idx_policy_rules_scope_key"` // Rule scope level.
	ScopeID uint64      `gorm:"not null;uniqueIndex:idx_policy_rules_scope_key"` // Plan or tenant ID for the scope.

	TaskCode string `gorm:"type:varchar(64);not null;default:'';uniqueIndex:idx_policy_rules_scope_key"` // Optional task restriction (empty = all tasks).

	Key   string `gorm:"type:varchar(64);not null;uniqueIndex:idx_policy_rules_scope_key"` // Limit key, e.g. max_tokens_out.
	Value int64  `gorm:"not null"`                                                         // Limit value.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
