package policy

import (
	"github.com/draftforge/usagegate/internal/enforcement"
	"github.com/draftforge/usagegate/internal/models"
)

// Rule keys for numeric policy limits.
const (
	KeyMaxTokensIn      = "max_tokens_in"
	KeyMaxTokensOut     = "max_tokens_out"
	KeyMaxSteps         = "max_steps"
	KeyMaxFiles         = "max_files"
	KeyConcurrencyLimit = models.RuleKeyConcurrencyLimit
	KeyRateLimit        = models.RuleKeyRateLimit
)

// Built-in limit defaults, the lowest layer of the precedence chain.
// The values live in the enforcement package so that degraded
// approvals carry the same floor.
const (
	DefaultMaxTokensIn      = enforcement.DefaultMaxTokensIn
	DefaultMaxTokensOut     = enforcement.DefaultMaxTokensOut
	DefaultMaxSteps         = enforcement.DefaultMaxSteps
	DefaultMaxFiles         = enforcement.DefaultMaxFiles
	DefaultConcurrencyLimit = enforcement.DefaultConcurrencyLimit
)

// ResolveLimits merges numeric limits key by key: built-in defaults,
// then plan-scoped rules, then tenant-scoped rules. Within each scope a
// rule bound to the request's task code overrides the task-agnostic
// rule for the same key.
func ResolveLimits(planRules, tenantRules []models.PolicyRule, taskCode string) enforcement.Limits {
	merged := map[string]int64{
		KeyMaxTokensIn:      DefaultMaxTokensIn,
		KeyMaxTokensOut:     DefaultMaxTokensOut,
		KeyMaxSteps:         DefaultMaxSteps,
		KeyMaxFiles:         DefaultMaxFiles,
		KeyConcurrencyLimit: DefaultConcurrencyLimit,
		KeyRateLimit:        0,
	}

	overlay(merged, planRules, taskCode)
	overlay(merged, tenantRules, taskCode)

	return enforcement.Limits{
		MaxTokensIn:      merged[KeyMaxTokensIn],
		MaxTokensOut:     merged[KeyMaxTokensOut],
		MaxSteps:         merged[KeyMaxSteps],
		MaxFiles:         merged[KeyMaxFiles],
		ConcurrencyLimit: int(merged[KeyConcurrencyLimit]),
		RateLimit:        int(merged[KeyRateLimit]),
	}
}

// overlay applies one scope's rules: task-agnostic first, then rules
// matching the task code.
func overlay(merged map[string]int64, rules []models.PolicyRule, taskCode string) {
	for _, rule := range rules {
		if rule.TaskCode != "" {
			continue
		}
		merged[rule.Key] = rule.Value
	}
	if taskCode == "" {
		return
	}
	for _, rule := range rules {
		if rule.TaskCode != taskCode {
			continue
		}
		merged[rule.Key] = rule.Value
	}
}
