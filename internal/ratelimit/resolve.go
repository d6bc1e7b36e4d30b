package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/draftforge/usagegate/internal/identity"
	"github.com/draftforge/usagegate/internal/models"
	"gorm.io/gorm"
)

// ResolveLimit resolves the effective per-second rate limit for a tenant:
// a tenant-scoped policy rule wins over the plan-scoped rule, which wins
// over the settings default. Rules bound to the task code win over
// unbound rules at the same scope.
func ResolveLimit(ctx context.Context, db *gorm.DB, tenantID uint64, taskCode string) (Decision, error) {
	if db == nil || tenantID == 0 {
		return Decision{}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	taskCode = strings.TrimSpace(taskCode)

	tenantLimit, errTenant := loadRuleLimit(ctx, db, models.PolicyScopeTenant, tenantID, taskCode)
	if errTenant != nil {
		return Decision{}, errTenant
	}
	if tenantLimit > 0 {
		return Decision{Limit: tenantLimit, TenantID: tenantID}, nil
	}

	assignment, errPlan := identity.EffectivePlan(ctx, db, tenantID, time.Now())
	if errPlan != nil {
		return Decision{}, errPlan
	}
	if assignment != nil {
		planLimit, errRule := loadRuleLimit(ctx, db, models.PolicyScopePlan, assignment.PlanID, taskCode)
		if errRule != nil {
			return Decision{}, errRule
		}
		if planLimit > 0 {
			return Decision{Limit: planLimit, TenantID: tenantID}, nil
		}
	}

	settingsLimit := DefaultSettingsLimit()
	if settingsLimit > 0 {
		return Decision{Limit: settingsLimit, TenantID: tenantID}, nil
	}
	return Decision{}, nil
}

func loadRuleLimit(ctx context.Context, db *gorm.DB, scope models.PolicyScope, scopeID uint64, taskCode string) (int, error) {
	if db == nil || scopeID == 0 {
		return 0, nil
	}
	var rule models.PolicyRule
	errFind := db.WithContext(ctx).
		Where("scope = ? AND scope_id = ? AND key = ?", scope, scopeID, models.RuleKeyRateLimit).
		Where("task_code IN ?", []string{taskCode, ""}).
		Order("task_code DESC").
		Take(&rule).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, errFind
	}
	if rule.Value <= 0 {
		return 0, nil
	}
	return int(rule.Value), nil
}
