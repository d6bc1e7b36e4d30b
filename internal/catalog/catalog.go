package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/draftforge/usagegate/internal/models"
	"gorm.io/gorm"
)

// Catalog serves read-only lookups of feature, task, and plan reference
// data. Misses return nil without an error so callers decide how a
// missing row should be treated.
type Catalog struct {
	db *gorm.DB
}

// New constructs a Catalog.
func New(db *gorm.DB) *Catalog {
	return &Catalog{db: db}
}

// GetFeature looks up an enabled feature by code.
func (c *Catalog) GetFeature(ctx context.Context, code string) (*models.Feature, error) {
	if c == nil || c.db == nil {
		return nil, fmt.Errorf("catalog: not initialized")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}

	var feature models.Feature
	errFind := c.db.WithContext(ctx).
		Where("code = ? AND is_enabled = ?", code, true).
		Take(&feature).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("catalog: feature %s: %w", code, errFind)
	}
	return &feature, nil
}

// GetTask looks up an enabled task by code, including its linked feature.
func (c *Catalog) GetTask(ctx context.Context, code string) (*models.Task, error) {
	if c == nil || c.db == nil {
		return nil, fmt.Errorf("catalog: not initialized")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}

	var task models.Task
	errFind := c.db.WithContext(ctx).
		Preload("Feature").
		Where("code = ? AND is_enabled = ?", code, true).
		Take(&task).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("catalog: task %s: %w", code, errFind)
	}
	return &task, nil
}

// PlanDetails bundles a plan with its grants and plan-scoped rules.
type PlanDetails struct {
	Plan       models.Plan
	Features   []models.PlanFeature
	TaskAccess []models.PlanTaskAccess
	Rules      []models.PolicyRule
}

// GetPlanDetails loads a plan with its feature grants, task access, and
// plan-scoped policy rules.
func (c *Catalog) GetPlanDetails(ctx context.Context, planID uint64) (*PlanDetails, error) {
	if c == nil || c.db == nil {
		return nil, fmt.Errorf("catalog: not initialized")
	}
	if planID == 0 {
		return nil, nil
	}

	var plan models.Plan
	errFind := c.db.WithContext(ctx).Take(&plan, planID).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("catalog: plan %d: %w", planID, errFind)
	}

	details := PlanDetails{Plan: plan}
	if errFeatures := c.db.WithContext(ctx).
		Preload("Feature").
		Where("plan_id = ?", planID).
		Find(&details.Features).Error; errFeatures != nil {
		return nil, fmt.Errorf("catalog: plan %d features: %w", planID, errFeatures)
	}
	if errAccess := c.db.WithContext(ctx).
		Preload("Task").
		Where("plan_id = ?", planID).
		Find(&details.TaskAccess).Error; errAccess != nil {
		return nil, fmt.Errorf("catalog: plan %d task access: %w", planID, errAccess)
	}
	if errRules := c.db.WithContext(ctx).
		Where("scope = ? AND scope_id = ?", models.PolicyScopePlan, planID).
		Find(&details.Rules).Error; errRules != nil {
		return nil, fmt.Errorf("catalog: plan %d rules: %w", planID, errRules)
	}
	return &details, nil
}

// FeatureQuota returns the plan's quota grant for a feature, nil if the
// plan does not list the feature.
func (d *PlanDetails) FeatureQuota(featureID uint64) *models.PlanFeature {
	if d == nil {
		return nil
	}
	for i := range d.Features {
		if d.Features[i].FeatureID == featureID {
			return &d.Features[i]
		}
	}
	return nil
}

// TaskGrant returns the plan's task access grant, nil when the task has
// no configured model-class constraint.
func (d *PlanDetails) TaskGrant(taskID uint64) *models.PlanTaskAccess {
	if d == nil {
		return nil
	}
	for i := range d.TaskAccess {
		if d.TaskAccess[i].TaskID == taskID {
			return &d.TaskAccess[i]
		}
	}
	return nil
}
