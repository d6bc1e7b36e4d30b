package policy

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/draftforge/usagegate/internal/catalog"
	"github.com/draftforge/usagegate/internal/enforcement"
	"github.com/draftforge/usagegate/internal/identity"
	"github.com/draftforge/usagegate/internal/models"
	"github.com/draftforge/usagegate/internal/reservation"

	"gorm.io/gorm"
)

// QuotaChecker answers side-effect-free quota checks.
type QuotaChecker interface {
	CheckQuota(ctx context.Context, q enforcement.QuotaQuery) (enforcement.QuotaCheck, error)
}

// ReservationCreator creates usage reservations.
type ReservationCreator interface {
	CreateReservation(ctx context.Context, params reservation.CreateParams) (uint64, error)
}

// Evaluator decides whether a feature request may proceed, resolving
// eligibility, model class, quota headroom, and numeric limits, and on
// approval reserving capacity. Denials are returned as decisions with a
// reason; evaluation never raises across the collaborator boundary.
type Evaluator struct {
	db           *gorm.DB
	catalog      *catalog.Catalog
	quotas       QuotaChecker
	reservations ReservationCreator
	nowFn        func() time.Time
}

// NewEvaluator constructs an Evaluator.
func NewEvaluator(conn *gorm.DB, cat *catalog.Catalog, quotas QuotaChecker, reservations ReservationCreator) *Evaluator {
	return &Evaluator{
		db:           conn,
		catalog:      cat,
		quotas:       quotas,
		reservations: reservations,
		nowFn:        time.Now,
	}
}

// EvaluateAccess runs the enforcement chain in order, short-circuiting
// on the first failure.
func (e *Evaluator) EvaluateAccess(ctx context.Context, req enforcement.FeatureRequest) enforcement.Decision {
	if e == nil || e.db == nil {
		return enforcement.Deny(enforcement.StageCheck, enforcement.KindServiceUnavailable, "policy evaluator not initialized")
	}
	req.FeatureCode = strings.TrimSpace(req.FeatureCode)
	req.TaskCode = strings.TrimSpace(req.TaskCode)
	if req.TenantID == 0 || req.FeatureCode == "" {
		return enforcement.Deny(enforcement.StageCheck, enforcement.KindPolicyViolation, "tenant id and feature code are required")
	}

	// 1. Tenant must exist and be active.
	var tenant models.Tenant
	errTenant := e.db.WithContext(ctx).Select("id", "status").Take(&tenant, req.TenantID).Error
	if errTenant != nil {
		if errors.Is(errTenant, gorm.ErrRecordNotFound) {
			return enforcement.Deny(enforcement.StageCheck, enforcement.KindTenantUnresolved, "tenant %d not found", req.TenantID)
		}
		return denyInternal(errTenant, "load tenant")
	}
	if tenant.Status == models.TenantStatusSuspended {
		return enforcement.Deny(enforcement.StageCheck, enforcement.KindTenantSuspended, "tenant %d is suspended", req.TenantID)
	}
	if tenant.Status != models.TenantStatusActive {
		return enforcement.Deny(enforcement.StageCheck, enforcement.KindTenantUnresolved, "tenant %d is not active", req.TenantID)
	}

	// 2. Tenant must hold a currently-effective plan.
	assignment, errPlan := identity.EffectivePlan(ctx, e.db, req.TenantID, e.nowFn())
	if errPlan != nil {
		return denyInternal(errPlan, "resolve plan assignment")
	}
	if assignment == nil {
		return enforcement.Deny(enforcement.StageCheck, enforcement.KindPlanExpired, "tenant %d has no effective plan", req.TenantID)
	}

	details, errDetails := e.catalog.GetPlanDetails(ctx, assignment.PlanID)
	if errDetails != nil {
		return denyInternal(errDetails, "load plan details")
	}
	if details == nil || details.Plan.Status == models.PlanStatusInactive {
		return enforcement.Deny(enforcement.StageCheck, enforcement.KindPlanExpired, "plan %d is not usable", assignment.PlanID)
	}

	// 3. The plan must list the feature; task access resolves the class.
	feature, errFeature := e.catalog.GetFeature(ctx, req.FeatureCode)
	if errFeature != nil {
		return denyInternal(errFeature, "load feature")
	}
	if feature == nil {
		return enforcement.Deny(enforcement.StageCheck, enforcement.KindFeatureUnavailable, "unknown feature %s", req.FeatureCode)
	}
	if details.FeatureQuota(feature.ID) == nil {
		return enforcement.Deny(enforcement.StageCheck, enforcement.KindFeatureUnavailable, "plan does not include feature %s", req.FeatureCode)
	}

	modelClass := req.ModelClass
	if req.TaskCode != "" {
		task, errTask := e.catalog.GetTask(ctx, req.TaskCode)
		if errTask != nil {
			return denyInternal(errTask, "load task")
		}
		if task == nil || task.FeatureID != feature.ID {
			return enforcement.Deny(enforcement.StageCheck, enforcement.KindTaskUnavailable, "task %s is not available for feature %s", req.TaskCode, req.FeatureCode)
		}
		// A task without a configured grant carries no model-class
		// constraint.
		if grant := details.TaskGrant(task.ID); grant != nil {
			allowed := decodeClasses(grant.AllowedClasses)
			if req.ModelClass != "" && !contains(allowed, req.ModelClass) {
				return enforcement.Deny(enforcement.StageCheck, enforcement.KindModelClassUnavailable, "model class %s is not allowed for task %s", req.ModelClass, req.TaskCode)
			}
			if modelClass == "" {
				modelClass = grant.DefaultClass
			}
		}
	}

	// 4. Both quota windows must have headroom.
	quotaQuery := enforcement.QuotaQuery{
		TenantID:  req.TenantID,
		PlanID:    assignment.PlanID,
		FeatureID: feature.ID,
		TaskCode:  req.TaskCode,
	}
	quota, errQuota := e.quotas.CheckQuota(ctx, quotaQuery)
	if errQuota != nil {
		return denyInternal(errQuota, "check quota")
	}
	if !quota.Allowed {
		kind := enforcement.KindMonthlyQuotaExceeded
		if quota.Remaining.Daily != nil && *quota.Remaining.Daily <= 0 {
			kind = enforcement.KindDailyQuotaExceeded
		}
		decision := enforcement.Deny(enforcement.StageCheck, kind, "quota exhausted for feature %s", req.FeatureCode)
		decision.Remaining = quota.Remaining
		return decision
	}

	// 5. Merge limits: defaults < plan rules < tenant rules.
	tenantRules, errRules := e.tenantRules(ctx, req.TenantID)
	if errRules != nil {
		return denyInternal(errRules, "load tenant rules")
	}
	limits := ResolveLimits(details.Rules, tenantRules, req.TaskCode)

	// 6. Reserve capacity sized by the output-token limit.
	featureID := feature.ID
	reservationID, errReserve := e.reservations.CreateReservation(ctx, reservation.CreateParams{
		TenantID:         req.TenantID,
		FeatureID:        &featureID,
		TaskCode:         req.TaskCode,
		IdempotencyKey:   req.IdempotencyKey,
		UserID:           req.UserID,
		Units:            limits.MaxTokensOut,
		ConcurrencyLimit: limits.ConcurrencyLimit,
	})
	if errReserve != nil {
		kind := enforcement.KindOf(errReserve)
		decision := enforcement.Deny(enforcement.StageReserve, kind, "%v", errReserve)
		decision.Remaining = quota.Remaining
		return decision
	}

	return enforcement.Decision{
		Allowed:       true,
		ModelClass:    modelClass,
		Limits:        limits,
		ReservationID: reservationID,
		Remaining:     quota.Remaining,
	}
}

// tenantRules loads all tenant-scoped policy rules for the tenant.
func (e *Evaluator) tenantRules(ctx context.Context, tenantID uint64) ([]models.PolicyRule, error) {
	var rules []models.PolicyRule
	if errFind := e.db.WithContext(ctx).
		Where("scope = ? AND scope_id = ?", models.PolicyScopeTenant, tenantID).
		Find(&rules).Error; errFind != nil {
		return nil, enforcement.WrapError(enforcement.KindDatabaseError, errFind, "load tenant rules")
	}
	return rules, nil
}

// denyInternal reports an unexpected internal failure as a check-stage
// denial carrying the classified kind (fail-closed at this layer).
func denyInternal(err error, action string) enforcement.Decision {
	kind := enforcement.KindOf(err)
	return enforcement.Deny(enforcement.StageCheck, kind, "%s: %v", action, err)
}

// decodeClasses parses the allowed model class JSON array.
func decodeClasses(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var classes []string
	if errUnmarshal := json.Unmarshal(raw, &classes); errUnmarshal != nil {
		return nil
	}
	return classes
}

// contains reports whether list includes value.
func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
