package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/draftforge/usagegate/internal/enforcement"
	"github.com/draftforge/usagegate/internal/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Resolver maps opaque tenant credentials to tenant contexts. Resolution
// has no side effects.
type Resolver struct {
	db    *gorm.DB
	nowFn func() time.Time
}

// NewResolver constructs a Resolver.
func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db, nowFn: time.Now}
}

// ResolveTenantContext resolves a "<key_id>.<secret>" credential to the
// owning tenant and its currently-effective plan. Unknown credentials,
// inactive tenants, and tenants without an effective plan all resolve to
// TENANT_UNRESOLVED so callers cannot distinguish which part failed.
func (r *Resolver) ResolveTenantContext(ctx context.Context, credential string) (*enforcement.TenantContext, error) {
	if r == nil || r.db == nil {
		return nil, enforcement.NewError(enforcement.KindServiceUnavailable, "identity resolver not initialized")
	}

	keyID, secret, ok := splitCredential(credential)
	if !ok {
		return nil, enforcement.NewError(enforcement.KindTenantUnresolved, "malformed credential")
	}

	var row models.TenantCredential
	errFind := r.db.WithContext(ctx).
		Preload("Tenant").
		Where("key_id = ? AND is_enabled = ?", keyID, true).
		Take(&row).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, enforcement.NewError(enforcement.KindTenantUnresolved, "unknown credential")
		}
		return nil, enforcement.WrapError(enforcement.KindDatabaseError, errFind, "load credential")
	}

	if errCompare := bcrypt.CompareHashAndPassword([]byte(row.SecretHash), []byte(secret)); errCompare != nil {
		return nil, enforcement.NewError(enforcement.KindTenantUnresolved, "credential mismatch")
	}
	if row.Tenant.Status != models.TenantStatusActive {
		return nil, enforcement.NewError(enforcement.KindTenantUnresolved, "tenant %d is not active", row.TenantID)
	}

	assignment, errPlan := EffectivePlan(ctx, r.db, row.TenantID, r.nowFn())
	if errPlan != nil {
		return nil, errPlan
	}
	if assignment == nil {
		return nil, enforcement.NewError(enforcement.KindTenantUnresolved, "tenant %d has no effective plan", row.TenantID)
	}

	return &enforcement.TenantContext{
		TenantID: row.TenantID,
		PlanID:   assignment.PlanID,
		Status:   row.Tenant.Status,
	}, nil
}

// ValidateTenantAccess reports whether the tenant exists and is active.
func (r *Resolver) ValidateTenantAccess(ctx context.Context, tenantID uint64) (bool, error) {
	if r == nil || r.db == nil {
		return false, enforcement.NewError(enforcement.KindServiceUnavailable, "identity resolver not initialized")
	}
	if tenantID == 0 {
		return false, nil
	}

	var tenant models.Tenant
	errFind := r.db.WithContext(ctx).
		Select("id", "status").
		Take(&tenant, tenantID).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, enforcement.WrapError(enforcement.KindDatabaseError, errFind, "load tenant %d", tenantID)
	}
	return tenant.Status == models.TenantStatusActive, nil
}

// EffectivePlan selects the tenant's currently-effective plan assignment:
// effective_from <= now and not yet expired, most recent effective_from
// winning ties. Returns nil when no assignment covers now.
func EffectivePlan(ctx context.Context, db *gorm.DB, tenantID uint64, now time.Time) (*models.TenantPlan, error) {
	if db == nil || tenantID == 0 {
		return nil, nil
	}

	var assignment models.TenantPlan
	errFind := db.WithContext(ctx).
		Where("tenant_id = ? AND effective_from <= ?", tenantID, now).
		Where("(expires_at IS NULL OR expires_at > ?)", now).
		Order("effective_from DESC").
		First(&assignment).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, enforcement.WrapError(enforcement.KindDatabaseError, errFind, "load plan assignment for tenant %d", tenantID)
	}
	return &assignment, nil
}

// splitCredential parses "<key_id>.<secret>" credentials.
func splitCredential(credential string) (string, string, bool) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", "", false
	}
	idx := strings.IndexByte(credential, '.')
	if idx <= 0 || idx == len(credential)-1 {
		return "", "", false
	}
	return credential[:idx], credential[idx+1:], true
}
