package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/draftforge/usagegate/internal/db"
	"github.com/draftforge/usagegate/internal/enforcement"
	"github.com/draftforge/usagegate/internal/identity"
	"github.com/draftforge/usagegate/internal/models"
	internalsettings "github.com/draftforge/usagegate/internal/settings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// defaultConcurrencyLimit applies when no policy rule resolves a limit.
const defaultConcurrencyLimit = 2

// CreateParams holds inputs for reservation creation.
type CreateParams struct {
	TenantID       uint64
	FeatureID      *uint64
	TaskCode       string
	IdempotencyKey string
	UserID         *uint64
	Units          int64

	// ConcurrencyLimit, when positive, is the caller-resolved cap;
	// zero makes the coordinator resolve it from policy rules.
	ConcurrencyLimit int
}

// Coordinator creates, releases, and counts usage reservations with
// idempotency and per-(tenant, task) concurrency enforcement.
//
// CreateReservation serializes same-tenant creation through a row lock
// on the tenant record, closing the count-then-insert race: the live
// count and the insert happen inside one transaction holding the lock.
// Expiry is lazy; every live-reservation read filters on expires_at.
type Coordinator struct {
	db    *gorm.DB
	nowFn func() time.Time
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(conn *gorm.DB) *Coordinator {
	return &Coordinator{db: conn, nowFn: time.Now}
}

// CreateReservation creates a reservation or returns the live one
// already held under the same idempotency key.
func (c *Coordinator) CreateReservation(ctx context.Context, params CreateParams) (uint64, error) {
	if c == nil || c.db == nil {
		return 0, enforcement.NewError(enforcement.KindServiceUnavailable, "reservation coordinator not initialized")
	}
	if params.TenantID == 0 {
		return 0, enforcement.NewError(enforcement.KindReservationFailed, "missing tenant id")
	}
	params.IdempotencyKey = strings.TrimSpace(params.IdempotencyKey)
	if params.IdempotencyKey == "" {
		return 0, enforcement.NewError(enforcement.KindReservationFailed, "missing idempotency key")
	}

	limit := params.ConcurrencyLimit
	if limit <= 0 {
		resolved, errLimit := c.ConcurrencyLimit(ctx, params.TenantID, params.TaskCode)
		if errLimit != nil {
			return 0, errLimit
		}
		limit = resolved
	}

	now := c.nowFn().UTC()
	expiresAt := now.Add(internalsettings.ReservationTimeout())

	var reservationID uint64
	errTx := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Per-tenant serialization point for count-then-insert. SQLite
		// has no FOR UPDATE and serializes writers on its own.
		lockQ := tx
		if !db.IsSQLite(tx) {
			lockQ = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var tenant models.Tenant
		if errLock := lockQ.
			Select("id").
			Take(&tenant, params.TenantID).Error; errLock != nil {
			if errors.Is(errLock, gorm.ErrRecordNotFound) {
				return enforcement.NewError(enforcement.KindTenantUnresolved, "tenant %d not found", params.TenantID)
			}
			return enforcement.WrapError(enforcement.KindDatabaseError, errLock, "lock tenant %d", params.TenantID)
		}

		var existing models.UsageReservation
		errFind := tx.Where("idempotency_key = ?", params.IdempotencyKey).Take(&existing).Error
		if errFind != nil && !errors.Is(errFind, gorm.ErrRecordNotFound) {
			return enforcement.WrapError(enforcement.KindDatabaseError, errFind, "load reservation by key")
		}
		if errFind == nil {
			if existing.TenantID != params.TenantID {
				return enforcement.NewError(enforcement.KindDuplicateReservation, "idempotency key already held by another tenant")
			}
			if existing.Live(now) {
				reservationID = existing.ID
				return nil
			}
			// Prior reservation concluded or expired: the key becomes
			// reusable, but the old row stays put for audit. Its key is
			// tombstoned with its own id to keep the unique index
			// satisfied, and a stale Active holder is retired in the
			// same write. Terminal rows keep their status and content.
			freed := map[string]any{
				"idempotency_key": fmt.Sprintf("%s#%d", params.IdempotencyKey, existing.ID),
				"updated_at":      now,
			}
			if existing.Status == models.ReservationStatusActive {
				freed["status"] = models.ReservationStatusReleased
			}
			if errFree := tx.Model(&models.UsageReservation{}).
				Where("id = ?", existing.ID).
				Updates(freed).Error; errFree != nil {
				return enforcement.WrapError(enforcement.KindDatabaseError, errFree, "free idempotency key from reservation %d", existing.ID)
			}
		}

		liveCount, errCount := countLive(tx, params.TenantID, params.TaskCode, now)
		if errCount != nil {
			return errCount
		}
		if liveCount >= int64(limit) {
			return enforcement.NewError(enforcement.KindConcurrencyLimit,
				"tenant %d has %d live reservations (limit %d)", params.TenantID, liveCount, limit)
		}

		row := models.UsageReservation{
			TenantID:       params.TenantID,
			FeatureID:      params.FeatureID,
			TaskCode:       params.TaskCode,
			ReservedUnits:  params.Units,
			Status:         models.ReservationStatusActive,
			ExpiresAt:      expiresAt,
			IdempotencyKey: params.IdempotencyKey,
			UserID:         params.UserID,
		}
		if errCreate := tx.Create(&row).Error; errCreate != nil {
			return enforcement.WrapError(enforcement.KindDatabaseError, errCreate, "create reservation")
		}
		reservationID = row.ID
		return nil
	})
	if errTx != nil {
		// A concurrent writer may have won the unique index on the key
		// despite serialization (e.g. a second process between lock
		// scopes). Resolve in its favor when the row is live and ours.
		if db.IsUniqueViolation(errTx) {
			if id, ok := c.lookupLive(ctx, params); ok {
				return id, nil
			}
			return 0, enforcement.WrapError(enforcement.KindDuplicateReservation, errTx, "idempotency key conflict")
		}
		var enfErr *enforcement.Error
		if errors.As(errTx, &enfErr) {
			return 0, enfErr
		}
		return 0, enforcement.WrapError(enforcement.KindDatabaseError, errTx, "reservation transaction")
	}
	return reservationID, nil
}

// ReleaseReservation cancels a reservation before settlement, freeing
// its concurrency slot immediately. Releasing an already-concluded
// reservation is a no-op.
func (c *Coordinator) ReleaseReservation(ctx context.Context, id uint64) error {
	if c == nil || c.db == nil {
		return enforcement.NewError(enforcement.KindServiceUnavailable, "reservation coordinator not initialized")
	}
	if id == 0 {
		return enforcement.NewError(enforcement.KindReservationNotFound, "missing reservation id")
	}

	var row models.UsageReservation
	errFind := c.db.WithContext(ctx).Take(&row, id).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return enforcement.NewError(enforcement.KindReservationNotFound, "reservation %d not found", id)
		}
		return enforcement.WrapError(enforcement.KindDatabaseError, errFind, "load reservation %d", id)
	}
	if row.Status != models.ReservationStatusActive {
		return nil
	}

	res := c.db.WithContext(ctx).Model(&models.UsageReservation{}).
		Where("id = ? AND status = ?", id, models.ReservationStatusActive).
		Updates(map[string]any{"status": models.ReservationStatusReleased, "updated_at": c.nowFn().UTC()})
	if res.Error != nil {
		return enforcement.WrapError(enforcement.KindDatabaseError, res.Error, "release reservation %d", id)
	}
	return nil
}

// ActiveReservationCount counts live reservations for the tenant, for a
// single task code when given or tenant-wide when empty.
func (c *Coordinator) ActiveReservationCount(ctx context.Context, tenantID uint64, taskCode string) (int64, error) {
	if c == nil || c.db == nil {
		return 0, enforcement.NewError(enforcement.KindServiceUnavailable, "reservation coordinator not initialized")
	}
	return countLive(c.db.WithContext(ctx), tenantID, taskCode, c.nowFn().UTC())
}

// ConcurrencyLimit resolves the concurrency cap for a (tenant, task):
// tenant-scoped rule, then plan-scoped rule on the effective plan, then
// the built-in default.
func (c *Coordinator) ConcurrencyLimit(ctx context.Context, tenantID uint64, taskCode string) (int, error) {
	if c == nil || c.db == nil {
		return 0, enforcement.NewError(enforcement.KindServiceUnavailable, "reservation coordinator not initialized")
	}

	if limit, ok, errTenant := lookupRule(ctx, c.db, models.PolicyScopeTenant, tenantID, taskCode); errTenant != nil {
		return 0, errTenant
	} else if ok {
		return limit, nil
	}

	assignment, errPlan := identity.EffectivePlan(ctx, c.db, tenantID, c.nowFn().UTC())
	if errPlan != nil {
		return 0, errPlan
	}
	if assignment != nil {
		if limit, ok, errRule := lookupRule(ctx, c.db, models.PolicyScopePlan, assignment.PlanID, taskCode); errRule != nil {
			return 0, errRule
		} else if ok {
			return limit, nil
		}
	}
	return defaultConcurrencyLimit, nil
}

// lookupRule finds a concurrency rule at one scope, preferring a rule
// bound to the task code over a task-agnostic one.
func lookupRule(ctx context.Context, conn *gorm.DB, scope models.PolicyScope, scopeID uint64, taskCode string) (int, bool, error) {
	if scopeID == 0 {
		return 0, false, nil
	}

	var rules []models.PolicyRule
	if errFind := conn.WithContext(ctx).
		Where("scope = ? AND scope_id = ? AND key = ?", scope, scopeID, models.RuleKeyConcurrencyLimit).
		Where("task_code IN ?", []string{"", taskCode}).
		Find(&rules).Error; errFind != nil {
		return 0, false, enforcement.WrapError(enforcement.KindDatabaseError, errFind, "load concurrency rules")
	}

	var generic, bound *models.PolicyRule
	for i := range rules {
		if rules[i].TaskCode == "" {
			generic = &rules[i]
		} else if taskCode != "" && rules[i].TaskCode == taskCode {
			bound = &rules[i]
		}
	}
	if bound != nil {
		return int(bound.Value), true, nil
	}
	if generic != nil {
		return int(generic.Value), true, nil
	}
	return 0, false, nil
}

// countLive counts Active-and-unexpired reservations.
func countLive(conn *gorm.DB, tenantID uint64, taskCode string, now time.Time) (int64, error) {
	q := conn.Model(&models.UsageReservation{}).
		Where("tenant_id = ? AND status = ? AND expires_at > ?", tenantID, models.ReservationStatusActive, now)
	if taskCode != "" {
		q = q.Where("task_code = ?", taskCode)
	}
	var count int64
	if errCount := q.Count(&count).Error; errCount != nil {
		return 0, enforcement.WrapError(enforcement.KindDatabaseError, errCount, "count live reservations")
	}
	return count, nil
}

// lookupLive re-reads the reservation under the params' key after a
// unique conflict and reports whether it is live for the same tenant.
func (c *Coordinator) lookupLive(ctx context.Context, params CreateParams) (uint64, bool) {
	var row models.UsageReservation
	errFind := c.db.WithContext(ctx).
		Where("idempotency_key = ?", params.IdempotencyKey).
		Take(&row).Error
	if errFind != nil {
		return 0, false
	}
	if row.TenantID != params.TenantID || !row.Live(c.nowFn().UTC()) {
		return 0, false
	}
	return row.ID, true
}
