package reservation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/draftforge/usagegate/internal/enforcement"
	"github.com/draftforge/usagegate/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := conn.AutoMigrate(
		&models.Tenant{},
		&models.TenantPlan{},
		&models.PolicyRule{},
		&models.UsageReservation{},
	); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func seedTenant(t *testing.T, conn *gorm.DB) uint64 {
	t.Helper()
	tenant := models.Tenant{Name: "acme", Status: models.TenantStatusActive}
	if errCreate := conn.Create(&tenant).Error; errCreate != nil {
		t.Fatalf("create tenant: %v", errCreate)
	}
	return tenant.ID
}

func reasonOf(t *testing.T, err error) enforcement.Kind {
	t.Helper()
	var enfErr *enforcement.Error
	if !errors.As(err, &enfErr) {
		t.Fatalf("expected enforcement error, got %v", err)
	}
	return enfErr.Kind
}

func TestCreateReservationIdempotent(t *testing.T) {
	conn := openTestDB(t)
	tenantID := seedTenant(t, conn)
	coordinator := NewCoordinator(conn)

	params := CreateParams{
		TenantID:         tenantID,
		TaskCode:         "agent_step",
		IdempotencyKey:   "req-1",
		Units:            4096,
		ConcurrencyLimit: 5,
	}
	first, errFirst := coordinator.CreateReservation(context.Background(), params)
	if errFirst != nil {
		t.Fatalf("first create: %v", errFirst)
	}
	second, errSecond := coordinator.CreateReservation(context.Background(), params)
	if errSecond != nil {
		t.Fatalf("second create: %v", errSecond)
	}
	if first != second {
		t.Fatalf("expected same reservation id, got %d and %d", first, second)
	}

	var count int64
	if errCount := conn.Model(&models.UsageReservation{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("expected 1 reservation row, got %d", count)
	}
}

func TestCreateReservationConcurrencyLimit(t *testing.T) {
	conn := openTestDB(t)
	tenantID := seedTenant(t, conn)
	coordinator := NewCoordinator(conn)

	for i := 0; i < 2; i++ {
		params := CreateParams{
			TenantID:         tenantID,
			TaskCode:         "agent_step",
			IdempotencyKey:   fmt.Sprintf("req-%d", i),
			ConcurrencyLimit: 2,
		}
		if _, errCreate := coordinator.CreateReservation(context.Background(), params); errCreate != nil {
			t.Fatalf("create %d: %v", i, errCreate)
		}
	}

	_, errThird := coordinator.CreateReservation(context.Background(), CreateParams{
		TenantID:         tenantID,
		TaskCode:         "agent_step",
		IdempotencyKey:   "req-overflow",
		ConcurrencyLimit: 2,
	})
	if errThird == nil {
		t.Fatalf("expected concurrency denial, got nil")
	}
	if kind := reasonOf(t, errThird); kind != enforcement.KindConcurrencyLimit {
		t.Fatalf("expected CONCURRENCY_LIMIT, got %s", kind)
	}
}

func TestCreateReservationExpiryFreesSlotAndKey(t *testing.T) {
	conn := openTestDB(t)
	tenantID := seedTenant(t, conn)
	coordinator := NewCoordinator(conn)

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	coordinator.nowFn = func() time.Time { return base }

	first, errFirst := coordinator.CreateReservation(context.Background(), CreateParams{
		TenantID:         tenantID,
		TaskCode:         "agent_step",
		IdempotencyKey:   "req-1",
		ConcurrencyLimit: 1,
	})
	if errFirst != nil {
		t.Fatalf("first create: %v", errFirst)
	}

	// Slot is occupied while the reservation is live.
	_, errBlocked := coordinator.CreateReservation(context.Background(), CreateParams{
		TenantID:         tenantID,
		TaskCode:         "agent_step",
		IdempotencyKey:   "req-2",
		ConcurrencyLimit: 1,
	})
	if errBlocked == nil || reasonOf(t, errBlocked) != enforcement.KindConcurrencyLimit {
		t.Fatalf("expected CONCURRENCY_LIMIT while live, got %v", errBlocked)
	}

	// Past expiry the slot frees without any reaper.
	coordinator.nowFn = func() time.Time { return base.Add(10 * time.Minute) }
	second, errSecond := coordinator.CreateReservation(context.Background(), CreateParams{
		TenantID:         tenantID,
		TaskCode:         "agent_step",
		IdempotencyKey:   "req-2",
		ConcurrencyLimit: 1,
	})
	if errSecond != nil {
		t.Fatalf("create after expiry: %v", errSecond)
	}
	if second == first {
		t.Fatalf("expected a distinct reservation for the new key")
	}

	// The expired reservation's key becomes reusable on a fresh row; the
	// old row is retired in place with a tombstoned key.
	coordinator.nowFn = func() time.Time { return base.Add(20 * time.Minute) }
	reused, errReused := coordinator.CreateReservation(context.Background(), CreateParams{
		TenantID:         tenantID,
		TaskCode:         "agent_step",
		IdempotencyKey:   "req-1",
		ConcurrencyLimit: 2,
	})
	if errReused != nil {
		t.Fatalf("create under reused key: %v", errReused)
	}
	if reused == first {
		t.Fatalf("expected a fresh row for the reused key, got the old one")
	}
	var row models.UsageReservation
	if errFind := conn.Take(&row, reused).Error; errFind != nil {
		t.Fatalf("load new reservation: %v", errFind)
	}
	if row.IdempotencyKey != "req-1" || row.Status != models.ReservationStatusActive {
		t.Fatalf("unexpected new reservation %+v", row)
	}
	if !row.ExpiresAt.After(base.Add(20 * time.Minute)) {
		t.Fatalf("expected fresh expiry, got %s", row.ExpiresAt)
	}

	var old models.UsageReservation
	if errFind := conn.Take(&old, first).Error; errFind != nil {
		t.Fatalf("load old reservation: %v", errFind)
	}
	if old.Status != models.ReservationStatusReleased {
		t.Fatalf("expected stale holder retired, got %d", old.Status)
	}
	if old.IdempotencyKey == "req-1" {
		t.Fatalf("expected old key tombstoned, got %q", old.IdempotencyKey)
	}
}

func TestCreateReservationKeyReuseKeepsTerminalRow(t *testing.T) {
	conn := openTestDB(t)
	tenantID := seedTenant(t, conn)
	coordinator := NewCoordinator(conn)

	first, errFirst := coordinator.CreateReservation(context.Background(), CreateParams{
		TenantID:         tenantID,
		TaskCode:         "agent_step",
		IdempotencyKey:   "req-1",
		Units:            4096,
		ConcurrencyLimit: 5,
	})
	if errFirst != nil {
		t.Fatalf("first create: %v", errFirst)
	}
	if errSettle := conn.Model(&models.UsageReservation{}).
		Where("id = ?", first).
		Update("status", models.ReservationStatusCompleted).Error; errSettle != nil {
		t.Fatalf("settle: %v", errSettle)
	}

	second, errSecond := coordinator.CreateReservation(context.Background(), CreateParams{
		TenantID:         tenantID,
		TaskCode:         "other_task",
		IdempotencyKey:   "req-1",
		Units:            128,
		ConcurrencyLimit: 5,
	})
	if errSecond != nil {
		t.Fatalf("second create: %v", errSecond)
	}
	if second == first {
		t.Fatalf("expected a fresh row, got the settled one")
	}

	// The settled row is untouched except for its tombstoned key.
	var old models.UsageReservation
	if errFind := conn.Take(&old, first).Error; errFind != nil {
		t.Fatalf("load settled reservation: %v", errFind)
	}
	if old.Status != models.ReservationStatusCompleted {
		t.Fatalf("expected settled row to stay Completed, got %d", old.Status)
	}
	if old.TaskCode != "agent_step" || old.ReservedUnits != 4096 {
		t.Fatalf("expected settled row content preserved, got %+v", old)
	}
	if old.IdempotencyKey == "req-1" {
		t.Fatalf("expected old key tombstoned, got %q", old.IdempotencyKey)
	}

	var count int64
	if errCount := conn.Model(&models.UsageReservation{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if count != 2 {
		t.Fatalf("expected 2 reservation rows, got %d", count)
	}
}

func TestCreateReservationDuplicateKeyAcrossTenants(t *testing.T) {
	conn := openTestDB(t)
	firstTenant := seedTenant(t, conn)
	other := models.Tenant{Name: "globex", Status: models.TenantStatusActive}
	if errCreate := conn.Create(&other).Error; errCreate != nil {
		t.Fatalf("create tenant: %v", errCreate)
	}
	coordinator := NewCoordinator(conn)

	if _, errFirst := coordinator.CreateReservation(context.Background(), CreateParams{
		TenantID:         firstTenant,
		IdempotencyKey:   "shared-key",
		ConcurrencyLimit: 5,
	}); errFirst != nil {
		t.Fatalf("first create: %v", errFirst)
	}

	_, errSecond := coordinator.CreateReservation(context.Background(), CreateParams{
		TenantID:         other.ID,
		IdempotencyKey:   "shared-key",
		ConcurrencyLimit: 5,
	})
	if errSecond == nil || reasonOf(t, errSecond) != enforcement.KindDuplicateReservation {
		t.Fatalf("expected DUPLICATE_RESERVATION, got %v", errSecond)
	}
}

func TestReleaseReservation(t *testing.T) {
	conn := openTestDB(t)
	tenantID := seedTenant(t, conn)
	coordinator := NewCoordinator(conn)

	id, errCreate := coordinator.CreateReservation(context.Background(), CreateParams{
		TenantID:         tenantID,
		TaskCode:         "agent_step",
		IdempotencyKey:   "req-1",
		ConcurrencyLimit: 1,
	})
	if errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}

	if errRelease := coordinator.ReleaseReservation(context.Background(), id); errRelease != nil {
		t.Fatalf("release: %v", errRelease)
	}
	var row models.UsageReservation
	if errFind := conn.Take(&row, id).Error; errFind != nil {
		t.Fatalf("load: %v", errFind)
	}
	if row.Status != models.ReservationStatusReleased {
		t.Fatalf("expected released status, got %d", row.Status)
	}

	// Releasing a concluded reservation is a no-op.
	if errAgain := coordinator.ReleaseReservation(context.Background(), id); errAgain != nil {
		t.Fatalf("repeat release: %v", errAgain)
	}

	// The slot frees immediately.
	if _, errNext := coordinator.CreateReservation(context.Background(), CreateParams{
		TenantID:         tenantID,
		TaskCode:         "agent_step",
		IdempotencyKey:   "req-2",
		ConcurrencyLimit: 1,
	}); errNext != nil {
		t.Fatalf("create after release: %v", errNext)
	}

	errMissing := coordinator.ReleaseReservation(context.Background(), 99999)
	if errMissing == nil || reasonOf(t, errMissing) != enforcement.KindReservationNotFound {
		t.Fatalf("expected RESERVATION_NOT_FOUND, got %v", errMissing)
	}
}

func TestConcurrencyLimitResolutionOrder(t *testing.T) {
	conn := openTestDB(t)
	tenantID := seedTenant(t, conn)
	coordinator := NewCoordinator(conn)

	// No rules at all: built-in default.
	limit, errLimit := coordinator.ConcurrencyLimit(context.Background(), tenantID, "agent_step")
	if errLimit != nil {
		t.Fatalf("resolve default: %v", errLimit)
	}
	if limit != defaultConcurrencyLimit {
		t.Fatalf("expected default %d, got %d", defaultConcurrencyLimit, limit)
	}

	// Plan rule applies through the effective plan assignment.
	now := time.Now()
	assignment := models.TenantPlan{TenantID: tenantID, PlanID: 7, EffectiveFrom: now.Add(-time.Hour)}
	if errCreate := conn.Create(&assignment).Error; errCreate != nil {
		t.Fatalf("create assignment: %v", errCreate)
	}
	planRule := models.PolicyRule{Scope: models.PolicyScopePlan, ScopeID: 7, Key: models.RuleKeyConcurrencyLimit, Value: 8}
	if errCreate := conn.Create(&planRule).Error; errCreate != nil {
		t.Fatalf("create plan rule: %v", errCreate)
	}
	limit, errLimit = coordinator.ConcurrencyLimit(context.Background(), tenantID, "agent_step")
	if errLimit != nil {
		t.Fatalf("resolve plan: %v", errLimit)
	}
	if limit != 8 {
		t.Fatalf("expected plan limit 8, got %d", limit)
	}

	// Tenant rule outranks the plan rule, task-bound outranks generic.
	tenantRule := models.PolicyRule{Scope: models.PolicyScopeTenant, ScopeID: tenantID, Key: models.RuleKeyConcurrencyLimit, Value: 3}
	if errCreate := conn.Create(&tenantRule).Error; errCreate != nil {
		t.Fatalf("create tenant rule: %v", errCreate)
	}
	boundRule := models.PolicyRule{Scope: models.PolicyScopeTenant, ScopeID: tenantID, TaskCode: "agent_step", Key: models.RuleKeyConcurrencyLimit, Value: 1}
	if errCreate := conn.Create(&boundRule).Error; errCreate != nil {
		t.Fatalf("create bound rule: %v", errCreate)
	}

	limit, errLimit = coordinator.ConcurrencyLimit(context.Background(), tenantID, "agent_step")
	if errLimit != nil {
		t.Fatalf("resolve tenant: %v", errLimit)
	}
	if limit != 1 {
		t.Fatalf("expected task-bound tenant limit 1, got %d", limit)
	}
	limit, errLimit = coordinator.ConcurrencyLimit(context.Background(), tenantID, "other_task")
	if errLimit != nil {
		t.Fatalf("resolve generic: %v", errLimit)
	}
	if limit != 3 {
		t.Fatalf("expected generic tenant limit 3, got %d", limit)
	}
}
