package identity

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
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
		&models.TenantCredential{},
	); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func seedCredential(t *testing.T, conn *gorm.DB, status models.TenantStatus, secret string) (uint64, string) {
	t.Helper()
	tenant := models.Tenant{Name: "acme", Status: status}
	if errCreate := conn.Create(&tenant).Error; errCreate != nil {
		t.Fatalf("create tenant: %v", errCreate)
	}
	hash, errHash := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if errHash != nil {
		t.Fatalf("hash secret: %v", errHash)
	}
	credential := models.TenantCredential{
		TenantID:   tenant.ID,
		KeyID:      fmt.Sprintf("key-%d", tenant.ID),
		SecretHash: string(hash),
		IsEnabled:  true,
	}
	if errCreate := conn.Create(&credential).Error; errCreate != nil {
		t.Fatalf("create credential: %v", errCreate)
	}
	return tenant.ID, credential.KeyID
}

func seedAssignment(t *testing.T, conn *gorm.DB, tenantID, planID uint64, from time.Time, until *time.Time) {
	t.Helper()
	assignment := models.TenantPlan{TenantID: tenantID, PlanID: planID, EffectiveFrom: from, ExpiresAt: until}
	if errCreate := conn.Create(&assignment).Error; errCreate != nil {
		t.Fatalf("create assignment: %v", errCreate)
	}
}

func unresolved(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected an error")
	}
	if kind := enforcement.KindOf(err); kind != enforcement.KindTenantUnresolved {
		t.Fatalf("expected TENANT_UNRESOLVED, got %s", kind)
	}
}

func TestResolveTenantContext(t *testing.T) {
	conn := openTestDB(t)
	tenantID, keyID := seedCredential(t, conn, models.TenantStatusActive, "s3cret")
	seedAssignment(t, conn, tenantID, 7, time.Now().Add(-time.Hour), nil)

	resolver := NewResolver(conn)
	tc, err := resolver.ResolveTenantContext(context.Background(), keyID+".s3cret")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tc.TenantID != tenantID || tc.PlanID != 7 {
		t.Fatalf("unexpected context %+v", tc)
	}
	if tc.Status != models.TenantStatusActive {
		t.Fatalf("expected active status, got %d", tc.Status)
	}
}

func TestResolveTenantContextRejections(t *testing.T) {
	conn := openTestDB(t)
	tenantID, keyID := seedCredential(t, conn, models.TenantStatusActive, "s3cret")
	seedAssignment(t, conn, tenantID, 7, time.Now().Add(-time.Hour), nil)
	resolver := NewResolver(conn)

	for _, credential := range []string{
		"",
		"no-dot",
		".s3cret",
		keyID + ".",
		keyID + ".wrong",
		"unknown-key.s3cret",
	} {
		_, err := resolver.ResolveTenantContext(context.Background(), credential)
		if err == nil {
			t.Fatalf("expected rejection for %q", credential)
		}
		unresolved(t, err)
	}
}

func TestResolveTenantContextDisabledCredential(t *testing.T) {
	conn := openTestDB(t)
	tenantID, keyID := seedCredential(t, conn, models.TenantStatusActive, "s3cret")
	seedAssignment(t, conn, tenantID, 7, time.Now().Add(-time.Hour), nil)
	if errUpdate := conn.Model(&models.TenantCredential{}).Where("key_id = ?", keyID).
		Update("is_enabled", false).Error; errUpdate != nil {
		t.Fatalf("disable credential: %v", errUpdate)
	}

	_, err := NewResolver(conn).ResolveTenantContext(context.Background(), keyID+".s3cret")
	unresolved(t, err)
}

func TestResolveTenantContextSuspendedTenant(t *testing.T) {
	conn := openTestDB(t)
	tenantID, keyID := seedCredential(t, conn, models.TenantStatusSuspended, "s3cret")
	seedAssignment(t, conn, tenantID, 7, time.Now().Add(-time.Hour), nil)

	_, err := NewResolver(conn).ResolveTenantContext(context.Background(), keyID+".s3cret")
	unresolved(t, err)
}

func TestResolveTenantContextNoPlan(t *testing.T) {
	conn := openTestDB(t)
	_, keyID := seedCredential(t, conn, models.TenantStatusActive, "s3cret")

	_, err := NewResolver(conn).ResolveTenantContext(context.Background(), keyID+".s3cret")
	unresolved(t, err)
}

func TestValidateTenantAccess(t *testing.T) {
	conn := openTestDB(t)
	active := models.Tenant{Name: "active", Status: models.TenantStatusActive}
	suspended := models.Tenant{Name: "suspended", Status: models.TenantStatusSuspended}
	if errCreate := conn.Create(&active).Error; errCreate != nil {
		t.Fatalf("create tenant: %v", errCreate)
	}
	if errCreate := conn.Create(&suspended).Error; errCreate != nil {
		t.Fatalf("create tenant: %v", errCreate)
	}
	resolver := NewResolver(conn)

	ok, err := resolver.ValidateTenantAccess(context.Background(), active.ID)
	if err != nil || !ok {
		t.Fatalf("expected active tenant valid, got ok=%v err=%v", ok, err)
	}
	ok, err = resolver.ValidateTenantAccess(context.Background(), suspended.ID)
	if err != nil || ok {
		t.Fatalf("expected suspended tenant invalid, got ok=%v err=%v", ok, err)
	}
	ok, err = resolver.ValidateTenantAccess(context.Background(), 99999)
	if err != nil || ok {
		t.Fatalf("expected unknown tenant invalid, got ok=%v err=%v", ok, err)
	}
	ok, err = resolver.ValidateTenantAccess(context.Background(), 0)
	if err != nil || ok {
		t.Fatalf("expected zero tenant id invalid, got ok=%v err=%v", ok, err)
	}
}

func TestEffectivePlanWindowSelection(t *testing.T) {
	conn := openTestDB(t)
	tenant := models.Tenant{Name: "acme", Status: models.TenantStatusActive}
	if errCreate := conn.Create(&tenant).Error; errCreate != nil {
		t.Fatalf("create tenant: %v", errCreate)
	}
	now := time.Now()
	expired := now.Add(-time.Hour)
	seedAssignment(t, conn, tenant.ID, 1, now.Add(-72*time.Hour), &expired) // already over
	seedAssignment(t, conn, tenant.ID, 2, now.Add(-48*time.Hour), nil)     // superseded
	seedAssignment(t, conn, tenant.ID, 3, now.Add(-time.Minute), nil)      // current
	seedAssignment(t, conn, tenant.ID, 4, now.Add(time.Hour), nil)         // future

	assignment, err := EffectivePlan(context.Background(), conn, tenant.ID, now)
	if err != nil {
		t.Fatalf("effective plan: %v", err)
	}
	if assignment == nil || assignment.PlanID != 3 {
		t.Fatalf("expected plan 3, got %+v", assignment)
	}

	assignment, err = EffectivePlan(context.Background(), conn, 99999, now)
	if err != nil || assignment != nil {
		t.Fatalf("expected no assignment for unknown tenant, got %+v err=%v", assignment, err)
	}
}
