package settings

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/draftforge/usagegate/internal/models"
)

func openStore(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := conn.AutoMigrate(&models.Setting{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	Register(conn)
	t.Cleanup(func() { Register(nil) })
	return conn
}

func putSetting(t *testing.T, conn *gorm.DB, key, value string) {
	t.Helper()
	row := models.Setting{Key: key, Value: datatypes.JSON([]byte(value))}
	errSave := conn.Where("key = ?", key).
		Assign(models.Setting{Value: row.Value}).
		FirstOrCreate(&row).Error
	if errSave != nil {
		t.Fatalf("put setting %s: %v", key, errSave)
	}
}

func TestDBConfigValue(t *testing.T) {
	conn := openStore(t)
	putSetting(t, conn, "SOME_KEY", `"hello"`)

	raw, ok := DBConfigValue("SOME_KEY")
	if !ok {
		t.Fatalf("expected key to resolve")
	}
	var value string
	if errUnmarshal := json.Unmarshal(raw, &value); errUnmarshal != nil || value != "hello" {
		t.Fatalf("unexpected value %s (%v)", raw, errUnmarshal)
	}

	if _, ok = DBConfigValue("MISSING_KEY"); ok {
		t.Fatalf("expected miss for unknown key")
	}

	// Within the TTL the snapshot serves reads; the update lands after
	// an Invalidate.
	putSetting(t, conn, "SOME_KEY", `"changed"`)
	raw, _ = DBConfigValue("SOME_KEY")
	if string(raw) != `"hello"` {
		t.Fatalf("expected cached value, got %s", raw)
	}
	Invalidate()
	raw, _ = DBConfigValue("SOME_KEY")
	if string(raw) != `"changed"` {
		t.Fatalf("expected reloaded value, got %s", raw)
	}
}

func TestDBConfigValueUnregistered(t *testing.T) {
	Register(nil)
	if _, ok := DBConfigValue("ANY_KEY"); ok {
		t.Fatalf("expected miss with no store registered")
	}
}

func TestReservationTimeout(t *testing.T) {
	conn := openStore(t)
	if got := ReservationTimeout(); got != time.Duration(DefaultReservationTimeoutMS)*time.Millisecond {
		t.Fatalf("expected compiled default, got %s", got)
	}

	putSetting(t, conn, ReservationTimeoutMSKey, `60000`)
	Invalidate()
	if got := ReservationTimeout(); got != time.Minute {
		t.Fatalf("expected 1m, got %s", got)
	}

	putSetting(t, conn, ReservationTimeoutMSKey, `"oops"`)
	Invalidate()
	if got := ReservationTimeout(); got != time.Duration(DefaultReservationTimeoutMS)*time.Millisecond {
		t.Fatalf("expected default on unparsable value, got %s", got)
	}
}

func TestAlertThresholds(t *testing.T) {
	conn := openStore(t)
	warning, exceeded := AlertThresholds()
	if warning != DefaultAlertWarningThreshold || exceeded != DefaultAlertExceededThreshold {
		t.Fatalf("expected defaults, got %d/%d", warning, exceeded)
	}

	putSetting(t, conn, AlertWarningThresholdKey, `85`)
	putSetting(t, conn, AlertExceededThresholdKey, `120`)
	Invalidate()
	warning, exceeded = AlertThresholds()
	if warning != 85 || exceeded != 120 {
		t.Fatalf("expected 85/120, got %d/%d", warning, exceeded)
	}

	// Warning is clamped to never exceed the exceeded threshold.
	putSetting(t, conn, AlertWarningThresholdKey, `150`)
	Invalidate()
	warning, exceeded = AlertThresholds()
	if warning != 120 || exceeded != 120 {
		t.Fatalf("expected clamp to 120/120, got %d/%d", warning, exceeded)
	}
}

func TestParseBool(t *testing.T) {
	cases := []struct {
		raw  string
		want bool
		ok   bool
	}{
		{`true`, true, true},
		{`false`, false, true},
		{`"yes"`, true, true},
		{`"OFF"`, false, true},
		{`1`, true, true},
		{`0`, false, true},
		{`"maybe"`, false, false},
		{`2`, false, false},
		{``, false, false},
	}
	for _, tc := range cases {
		got, ok := ParseBool(json.RawMessage(tc.raw))
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseBool(%q) = %v,%v, expected %v,%v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestParseString(t *testing.T) {
	got, ok := ParseString(json.RawMessage(`"  spaced  "`))
	if !ok || got != "spaced" {
		t.Fatalf("expected trimmed string, got %q ok=%v", got, ok)
	}
	if _, ok = ParseString(json.RawMessage(`42`)); ok {
		t.Fatalf("expected numbers to fail string parse")
	}
	if _, ok = ParseString(nil); ok {
		t.Fatalf("expected empty raw to fail")
	}
}

func TestParseNonNegativeInt(t *testing.T) {
	cases := []struct {
		raw  string
		want int
		ok   bool
	}{
		{`42`, 42, true},
		{`0`, 0, true},
		{`-1`, -1, false},
		{`"17"`, 17, true},
		{`" 8 "`, 8, true},
		{`"abc"`, 0, false},
		{`3.5`, 0, false},
		{`12.0`, 12, true},
		{``, 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseNonNegativeInt(json.RawMessage(tc.raw))
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseNonNegativeInt(%q) = %d,%v, expected %d,%v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}
