package settings

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/draftforge/usagegate/internal/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// cacheTTL bounds how stale a settings snapshot may get before a reload.
const cacheTTL = 30 * time.Second

var (
	mu       sync.RWMutex
	conn     *gorm.DB
	values   map[string]json.RawMessage
	loadedAt time.Time
)

// Register binds the settings store to a database connection.
func Register(db *gorm.DB) {
	mu.Lock()
	defer mu.Unlock()
	conn = db
	values = nil
	loadedAt = time.Time{}
}

// DBConfigValue returns the raw JSON value for a settings key, reloading
// the snapshot from the database when the cache has expired. A missing
// key or unavailable store returns ok=false so callers fall back to
// their compiled defaults.
func DBConfigValue(key string) (json.RawMessage, bool) {
	mu.RLock()
	db := conn
	fresh := values != nil && time.Since(loadedAt) < cacheTTL
	if fresh {
		raw, ok := values[key]
		mu.RUnlock()
		return raw, ok
	}
	mu.RUnlock()

	if db == nil {
		return nil, false
	}

	var rows []models.Setting
	if errFind := db.Find(&rows).Error; errFind != nil {
		log.WithError(errFind).Warn("settings: reload failed, keeping stale snapshot")
		mu.RLock()
		defer mu.RUnlock()
		if values == nil {
			return nil, false
		}
		raw, ok := values[key]
		return raw, ok
	}

	next := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		next[row.Key] = json.RawMessage(row.Value)
	}

	mu.Lock()
	values = next
	loadedAt = time.Now()
	raw, ok := values[key]
	mu.Unlock()
	return raw, ok
}

// Invalidate drops the cached snapshot so the next read hits the database.
func Invalidate() {
	mu.Lock()
	defer mu.Unlock()
	values = nil
	loadedAt = time.Time{}
}
