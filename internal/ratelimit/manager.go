package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	redisCooldown    = 30 * time.Second
	redisPingTimeout = 2 * time.Second
)

// SettingsProvider supplies the latest settings snapshot.
type SettingsProvider func() SettingsConfig

// RedisClientFactory constructs a Redis client for the given options.
type RedisClientFactory func(options *redis.Options) *redis.Client

// breaker tracks a cooldown window after a Redis fault. While the
// window is open the manager counts in memory instead of retrying
// Redis on every request.
type breaker struct {
	mu    sync.Mutex
	until time.Time
}

func (b *breaker) open(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.until.IsZero() {
		return false
	}
	if now.Before(b.until) {
		return true
	}
	b.until = time.Time{}
	return false
}

func (b *breaker) trip(err error, now time.Time) {
	if err == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.until.IsZero() && now.Before(b.until) {
		return
	}
	b.until = now.Add(redisCooldown)
	log.WithError(err).Warn("rate limit: redis unavailable, counting in memory")
}

// backendParams is the connection identity of the cached Redis
// limiter; a settings change that alters it forces a reconnect.
type backendParams struct {
	addr     string
	password string
	prefix   string
	db       int
}

func backendParamsFrom(cfg SettingsConfig) backendParams {
	p := backendParams{
		addr:     strings.TrimSpace(cfg.RedisAddr),
		password: strings.TrimSpace(cfg.RedisPassword),
		prefix:   strings.TrimSpace(cfg.RedisPrefix),
		db:       cfg.RedisDB,
	}
	if p.db < 0 {
		p.db = 0
	}
	return p
}

// Manager counts request admissions against per-tenant limits. Redis
// backs the counters when settings enable it so that limits hold
// across replicas; otherwise, and during a Redis cooldown, counting
// happens in process memory.
type Manager struct {
	provider SettingsProvider
	nowFn    func() time.Time
	dial     RedisClientFactory
	memory   Limiter
	faults   breaker

	mu     sync.Mutex
	remote *RedisLimiter
	params backendParams
}

// NewManager constructs a Manager with default dependencies when nil.
func NewManager(provider SettingsProvider, nowFn func() time.Time, dial RedisClientFactory) *Manager {
	if provider == nil {
		provider = LoadSettingsConfig
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if dial == nil {
		dial = redis.NewClient
	}
	return &Manager{
		provider: provider,
		nowFn:    nowFn,
		dial:     dial,
		memory:   NewMemoryLimiter(),
	}
}

// Allow counts one admission against the key's per-second limit. A
// zero limit or empty key means the tenant is unlimited.
func (m *Manager) Allow(ctx context.Context, key string, limit int) (Result, error) {
	if m == nil || limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := m.nowFn()

	if cfg := m.provider(); cfg.RedisEnabled && !m.faults.open(now) {
		limiter, errRemote := m.remoteLimiter(ctx, cfg)
		if errRemote == nil {
			result, errAllow := limiter.Allow(ctx, key, limit, now)
			if errAllow == nil {
				return result, nil
			}
			errRemote = errAllow
		}
		m.faults.trip(errRemote, now)
	}
	return m.memory.Allow(ctx, key, limit, now)
}

// remoteLimiter returns the cached Redis limiter, reconnecting when
// the settings snapshot names a different server or database.
func (m *Manager) remoteLimiter(ctx context.Context, cfg SettingsConfig) (*RedisLimiter, error) {
	params := backendParamsFrom(cfg)
	if params.addr == "" {
		return nil, errors.New("rate limit redis: missing address")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.remote != nil {
		if m.params == params {
			return m.remote, nil
		}
		_ = m.remote.client.Close()
		m.remote = nil
	}

	client := m.dial(&redis.Options{
		Addr:     params.addr,
		Password: params.password,
		DB:       params.db,
	})
	ctxPing, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if errPing := client.Ping(ctxPing).Err(); errPing != nil {
		_ = client.Close()
		return nil, errPing
	}

	m.remote = NewRedisLimiter(client, params.prefix)
	m.params = params
	return m.remote, nil
}
