package settings

// DB config keys and defaults for settings.
const (
	// ReservationTimeoutMSKey controls the reservation expiry window in milliseconds.
	ReservationTimeoutMSKey = "RESERVATION_TIMEOUT_MS"
	// AlertWarningThresholdKey controls the quota warning percentage.
	AlertWarningThresholdKey = "ALERT_WARNING_THRESHOLD"
	// AlertExceededThresholdKey controls the quota exceeded percentage.
	AlertExceededThresholdKey = "ALERT_EXCEEDED_THRESHOLD"
	// RateLimitKey controls the default request rate limit per second.
	RateLimitKey = "RATE_LIMIT"
	// RateLimitRedisEnabledKey toggles Redis-backed rate limiting.
	RateLimitRedisEnabledKey = "RATE_LIMIT_REDIS_ENABLED"
	// RateLimitRedisAddrKey defines the Redis address for rate limiting.
	RateLimitRedisAddrKey = "RATE_LIMIT_REDIS_ADDR"
	// RateLimitRedisPasswordKey defines the Redis password for rate limiting.
	RateLimitRedisPasswordKey = "RATE_LIMIT_REDIS_PASSWORD"
	// RateLimitRedisDBKey defines the Redis DB index for rate limiting.
	RateLimitRedisDBKey = "RATE_LIMIT_REDIS_DB"
	// RateLimitRedisPrefixKey defines the Redis key prefix for rate limiting.
	RateLimitRedisPrefixKey = "RATE_LIMIT_REDIS_PREFIX"
	// DefaultReservationTimeoutMS is the fallback reservation expiry window.
	DefaultReservationTimeoutMS = 300_000
	// DefaultAlertWarningThreshold is the fallback warning percentage.
	DefaultAlertWarningThreshold = 80
	// DefaultAlertExceededThreshold is the fallback exceeded percentage.
	DefaultAlertExceededThreshold = 100
	// DefaultRateLimit is the fallback request rate limit (0 means unlimited).
	DefaultRateLimit = 0
	// DefaultRateLimitRedisPrefix is the fallback Redis key prefix.
	DefaultRateLimitRedisPrefix = "ugate:rl"
)
