package front

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/draftforge/usagegate/internal/catalog"
	"github.com/draftforge/usagegate/internal/config"
	"github.com/draftforge/usagegate/internal/enforcement"
	"github.com/draftforge/usagegate/internal/http/api/front/handlers"
	"github.com/draftforge/usagegate/internal/identity"
	"github.com/draftforge/usagegate/internal/metering"
	"github.com/draftforge/usagegate/internal/policy"
	"github.com/draftforge/usagegate/internal/ratelimit"
	"github.com/draftforge/usagegate/internal/reservation"
	"github.com/draftforge/usagegate/internal/security"
)

// RegisterFrontRoutes registers the tenant-facing enforcement and
// reporting routes with their auth and rate-limit middleware.
func RegisterFrontRoutes(r *gin.Engine, conn *gorm.DB, jwtCfg config.JWTConfig) {
	if r == nil || conn == nil {
		return
	}

	resolver := identity.NewResolver(conn)
	cat := catalog.New(conn)
	meter := metering.NewService(conn)
	coordinator := reservation.NewCoordinator(conn)
	evaluator := policy.NewEvaluator(conn, cat, meter, coordinator)
	guard := enforcement.NewGuard(evaluator)
	limiter := ratelimit.NewManager(nil, nil, nil)

	healthHandler := handlers.NewHealthHandler(conn)
	r.GET("/healthz", healthHandler.Healthz)

	group := r.Group("/v0")

	enforced := group.Group("")
	enforced.Use(credentialAuthMiddleware(resolver))
	enforced.Use(rateLimitMiddleware(conn, limiter))

	enforcementHandler := handlers.NewEnforcementHandler(guard)
	enforced.POST("/enforcement/evaluate", enforcementHandler.Evaluate)

	usageHandler := handlers.NewUsageHandler(conn, cat, meter)
	enforced.POST("/usage/record", usageHandler.Record)

	reservationHandler := handlers.NewReservationHandler(conn, coordinator)
	enforced.POST("/reservations/:id/release", reservationHandler.Release)

	reporting := group.Group("")
	reporting.Use(tenantReadAuthMiddleware(conn, resolver, jwtCfg))
	reporting.Use(rateLimitMiddleware(conn, limiter))

	quotaHandler := handlers.NewQuotaHandler(cat, meter)
	reporting.GET("/quota", quotaHandler.Get)
	reporting.GET("/usage", usageHandler.Get)
}

// bearerToken extracts the bearer token from the Authorization header.
func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", false
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

// credentialAuthMiddleware resolves "<key_id>.<secret>" credentials and
// stores the tenant context for downstream handlers.
func credentialAuthMiddleware(resolver *identity.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			handlers.WriteKindError(c, enforcement.KindTenantUnresolved, "missing authorization header")
			return
		}
		tc, errResolve := resolver.ResolveTenantContext(c.Request.Context(), token)
		if errResolve != nil {
			handlers.WriteError(c, errResolve)
			return
		}
		handlers.SetTenant(c, tc)
		c.Next()
	}
}

// tenantReadAuthMiddleware authenticates reporting requests with either
// a tenant credential or a dashboard JWT. JWTs have two dots, credentials
// have one.
func tenantReadAuthMiddleware(conn *gorm.DB, resolver *identity.Resolver, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			handlers.WriteKindError(c, enforcement.KindTenantUnresolved, "missing authorization header")
			return
		}

		if strings.Count(token, ".") != 2 {
			tc, errResolve := resolver.ResolveTenantContext(c.Request.Context(), token)
			if errResolve != nil {
				handlers.WriteError(c, errResolve)
				return
			}
			handlers.SetTenant(c, tc)
			c.Next()
			return
		}

		claims, errParse := security.ParseDashboardToken(jwtCfg.Secret, token)
		if errParse != nil {
			handlers.WriteKindError(c, enforcement.KindTenantUnresolved, "invalid token")
			return
		}
		active, errValidate := resolver.ValidateTenantAccess(c.Request.Context(), claims.TenantID)
		if errValidate != nil {
			handlers.WriteError(c, errValidate)
			return
		}
		if !active {
			handlers.WriteKindError(c, enforcement.KindTenantUnresolved, "tenant is not active")
			return
		}

		tc := &enforcement.TenantContext{TenantID: claims.TenantID}
		if assignment, errPlan := identity.EffectivePlan(c.Request.Context(), conn, claims.TenantID, time.Now()); errPlan == nil && assignment != nil {
			tc.PlanID = assignment.PlanID
		}
		handlers.SetTenant(c, tc)
		c.Next()
	}
}

// rateLimitMiddleware enforces the tenant's per-second request limit.
// Limiter faults never block traffic; only an explicit deny does.
func rateLimitMiddleware(conn *gorm.DB, manager *ratelimit.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tc := handlers.Tenant(c)
		if tc == nil {
			c.Next()
			return
		}
		decision, errResolve := ratelimit.ResolveLimit(c.Request.Context(), conn, tc.TenantID, "")
		if errResolve != nil {
			log.WithError(errResolve).Warn("rate limit: resolve failed")
			c.Next()
			return
		}
		key := ratelimit.KeyForDecision(decision)
		if key == "" {
			c.Next()
			return
		}
		result, errAllow := manager.Allow(c.Request.Context(), key, decision.Limit)
		if errAllow != nil {
			log.WithError(errAllow).Warn("rate limit: check failed")
			c.Next()
			return
		}
		if !result.Allowed {
			retryAfter := int64(1)
			if !result.Reset.IsZero() {
				if until := time.Until(result.Reset); until > time.Second {
					retryAfter = int64(until.Seconds())
				}
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				handlers.ErrorBody(enforcement.KindRateLimited, "request rate limit exceeded"))
			return
		}
		c.Next()
	}
}
