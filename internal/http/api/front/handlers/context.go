package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/draftforge/usagegate/internal/enforcement"
)

// tenantContextKey stores the resolved tenant on the gin context.
const tenantContextKey = "tenantContext"

// SetTenant stores the resolved tenant context for downstream handlers.
func SetTenant(c *gin.Context, tc *enforcement.TenantContext) {
	if c == nil || tc == nil {
		return
	}
	c.Set(tenantContextKey, tc)
}

// Tenant returns the resolved tenant context, nil when unauthenticated.
func Tenant(c *gin.Context) *enforcement.TenantContext {
	if c == nil {
		return nil
	}
	value, ok := c.Get(tenantContextKey)
	if !ok {
		return nil
	}
	tc, ok := value.(*enforcement.TenantContext)
	if !ok {
		return nil
	}
	return tc
}
