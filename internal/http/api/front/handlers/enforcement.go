package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/draftforge/usagegate/internal/enforcement"
)

// EnforcementHandler serves access evaluation for authenticated tenants.
type EnforcementHandler struct {
	guard *enforcement.Guard
}

// NewEnforcementHandler constructs an EnforcementHandler.
func NewEnforcementHandler(guard *enforcement.Guard) *EnforcementHandler {
	return &EnforcementHandler{guard: guard}
}

// evaluateRequest defines the request body for access evaluation.
type evaluateRequest struct {
	FeatureCode    string  `json:"feature_code"`
	TaskCode       string  `json:"task_code"`
	ModelClass     string  `json:"model_class"`
	UserID         *uint64 `json:"user_id"`
	IdempotencyKey string  `json:"idempotency_key"`
}

// Evaluate decides whether the tenant may run the requested feature and,
// when approved, reserves capacity for it.
func (h *EnforcementHandler) Evaluate(c *gin.Context) {
	tc := Tenant(c)
	if tc == nil {
		WriteKindError(c, enforcement.KindTenantUnresolved, "missing tenant credentials")
		return
	}

	var body evaluateRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	body.FeatureCode = strings.TrimSpace(body.FeatureCode)
	body.IdempotencyKey = strings.TrimSpace(body.IdempotencyKey)
	if body.FeatureCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "feature_code is required"})
		return
	}
	if body.IdempotencyKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idempotency_key is required"})
		return
	}

	decision := h.guard.Evaluate(c.Request.Context(), enforcement.FeatureRequest{
		TenantID:       tc.TenantID,
		FeatureCode:    body.FeatureCode,
		TaskCode:       strings.TrimSpace(body.TaskCode),
		ModelClass:     strings.TrimSpace(body.ModelClass),
		UserID:         body.UserID,
		IdempotencyKey: body.IdempotencyKey,
	})
	if decision.Allowed {
		c.JSON(http.StatusOK, decision)
		return
	}
	if retryAfter := decision.Reason.RetryAfter(); retryAfter > 0 {
		c.Header("Retry-After", formatSeconds(retryAfter))
	}
	c.JSON(decision.Reason.Status(), gin.H{
		"decision": decision,
		"error":    ErrorBody(decision.Reason, decision.Message)["error"],
	})
}
