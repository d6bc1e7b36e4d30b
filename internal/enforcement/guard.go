package enforcement

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Evaluator produces access decisions for feature requests.
type Evaluator interface {
	EvaluateAccess(ctx context.Context, req FeatureRequest) Decision
}

// Guard wraps an Evaluator with the boundary fail-open policy: an
// infrastructure fault while merely checking eligibility must not block
// legitimate callers, so it becomes a degraded approval. Denials from
// the reservation stage, and all policy denials, pass through untouched.
// Settlement never goes through the guard and never fails open.
type Guard struct {
	evaluator Evaluator
}

// NewGuard constructs a Guard.
func NewGuard(evaluator Evaluator) *Guard {
	return &Guard{evaluator: evaluator}
}

// Evaluate runs the wrapped evaluator and applies fail-open conversion.
func (g *Guard) Evaluate(ctx context.Context, req FeatureRequest) Decision {
	if g == nil || g.evaluator == nil {
		return Deny(StageCheck, KindServiceUnavailable, "evaluator not configured")
	}
	decision := g.evaluator.EvaluateAccess(ctx, req)
	if decision.Allowed {
		return decision
	}
	if decision.Stage == StageCheck && decision.Reason.Infrastructure() {
		log.WithFields(log.Fields{
			"tenant_id": req.TenantID,
			"feature":   req.FeatureCode,
			"reason":    decision.Reason,
		}).Warn("enforcement: store unreachable during eligibility check, failing open")
		return Decision{Allowed: true, Degraded: true, ModelClass: decision.ModelClass, Limits: DefaultLimits()}
	}
	return decision
}
