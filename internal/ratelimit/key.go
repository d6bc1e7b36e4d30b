package ratelimit

import "fmt"

// KeyForDecision builds a limiter key for the resolved tenant limit.
func KeyForDecision(decision Decision) string {
	if decision.TenantID == 0 || decision.Limit <= 0 {
		return ""
	}
	return fmt.Sprintf("t:%d", decision.TenantID)
}
