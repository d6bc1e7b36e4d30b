package enforcement

import (
	"context"
	"testing"
)

// stubEvaluator returns a fixed decision.
type stubEvaluator struct {
	decision Decision
}

func (s *stubEvaluator) EvaluateAccess(ctx context.Context, req FeatureRequest) Decision {
	return s.decision
}

func TestGuardPassesThroughApproval(t *testing.T) {
	approved := Decision{Allowed: true, ModelClass: "standard", ReservationID: 7}
	guard := NewGuard(&stubEvaluator{decision: approved})

	got := guard.Evaluate(context.Background(), FeatureRequest{TenantID: 1, FeatureCode: "agents"})
	if !got.Allowed || got.Degraded || got.ReservationID != 7 {
		t.Fatalf("unexpected decision %+v", got)
	}
}

func TestGuardFailsOpenOnCheckStageInfrastructureFault(t *testing.T) {
	for _, kind := range []Kind{KindDatabaseError, KindServiceUnavailable} {
		denial := Deny(StageCheck, kind, "store unreachable")
		guard := NewGuard(&stubEvaluator{decision: denial})

		got := guard.Evaluate(context.Background(), FeatureRequest{TenantID: 1, FeatureCode: "agents"})
		if !got.Allowed {
			t.Fatalf("%s: expected fail-open approval, got %+v", kind, got)
		}
		if !got.Degraded {
			t.Fatalf("%s: expected degraded marker", kind)
		}
		if got.ReservationID != 0 {
			t.Fatalf("%s: degraded approvals carry no reservation, got %d", kind, got.ReservationID)
		}
		if got.Limits != DefaultLimits() {
			t.Fatalf("%s: expected built-in limits on degraded approval, got %+v", kind, got.Limits)
		}
		if got.Limits.MaxTokensOut != DefaultMaxTokensOut {
			t.Fatalf("%s: unexpected max_tokens_out %d", kind, got.Limits.MaxTokensOut)
		}
	}
}

func TestGuardDoesNotFailOpenOnPolicyDenials(t *testing.T) {
	for _, kind := range []Kind{
		KindTenantUnresolved,
		KindTenantSuspended,
		KindMonthlyQuotaExceeded,
		KindModelClassUnavailable,
	} {
		denial := Deny(StageCheck, kind, "denied")
		guard := NewGuard(&stubEvaluator{decision: denial})

		got := guard.Evaluate(context.Background(), FeatureRequest{TenantID: 1, FeatureCode: "agents"})
		if got.Allowed {
			t.Fatalf("%s: expected denial to pass through, got %+v", kind, got)
		}
		if got.Reason != kind {
			t.Fatalf("expected reason %s, got %s", kind, got.Reason)
		}
	}
}

func TestGuardDoesNotFailOpenOnReserveStage(t *testing.T) {
	// Faults while mutating state are never converted, reservation may
	// have partially happened.
	denial := Deny(StageReserve, KindDatabaseError, "insert failed")
	guard := NewGuard(&stubEvaluator{decision: denial})

	got := guard.Evaluate(context.Background(), FeatureRequest{TenantID: 1, FeatureCode: "agents"})
	if got.Allowed {
		t.Fatalf("expected reserve-stage fault to deny, got %+v", got)
	}
	if got.Reason != KindDatabaseError || got.Stage != StageReserve {
		t.Fatalf("unexpected decision %+v", got)
	}
}

func TestGuardWithoutEvaluator(t *testing.T) {
	var guard *Guard
	got := guard.Evaluate(context.Background(), FeatureRequest{TenantID: 1})
	if got.Allowed || got.Reason != KindServiceUnavailable {
		t.Fatalf("unexpected decision %+v", got)
	}
}

func TestDecisionDeny(t *testing.T) {
	denial := Deny(StageCheck, KindDailyQuotaExceeded, "feature %s exhausted", "agents")
	if denial.Allowed {
		t.Fatalf("expected denial")
	}
	if denial.Reason != KindDailyQuotaExceeded || denial.Stage != StageCheck {
		t.Fatalf("unexpected decision %+v", denial)
	}
	if denial.Message != "feature agents exhausted" {
		t.Fatalf("unexpected message %q", denial.Message)
	}
}

func TestUsageStatsUnits(t *testing.T) {
	cases := []struct {
		stats UsageStats
		want  int64
	}{
		{UsageStats{OutputTokens: 250, APICalls: 3}, 250},
		{UsageStats{OutputTokens: 2, APICalls: 9}, 9},
		{UsageStats{}, 1},
		{UsageStats{InputTokens: 5000}, 1},
	}
	for _, tc := range cases {
		if got := tc.stats.Units(); got != tc.want {
			t.Fatalf("%+v: expected %d units, got %d", tc.stats, tc.want, got)
		}
	}
}
