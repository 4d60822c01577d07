package policy

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pcesched/pcesched/pkg/schedule"
)

var evalTime = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger, WithNow(func() time.Time { return evalTime }))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	want := []string{"expiry-in-future", "ruleset-scope", "window-length"}
	if len(policies) != len(want) {
		t.Fatalf("expected %d built-in policies, got %d", len(want), len(policies))
	}
	for i, name := range want {
		if policies[i].Name != name {
			t.Errorf("policy %d = %s, want %s", i, policies[i].Name, name)
		}
		if !policies[i].Builtin {
			t.Errorf("policy %s should be built in", name)
		}
	}
}

func TestEvaluateBuiltins(t *testing.T) {
	eng := newTestEngine(t)

	recurring := func(isRuleSet bool, action string, days []string, start, end string) *schedule.Record {
		rec, err := schedule.NewRecurring("Test", isRuleSet, action, days, start, end)
		if err != nil {
			t.Fatalf("NewRecurring failed: %v", err)
		}
		return rec
	}
	oneTime := func(expire string) *schedule.Record {
		rec, err := schedule.NewOneTime("Test", false, expire)
		if err != nil {
			t.Fatalf("NewOneTime failed: %v", err)
		}
		return rec
	}

	tests := []struct {
		name        string
		rec         *schedule.Record
		operation   string
		wantAllowed bool
		wantPolicy  string
	}{
		{
			name:        "ordinary window",
			rec:         recurring(false, "allow", []string{"Mon"}, "08:00", "18:00"),
			operation:   "create",
			wantAllowed: true,
		},
		{
			name:        "short window warns",
			rec:         recurring(false, "allow", []string{"Mon"}, "08:00", "08:10"),
			operation:   "create",
			wantAllowed: true,
			wantPolicy:  "window-length",
		},
		{
			name:        "short overnight window warns",
			rec:         recurring(false, "allow", []string{"Mon"}, "23:55", "00:05"),
			operation:   "create",
			wantAllowed: true,
			wantPolicy:  "window-length",
		},
		{
			name:        "past expiry rejected",
			rec:         oneTime("2023-06-01T00:00:00Z"),
			operation:   "create",
			wantAllowed: false,
			wantPolicy:  "expiry-in-future",
		},
		{
			name:        "past expiry allowed on import",
			rec:         oneTime("2023-06-01T00:00:00Z"),
			operation:   "import",
			wantAllowed: true,
		},
		{
			name:        "future expiry",
			rec:         oneTime("2030-01-01T00:00:00Z"),
			operation:   "create",
			wantAllowed: true,
		},
		{
			name:        "rule set blocked every day warns",
			rec:         recurring(true, "block", nil, "00:00", "23:59"),
			operation:   "create",
			wantAllowed: true,
			wantPolicy:  "ruleset-scope",
		},
		{
			name:        "single rule blocked every day",
			rec:         recurring(false, "block", nil, "00:00", "23:59"),
			operation:   "create",
			wantAllowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.Evaluate(context.Background(), "/orgs/1/sec_policy/active/rule_sets/1", tt.rec, tt.operation, "cli")
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if len(result.Failures) > 0 {
				t.Fatalf("policy failures: %v", result.Failures)
			}
			if result.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v (violations: %+v)", result.Allowed, tt.wantAllowed, result.Violations)
			}
			if tt.wantPolicy == "" {
				if len(result.Violations) != 0 {
					t.Errorf("expected no violations, got %+v", result.Violations)
				}
				return
			}
			if len(result.Violations) != 1 || result.Violations[0].Policy != tt.wantPolicy {
				t.Errorf("expected one %s violation, got %+v", tt.wantPolicy, result.Violations)
			}
		})
	}
}

func TestEvaluateExpiryViolationDetails(t *testing.T) {
	eng := newTestEngine(t)
	rec, _ := schedule.NewOneTime("Old", false, "2023-06-01T00:00:00Z")

	result, err := eng.Evaluate(context.Background(), "/orgs/1/x", rec, "create", "api")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	blocking := result.Blocking()
	if len(blocking) != 1 {
		t.Fatalf("expected one blocking violation, got %+v", result.Violations)
	}
	v := blocking[0]
	if v.Field != "expire_at" || v.Severity != SeverityError || v.Href != "/orgs/1/x" {
		t.Errorf("unexpected violation %+v", v)
	}
	if len(result.Warnings()) != 0 {
		t.Errorf("expected no warnings, got %+v", result.Warnings())
	}
}

func TestDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	if err := eng.DisablePolicy("expiry-in-future"); err != nil {
		t.Fatalf("DisablePolicy failed: %v", err)
	}

	rec, _ := schedule.NewOneTime("Old", false, "2023-06-01T00:00:00Z")
	result, err := eng.Evaluate(context.Background(), "/orgs/1/x", rec, "create", "cli")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("disabled policy still blocks: %+v", result.Violations)
	}
	for _, name := range result.EvaluatedPolicies {
		if name == "expiry-in-future" {
			t.Error("disabled policy was evaluated")
		}
	}

	if err := eng.EnablePolicy("missing"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestSetCustomPolicies(t *testing.T) {
	eng := newTestEngine(t)

	custom := Policy{
		Name:     "no-block",
		Severity: SeverityError,
		Enabled:  true,
		Rego: `package custom.noblock

import rego.v1

deny contains "block schedules are not allowed" if {
	input.schedule.action == "block"
}`,
	}
	if err := eng.SetCustomPolicies(context.Background(), []Policy{custom}); err != nil {
		t.Fatalf("SetCustomPolicies failed: %v", err)
	}

	rec, _ := schedule.NewRecurring("Night", false, "block", []string{"Sat"}, "01:00", "05:00")
	result, err := eng.Evaluate(context.Background(), "/orgs/1/x", rec, "create", "cli")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Allowed {
		t.Fatal("expected custom policy to block")
	}
	if msg := result.Violations[0].Message; msg != "block schedules are not allowed" {
		t.Errorf("unexpected message %q", msg)
	}

	// Replacing with an empty set removes the custom policy but keeps built-ins.
	if err := eng.SetCustomPolicies(context.Background(), nil); err != nil {
		t.Fatalf("SetCustomPolicies failed: %v", err)
	}
	if _, err := eng.GetPolicy("no-block"); err == nil {
		t.Error("custom policy should have been removed")
	}
	if _, err := eng.GetPolicy("window-length"); err != nil {
		t.Errorf("built-in policy removed: %v", err)
	}
}

func TestSetCustomPoliciesRejectsInvalidRego(t *testing.T) {
	eng := newTestEngine(t)
	bad := Policy{Name: "bad", Enabled: true, Rego: "package bad\n\ndeny[msg] {"}

	if err := eng.SetCustomPolicies(context.Background(), []Policy{bad}); err == nil {
		t.Fatal("expected compile error")
	}
	if len(eng.ListPolicies()) != 3 {
		t.Errorf("failed load should not change policies")
	}
}
