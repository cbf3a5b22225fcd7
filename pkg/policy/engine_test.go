package policy

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func deployRequest() *Request {
	return &Request{
		Kind:            "deploy",
		Csp:             "devcloud",
		Region:          "eu-west-1",
		TemplateName:    "vault",
		TemplateVersion: "1.0.0",
		Flavor:          "small",
	}
}

func TestNewEngineLoadsBuiltins(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("No built-in policies loaded")
	}

	expectedPolicies := []string{
		"request-completeness",
		"deletion-protection",
		"region-naming",
		"production-destroy",
	}

	for _, expected := range expectedPolicies {
		found := false
		for _, p := range policies {
			if p.Name == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected built-in policy not found: %s", expected)
		}
	}
}

func TestEvaluateAllowsCompleteRequest(t *testing.T) {
	eng := newTestEngine(t)

	result, err := eng.Evaluate(context.Background(), deployRequest())
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("Expected request to be allowed, violations: %v", result.Violations)
	}
	if len(result.EvaluatedPolicies) == 0 {
		t.Error("Expected policies to be evaluated")
	}
}

func TestEvaluateCompletenessPolicy(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name    string
		mutate  func(*Request)
		allowed bool
	}{
		{
			name:    "missing region blocks deploy",
			mutate:  func(r *Request) { r.Region = "" },
			allowed: false,
		},
		{
			name:    "missing flavor blocks deploy",
			mutate:  func(r *Request) { r.Flavor = "" },
			allowed: false,
		},
		{
			name: "destroy without flavor is fine",
			mutate: func(r *Request) {
				r.Kind = "destroy"
				r.Flavor = ""
				r.ServiceID = "svc-1"
			},
			allowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := deployRequest()
			tt.mutate(req)

			result, err := eng.Evaluate(context.Background(), req)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}
			if result.Allowed != tt.allowed {
				t.Errorf("Expected allowed=%v, got %v (violations: %v)",
					tt.allowed, result.Allowed, result.Violations)
			}
		})
	}
}

func TestEvaluateDeletionProtection(t *testing.T) {
	eng := newTestEngine(t)

	req := &Request{
		Kind:            "destroy",
		Csp:             "devcloud",
		Region:          "eu-west-1",
		TemplateName:    "vault",
		TemplateVersion: "1.0.0",
		ServiceID:       "svc-1",
		Variables:       map[string]interface{}{"deletion_protection": true},
	}

	result, err := eng.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Fatal("Expected deletion-protected destroy to be denied")
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "deletion-protection" {
			found = true
			if v.Severity != SeverityCritical {
				t.Errorf("Expected critical severity, got %s", v.Severity)
			}
		}
	}
	if !found {
		t.Errorf("Expected deletion-protection violation, got %v", result.Violations)
	}
	if result.Deny() == "" {
		t.Error("Expected non-empty deny message")
	}
}

func TestEvaluateRegionNaming(t *testing.T) {
	eng := newTestEngine(t)

	req := deployRequest()
	req.Region = "EU_West_1"

	result, err := eng.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Errorf("Expected malformed region to be denied, got %v", result)
	}
}

func TestEvaluateProductionDestroyWarns(t *testing.T) {
	eng := newTestEngine(t)

	req := &Request{
		Kind:            "destroy",
		Csp:             "devcloud",
		Region:          "eu-prod-1",
		TemplateName:    "vault",
		TemplateVersion: "1.0.0",
		ServiceID:       "svc-1",
	}

	result, err := eng.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("Warning must not block the order, violations: %v", result.Violations)
	}

	found := false
	for _, w := range result.Warnings {
		if w.Policy == "production-destroy" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected production-destroy warning, got %v", result.Warnings)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)

	if err := eng.DisablePolicy("request-completeness"); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}

	req := deployRequest()
	req.Flavor = ""

	result, err := eng.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("Expected disabled policy to be skipped, violations: %v", result.Violations)
	}

	if err := eng.EnablePolicy("request-completeness"); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}

	result, err = eng.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Error("Expected re-enabled policy to deny the request")
	}

	if err := eng.EnablePolicy("no-such-policy"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestCustomPolicyViaReload(t *testing.T) {
	eng := newTestEngine(t)

	custom := Policy{
		Name:     "csp-allowlist",
		Severity: SeverityError,
		Enabled:  true,
		Rego: `package stratus.policies.allowlist

import rego.v1

allowed_csps := {"devcloud"}

deny contains violation if {
	not allowed_csps[input.request.csp]
	violation := {
		"message": sprintf("CSP '%s' is not allowed", [input.request.csp]),
		"severity": "error",
	}
}
`,
	}

	if err := eng.compileAndStorePolicy(context.Background(), &custom); err != nil {
		t.Fatalf("Failed to compile custom policy: %v", err)
	}

	req := deployRequest()
	req.Csp = "vaporcloud"

	result, err := eng.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Error("Expected custom policy to deny unknown CSP")
	}

	if err := eng.ReloadPolicies(context.Background()); err != nil {
		t.Fatalf("Failed to reload policies: %v", err)
	}
	if _, err := eng.GetPolicy("csp-allowlist"); err == nil {
		t.Error("Expected custom policy to be dropped on reload")
	}
}
