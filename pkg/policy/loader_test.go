package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

const testRegoPolicy = `# Blocks requests against the staging freeze window
package stratus.policies.freeze

import rego.v1

deny contains violation if {
	input.request.region == "staging-frozen"
	violation := {
		"message": "staging is frozen",
		"severity": "error",
	}
}
`

func newTestLoader() *Loader {
	return NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
}

func TestLoaderLoadRegoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "freeze.rego")
	if err := os.WriteFile(path, []byte(testRegoPolicy), 0o644); err != nil {
		t.Fatalf("Failed to write policy file: %v", err)
	}

	policies, err := newTestLoader().LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(policies))
	}

	p := policies[0]
	if p.Name != "freeze" {
		t.Errorf("Expected name freeze, got %s", p.Name)
	}
	if p.Description == "" {
		t.Error("Expected description from leading comment")
	}
	if !p.Enabled {
		t.Error("Expected loaded policy to be enabled")
	}
	if p.Severity != SeverityWarning {
		t.Errorf("Expected default severity warning, got %s", p.Severity)
	}
}

func TestLoaderLoadJSONFile(t *testing.T) {
	policy := Policy{
		Name:     "json-policy",
		Severity: SeverityError,
		Enabled:  true,
		Rego:     testRegoPolicy,
	}
	data, err := json.Marshal(policy)
	if err != nil {
		t.Fatalf("Failed to marshal policy: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("Failed to write policy file: %v", err)
	}

	policies, err := newTestLoader().LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(policies))
	}
	if policies[0].Severity != SeverityError {
		t.Errorf("Expected severity error, got %s", policies[0].Severity)
	}
}

func TestLoaderLoadDirectory(t *testing.T) {
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "a.rego"), []byte(testRegoPolicy), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("Failed to write broken policy: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatalf("Failed to write notes: %v", err)
	}

	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("Failed to create subdirectory: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sub, "b.rego"), []byte(testRegoPolicy), 0o644); err != nil {
		t.Fatalf("Failed to write nested policy: %v", err)
	}

	policies, err := newTestLoader().LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}
	if len(policies) != 2 {
		t.Errorf("Expected 2 policies, got %d", len(policies))
	}
}

func TestLoaderMissingPath(t *testing.T) {
	_, err := newTestLoader().LoadFromPaths(context.Background(), []string{"/does/not/exist"})
	if err == nil {
		t.Error("Expected error for missing path")
	}
}

func TestLoaderCaching(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "freeze.rego")
	if err := os.WriteFile(path, []byte(testRegoPolicy), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}

	loader := newTestLoader()
	first, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	// Rewrite the file; the cached policy must still be served until
	// the cache is cleared.
	if err := os.WriteFile(path, []byte("# changed\n"+testRegoPolicy), 0o644); err != nil {
		t.Fatalf("Failed to rewrite policy: %v", err)
	}

	second, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Failed to reload policies: %v", err)
	}
	if second[0].Description != first[0].Description {
		t.Error("Expected cached policy to be served")
	}

	loader.ClearCache()
	third, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Failed to reload after cache clear: %v", err)
	}
	if third[0].Description == first[0].Description {
		t.Error("Expected fresh policy after cache clear")
	}
}
