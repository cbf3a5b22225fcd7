package plugins

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openstratus/stratus/pkg/credentials"
)

func testDevCloud(t *testing.T) *DevCloud {
	t.Helper()
	p := NewDevCloud(zerolog.Nop(), "local", "local-2")
	p.SetCredential(&credentials.Credential{
		Csp:       "devcloud",
		Principal: "alice",
		Kind:      credentials.KindVariables,
		Variables: []credentials.Variable{
			{Name: "TOKEN", Value: "t0ken", Mandatory: true, Sensitive: true},
		},
	})
	return p
}

func TestRegistryRegisterAndResolve(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register(testDevCloud(t)); err != nil {
		t.Fatalf("Failed to register plugin: %v", err)
	}

	p, err := reg.Resolve("devcloud")
	if err != nil {
		t.Fatalf("Failed to resolve plugin: %v", err)
	}
	if p.Csp() != "devcloud" {
		t.Errorf("Expected csp devcloud, got %s", p.Csp())
	}
	if len(p.Regions()) != 2 {
		t.Errorf("Expected 2 regions, got %d", len(p.Regions()))
	}
}

func TestRegistryUnknownCsp(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Resolve("vaporcloud")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register(testDevCloud(t)); err != nil {
		t.Fatalf("Failed to register plugin: %v", err)
	}
	if err := reg.Register(testDevCloud(t)); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
}

func TestRegistryCredentialResolver(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(testDevCloud(t)); err != nil {
		t.Fatalf("Failed to register plugin: %v", err)
	}

	resolver := reg.CredentialResolver()

	cred, err := resolver.Resolve(context.Background(), credentials.Key{
		Csp: "devcloud", Principal: "alice", Kind: credentials.KindVariables,
	})
	if err != nil {
		t.Fatalf("Failed to resolve credential: %v", err)
	}
	if cred.Variables[0].Value != "t0ken" {
		t.Errorf("Expected token value, got %s", cred.Variables[0].Value)
	}

	_, err = resolver.Resolve(context.Background(), credentials.Key{
		Csp: "devcloud", Principal: "bob", Kind: credentials.KindVariables,
	})
	if !errors.Is(err, credentials.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown principal, got %v", err)
	}

	_, err = resolver.Resolve(context.Background(), credentials.Key{
		Csp: "vaporcloud", Principal: "alice", Kind: credentials.KindVariables,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown csp, got %v", err)
	}
}
