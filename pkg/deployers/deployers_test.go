package deployers

import (
	"context"
	"errors"
	"testing"

	"github.com/openstratus/stratus/pkg/catalog"
)

type fakeDeployer struct {
	kind catalog.DeployerKind
}

func (f *fakeDeployer) Kind() catalog.DeployerKind { return f.kind }

func (f *fakeDeployer) Execute(context.Context, *Request) (*Dispatch, error) {
	return &Dispatch{Async: true}, nil
}

func (f *fakeDeployer) HealthCheck(context.Context) error { return nil }

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeDeployer{kind: catalog.DeployerKindTerraBoot})

	d, err := reg.Resolve(catalog.DeployerKindTerraBoot)
	if err != nil {
		t.Fatalf("Failed to resolve deployer: %v", err)
	}
	if d.Kind() != catalog.DeployerKindTerraBoot {
		t.Errorf("Expected terraboot, got %s", d.Kind())
	}

	_, err = reg.Resolve(catalog.DeployerKindTfLocal)
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("Expected ErrUnknownKind, got %v", err)
	}

	if len(reg.Kinds()) != 1 {
		t.Errorf("Expected 1 registered kind, got %d", len(reg.Kinds()))
	}
}

func TestTransportErrorUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := &TransportError{Deployer: "terraboot", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("Expected TransportError to unwrap inner error")
	}
	if err.Error() == "" {
		t.Error("Expected error message")
	}
}
