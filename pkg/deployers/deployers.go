package deployers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/openstratus/stratus/pkg/catalog"
)

// ErrUnknownKind is returned when a template names a deployer kind no
// adapter is registered for.
var ErrUnknownKind = errors.New("unknown deployer kind")

// Operation is the action a deployer performs for an order.
type Operation string

const (
	OperationDeploy  Operation = "deploy"
	OperationModify  Operation = "modify"
	OperationDestroy Operation = "destroy"
)

// Request carries everything a deployer needs to execute one order.
type Request struct {
	// OrderID is the ledger order being executed.
	OrderID string

	// CorrelationID identifies the order to the callback endpoint.
	CorrelationID string

	// ServiceID is the instance the order targets.
	ServiceID string

	Operation Operation

	// Script is the infrastructure-as-code body from the template.
	Script string

	// ToolVersion pins the IaC tool version, empty for the default.
	ToolVersion string

	// Variables are the merged input variables for the script.
	Variables map[string]interface{}

	// Env is the process environment for the run, credentials included.
	Env map[string]string

	// CallbackURL is where an asynchronous deployer reports the result.
	CallbackURL string
}

// Result is the outcome of an execution.
type Result struct {
	// Succeeded reports whether the infrastructure operation worked.
	Succeeded bool

	// Message carries the failure detail when Succeeded is false.
	Message string

	// Resources is the provisioned resource list as JSON.
	Resources string

	// Outputs are the script's output values.
	Outputs map[string]string
}

// Dispatch is what Execute returns immediately. Asynchronous deployers
// accept the work and report later through the callback endpoint;
// synchronous deployers carry the final result.
type Dispatch struct {
	// Async is true when the result arrives via callback.
	Async bool

	// Result is the final outcome for synchronous deployers, nil when
	// Async is true.
	Result *Result
}

// TransportError marks a failure to hand work to the deployer at all.
// The order fails immediately and no callback will ever arrive.
type TransportError struct {
	Deployer string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("deployer %s unreachable: %v", e.Deployer, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Deployer executes infrastructure operations for one deployer kind.
type Deployer interface {
	// Kind returns the template deployer kind this adapter serves.
	Kind() catalog.DeployerKind

	// Execute starts the operation. A *TransportError means the work
	// never reached the executor.
	Execute(ctx context.Context, req *Request) (*Dispatch, error)

	// HealthCheck verifies the deployer backend is reachable.
	HealthCheck(ctx context.Context) error
}

// Purger is implemented by deployers that keep local state per service
// instance. Purge removes whatever is left for the instance after its
// record is deleted.
type Purger interface {
	Purge(serviceID string) error
}

// Registry maps deployer kinds to adapters. Templates are validated
// against it at load time so an order never reaches an unregistered
// kind.
type Registry struct {
	mu        sync.RWMutex
	deployers map[catalog.DeployerKind]Deployer
}

// NewRegistry creates an empty deployer registry.
func NewRegistry() *Registry {
	return &Registry{
		deployers: make(map[catalog.DeployerKind]Deployer),
	}
}

// Register adds a deployer, replacing any previous adapter for the
// same kind.
func (r *Registry) Register(d Deployer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deployers[d.Kind()] = d
}

// Resolve returns the deployer for a kind.
func (r *Registry) Resolve(kind catalog.DeployerKind) (Deployer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.deployers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return d, nil
}

// Kinds returns the registered deployer kinds.
func (r *Registry) Kinds() []catalog.DeployerKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]catalog.DeployerKind, 0, len(r.deployers))
	for kind := range r.deployers {
		out = append(out, kind)
	}
	return out
}
