package stores

import (
	"time"
)

// OrderKind represents the kind of lifecycle operation an order performs.
type OrderKind string

const (
	OrderKindDeploy  OrderKind = "deploy"
	OrderKindModify  OrderKind = "modify"
	OrderKindDestroy OrderKind = "destroy"
	OrderKindMigrate OrderKind = "migrate"
	OrderKindPort    OrderKind = "port"
	OrderKindPurge   OrderKind = "purge"
)

// ParseOrderKind converts a string to an OrderKind, reporting whether it
// names a known kind.
func ParseOrderKind(s string) (OrderKind, bool) {
	switch OrderKind(s) {
	case OrderKindDeploy, OrderKindModify, OrderKindDestroy,
		OrderKindMigrate, OrderKindPort, OrderKindPurge:
		return OrderKind(s), true
	}
	return "", false
}

// OrderPhase represents the phase of an order. Transitions are monotonic:
// pending -> dispatched -> awaiting_callback -> succeeded|failed, with
// dispatched able to jump straight to a terminal phase for synchronous
// deployers. Terminal phases are immutable.
type OrderPhase string

const (
	OrderPhasePending          OrderPhase = "pending"
	OrderPhaseDispatched       OrderPhase = "dispatched"
	OrderPhaseAwaitingCallback OrderPhase = "awaiting_callback"
	OrderPhaseSucceeded        OrderPhase = "succeeded"
	OrderPhaseFailed           OrderPhase = "failed"
)

// IsTerminal reports whether the phase is terminal.
func (p OrderPhase) IsTerminal() bool {
	return p == OrderPhaseSucceeded || p == OrderPhaseFailed
}

// InProgress reports whether the order has been dispatched but not completed.
func (p OrderPhase) InProgress() bool {
	return p == OrderPhaseDispatched || p == OrderPhaseAwaitingCallback
}

// DeploymentState represents the lifecycle state of a service instance.
type DeploymentState string

const (
	StateDeploying     DeploymentState = "deploying"
	StateDeployed      DeploymentState = "deployed"
	StateDeployFailed  DeploymentState = "deploy_failed"
	StateModifying     DeploymentState = "modifying"
	StateModifyFailed  DeploymentState = "modify_failed"
	StateDestroying    DeploymentState = "destroying"
	StateDestroyed     DeploymentState = "destroyed"
	StateDestroyFailed DeploymentState = "destroy_failed"
)

// Order is one user-initiated lifecycle operation against a service
// instance. Orders are retained indefinitely; a terminal order is never
// mutated again.
type Order struct {
	ID              string     `json:"id"`
	Kind            OrderKind  `json:"kind"`
	ServiceID       *string    `json:"service_id,omitempty"`
	Csp             string     `json:"csp"`
	TemplateName    string     `json:"template_name"`
	TemplateVersion string     `json:"template_version"`
	Flavor          string     `json:"flavor"`
	Region          string     `json:"region"`
	CorrelationID   string     `json:"correlation_id"`
	Phase           OrderPhase `json:"phase"`
	Parameters      string     `json:"parameters"` // JSON blob, sensitive values masked
	Error           *string    `json:"error,omitempty"`
	SagaID          *string    `json:"saga_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// ServiceInstance is a deployed (or deploying) unit of a service template
// for one customer. The ID is stable for the instance's lifetime; the row
// is physically removed only on purge.
type ServiceInstance struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Csp             string          `json:"csp"`
	Region          string          `json:"region"`
	TemplateName    string          `json:"template_name"`
	TemplateVersion string          `json:"template_version"`
	Flavor          string          `json:"flavor"`
	State           DeploymentState `json:"state"`
	Resources       string          `json:"resources"` // JSON array of Resource
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Resource is one provider-assigned resource belonging to an instance.
type Resource struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Name       string            `json:"name,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// InstanceFilter narrows ListServiceInstances results. Zero values match
// everything.
type InstanceFilter struct {
	Csp          string
	TemplateName string
	State        DeploymentState
}

// OrderFilter narrows ListOrders results. Zero values match everything.
type OrderFilter struct {
	ServiceID string
	Kind      OrderKind
	Phase     OrderPhase
}

// AuditEntry records one orchestration action for audit purposes.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Csp       string    `json:"csp"`
	Action    string    `json:"action"`
	OrderID   *string   `json:"order_id,omitempty"`
	ServiceID *string   `json:"service_id,omitempty"`
	Details   *string   `json:"details,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}
