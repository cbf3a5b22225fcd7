package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that block the order.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that must never proceed.
	SeverityCritical Severity = "critical"
)

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Request is the deployment request a policy gates. It carries
// everything the orchestrator knows before dispatching an order.
type Request struct {
	// Kind is the order kind, such as deploy or destroy.
	Kind string `json:"kind"`

	// Csp is the target cloud provider.
	Csp string `json:"csp"`

	// Region is the target region.
	Region string `json:"region"`

	// TemplateName and TemplateVersion identify the service template.
	TemplateName    string `json:"template_name"`
	TemplateVersion string `json:"template_version"`

	// Flavor is the requested sizing option.
	Flavor string `json:"flavor,omitempty"`

	// ServiceID is set for operations on an existing instance.
	ServiceID string `json:"service_id,omitempty"`

	// Variables are the deployment variables after merging fixed
	// values. Sensitive values are masked before evaluation.
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// Context provides side information for policy evaluation.
type Context struct {
	// User is the principal submitting the order.
	User string `json:"user,omitempty"`

	// Environment is the deployment environment, such as production.
	Environment string `json:"environment,omitempty"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}

// Input is the document handed to Rego as `input`.
type Input struct {
	Request *Request `json:"request"`
	Context *Context `json:"context"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result represents the outcome of evaluating a request against every
// enabled policy.
type Result struct {
	// Allowed indicates if the order may proceed.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking findings.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that ran.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the evaluation happened.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Deny renders the blocking violations as one message, empty when the
// request is allowed.
func (r *Result) Deny() string {
	if r.Allowed || len(r.Violations) == 0 {
		return ""
	}
	msg := r.Violations[0].Message
	if len(r.Violations) > 1 {
		for _, v := range r.Violations[1:] {
			msg += "; " + v.Message
		}
	}
	return msg
}
