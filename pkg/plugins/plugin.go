package plugins

import (
	"context"
	"time"

	"github.com/openstratus/stratus/pkg/credentials"
)

// AuditRecord is the event a plugin receives after an order reaches a
// terminal state. Plugins forward these to the CSP's own audit trail.
type AuditRecord struct {
	OrderID   string    `json:"orderId"`
	ServiceID string    `json:"serviceId,omitempty"`
	Kind      string    `json:"kind"`
	Outcome   string    `json:"outcome"`
	Region    string    `json:"region"`
	Flavor    string    `json:"flavor,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Plugin is the per-CSP integration point. Implementations adapt one
// cloud provider's regions, credential sources, and audit sink.
type Plugin interface {
	// Csp returns the provider identifier the plugin serves.
	Csp() string

	// Regions returns the regions the plugin can deploy into.
	Regions() []string

	// CredentialKinds returns the credential kinds the provider
	// accepts, most preferred first.
	CredentialKinds() []credentials.Kind

	// ResolveCredential fetches the credential for a principal from
	// the provider's backing store.
	ResolveCredential(ctx context.Context, principal string, kind credentials.Kind) (*credentials.Credential, error)

	// AuditLog delivers an audit record. Implementations must not
	// block the caller; failures are logged, never surfaced.
	AuditLog(record AuditRecord)
}
