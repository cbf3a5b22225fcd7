package plugins

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openstratus/stratus/pkg/credentials"
)

// DevCloud is the built-in development plugin. It serves credentials
// from process memory and writes audit records to the log, which makes
// it suitable for local testing and nothing else.
type DevCloud struct {
	mu      sync.RWMutex
	creds   map[string]*credentials.Credential
	regions []string
	logger  zerolog.Logger
}

// NewDevCloud creates the development plugin with the given regions.
func NewDevCloud(logger zerolog.Logger, regions ...string) *DevCloud {
	if len(regions) == 0 {
		regions = []string{"local"}
	}
	return &DevCloud{
		creds:   make(map[string]*credentials.Credential),
		regions: regions,
		logger:  logger.With().Str("component", "plugin.devcloud").Logger(),
	}
}

func (d *DevCloud) Csp() string { return "devcloud" }

func (d *DevCloud) Regions() []string {
	out := make([]string, len(d.regions))
	copy(out, d.regions)
	return out
}

func (d *DevCloud) CredentialKinds() []credentials.Kind {
	return []credentials.Kind{credentials.KindVariables}
}

// SetCredential seeds a credential for a principal.
func (d *DevCloud) SetCredential(cred *credentials.Credential) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.creds[cred.Principal] = cred
}

func (d *DevCloud) ResolveCredential(_ context.Context, principal string, kind credentials.Kind) (*credentials.Credential, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	cred, ok := d.creds[principal]
	if !ok || cred.Kind != kind {
		return nil, fmt.Errorf("%w: devcloud/%s/%s", credentials.ErrNotFound, principal, kind)
	}
	return cred, nil
}

// AuditLog records the event in the process log. Delivery never blocks
// and never fails the order.
func (d *DevCloud) AuditLog(record AuditRecord) {
	d.logger.Info().
		Str("order_id", record.OrderID).
		Str("service_id", record.ServiceID).
		Str("kind", record.Kind).
		Str("outcome", record.Outcome).
		Str("region", record.Region).
		Msg("Audit event")
}
