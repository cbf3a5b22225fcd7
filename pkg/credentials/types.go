package credentials

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no usable credential exists for a key.
var ErrNotFound = errors.New("credential not found")

// ErrIncomplete is returned when a credential is missing a required
// variable.
var ErrIncomplete = errors.New("credential incomplete")

// Kind identifies the credential mechanism a provider accepts.
type Kind string

const (
	KindVariables Kind = "variables"
	KindAPIKey    Kind = "api_key"
	KindToken     Kind = "token"
)

var kinds = map[Kind]struct{}{
	KindVariables: {},
	KindAPIKey:    {},
	KindToken:     {},
}

// ParseKind validates a credential kind string.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := kinds[k]; !ok {
		return "", fmt.Errorf("unknown credential kind %q", s)
	}
	return k, nil
}

// Key identifies a credential uniquely within the cache.
type Key struct {
	Csp       string
	Principal string
	Kind      Kind
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Csp, k.Principal, k.Kind)
}

// Variable is one secret component of a credential, such as an access
// key or a password.
type Variable struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Mandatory bool   `json:"mandatory"`
	Sensitive bool   `json:"sensitive"`
}

// Credential is a complete set of secrets for one CSP principal.
type Credential struct {
	Csp       string     `json:"csp"`
	Principal string     `json:"principal"`
	Kind      Kind       `json:"kind"`
	Variables []Variable `json:"variables"`

	// ExpiresAt is the absolute expiry instant. The zero value means
	// the credential never expires.
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// Key returns the cache key for the credential.
func (c *Credential) Key() Key {
	return Key{Csp: c.Csp, Principal: c.Principal, Kind: c.Kind}
}

// Expired reports whether the credential is past its expiry at the
// given instant.
func (c *Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Validate checks that every mandatory variable carries a value.
func (c *Credential) Validate() error {
	for _, v := range c.Variables {
		if v.Mandatory && v.Value == "" {
			return fmt.Errorf("%w: variable %s has no value", ErrIncomplete, v.Name)
		}
	}
	return nil
}

// Env renders the credential variables as environment entries for a
// deployer process.
func (c *Credential) Env() map[string]string {
	env := make(map[string]string, len(c.Variables))
	for _, v := range c.Variables {
		env[v.Name] = v.Value
	}
	return env
}
