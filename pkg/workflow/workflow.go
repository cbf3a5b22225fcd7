// Package workflow coordinates multi-order operations. Migrations and
// portings run as two legs: deploy the replacement instance, then
// destroy the original. The orchestrator reports each completed leg
// here and the coordinator submits the follow-up order.
package workflow

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openstratus/stratus/pkg/stores"
)

// LegOutcome is how one leg of a saga ended.
type LegOutcome string

const (
	LegSucceeded LegOutcome = "succeeded"
	LegFailed    LegOutcome = "failed"
)

// Leg describes a completed order belonging to a saga.
type Leg struct {
	SagaID    string
	OrderID   string
	ServiceID string
	Kind      stores.OrderKind
	Outcome   LegOutcome
}

// Notifier receives completed saga legs.
type Notifier interface {
	LegCompleted(ctx context.Context, leg Leg)
}

// NopNotifier discards leg notifications. Used when no saga
// coordination is wanted, and in tests.
type NopNotifier struct{}

func (NopNotifier) LegCompleted(context.Context, Leg) {}

// FollowUp is the order the coordinator submits after the first leg
// of a saga succeeds.
type FollowUp struct {
	// ServiceID is the instance the follow-up targets, typically the
	// original instance to be destroyed.
	ServiceID string

	// Kind is the follow-up order kind.
	Kind stores.OrderKind

	// Principal resolves the credentials for the follow-up.
	Principal string
}

// SubmitFunc submits a follow-up order. Wired to the orchestrator at
// startup.
type SubmitFunc func(ctx context.Context, followUp FollowUp, sagaID string) (string, error)

// Coordinator tracks in-flight sagas and fires their follow-up legs.
//
// Saga state is held in memory. After a restart a pending follow-up is
// lost; the first leg's order remains in the ledger and the stale
// original instance shows up in listings, where an operator can
// destroy it by hand. The recovery sweep handles the stuck first leg
// itself.
type Coordinator struct {
	mu      sync.Mutex
	pending map[string]FollowUp

	submit SubmitFunc
	logger zerolog.Logger
}

// NewCoordinator creates a saga coordinator.
func NewCoordinator(logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		pending: make(map[string]FollowUp),
		logger:  logger.With().Str("component", "workflow").Logger(),
	}
}

// SetSubmitter wires the follow-up submission function. Must be called
// before any saga begins.
func (c *Coordinator) SetSubmitter(submit SubmitFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submit = submit
}

// Begin registers the follow-up for a saga's first leg.
func (c *Coordinator) Begin(sagaID string, followUp FollowUp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[sagaID] = followUp

	c.logger.Info().
		Str("saga_id", sagaID).
		Str("follow_up_kind", string(followUp.Kind)).
		Str("follow_up_service", followUp.ServiceID).
		Msg("Saga started")
}

// Pending reports whether a saga still has a follow-up queued.
func (c *Coordinator) Pending(sagaID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[sagaID]
	return ok
}

// LegCompleted handles one finished leg. A successful first leg
// triggers the follow-up; a failed one abandons the saga, leaving the
// original instance untouched.
func (c *Coordinator) LegCompleted(ctx context.Context, leg Leg) {
	if leg.SagaID == "" {
		return
	}

	c.mu.Lock()
	followUp, ok := c.pending[leg.SagaID]
	if ok {
		delete(c.pending, leg.SagaID)
	}
	submit := c.submit
	c.mu.Unlock()

	if !ok {
		// Second leg finishing, or an unknown saga after restart.
		c.logger.Debug().
			Str("saga_id", leg.SagaID).
			Str("order_id", leg.OrderID).
			Str("outcome", string(leg.Outcome)).
			Msg("Saga leg completed")
		return
	}

	if leg.Outcome != LegSucceeded {
		c.logger.Warn().
			Str("saga_id", leg.SagaID).
			Str("order_id", leg.OrderID).
			Msg("Saga leg failed, abandoning follow-up")
		return
	}

	if submit == nil {
		c.logger.Error().
			Str("saga_id", leg.SagaID).
			Msg("No submitter wired, dropping follow-up")
		return
	}

	orderID, err := submit(ctx, followUp, leg.SagaID)
	if err != nil {
		c.logger.Error().Err(err).
			Str("saga_id", leg.SagaID).
			Str("follow_up_service", followUp.ServiceID).
			Msg("Failed to submit follow-up order")
		return
	}

	c.logger.Info().
		Str("saga_id", leg.SagaID).
		Str("order_id", orderID).
		Str("follow_up_kind", string(followUp.Kind)).
		Msg("Follow-up order submitted")
}
