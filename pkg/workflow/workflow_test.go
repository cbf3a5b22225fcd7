package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openstratus/stratus/pkg/stores"
)

func TestCoordinatorSubmitsFollowUp(t *testing.T) {
	coord := NewCoordinator(zerolog.Nop())

	var submitted []string
	coord.SetSubmitter(func(_ context.Context, followUp FollowUp, sagaID string) (string, error) {
		submitted = append(submitted, followUp.ServiceID)
		if followUp.Kind != stores.OrderKindDestroy {
			t.Errorf("Expected destroy follow-up, got %s", followUp.Kind)
		}
		if sagaID != "saga-1" {
			t.Errorf("Expected saga-1, got %s", sagaID)
		}
		return "ord-2", nil
	})

	coord.Begin("saga-1", FollowUp{ServiceID: "svc-old", Kind: stores.OrderKindDestroy})
	if !coord.Pending("saga-1") {
		t.Fatal("Expected saga to be pending")
	}

	coord.LegCompleted(context.Background(), Leg{
		SagaID:    "saga-1",
		OrderID:   "ord-1",
		ServiceID: "svc-new",
		Kind:      stores.OrderKindMigrate,
		Outcome:   LegSucceeded,
	})

	if len(submitted) != 1 || submitted[0] != "svc-old" {
		t.Errorf("Expected follow-up against svc-old, got %v", submitted)
	}
	if coord.Pending("saga-1") {
		t.Error("Expected saga to be consumed")
	}

	// The second leg completing must not resubmit.
	coord.LegCompleted(context.Background(), Leg{
		SagaID:  "saga-1",
		OrderID: "ord-2",
		Kind:    stores.OrderKindDestroy,
		Outcome: LegSucceeded,
	})
	if len(submitted) != 1 {
		t.Errorf("Expected no resubmission, got %d", len(submitted))
	}
}

func TestCoordinatorAbandonsOnFailedLeg(t *testing.T) {
	coord := NewCoordinator(zerolog.Nop())

	called := false
	coord.SetSubmitter(func(context.Context, FollowUp, string) (string, error) {
		called = true
		return "", nil
	})

	coord.Begin("saga-1", FollowUp{ServiceID: "svc-old", Kind: stores.OrderKindDestroy})
	coord.LegCompleted(context.Background(), Leg{
		SagaID:  "saga-1",
		OrderID: "ord-1",
		Outcome: LegFailed,
	})

	if called {
		t.Error("Failed first leg must not trigger the follow-up")
	}
	if coord.Pending("saga-1") {
		t.Error("Expected abandoned saga to be dropped")
	}
}

func TestCoordinatorIgnoresNonSagaLegs(t *testing.T) {
	coord := NewCoordinator(zerolog.Nop())
	coord.SetSubmitter(func(context.Context, FollowUp, string) (string, error) {
		t.Error("Submitter must not run for non-saga orders")
		return "", nil
	})

	coord.LegCompleted(context.Background(), Leg{OrderID: "ord-1", Outcome: LegSucceeded})
}

func TestCoordinatorSubmitErrorIsSwallowed(t *testing.T) {
	coord := NewCoordinator(zerolog.Nop())
	coord.SetSubmitter(func(context.Context, FollowUp, string) (string, error) {
		return "", errors.New("service locked")
	})

	coord.Begin("saga-1", FollowUp{ServiceID: "svc-old", Kind: stores.OrderKindDestroy})

	// Must not panic; the error is logged and the saga dropped.
	coord.LegCompleted(context.Background(), Leg{
		SagaID:  "saga-1",
		Outcome: LegSucceeded,
	})
	if coord.Pending("saga-1") {
		t.Error("Expected saga to be dropped after submit failure")
	}
}
