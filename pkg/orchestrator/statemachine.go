package orchestrator

import (
	"github.com/openstratus/stratus/pkg/stores"
)

// allowedStates maps each order kind to the instance states it may be
// submitted from. Deploy is absent: it creates the instance, and a
// retry from deploy_failed is handled explicitly.
var allowedStates = map[stores.OrderKind][]stores.DeploymentState{
	stores.OrderKindModify: {
		stores.StateDeployed,
		stores.StateModifyFailed,
	},
	stores.OrderKindDestroy: {
		stores.StateDeployed,
		stores.StateDeployFailed,
		stores.StateModifyFailed,
		stores.StateDestroyFailed,
	},
	stores.OrderKindMigrate: {
		stores.StateDeployed,
	},
	stores.OrderKindPort: {
		stores.StateDeployed,
	},
	stores.OrderKindPurge: {
		stores.StateDestroyed,
		stores.StateDestroyFailed,
		stores.StateDeployFailed,
	},
}

// kindAllowed reports whether an order kind may run against an
// instance in the given state.
func kindAllowed(kind stores.OrderKind, state stores.DeploymentState) bool {
	for _, s := range allowedStates[kind] {
		if s == state {
			return true
		}
	}
	return false
}

// transitionalState is the instance state while an order of the kind
// is in flight.
func transitionalState(kind stores.OrderKind) stores.DeploymentState {
	switch kind {
	case stores.OrderKindDeploy, stores.OrderKindMigrate, stores.OrderKindPort:
		return stores.StateDeploying
	case stores.OrderKindModify:
		return stores.StateModifying
	case stores.OrderKindDestroy:
		return stores.StateDestroying
	default:
		return ""
	}
}

// successState is the instance state after an order of the kind
// completes successfully.
func successState(kind stores.OrderKind) stores.DeploymentState {
	switch kind {
	case stores.OrderKindDeploy, stores.OrderKindModify,
		stores.OrderKindMigrate, stores.OrderKindPort:
		return stores.StateDeployed
	case stores.OrderKindDestroy:
		return stores.StateDestroyed
	default:
		return ""
	}
}

// failureState is the instance state after an order of the kind fails.
func failureState(kind stores.OrderKind) stores.DeploymentState {
	switch kind {
	case stores.OrderKindDeploy, stores.OrderKindMigrate, stores.OrderKindPort:
		return stores.StateDeployFailed
	case stores.OrderKindModify:
		return stores.StateModifyFailed
	case stores.OrderKindDestroy:
		return stores.StateDestroyFailed
	default:
		return ""
	}
}

// deployerOperation maps an order kind onto the operation the deployer
// runs for it.
func deployerOperation(kind stores.OrderKind) string {
	switch kind {
	case stores.OrderKindDestroy:
		return "destroy"
	case stores.OrderKindModify:
		return "modify"
	default:
		return "deploy"
	}
}
