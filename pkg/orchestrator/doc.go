// Package orchestrator is the core of stratus: it accepts lifecycle
// orders, gates them through validation and policy, serializes them
// per service instance, dispatches them to deployers, and applies the
// results to the durable ledger.
//
// Every submission either becomes a persisted order or is rejected
// with a typed RejectionError and leaves no trace. Orders move through
// monotonic phases; the first terminal write wins and later results
// for the same order are ignored, which makes deployer callbacks
// idempotent. Migrations and portings run as two-leg sagas through the
// workflow coordinator.
package orchestrator
