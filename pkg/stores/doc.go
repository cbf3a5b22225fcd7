// Package stores provides the durable order ledger and service instance
// table for Stratus, backed by SQLite.
//
// The ledger is append-mostly: orders are inserted once and only their
// phase, error detail and completion timestamp ever change, through
// AdvanceOrderPhase, which enforces monotonic phase transitions in SQL.
// A terminal order row is never mutated again, so duplicate webhook
// deliveries and racing completion paths resolve to first-write-wins
// without application-level locking.
//
// Migrations are embedded in the binary and applied with golang-migrate
// on startup.
package stores
