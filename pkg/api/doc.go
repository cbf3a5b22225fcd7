// Package api is the HTTP boundary of the orchestrator: JSON endpoints
// for order submission and queries, instance listings, credential
// upload, and the webhook asynchronous deployers report results to.
//
// The surface is deliberately thin. Handlers decode, call the
// orchestrator, and encode; every business rule lives behind the
// orchestrator, and rejection codes map one to one onto HTTP statuses.
package api
