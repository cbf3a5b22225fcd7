// Package deployers defines the adapter boundary between orders and
// the infrastructure tooling that executes them. The terraboot
// subpackage dispatches to a remote executor that reports back through
// the webhook endpoint; the tflocal subpackage runs terraform in
// process and returns synchronously.
package deployers
