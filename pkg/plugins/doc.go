// Package plugins defines the per-CSP integration interface and its
// registry. Each plugin adapts one cloud provider: the regions it
// offers, how credentials for it are resolved, and where audit events
// for it go.
package plugins
