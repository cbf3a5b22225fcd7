// Package credentials caches resolved CSP credentials with a TTL.
//
// The cache is sharded so concurrent deployments against different
// providers never serialize on one lock. Expired entries are invisible
// to readers immediately and reclaimed by a background sweeper, which
// re-checks expiry under the shard lock so a concurrent refresh is
// never lost.
package credentials
