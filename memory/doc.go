// Package memory provides in-process socialauth backends for tests, examples
// and single-instance deployments.
//
// Links and accounts sit behind a mutex. Nonces use go-cache so the
// insert-if-absent check is one call, and associations use ttlcache so
// expired secrets are evicted without a prune job.
package memory
