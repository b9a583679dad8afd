// Package socialauth links third-party identity provider accounts to local
// accounts and keeps the OpenID handshake single use.
//
// Identity links:
//   - Linker binds one (provider, uid) pair to at most one local account.
//     CreateLink turns a uniqueness conflict into a DuplicateIdentity outcome,
//     so two first logins racing for the same identity end with exactly one
//     link. MayDisconnect and Disconnect refuse to remove the last way an
//     account can log in.
//
// OpenID verification:
//   - Associations keeps provider secrets and treats rows past
//     issued + lifetime as absent, purging them on read.
//   - Nonces consumes (server_url, timestamp, salt) triples exactly once. The
//     atomic insert-if-absent lives in the backend; Nonces adds the clock skew
//     window that makes pruning safe.
//
// Outcomes:
//   - Every condition a handshake signals is an *Outcome of a closed Kind.
//     Drivers branch on Kind or Class and render messages themselves; Rich
//     converts an outcome into a go-errors value for transports.
//
// Backends live in the repository (bun), mongodb, redisstore and memory
// packages; any implementation of LinkStore, AssociationRepository and
// NonceRepository can be swapped in.
package socialauth
