// Package store defines the persistence contract between the embedded OpenID
// Connect protocol engine and its storage backends.
//
// The engine persists its runtime artifacts (authorization codes, tokens,
// sessions, client registrations) through the Adapter interface. One Adapter
// instance is constructed per model Kind, so the kind never travels as a
// per-call parameter; implementations derive their key namespace from the
// kind they were constructed with.
//
// Payloads are opaque to the store. Only the reserved fields grantId,
// userCode, uid and consumed are interpreted, everything else is passed
// through untouched so engine-defined fields survive round trips.
//
// Implementations are provided in subpackages:
//   - store/redis: Redis-backed storage for production deployments
//   - store/memory: in-memory storage for development and testing
package store
