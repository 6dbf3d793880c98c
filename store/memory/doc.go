// Package memory provides an in-memory implementation of the artifact
// store contract.
//
// Records are held in mutex-protected maps with per-record deadlines that
// are honored on read, so behavior matches the Redis backend without a
// janitor having run. A background janitor reclaims expired records; call
// Stop when the store is no longer needed.
//
// Suitable for development, testing, and single-instance deployments where
// persistence is not required. Production deployments should use
// store/redis instead.
package memory
