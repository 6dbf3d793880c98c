// Package redis provides a Redis-backed implementation of the artifact
// store contract.
//
// All state lives in Redis: primary records are JSON strings under
// kind-namespaced keys with native TTLs, device/user lookup keys are plain
// string indexes carrying the same TTL as the record they point at, and the
// grant reverse index is a set whose expiry only ever extends so it never
// outlives fewer members than it holds.
//
// Consumption marking runs as a Lua script so that concurrent consumers of
// the same single-use artifact cannot lose the consumed flag to a
// read-modify-write race.
//
// Index maintenance is best-effort relative to the primary write. The
// primary record is the source of truth; a missing or dangling index entry
// degrades a lookup to a miss, never to incorrect data.
package redis
