package store

import (
	"context"
	"errors"
	"time"
)

// Kind identifies the model namespace an artifact belongs to. Primary keys
// are namespaced by kind, so two different kinds may reuse the same id
// string without collision.
type Kind string

// Model kinds the protocol engine persists.
const (
	KindAuthorizationCode       Kind = "AuthorizationCode"
	KindAccessToken             Kind = "AccessToken"
	KindRefreshToken            Kind = "RefreshToken"
	KindClientCredentials       Kind = "ClientCredentials"
	KindDeviceCode              Kind = "DeviceCode"
	KindSession                 Kind = "Session"
	KindInteraction             Kind = "Interaction"
	KindClient                  Kind = "Client"
	KindInitialAccessToken      Kind = "InitialAccessToken"
	KindRegistrationAccessToken Kind = "RegistrationAccessToken"
)

// Kinds lists every model namespace the protocol engine persists.
// Used when constructing one adapter per kind at startup.
var Kinds = []Kind{
	KindAuthorizationCode,
	KindAccessToken,
	KindRefreshToken,
	KindClientCredentials,
	KindDeviceCode,
	KindSession,
	KindInteraction,
	KindClient,
	KindInitialAccessToken,
	KindRegistrationAccessToken,
}

// Sentinel errors returned by Adapter implementations. Callers match them
// with errors.Is; implementations wrap them with operation context.
var (
	// ErrNotFound indicates the artifact is absent or expired. Misses are
	// routine (expired codes, wrong uid) and are not logged as failures.
	ErrNotFound = errors.New("artifact not found")

	// ErrBackendUnavailable indicates the remote store could not be reached
	// or timed out. Operations are not retried internally; the protocol
	// engine decides whether the overall request fails.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrMalformedPayload indicates a payload could not be serialized or
	// deserialized. This is a programming-contract violation and is
	// surfaced immediately.
	ErrMalformedPayload = errors.New("malformed artifact payload")
)

// Adapter persists artifacts for a single model kind. All methods are safe
// for concurrent use; the adapter holds no mutable state between calls.
//
// Ordering guarantees are per-key only. Upsert is last-write-wins, Consume
// is an atomic field-set, and RevokeByGrantID is not transactional across
// keys: a caller observing state mid-revocation may briefly see one of
// several now-revoked artifacts as valid.
type Adapter interface {
	// Upsert writes or overwrites the record under the namespaced key.
	// expiresIn bounds the record's lifetime; zero persists the record
	// until it is explicitly destroyed (used for long-lived kinds such as
	// Client). Secondary indexes derived from the payload's reserved
	// fields are maintained best-effort relative to the primary write.
	Upsert(ctx context.Context, id string, payload Payload, expiresIn time.Duration) error

	// Find reads the record by primary id. Returns ErrNotFound if absent
	// or expired. No implicit side effects.
	Find(ctx context.Context, id string) (Payload, error)

	// FindByUserCode resolves the userCode secondary index to a primary id
	// and performs Find. Returns ErrNotFound if either hop misses.
	FindByUserCode(ctx context.Context, userCode string) (Payload, error)

	// FindByUID resolves the uid secondary index to a primary id and
	// performs Find. Returns ErrNotFound if either hop misses.
	FindByUID(ctx context.Context, uid string) (Payload, error)

	// Consume marks the record as used by setting the reserved consumed
	// timestamp in place, preserving the remaining expiry. Idempotent: a
	// second call succeeds and leaves the original timestamp untouched.
	// Returns ErrNotFound if the record is absent or expired.
	Consume(ctx context.Context, id string) error

	// Destroy deletes the primary record and any secondary-index entries
	// pointing at it. Deleting a missing record is not an error.
	Destroy(ctx context.Context, id string) error

	// RevokeByGrantID deletes every artifact recorded under the grant,
	// across all kinds, together with the grant's reverse index. A grant
	// with zero recorded members is a successful no-op.
	RevokeByGrantID(ctx context.Context, grantID string) error
}

// Factory yields one Adapter per model kind. The protocol engine calls this
// once per kind at construction time.
type Factory interface {
	Adapter(kind Kind) Adapter
}
