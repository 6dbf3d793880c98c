package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisgo "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idpkit/idpkit/store"
)

// testStore creates a store backed by an in-process miniredis instance.
func testStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redisgo.NewClient(&redisgo.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewWithClient(client, "test:"), mr
}

func TestUpsertAndFindWithoutExpiry(t *testing.T) {
	s, mr := testStore(t)
	ctx := context.Background()
	adapter := s.Adapter(store.KindClient)

	payload := store.Payload{
		"client_id":     "web-app",
		"redirect_uris": []any{"https://app.example.com/cb"},
	}
	require.NoError(t, adapter.Upsert(ctx, "web-app", payload, 0))

	// No backend expiry: the record persists until explicitly destroyed.
	mr.FastForward(365 * 24 * time.Hour)

	got, err := adapter.Find(ctx, "web-app")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFindHonorsExpiry(t *testing.T) {
	s, mr := testStore(t)
	ctx := context.Background()
	adapter := s.Adapter(store.KindAuthorizationCode)

	require.NoError(t, adapter.Upsert(ctx, "abc123", store.Payload{"sub": "user-1"}, 600*time.Second))

	got, err := adapter.Find(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got["sub"])

	mr.FastForward(601 * time.Second)

	_, err = adapter.Find(ctx, "abc123")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestKindsNamespaceSameID(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	codes := s.Adapter(store.KindAuthorizationCode)
	tokens := s.Adapter(store.KindAccessToken)

	require.NoError(t, codes.Upsert(ctx, "shared-id", store.Payload{"kind": "code"}, time.Minute))
	require.NoError(t, tokens.Upsert(ctx, "shared-id", store.Payload{"kind": "token"}, time.Minute))

	code, err := codes.Find(ctx, "shared-id")
	require.NoError(t, err)
	token, err := tokens.Find(ctx, "shared-id")
	require.NoError(t, err)

	assert.Equal(t, "code", code["kind"])
	assert.Equal(t, "token", token["kind"])
}

func TestUpsertOverwrites(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	adapter := s.Adapter(store.KindSession)

	require.NoError(t, adapter.Upsert(ctx, "sess-1", store.Payload{"v": "first"}, time.Hour))
	require.NoError(t, adapter.Upsert(ctx, "sess-1", store.Payload{"v": "second"}, time.Hour))

	got, err := adapter.Find(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "second", got["v"])
}

func TestDestroyIsIdempotent(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	adapter := s.Adapter(store.KindAccessToken)

	require.NoError(t, adapter.Upsert(ctx, "tok-1", store.Payload{"sub": "u"}, time.Hour))
	require.NoError(t, adapter.Destroy(ctx, "tok-1"))

	_, err := adapter.Find(ctx, "tok-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Deleting a missing record is not an error.
	require.NoError(t, adapter.Destroy(ctx, "tok-1"))
	require.NoError(t, adapter.Destroy(ctx, "never-existed"))
}

func TestDestroyRemovesSecondaryIndexes(t *testing.T) {
	s, mr := testStore(t)
	ctx := context.Background()
	adapter := s.Adapter(store.KindDeviceCode)

	payload := store.Payload{"userCode": "WDJB-MJHT", "uid": "dev-uid"}
	require.NoError(t, adapter.Upsert(ctx, "dev-1", payload, time.Hour))
	require.NoError(t, adapter.Destroy(ctx, "dev-1"))

	assert.False(t, mr.Exists("test:DeviceCode:userCode:WDJB-MJHT"))
	assert.False(t, mr.Exists("test:DeviceCode:uid:dev-uid"))

	_, err := adapter.FindByUserCode(ctx, "WDJB-MJHT")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = adapter.FindByUID(ctx, "dev-uid")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConsumeSetsTimestampOnce(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	adapter := s.Adapter(store.KindAuthorizationCode)

	require.NoError(t, adapter.Upsert(ctx, "abc123", store.Payload{"sub": "u"}, 600*time.Second))

	before, err := adapter.Find(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, before.IsConsumed())

	require.NoError(t, adapter.Consume(ctx, "abc123"))

	after, err := adapter.Find(ctx, "abc123")
	require.NoError(t, err)
	first, ok := after.Consumed()
	require.True(t, ok)
	assert.Equal(t, "u", after["sub"])

	// Idempotent: a second consumption succeeds and keeps the first timestamp.
	require.NoError(t, adapter.Consume(ctx, "abc123"))

	again, err := adapter.Find(ctx, "abc123")
	require.NoError(t, err)
	second, ok := again.Consumed()
	require.True(t, ok)
	assert.Equal(t, first, second)
}

func TestConsumePreservesRemainingTTL(t *testing.T) {
	s, mr := testStore(t)
	ctx := context.Background()
	adapter := s.Adapter(store.KindAuthorizationCode)

	require.NoError(t, adapter.Upsert(ctx, "abc123", store.Payload{"sub": "u"}, 600*time.Second))

	mr.FastForward(200 * time.Second)
	require.NoError(t, adapter.Consume(ctx, "abc123"))

	ttl := mr.TTL("test:AuthorizationCode:abc123")
	assert.LessOrEqual(t, ttl, 400*time.Second)
	assert.Greater(t, ttl, 300*time.Second)
}

func TestConsumeMissingRecord(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	adapter := s.Adapter(store.KindRefreshToken)

	err := adapter.Consume(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFindByUserCodeResolvesPrimary(t *testing.T) {
	s, mr := testStore(t)
	ctx := context.Background()
	adapter := s.Adapter(store.KindDeviceCode)

	payload := store.Payload{"userCode": "WDJB-MJHT", "scope": "openid"}
	require.NoError(t, adapter.Upsert(ctx, "dev-1", payload, 600*time.Second))

	byCode, err := adapter.FindByUserCode(ctx, "WDJB-MJHT")
	require.NoError(t, err)
	byID, err := adapter.Find(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, byID, byCode)

	// After the primary expires the index entry must not dangle into a hit.
	mr.FastForward(601 * time.Second)
	_, err = adapter.FindByUserCode(ctx, "WDJB-MJHT")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFindByUIDResolvesPrimary(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	adapter := s.Adapter(store.KindSession)

	require.NoError(t, adapter.Upsert(ctx, "sess-1", store.Payload{"uid": "u-77", "sub": "user-1"}, time.Hour))

	got, err := adapter.FindByUID(ctx, "u-77")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got["sub"])
}

func TestFindByUserCodeDanglingIndex(t *testing.T) {
	s, mr := testStore(t)
	ctx := context.Background()
	adapter := s.Adapter(store.KindDeviceCode)

	require.NoError(t, adapter.Upsert(ctx, "dev-1", store.Payload{"userCode": "WDJB-MJHT"}, time.Hour))

	// Delete only the primary record, leaving the index pointing at nothing.
	mr.Del("test:DeviceCode:dev-1")

	_, err := adapter.FindByUserCode(ctx, "WDJB-MJHT")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRevokeByGrantIDAcrossKinds(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	tokens := s.Adapter(store.KindAccessToken)
	refresh := s.Adapter(store.KindRefreshToken)
	codes := s.Adapter(store.KindAuthorizationCode)

	require.NoError(t, tokens.Upsert(ctx, "at-1", store.Payload{"grantId": "g1"}, time.Hour))
	require.NoError(t, refresh.Upsert(ctx, "rt-1", store.Payload{"grantId": "g1"}, 24*time.Hour))
	require.NoError(t, codes.Upsert(ctx, "other", store.Payload{"grantId": "g2"}, time.Hour))

	// Revocation through any kind's adapter invalidates the whole grant,
	// regardless of each record's own remaining TTL.
	require.NoError(t, tokens.RevokeByGrantID(ctx, "g1"))

	_, err := tokens.Find(ctx, "at-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = refresh.Find(ctx, "rt-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Artifacts under other grants are untouched.
	_, err = codes.Find(ctx, "other")
	require.NoError(t, err)
}

func TestRevokeByGrantIDEmptyGrant(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	adapter := s.Adapter(store.KindAccessToken)

	require.NoError(t, adapter.RevokeByGrantID(ctx, "no-such-grant"))
}

func TestGrantIndexExpiryOnlyExtends(t *testing.T) {
	s, mr := testStore(t)
	ctx := context.Background()
	adapter := s.Adapter(store.KindAccessToken)

	require.NoError(t, adapter.Upsert(ctx, "at-1", store.Payload{"grantId": "g1"}, 600*time.Second))
	assert.InDelta(t, 600, mr.TTL("test:grant:g1").Seconds(), 1)

	// A longer-lived member extends the index.
	require.NoError(t, adapter.Upsert(ctx, "at-2", store.Payload{"grantId": "g1"}, 3600*time.Second))
	assert.InDelta(t, 3600, mr.TTL("test:grant:g1").Seconds(), 1)

	// A shorter-lived member never shrinks it.
	require.NoError(t, adapter.Upsert(ctx, "at-3", store.Payload{"grantId": "g1"}, 60*time.Second))
	assert.InDelta(t, 3600, mr.TTL("test:grant:g1").Seconds(), 1)
}

func TestGrantIndexPersistsForUnexpiringMember(t *testing.T) {
	s, mr := testStore(t)
	ctx := context.Background()

	tokens := s.Adapter(store.KindAccessToken)
	clients := s.Adapter(store.KindClient)

	require.NoError(t, tokens.Upsert(ctx, "at-1", store.Payload{"grantId": "g1"}, 600*time.Second))
	require.NoError(t, clients.Upsert(ctx, "c-1", store.Payload{"grantId": "g1"}, 0))

	// A member without expiry pins the index so revocation keeps working.
	assert.Equal(t, time.Duration(0), mr.TTL("test:grant:g1"))

	require.NoError(t, tokens.Upsert(ctx, "at-2", store.Payload{"grantId": "g1"}, 60*time.Second))
	assert.Equal(t, time.Duration(0), mr.TTL("test:grant:g1"))
}

func TestAuthorizationCodeLifecycle(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	adapter := s.Adapter(store.KindAuthorizationCode)

	require.NoError(t, adapter.Upsert(ctx, "abc123", store.Payload{"grantId": "g1"}, 600*time.Second))

	got, err := adapter.Find(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "g1", got.GrantID())

	require.NoError(t, adapter.Consume(ctx, "abc123"))

	consumed, err := adapter.Find(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, consumed.IsConsumed())

	require.NoError(t, adapter.RevokeByGrantID(ctx, "g1"))

	_, err = adapter.Find(ctx, "abc123")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFindMalformedPayload(t *testing.T) {
	s, mr := testStore(t)
	ctx := context.Background()
	adapter := s.Adapter(store.KindSession)

	require.NoError(t, mr.Set("test:Session:bad", "not-json"))

	_, err := adapter.Find(ctx, "bad")
	assert.ErrorIs(t, err, store.ErrMalformedPayload)
}

func TestBackendUnavailable(t *testing.T) {
	s, mr := testStore(t)
	ctx := context.Background()
	adapter := s.Adapter(store.KindAccessToken)

	require.NoError(t, adapter.Upsert(ctx, "at-1", store.Payload{"sub": "u"}, time.Hour))
	mr.Close()

	_, err := adapter.Find(ctx, "at-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrBackendUnavailable)
	assert.False(t, errors.Is(err, store.ErrNotFound))

	err = adapter.Upsert(ctx, "at-2", store.Payload{"sub": "u"}, time.Hour)
	assert.ErrorIs(t, err, store.ErrBackendUnavailable)
}

func TestUpsertInvalidPayload(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	adapter := s.Adapter(store.KindSession)

	err := adapter.Upsert(ctx, "bad", store.Payload{"ch": make(chan int)}, time.Hour)
	assert.ErrorIs(t, err, store.ErrMalformedPayload)
}
