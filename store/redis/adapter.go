package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisgo "github.com/redis/go-redis/v9"

	"github.com/idpkit/idpkit/store"
)

// Adapter persists artifacts of a single model kind in Redis.
type Adapter struct {
	s    *Store
	kind store.Kind
}

var _ store.Adapter = (*Adapter)(nil)

// ============================================================
// Key Helpers
// ============================================================

// key returns the primary key for an artifact: {prefix}{kind}:{id}
func (a *Adapter) key(id string) string {
	return fmt.Sprintf("%s%s:%s", a.s.prefix, a.kind, id)
}

// userCodeKey returns the userCode index key: {prefix}{kind}:userCode:{code}
func (a *Adapter) userCodeKey(code string) string {
	return fmt.Sprintf("%s%s:userCode:%s", a.s.prefix, a.kind, code)
}

// uidKey returns the uid index key: {prefix}{kind}:uid:{uid}
func (a *Adapter) uidKey(uid string) string {
	return fmt.Sprintf("%s%s:uid:%s", a.s.prefix, a.kind, uid)
}

// grantKey returns the grant reverse-index key: {prefix}grant:{grantID}.
// The set holds fully namespaced primary keys because a grant spans kinds.
func (s *Store) grantKey(grantID string) string {
	return fmt.Sprintf("%sgrant:%s", s.prefix, grantID)
}

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================

// consumeScript atomically sets the consumed timestamp on an existing
// record, preserving its remaining TTL. Concurrent consumers must not lose
// the flag to a read-modify-write race, and the first timestamp must win.
//
// KEYS[1] = primary record key
// ARGV[1] = current Unix timestamp in seconds
//
// Returns the record JSON (unchanged if already consumed), or "NOT_FOUND"
// if the key is absent or expired.
var consumeScript = redisgo.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end
local doc = cjson.decode(data)
if doc.consumed then
    return data
end
doc.consumed = tonumber(ARGV[1])
redis.call('SET', KEYS[1], cjson.encode(doc), 'KEEPTTL')
return cjson.encode(doc)
`)

// grantIndexScript adds a primary key to the grant reverse index and
// extends the index expiry to cover the newest member, never shrinking it.
// A member without expiry pins the index forever; a freshly created set
// (sole member is the one just added) adopts the member's TTL.
//
// KEYS[1] = grant set key
// ARGV[1] = namespaced primary key to record
// ARGV[2] = member TTL in seconds, 0 for no expiry
var grantIndexScript = redisgo.NewScript(`
redis.call('SADD', KEYS[1], ARGV[1])
local ttl = tonumber(ARGV[2])
if ttl <= 0 then
    redis.call('PERSIST', KEYS[1])
    return 1
end
local cur = redis.call('TTL', KEYS[1])
if cur >= 0 then
    if ttl > cur then
        redis.call('EXPIRE', KEYS[1], ttl)
    end
elseif redis.call('SCARD', KEYS[1]) == 1 then
    redis.call('EXPIRE', KEYS[1], ttl)
end
return 1
`)

// ============================================================
// store.Adapter implementation
// ============================================================

// Upsert writes the record and maintains its secondary indexes.
func (a *Adapter) Upsert(ctx context.Context, id string, payload store.Payload, expiresIn time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal %s %q: %v", store.ErrMalformedPayload, a.kind, id, err)
	}

	key := a.key(id)
	if err := a.s.client.Set(ctx, key, data, expiresIn).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", store.ErrBackendUnavailable, key, err)
	}

	// Index maintenance is best-effort: the primary record is the source of
	// truth and a missing index entry degrades a lookup to a miss.
	if grantID := payload.GrantID(); grantID != "" {
		grantKey := a.s.grantKey(grantID)
		ttlSeconds := int64(expiresIn / time.Second)
		if err := grantIndexScript.Run(ctx, a.s.client, []string{grantKey}, key, ttlSeconds).Err(); err != nil {
			a.s.logger.Warn("Failed to update grant index",
				"grant_id", grantID,
				"key", key,
				"error", err)
		}
	}

	if code := payload.UserCode(); code != "" {
		if err := a.s.client.Set(ctx, a.userCodeKey(code), id, expiresIn).Err(); err != nil {
			a.s.logger.Warn("Failed to write userCode index",
				"kind", a.kind,
				"id", id,
				"error", err)
		}
	}

	if uid := payload.UID(); uid != "" {
		if err := a.s.client.Set(ctx, a.uidKey(uid), id, expiresIn).Err(); err != nil {
			a.s.logger.Warn("Failed to write uid index",
				"kind", a.kind,
				"id", id,
				"error", err)
		}
	}

	a.s.logger.Debug("Saved artifact", "kind", a.kind, "id", id)
	return nil
}

// Find reads the record by primary id.
func (a *Adapter) Find(ctx context.Context, id string) (store.Payload, error) {
	return a.getPayload(ctx, a.key(id))
}

// FindByUserCode resolves the userCode index, then reads the record. The
// index may briefly dangle past its target; both hops treat absence as a
// miss.
func (a *Adapter) FindByUserCode(ctx context.Context, userCode string) (store.Payload, error) {
	return a.findIndirect(ctx, a.userCodeKey(userCode))
}

// FindByUID resolves the uid index, then reads the record.
func (a *Adapter) FindByUID(ctx context.Context, uid string) (store.Payload, error) {
	return a.findIndirect(ctx, a.uidKey(uid))
}

// Consume sets the consumed timestamp atomically, preserving the record's
// remaining TTL. Idempotent: already-consumed records keep their original
// timestamp and the call still succeeds.
func (a *Adapter) Consume(ctx context.Context, id string) error {
	key := a.key(id)

	res, err := consumeScript.Run(ctx, a.s.client, []string{key}, time.Now().Unix()).Text()
	if err != nil {
		return fmt.Errorf("%w: consume %s: %v", store.ErrBackendUnavailable, key, err)
	}
	if res == "NOT_FOUND" {
		return fmt.Errorf("%w: %s %q", store.ErrNotFound, a.kind, id)
	}
	return nil
}

// Destroy deletes the record and the index entries derived from its
// payload. Deletion is idempotent.
func (a *Adapter) Destroy(ctx context.Context, id string) error {
	keys := []string{a.key(id)}

	// Derive index keys from the stored payload so they go with the record.
	// A missing or unreadable record still gets its primary key deleted.
	payload, err := a.Find(ctx, id)
	switch {
	case err == nil:
		if code := payload.UserCode(); code != "" {
			keys = append(keys, a.userCodeKey(code))
		}
		if uid := payload.UID(); uid != "" {
			keys = append(keys, a.uidKey(uid))
		}
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrMalformedPayload):
		// fall through to the delete
	default:
		return err
	}

	if err := a.s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: del %s: %v", store.ErrBackendUnavailable, keys[0], err)
	}

	a.s.logger.Debug("Destroyed artifact", "kind", a.kind, "id", id)
	return nil
}

// RevokeByGrantID deletes every primary key recorded under the grant,
// across all kinds, and the reverse index itself. A grant with no recorded
// members is a successful no-op. The deletes are not transactional; the
// protocol engine re-validates tokens against their grant before trusting
// them.
func (a *Adapter) RevokeByGrantID(ctx context.Context, grantID string) error {
	grantKey := a.s.grantKey(grantID)

	keys, err := a.s.client.SMembers(ctx, grantKey).Result()
	if err != nil {
		return fmt.Errorf("%w: smembers %s: %v", store.ErrBackendUnavailable, grantKey, err)
	}

	keys = append(keys, grantKey)
	if err := a.s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: del grant %s: %v", store.ErrBackendUnavailable, grantID, err)
	}

	a.s.logger.Debug("Revoked grant", "grant_id", grantID, "artifacts", len(keys)-1)
	return nil
}

// getPayload fetches and decodes a primary record.
func (a *Adapter) getPayload(ctx context.Context, key string) (store.Payload, error) {
	data, err := a.s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redisgo.Nil) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, key)
		}
		return nil, fmt.Errorf("%w: get %s: %v", store.ErrBackendUnavailable, key, err)
	}

	var payload store.Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: unmarshal %s: %v", store.ErrMalformedPayload, key, err)
	}
	return payload, nil
}

// findIndirect resolves a secondary-index key to a primary id, then reads
// the record.
func (a *Adapter) findIndirect(ctx context.Context, indexKey string) (store.Payload, error) {
	id, err := a.s.client.Get(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redisgo.Nil) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, indexKey)
		}
		return nil, fmt.Errorf("%w: get %s: %v", store.ErrBackendUnavailable, indexKey, err)
	}
	return a.Find(ctx, id)
}
