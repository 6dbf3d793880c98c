package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/idpkit/idpkit/store"
)

// defaultJanitorInterval is how often expired records are reclaimed.
const defaultJanitorInterval = time.Minute

// record is a stored artifact. The payload is kept serialized so reads
// return independent copies and decode errors surface the same way the
// Redis backend surfaces them.
type record struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
}

func (r *record) expired(now time.Time) bool {
	return !r.expiresAt.IsZero() && now.After(r.expiresAt)
}

// index is a secondary-index entry carrying the same deadline as the
// record it points at.
type index struct {
	id        string
	expiresAt time.Time
}

func (i *index) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && now.After(i.expiresAt)
}

// Store is an in-memory implementation of all artifact storage. It is safe
// for concurrent use.
type Store struct {
	mu        sync.RWMutex
	records   map[string]*record  // {kind}:{id}
	userCodes map[string]*index   // {kind}:userCode:{code}
	uids      map[string]*index   // {kind}:uid:{uid}
	grants    map[string][]string // grantID -> record keys

	logger *slog.Logger

	stopJanitor chan struct{}
	stopOnce    sync.Once
}

var _ store.Factory = (*Store)(nil)

// New creates an in-memory store and starts its cleanup janitor.
func New() *Store {
	s := &Store{
		records:     make(map[string]*record),
		userCodes:   make(map[string]*index),
		uids:        make(map[string]*index),
		grants:      make(map[string][]string),
		logger:      slog.Default(),
		stopJanitor: make(chan struct{}),
	}
	go s.janitor(defaultJanitorInterval)
	return s
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Stop terminates the cleanup janitor.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopJanitor) })
}

// Adapter returns the artifact adapter bound to the given model kind.
func (s *Store) Adapter(kind store.Kind) store.Adapter {
	return &Adapter{s: s, kind: kind}
}

func (s *Store) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(time.Now())
		case <-s.stopJanitor:
			return
		}
	}
}

// sweep removes expired records and index entries.
func (s *Store) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, r := range s.records {
		if r.expired(now) {
			delete(s.records, key)
			removed++
		}
	}
	for key, i := range s.userCodes {
		if i.expired(now) {
			delete(s.userCodes, key)
		}
	}
	for key, i := range s.uids {
		if i.expired(now) {
			delete(s.uids, key)
		}
	}
	if removed > 0 {
		s.logger.Debug("Reclaimed expired artifacts", "count", removed)
	}
}

// Adapter persists artifacts of a single model kind in the parent store.
type Adapter struct {
	s    *Store
	kind store.Kind
}

var _ store.Adapter = (*Adapter)(nil)

func (a *Adapter) key(id string) string {
	return fmt.Sprintf("%s:%s", a.kind, id)
}

func (a *Adapter) userCodeKey(code string) string {
	return fmt.Sprintf("%s:userCode:%s", a.kind, code)
}

func (a *Adapter) uidKey(uid string) string {
	return fmt.Sprintf("%s:uid:%s", a.kind, uid)
}

// Upsert writes the record and maintains its secondary indexes.
func (a *Adapter) Upsert(_ context.Context, id string, payload store.Payload, expiresIn time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal %s %q: %v", store.ErrMalformedPayload, a.kind, id, err)
	}

	var deadline time.Time
	if expiresIn > 0 {
		deadline = time.Now().Add(expiresIn)
	}
	key := a.key(id)

	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	a.s.records[key] = &record{data: data, expiresAt: deadline}

	if grantID := payload.GrantID(); grantID != "" {
		members := a.s.grants[grantID]
		found := false
		for _, m := range members {
			if m == key {
				found = true
				break
			}
		}
		if !found {
			a.s.grants[grantID] = append(members, key)
		}
	}
	if code := payload.UserCode(); code != "" {
		a.s.userCodes[a.userCodeKey(code)] = &index{id: id, expiresAt: deadline}
	}
	if uid := payload.UID(); uid != "" {
		a.s.uids[a.uidKey(uid)] = &index{id: id, expiresAt: deadline}
	}
	return nil
}

// Find reads the record by primary id.
func (a *Adapter) Find(_ context.Context, id string) (store.Payload, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	return a.findLocked(id)
}

func (a *Adapter) findLocked(id string) (store.Payload, error) {
	key := a.key(id)
	r, ok := a.s.records[key]
	if !ok || r.expired(time.Now()) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, key)
	}

	var payload store.Payload
	if err := json.Unmarshal(r.data, &payload); err != nil {
		return nil, fmt.Errorf("%w: unmarshal %s: %v", store.ErrMalformedPayload, key, err)
	}
	return payload, nil
}

// FindByUserCode resolves the userCode index, then reads the record.
func (a *Adapter) FindByUserCode(_ context.Context, userCode string) (store.Payload, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	return a.findIndirectLocked(a.s.userCodes, a.userCodeKey(userCode))
}

// FindByUID resolves the uid index, then reads the record.
func (a *Adapter) FindByUID(_ context.Context, uid string) (store.Payload, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	return a.findIndirectLocked(a.s.uids, a.uidKey(uid))
}

func (a *Adapter) findIndirectLocked(indexes map[string]*index, key string) (store.Payload, error) {
	i, ok := indexes[key]
	if !ok || i.expired(time.Now()) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, key)
	}
	return a.findLocked(i.id)
}

// Consume sets the consumed timestamp in place under the write lock,
// preserving the record's deadline. Idempotent.
func (a *Adapter) Consume(_ context.Context, id string) error {
	key := a.key(id)

	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	r, ok := a.s.records[key]
	if !ok || r.expired(time.Now()) {
		return fmt.Errorf("%w: %s", store.ErrNotFound, key)
	}

	var payload store.Payload
	if err := json.Unmarshal(r.data, &payload); err != nil {
		return fmt.Errorf("%w: unmarshal %s: %v", store.ErrMalformedPayload, key, err)
	}
	if payload.IsConsumed() {
		return nil
	}

	payload[store.FieldConsumed] = time.Now().Unix()
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %v", store.ErrMalformedPayload, key, err)
	}
	r.data = data
	return nil
}

// Destroy deletes the record and the index entries derived from its payload.
func (a *Adapter) Destroy(_ context.Context, id string) error {
	key := a.key(id)

	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	if r, ok := a.s.records[key]; ok {
		var payload store.Payload
		if err := json.Unmarshal(r.data, &payload); err == nil {
			if code := payload.UserCode(); code != "" {
				delete(a.s.userCodes, a.userCodeKey(code))
			}
			if uid := payload.UID(); uid != "" {
				delete(a.s.uids, a.uidKey(uid))
			}
		}
	}
	delete(a.s.records, key)
	return nil
}

// RevokeByGrantID deletes every record listed under the grant, across all
// kinds, and forgets the grant itself.
func (a *Adapter) RevokeByGrantID(_ context.Context, grantID string) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	for _, key := range a.s.grants[grantID] {
		delete(a.s.records, key)
	}
	delete(a.s.grants, grantID)
	return nil
}
