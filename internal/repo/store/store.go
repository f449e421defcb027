package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/edirooss/playout-server/internal/domain/channel"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultKeyPrefix namespaces settings documents in Redis.
const DefaultKeyPrefix = "playout:settings:"

// SettingsStore maintains channel settings in an ordered slice (by monotonic ID)
// with O(1) access via an ID→pointer map, an ID→position map and a
// service→ID index.
//
// Deployment & Operational Model:
//   - Single-process, single-node deployment.
//   - Design assumes **exclusive process ownership** of keyPrefix.
//
// Concurrency Model:
//   - Thread-safe for concurrent use by multiple goroutines within a single process.
//   - Writes are serialized by a write mutex that also encompasses Redis I/O ordering.
//   - Readers use an RWMutex for in-memory access and remain unblocked during Redis I/O.
//
// Consistency Model:
//   - Redis is the **source of truth** (one JSON document per ID).
//   - RAM holds a materialized, read-optimized state, mutated only after Redis accepted the write.
//   - Records are values; callers never share live objects with the store.
//
// Uniqueness:
//   - No two records share an engine service (compared case-insensitively).
//
// ID Allocation:
//   - Redis INCR on `<keyPrefix>id_seq`; monotonic, never recycled, gap-tolerant.
type SettingsStore struct {
	log       *zap.Logger
	rdb       *redis.Client // system of record; documents only
	keyPrefix string        // e.g. playout:settings:  → JSON(channel.Settings) under <prefix><id>

	writeMu sync.Mutex   // serializes write operations (including Redis I/O ordering)
	stateRW sync.RWMutex // protects in-memory state during reads/writes

	byID      map[int64]*channel.Settings // id -> record
	pos       map[int64]int               // id -> index into ordered list
	list      []*channel.Settings         // ordered list; sorted by id
	byService map[string]int64            // service key -> id
}

// NewSettingsStore constructs a ready-to-use SettingsStore.
// On initialization, reconciles any existing Redis state under keyPrefix
// into the in-memory state.
func NewSettingsStore(ctx context.Context, log *zap.Logger, rdb *redis.Client, keyPrefix string) (*SettingsStore, error) {
	if rdb == nil {
		return nil, errors.New("nil redis client")
	}
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	if !strings.HasSuffix(keyPrefix, ":") {
		keyPrefix = keyPrefix + ":"
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &SettingsStore{
		log:       log.Named("settings_store"),
		rdb:       rdb,
		keyPrefix: keyPrefix,
		byID:      make(map[int64]*channel.Settings),
		pos:       make(map[int64]int),
		list:      make([]*channel.Settings, 0),
		byService: make(map[string]int64),
	}

	if err := s.reconcile(ctx); err != nil {
		return nil, fmt.Errorf("%w: reconcile: %w", channel.ErrStore, err)
	}
	return s, nil
}

// Create inserts rec under a fresh ID and returns the stored value.
// rec.ID is ignored.
func (s *SettingsStore) Create(ctx context.Context, rec channel.Settings) (channel.Settings, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if owner, ok := s.ownerOf(rec.EngineService); ok {
		return channel.Settings{}, fmt.Errorf("%w: %s (id %d)", channel.ErrServiceInUse, rec.EngineService, owner)
	}

	id, err := s.rdb.Incr(ctx, sequenceKey(s.keyPrefix)).Result()
	if err != nil {
		return channel.Settings{}, fmt.Errorf("%w: generate id via INCR: %w", channel.ErrStore, err)
	}
	rec.ID = id

	if err := s.persistRecord(ctx, &rec); err != nil {
		return channel.Settings{}, fmt.Errorf("%w: persist: %w", channel.ErrStore, err)
	}

	stored := rec
	s.stateRW.Lock()
	idx := len(s.list)
	s.list = append(s.list, &stored)
	s.byID[id] = &stored
	s.pos[id] = idx
	s.byService[serviceKey(stored.EngineService)] = id
	s.stateRW.Unlock()

	return stored, nil
}

// Update applies patch to the record with id and returns the new value.
func (s *SettingsStore) Update(ctx context.Context, id int64, patch channel.SettingsPatch) (channel.Settings, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.stateRW.RLock()
	existing, ok := s.byID[id]
	s.stateRW.RUnlock()
	if !ok || existing == nil {
		return channel.Settings{}, fmt.Errorf("id %d: %w", id, channel.ErrNotFound)
	}

	next := patch.Apply(*existing)
	if owner, ok := s.ownerOf(next.EngineService); ok && owner != id {
		return channel.Settings{}, fmt.Errorf("%w: %s (id %d)", channel.ErrServiceInUse, next.EngineService, owner)
	}
	if next == *existing {
		return next, nil
	}

	if err := s.persistRecord(ctx, &next); err != nil {
		return channel.Settings{}, fmt.Errorf("%w: persist: %w", channel.ErrStore, err)
	}

	stored := next
	s.stateRW.Lock()
	delete(s.byService, serviceKey(existing.EngineService))
	s.byService[serviceKey(stored.EngineService)] = id
	s.byID[id] = &stored
	s.list[s.pos[id]] = &stored
	s.stateRW.Unlock()

	return stored, nil
}

// Delete removes the record with id and compacts the ordered list.
// Returns the deleted value.
func (s *SettingsStore) Delete(ctx context.Context, id int64) (channel.Settings, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.stateRW.RLock()
	rec, ok := s.byID[id]
	var delIdx int
	if ok && rec != nil {
		delIdx, ok = s.pos[id]
	}
	s.stateRW.RUnlock()
	if !ok || rec == nil {
		return channel.Settings{}, fmt.Errorf("id %d: %w", id, channel.ErrNotFound)
	}

	if err := s.rdb.Del(ctx, recordKey(s.keyPrefix, id)).Err(); err != nil {
		return channel.Settings{}, fmt.Errorf("%w: del: %w", channel.ErrStore, err)
	}

	s.stateRW.Lock()
	last := len(s.list) - 1
	copy(s.list[delIdx:], s.list[delIdx+1:])
	s.list[last] = nil
	s.list = s.list[:last]

	delete(s.byID, id)
	delete(s.pos, id)
	delete(s.byService, serviceKey(rec.EngineService))

	for i := delIdx; i < len(s.list); i++ {
		s.pos[s.list[i].ID] = i
	}
	s.stateRW.Unlock()

	return *rec, nil
}

// GetOne returns the record for id.
func (s *SettingsStore) GetOne(id int64) (channel.Settings, error) {
	s.stateRW.RLock()
	rec, ok := s.byID[id]
	s.stateRW.RUnlock()
	if !ok || rec == nil {
		return channel.Settings{}, fmt.Errorf("id %d: %w", id, channel.ErrNotFound)
	}
	return *rec, nil
}

// GetList returns all records in ascending ID order.
func (s *SettingsStore) GetList() []channel.Settings {
	s.stateRW.RLock()
	defer s.stateRW.RUnlock()

	out := make([]channel.Settings, len(s.list))
	for i := range s.list {
		out[i] = *s.list[i]
	}
	return out
}

// FindByService returns the record owning the engine service.
func (s *SettingsStore) FindByService(service string) (channel.Settings, bool) {
	s.stateRW.RLock()
	defer s.stateRW.RUnlock()

	id, ok := s.byService[serviceKey(service)]
	if !ok {
		return channel.Settings{}, false
	}
	return *s.byID[id], true
}

func (s *SettingsStore) ownerOf(service string) (int64, bool) {
	s.stateRW.RLock()
	defer s.stateRW.RUnlock()
	id, ok := s.byService[serviceKey(service)]
	return id, ok
}

// persistRecord writes the document under <keyPrefix><id>.
func (s *SettingsStore) persistRecord(ctx context.Context, rec *channel.Settings) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := s.rdb.Set(ctx, recordKey(s.keyPrefix, rec.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("set: %w", err)
	}
	return nil
}

// --- helpers ---

func recordKey(keyPrefix string, id int64) string { return keyPrefix + strconv.FormatInt(id, 10) }
func sequenceKey(keyPrefix string) string         { return keyPrefix + "id_seq" }

func serviceKey(service string) string {
	if ref, err := channel.ParseServiceRef(service); err == nil {
		return ref.Key()
	}
	return strings.ToLower(strings.TrimSpace(service))
}

// reconcile scans Redis for existing documents under the keyPrefix, reconstructs
// the in-memory state, and publishes it before the store accepts operations.
// The only write is advancing the ID sequence past the highest recovered ID.
//
// Error Policy:
//   - Fatal: Redis connectivity issues.
//   - Recoverable: non-conforming keys under prefix; per-record JSON parse errors;
//     invalid/mismatched IDs; duplicate engine services. These are logged and skipped.
func (s *SettingsStore) reconcile(ctx context.Context) error {
	start := time.Now()
	seqKey := sequenceKey(s.keyPrefix)
	pattern := s.keyPrefix + "*"

	s.log.Info("reconcile: start",
		zap.String("prefix", s.keyPrefix),
		zap.String("pattern", pattern),
	)

	errs := 0
	var keys []string
	idByKey := make(map[string]int64)
	iter := s.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if k == seqKey {
			continue
		}
		// Keys must have a strictly numeric suffix; otherwise treat as collision.
		suffix := strings.TrimPrefix(k, s.keyPrefix)
		id, err := strconv.ParseInt(suffix, 10, 64)
		if err != nil || id <= 0 {
			s.log.Warn("reconcile: keyPrefix collision detected (non-conforming key); skipping",
				zap.String("key", k),
				zap.String("prefix", s.keyPrefix),
			)
			errs++
			continue
		}
		idByKey[k] = id
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}

	records := make([]*channel.Settings, 0, len(keys))
	if len(keys) > 0 {
		vals, err := s.rdb.MGet(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("redis mget: %w", err)
		}

		for i, raw := range vals {
			key := keys[i]
			str, ok := raw.(string)
			if !ok {
				s.log.Warn("reconcile: missing value; skipping", zap.String("key", key))
				errs++
				continue
			}

			var rec channel.Settings
			if err := json.Unmarshal([]byte(str), &rec); err != nil {
				s.log.Warn("reconcile: deserialization failed; skipping",
					zap.String("key", key),
					zap.Error(err),
				)
				errs++
				continue
			}
			if rec.ID != idByKey[key] {
				s.log.Warn("reconcile: id mismatch; skipping",
					zap.String("key", key),
					zap.Int64("expected_id", idByKey[key]),
					zap.Int64("doc_id", rec.ID),
				)
				errs++
				continue
			}

			rr := rec
			records = append(records, &rr)
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	newByID := make(map[int64]*channel.Settings, len(records))
	newPos := make(map[int64]int, len(records))
	newList := make([]*channel.Settings, 0, len(records))
	newByService := make(map[string]int64, len(records))

	for _, rec := range records {
		sk := serviceKey(rec.EngineService)
		if owner, dup := newByService[sk]; dup {
			s.log.Warn("reconcile: duplicate engine service; skipping",
				zap.Int64("id", rec.ID),
				zap.Int64("owner_id", owner),
				zap.String("service", rec.EngineService),
			)
			errs++
			continue
		}
		newByService[sk] = rec.ID
		newByID[rec.ID] = rec
		newPos[rec.ID] = len(newList)
		newList = append(newList, rec)
	}

	// Advance the sequence to at least maxID to prevent overwrites on next Create.
	if n := len(records); n > 0 {
		maxID := records[n-1].ID
		curSeq, err := s.rdb.IncrBy(ctx, seqKey, 0).Result()
		if err != nil {
			return fmt.Errorf("redis incrby(0) seq read: %w", err)
		}
		if curSeq < maxID {
			if err := s.rdb.Set(ctx, seqKey, maxID, 0).Err(); err != nil {
				return fmt.Errorf("redis set seq to maxID: %w", err)
			}
		}
	}

	s.stateRW.Lock()
	s.byID = newByID
	s.pos = newPos
	s.list = newList
	s.byService = newByService
	s.stateRW.Unlock()

	s.log.Info("reconcile: complete",
		zap.String("prefix", s.keyPrefix),
		zap.Int("recovered", len(newList)),
		zap.Int("errors", errs),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}
