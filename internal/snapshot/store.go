// Package snapshot materializes and serves point-in-time act states.
// Snapshot records are content-addressed JSON blobs; the change-point
// index maps (act, date) to blob keys. A bounded LRU cache sits in front
// of blob reads.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"actdb/internal/blob"
	"actdb/internal/persistence"
	"actdb/pkg/act"
)

// ErrNotYetInForce is returned by GetAt for dates before the act's first
// change point.
var ErrNotYetInForce = errors.New("act not yet in force at requested date")

// Record is one materialized act state together with the date it entered
// into force and a human-readable note for the change log.
type Record struct {
	Act  act.Act  `json:"act"`
	Date act.Date `json:"date"`
	Note string   `json:"note,omitempty"`
}

const defaultCacheSize = 128

// Options tunes a Store. The zero value is usable.
type Options struct {
	// CacheSize bounds the decoded-record LRU cache (default 128).
	CacheSize int
	// Registerer receives the store's metrics. When nil a private
	// registry is used, which keeps repeated construction in tests safe.
	Registerer prometheus.Registerer
}

// Store combines the blob store, the change-point index and the cache.
type Store struct {
	blobs blob.Store
	index persistence.Index
	cache *lru.Cache[string, *Record]

	puts      prometheus.Counter
	cacheHits prometheus.Counter
	cacheMiss prometheus.Counter
}

// New builds a Store over the given backends.
func New(blobs blob.Store, index persistence.Index, opts Options) (*Store, error) {
	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, *Record](size)
	if err != nil {
		return nil, fmt.Errorf("snapshot cache: %w", err)
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Store{
		blobs: blobs,
		index: index,
		cache: cache,
		puts: factory.NewCounter(prometheus.CounterOpts{
			Name: "actdb_snapshot_puts_total",
			Help: "Snapshot records written.",
		}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "actdb_snapshot_cache_hits_total",
			Help: "Snapshot reads served from the cache.",
		}),
		cacheMiss: factory.NewCounter(prometheus.CounterOpts{
			Name: "actdb_snapshot_cache_misses_total",
			Help: "Snapshot reads fetched from the blob store.",
		}),
	}, nil
}

// Key derives the content-addressed blob key of a serialized record. The
// two-character fan-out prefix keeps filesystem directories shallow.
func Key(payload []byte) string {
	sum := sha256.Sum256(payload)
	hexed := hex.EncodeToString(sum[:])
	return "snapshot/" + hexed[:2] + "/" + hexed[2:] + ".json"
}

// Put writes the record blob, then publishes it in the index. The blob
// write happens first so a crash between the two leaves an unreferenced
// blob, never a dangling index row. Re-putting an identical record is a
// no-op at both layers.
func (s *Store) Put(ctx context.Context, rec Record) (persistence.ChangePoint, error) {
	if rec.Act.ID.IsZero() {
		return persistence.ChangePoint{}, errors.New("record has no act identifier")
	}
	if rec.Date.IsZero() {
		return persistence.ChangePoint{}, errors.New("record has no date")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return persistence.ChangePoint{}, fmt.Errorf("encode snapshot: %w", err)
	}
	key := Key(payload)
	if _, err := s.blobs.Put(ctx, key, payload); err != nil {
		return persistence.ChangePoint{}, fmt.Errorf("store snapshot blob: %w", err)
	}
	cp := persistence.ChangePoint{Act: rec.Act.ID, Date: rec.Date, Key: key, Note: rec.Note}
	if err := s.index.Put(ctx, cp); err != nil {
		return persistence.ChangePoint{}, fmt.Errorf("publish change point: %w", err)
	}
	s.cache.Add(key, &rec)
	s.puts.Inc()
	return cp, nil
}

// GetAt returns the act state in force at date. Callers own the returned
// act and may mutate it freely.
func (s *Store) GetAt(ctx context.Context, id act.Identifier, date act.Date) (*act.Act, persistence.ChangePoint, error) {
	cp, ok, err := s.index.Lookup(ctx, id, date)
	if err != nil {
		return nil, persistence.ChangePoint{}, err
	}
	if !ok {
		return nil, persistence.ChangePoint{}, fmt.Errorf("%s at %s: %w", id, date, ErrNotYetInForce)
	}
	rec, err := s.fetch(ctx, cp.Key)
	if err != nil {
		return nil, persistence.ChangePoint{}, err
	}
	out := rec.Act
	out.Root = act.CloneDeep(rec.Act.Root)
	return &out, cp, nil
}

// ChangePoints lists the act's committed change points in ascending order.
func (s *Store) ChangePoints(ctx context.Context, id act.Identifier) ([]persistence.ChangePoint, error) {
	return s.index.List(ctx, id)
}

// Latest returns the most recent change point, if any.
func (s *Store) Latest(ctx context.Context, id act.Identifier) (persistence.ChangePoint, bool, error) {
	points, err := s.index.List(ctx, id)
	if err != nil || len(points) == 0 {
		return persistence.ChangePoint{}, false, err
	}
	return points[len(points)-1], true, nil
}

// Invalidate drops change points at or after date, returning how many
// were removed. Blobs stay in place: they are content-addressed and may
// be referenced again by a later recalculation.
func (s *Store) Invalidate(ctx context.Context, id act.Identifier, date act.Date) (int, error) {
	return s.index.DeleteFrom(ctx, id, date)
}

func (s *Store) fetch(ctx context.Context, key string) (*Record, error) {
	if rec, ok := s.cache.Get(key); ok {
		s.cacheHits.Inc()
		return rec, nil
	}
	s.cacheMiss.Inc()
	payload, err := s.blobs.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot %s: %w", key, err)
	}
	rec := new(Record)
	if err := json.Unmarshal(payload, rec); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	s.cache.Add(key, rec)
	return rec, nil
}
