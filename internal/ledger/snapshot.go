package ledger

import (
	"context"
	"time"

	"github.com/zjrosen/provenance/internal/cachemanager"
	"github.com/zjrosen/provenance/internal/domain"
	"github.com/zjrosen/provenance/internal/log"
)

// SnapshotCache holds read-through copies of registry records for display.
// Snapshots may be stale; orchestrators read the registry directly for
// precondition checks and only use this cache to drop copies they invalidate.
type SnapshotCache struct {
	records *cachemanager.ReadThrough[string, domain.Record]
}

// NewSnapshotCache wraps registry reads. A non-positive ttl disables caching.
func NewSnapshotCache(registry Registry, ttl time.Duration) *SnapshotCache {
	var cache cachemanager.Cache[string, domain.Record]
	if ttl > 0 {
		cache = cachemanager.NewInMemory[string, domain.Record]("records", ttl, cachemanager.DefaultCleanupInterval)
	}
	load := func(ctx context.Context, rfid string) (domain.Record, error) {
		rec, err := registry.GetRecord(ctx, rfid)
		if err != nil {
			return domain.Record{}, err
		}
		return *rec, nil
	}
	return &SnapshotCache{records: cachemanager.NewReadThrough[string, domain.Record](cache, load, ttl)}
}

// Get returns the cached snapshot for rfid, reading through on a miss.
func (s *SnapshotCache) Get(ctx context.Context, rfid string) (*domain.Record, error) {
	rec, err := s.records.Get(ctx, rfid)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Invalidate drops the snapshot for rfid.
func (s *SnapshotCache) Invalidate(ctx context.Context, rfid string) {
	if s == nil {
		return
	}
	s.records.Invalidate(ctx, rfid)
	log.Debug(log.CatCache, "snapshot cleared", "rfid", rfid)
}

// Flush drops every snapshot, used when the active signer changes.
func (s *SnapshotCache) Flush(ctx context.Context) {
	if s == nil {
		return
	}
	s.records.Flush(ctx)
}

// Stats reports snapshot hits and misses. A nil cache reports zeros.
func (s *SnapshotCache) Stats() cachemanager.Stats {
	if s == nil {
		return cachemanager.Stats{}
	}
	return s.records.Stats()
}
