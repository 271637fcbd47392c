package cache

import (
	"context"
	"log/slog"
	"time"
)

// Store is the tiered cache used by the fetch pipeline: memory in front,
// redis behind it when configured. Reads verify the integrity digest and
// treat a mismatch as a corrupted-cache event: the entry is deleted and the
// corruption hook fires.
type Store struct {
	mem       *Memory
	durable   *Redis // nil when no durable tier configured
	retention time.Duration
	log       *slog.Logger
	now       func() time.Time

	// OnCorrupt is invoked when an integrity check fails. May be nil.
	OnCorrupt func(key Key)
	// OnHit is invoked on every successful read with the serving tier
	// ("memory" or "redis") for metrics accounting. May be nil.
	OnHit func(tier string, fresh bool)
}

// NewStore builds the tiered store. durable may be nil.
func NewStore(durable *Redis, retention time.Duration, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Store{
		mem:       NewMemory(),
		durable:   durable,
		retention: retention,
		log:       log,
		now:       time.Now,
	}
}

// Set stores the payload in memory and writes through to the durable tier.
// A durable write failure is logged, not surfaced; the memory tier already
// holds the data.
func (s *Store) Set(ctx context.Context, key Key, payload []byte, ttl time.Duration) {
	e := NewEntry(payload, ttl, s.now())
	s.mem.Set(key, e)
	if s.durable != nil {
		if err := s.durable.Set(ctx, key, e); err != nil {
			s.log.Warn("durable cache write failed", "key", key.String(), "error", err)
		}
	}
}

// Get returns the payload with its freshness. found is false when no entry
// exists in any tier or the entry failed its integrity check.
func (s *Store) Get(ctx context.Context, key Key) (payload []byte, found, fresh bool) {
	e, tier := s.lookup(ctx, key)
	if e == nil {
		return nil, false, false
	}
	if s.OnHit != nil {
		s.OnHit(tier, e.Fresh(s.now()))
	}
	return e.Payload, true, e.Fresh(s.now())
}

// GetStale returns the payload and its age even past TTL expiry. Used only
// as the last-resort fallback path.
func (s *Store) GetStale(ctx context.Context, key Key) (payload []byte, age time.Duration, ok bool) {
	e, tier := s.lookup(ctx, key)
	if e == nil {
		return nil, 0, false
	}
	if s.OnHit != nil {
		s.OnHit(tier, false)
	}
	return e.Payload, e.Age(s.now()), true
}

// Invalidate removes the entry from all tiers.
func (s *Store) Invalidate(ctx context.Context, key Key) {
	s.mem.Delete(key)
	if s.durable != nil {
		if err := s.durable.Delete(ctx, key); err != nil {
			s.log.Warn("durable cache delete failed", "key", key.String(), "error", err)
		}
	}
}

// Sweep drops memory entries past their stale retention. The durable tier
// expires natively. Returns the number of dropped entries.
func (s *Store) Sweep(ctx context.Context) int {
	removed := s.mem.Sweep(s.retention, s.now())
	if removed > 0 {
		s.log.Debug("cache sweep", "removed", removed, "resident", s.mem.Len())
	}
	return removed
}

// RunSweeper sweeps on start and then on every interval until ctx ends.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	s.Sweep(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// lookup reads memory first, then the durable tier, repopulating memory on a
// durable hit. Corrupted entries are deleted and reported.
func (s *Store) lookup(ctx context.Context, key Key) (*Entry, string) {
	if e, found := s.mem.Get(key); found {
		if !e.Verify() {
			s.corrupt(ctx, key)
			return nil, ""
		}
		return e, "memory"
	}

	if s.durable == nil {
		return nil, ""
	}
	e, found, err := s.durable.Get(ctx, key)
	if err != nil {
		s.log.Warn("durable cache read failed", "key", key.String(), "error", err)
		return nil, ""
	}
	if !found {
		return nil, ""
	}
	if !e.Verify() {
		s.corrupt(ctx, key)
		return nil, ""
	}
	s.mem.Set(key, e)
	return e, "redis"
}

func (s *Store) corrupt(ctx context.Context, key Key) {
	s.log.Error("CACHE_INTEGRITY_FAILURE", "key", key.String())
	s.Invalidate(ctx, key)
	if s.OnCorrupt != nil {
		s.OnCorrupt(key)
	}
}
