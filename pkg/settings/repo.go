package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/s3xrc/s3xrc/internal/logctx"
)

const (
	updateAttempts  = 5
	backoffUnit     = 100 * time.Millisecond
	defaultCacheTTL = time.Minute
)

// RepoConfig tunes the repository. Zero values select defaults.
type RepoConfig struct {
	// CacheTTL bounds how stale a cached read may be. Reads feeding the
	// level selector tolerate staleness; correctness lives in the
	// version check on writes.
	CacheTTL time.Duration

	// Strict makes an update that exhausts its conflict retries surface
	// as an error instead of being dropped with a warning.
	Strict bool

	// sleep is replaceable in tests.
	sleep func(time.Duration)
}

// Repository wraps a Store with a read cache and the conditional-update
// retry loop. Safe for concurrent use.
type Repository struct {
	store Store
	cfg   RepoConfig

	mu    sync.Mutex
	cache map[string]cachedRecord
}

type cachedRecord struct {
	rec     *Record
	fetched time.Time
}

func NewRepository(store Store, cfg RepoConfig) *Repository {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.sleep == nil {
		cfg.sleep = time.Sleep
	}
	return &Repository{
		store: store,
		cfg:   cfg,
		cache: map[string]cachedRecord{},
	}
}

// Read returns the settings for key, from cache when fresh enough.
// Returns ErrNotFound when no record exists.
func (r *Repository) Read(ctx context.Context, key string) (*Record, error) {
	r.mu.Lock()
	if c, ok := r.cache[key]; ok && time.Since(c.fetched) < r.cfg.CacheTTL {
		rec := c.rec.Clone()
		r.mu.Unlock()
		return rec, nil
	}
	r.mu.Unlock()

	rec, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	r.cacheRecord(rec)
	return rec.Clone(), nil
}

// Update applies mutate to the current record for key and writes it back
// conditioned on the version read. On a version conflict it re-reads and
// re-applies, up to 5 attempts with backoff 0.1s, 0.2s, ... between them.
// Exhausting the attempts drops the update with a warning unless Strict.
// Creates the record first when none exists.
func (r *Repository) Update(ctx context.Context, key string, mutate func(*Record)) error {
	log := logctx.FromContext(ctx)

	var lastErr error
	for attempt := 1; attempt <= updateAttempts; attempt++ {
		rec, err := r.store.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			rec, err = r.createAndGet(ctx, key)
		}
		if err != nil {
			return fmt.Errorf("update settings %s: %w", key, err)
		}

		readVersion := rec.Version
		mutate(rec)
		rec.Version = readVersion + 1

		err = r.store.PutIfVersion(ctx, rec, readVersion)
		if err == nil {
			r.cacheRecord(rec)
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return fmt.Errorf("update settings %s: %w", key, err)
		}

		lastErr = err
		if attempt < updateAttempts {
			r.cfg.sleep(backoffUnit * time.Duration(attempt))
		}
	}

	if r.cfg.Strict {
		return fmt.Errorf("update settings %s: retries exhausted: %w", key, lastErr)
	}
	log.Warn().
		Str("key", key).
		Int("attempts", updateAttempts).
		Msg("settings update dropped after repeated version conflicts")
	return nil
}

// EnsureExists creates a zeroed record for key if none exists. Losing a
// creation race is not an error.
func (r *Repository) EnsureExists(ctx context.Context, key string) error {
	err := r.store.Create(ctx, NewRecord(key))
	if err != nil && !errors.Is(err, ErrAlreadyExists) {
		return fmt.Errorf("create settings %s: %w", key, err)
	}
	return nil
}

func (r *Repository) createAndGet(ctx context.Context, key string) (*Record, error) {
	if err := r.EnsureExists(ctx, key); err != nil {
		return nil, err
	}
	return r.store.Get(ctx, key)
}

func (r *Repository) cacheRecord(rec *Record) {
	r.mu.Lock()
	r.cache[rec.Key] = cachedRecord{rec: rec.Clone(), fetched: time.Now()}
	r.mu.Unlock()
}

// Invalidate drops any cached copy for key.
func (r *Repository) Invalidate(key string) {
	r.mu.Lock()
	delete(r.cache, key)
	r.mu.Unlock()
}
