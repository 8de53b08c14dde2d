package raidbot

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ExtractionCacheStore persists extraction results keyed by content hash.
// Implementations must be safe for concurrent use.
type ExtractionCacheStore interface {
	// Get returns the payload for key, and whether it was found.
	Get(ctx context.Context, key string) (string, bool, error)

	// Put stores the payload under key, replacing any existing entry.
	Put(ctx context.Context, key string, payload string) error

	// Sweep removes entries older than the horizon, returning how many
	// were removed.
	Sweep(ctx context.Context, horizon time.Duration) (int64, error)
}

// memoryCacheStore is the in-memory ExtractionCacheStore. Used in tests and
// when the bot runs without a database.
type memoryCacheStore struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry
}

type memoryCacheEntry struct {
	payload   string
	createdAt time.Time
}

func newMemoryCacheStore() *memoryCacheStore {
	return &memoryCacheStore{entries: map[string]memoryCacheEntry{}}
}

func (m *memoryCacheStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[key]
	return entry.payload, ok, nil
}

func (m *memoryCacheStore) Put(_ context.Context, key string, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryCacheEntry{payload: payload, createdAt: time.Now()}
	return nil
}

func (m *memoryCacheStore) Sweep(
	_ context.Context,
	horizon time.Duration,
) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-horizon)
	var removed int64
	for key, entry := range m.entries {
		if entry.createdAt.Before(cutoff) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

// gormCacheStore is the database-backed ExtractionCacheStore.
type gormCacheStore struct {
	db *gorm.DB
}

func newGORMCacheStore(db *gorm.DB) *gormCacheStore {
	return &gormCacheStore{db: db}
}

func (g *gormCacheStore) Get(ctx context.Context, key string) (string, bool, error) {
	var row CachedExtraction
	err := g.db.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	return row.Payload, true, nil
}

func (g *gormCacheStore) Put(ctx context.Context, key string, payload string) error {
	row := CachedExtraction{Key: key, Payload: payload}
	return g.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		},
	).Create(&row).Error
}

func (g *gormCacheStore) Sweep(
	ctx context.Context,
	horizon time.Duration,
) (int64, error) {
	cutoff := time.Now().Add(-horizon).UnixMilli()
	tx := g.db.WithContext(ctx).Where(
		"created_at < ?",
		cutoff,
	).Delete(&CachedExtraction{})
	return tx.RowsAffected, tx.Error
}

// ExtractionCache fronts an ExtractionCacheStore with intent
// (de)serialization and a periodic age sweep. Extraction is deterministic
// for identical input (temperature 0), so entries never go stale; the sweep
// only bounds growth.
type ExtractionCache struct {
	store         ExtractionCacheStore
	horizon       time.Duration
	sweepInterval time.Duration
	logger        *slog.Logger
}

// NewExtractionCache returns an ExtractionCache over the given store. A nil
// store gets the in-memory implementation.
func NewExtractionCache(
	store ExtractionCacheStore,
	cfg *CacheConfig,
	logger *slog.Logger,
) *ExtractionCache {
	if store == nil {
		store = newMemoryCacheStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	horizon := DefaultCacheHorizon
	sweepInterval := DefaultCacheSweepInterval
	if cfg != nil {
		if cfg.Horizon > 0 {
			horizon = cfg.Horizon
		}
		if cfg.SweepInterval > 0 {
			sweepInterval = cfg.SweepInterval
		}
	}
	return &ExtractionCache{
		store:         store,
		horizon:       horizon,
		sweepInterval: sweepInterval,
		logger:        logger.With(loggerNameKey, "extraction_cache"),
	}
}

// CacheKey returns the cache key for a command and its extraction context.
// Both go into the hash: the same command text means something different
// against a different schedule.
func (c *ExtractionCache) CacheKey(command string, context string) string {
	return contentHash(
		struct {
			Command string `json:"command"`
			Context string `json:"context"`
		}{Command: command, Context: context},
	)
}

// Get returns the cached intent batch for key, and whether one was found.
// Store errors and undecodable payloads are treated as misses.
func (c *ExtractionCache) Get(ctx context.Context, key string) ([]Intent, bool) {
	payload, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.WarnContext(ctx, "cache get failed", tint.Err(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var intents []Intent
	if err = json.Unmarshal([]byte(payload), &intents); err != nil {
		c.logger.WarnContext(
			ctx,
			"discarding undecodable cache entry",
			"key", key,
			tint.Err(err),
		)
		return nil, false
	}
	return intents, true
}

// Put stores an intent batch under key.
func (c *ExtractionCache) Put(ctx context.Context, key string, intents []Intent) {
	payload, err := json.Marshal(intents)
	if err != nil {
		c.logger.WarnContext(ctx, "cache encode failed", tint.Err(err))
		return
	}
	if err = c.store.Put(ctx, key, string(payload)); err != nil {
		c.logger.WarnContext(ctx, "cache put failed", tint.Err(err))
	}
}

// Run sweeps the store on the configured interval until ctx is canceled.
func (c *ExtractionCache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := c.store.Sweep(ctx, c.horizon)
			if err != nil {
				c.logger.WarnContext(ctx, "cache sweep failed", tint.Err(err))
				continue
			}
			if removed > 0 {
				c.logger.InfoContext(ctx, "cache sweep", "removed", removed)
			}
		}
	}
}
