package profile

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/seenimoa/gamecock/internal/infra"
	"github.com/seenimoa/gamecock/internal/logging"
	"github.com/seenimoa/gamecock/pkg/models"
)

// Cache stores built profiles by "entityKey@snapshotVersion". Cached
// profiles are shared and must not be modified by callers. Cache failures
// are misses, never build errors.
type Cache interface {
	Get(ctx context.Context, key string) (*models.SinglePartyRiskProfile, bool)
	Set(ctx context.Context, key string, p *models.SinglePartyRiskProfile)
}

// --- In-memory ---

// MemoryCache keeps profiles in process.
type MemoryCache struct {
	c *infra.MemoryCache[*models.SinglePartyRiskProfile]
}

// NewMemoryCache creates an in-process cache with the given TTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{c: infra.NewMemoryCache[*models.SinglePartyRiskProfile](ttl)}
}

// Get implements Cache.
func (m *MemoryCache) Get(_ context.Context, key string) (*models.SinglePartyRiskProfile, bool) {
	return m.c.Get(key)
}

// Set implements Cache.
func (m *MemoryCache) Set(_ context.Context, key string, p *models.SinglePartyRiskProfile) {
	m.c.Set(key, p)
}

// Len reports the number of live entries.
func (m *MemoryCache) Len() int { return m.c.Len() }

// --- Shared byte store ---

// ByteStore is a shared key/value store such as *infra.RedisCache.
type ByteStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// SharedCache stores profiles as JSON in a ByteStore so replicas share them.
type SharedCache struct {
	store ByteStore
	log   *slog.Logger
}

// NewSharedCache wraps a ByteStore.
func NewSharedCache(s ByteStore, log *slog.Logger) *SharedCache {
	return &SharedCache{store: s, log: logging.OrDiscard(log)}
}

// Get implements Cache.
func (c *SharedCache) Get(ctx context.Context, key string) (*models.SinglePartyRiskProfile, bool) {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.Warn("profile cache read failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var p models.SinglePartyRiskProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		c.log.Warn("discarding unreadable cached profile", "key", key, "error", err)
		return nil, false
	}
	return &p, true
}

// Set implements Cache.
func (c *SharedCache) Set(ctx context.Context, key string, p *models.SinglePartyRiskProfile) {
	raw, err := json.Marshal(p)
	if err != nil {
		c.log.Warn("profile not cacheable", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, raw); err != nil {
		c.log.Warn("profile cache write failed", "key", key, "error", err)
	}
}
