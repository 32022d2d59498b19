package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"genflow/internal/domain"
)

// CacheManager drives the remote cached-content lifecycle through
// domain.CacheAPI. It holds no local registry: the remote side owns the
// namespace, and every operation is a round trip.
type CacheManager struct {
	api    domain.CacheAPI
	bus    domain.EventBus
	logger *slog.Logger
}

// NewCacheManager creates a cache manager. bus may be nil.
func NewCacheManager(api domain.CacheAPI, bus domain.EventBus, logger *slog.Logger) *CacheManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheManager{api: api, bus: bus, logger: logger}
}

// Create registers cached content and returns the created entry. When name is
// empty a unique one is generated; a caller-supplied duplicate fails with
// ErrCacheConflict from the remote side.
func (m *CacheManager) Create(ctx context.Context, params domain.CreateCacheParams) (*domain.CacheEntry, error) {
	if params.Name == "" {
		params.Name = generateCacheName()
	}
	if params.TTL <= 0 {
		params.TTL = time.Hour
	}

	entry, err := m.api.CreateCache(ctx, params)
	if err != nil {
		return nil, err
	}

	m.publish(ctx, domain.EventCacheCreated, entry.Name)
	return entry, nil
}

// Get returns the entry or ErrCacheNotFound.
func (m *CacheManager) Get(ctx context.Context, name string) (*domain.CacheEntry, error) {
	return m.api.GetCache(ctx, name)
}

// List returns all live entries.
func (m *CacheManager) List(ctx context.Context) ([]domain.CacheEntry, error) {
	return m.api.ListCaches(ctx)
}

// UpdateTTL resets the entry's expiry to now + ttl. Unknown names fail with
// ErrCacheNotFound.
func (m *CacheManager) UpdateTTL(ctx context.Context, name string, ttl time.Duration) (*domain.CacheEntry, error) {
	entry, err := m.api.UpdateCacheTTL(ctx, name, ttl)
	if err != nil {
		return nil, err
	}
	m.publish(ctx, domain.EventCacheRefreshed, name)
	return entry, nil
}

// Delete removes the entry. Deleting an absent cache is not an error.
func (m *CacheManager) Delete(ctx context.Context, name string) error {
	if err := m.api.DeleteCache(ctx, name); err != nil {
		return err
	}
	m.publish(ctx, domain.EventCacheDeleted, name)
	return nil
}

// GetAndRefresh reads the entry and slides its expiry to now + ttl.
// An absent cache fails with ErrCacheNotFound; there is no implicit create.
func (m *CacheManager) GetAndRefresh(ctx context.Context, name string, ttl time.Duration) (*domain.CacheEntry, error) {
	if _, err := m.api.GetCache(ctx, name); err != nil {
		return nil, err
	}
	return m.UpdateTTL(ctx, name, ttl)
}

// CreateOrUpdate refreshes the named cache if it exists, otherwise creates it
// with the given content. Returns the resulting entry either way.
func (m *CacheManager) CreateOrUpdate(ctx context.Context, params domain.CreateCacheParams) (*domain.CacheEntry, error) {
	if params.Name == "" {
		return m.Create(ctx, params)
	}

	entry, err := m.GetAndRefresh(ctx, params.Name, params.TTL)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, domain.ErrCacheNotFound) {
		return nil, err
	}

	m.logger.Debug("cache absent, creating", "name", params.Name)
	return m.Create(ctx, params)
}

func (m *CacheManager) publish(ctx context.Context, eventType domain.EventType, name string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(ctx, domain.Event{
		Type:           eventType,
		Timestamp:      time.Now(),
		ConversationID: domain.ConversationIDFromContext(ctx),
		Payload:        jsonPayload(map[string]string{"cache": name}),
	})
}

// generateCacheName returns a unique display name for an unnamed cache.
func generateCacheName() string {
	return "cache-" + strings.ToLower(ulid.Make().String())
}
