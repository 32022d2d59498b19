package domain

import (
	"context"
	"time"
)

// ModelAPI is the interface for the remote generation backend.
type ModelAPI interface {
	// Generate sends a request and returns a complete response.
	// The response is fully received before it is returned; the loop never
	// inspects partial output.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	// Name returns the backend's identifier (e.g., "gemini").
	Name() string
}

// CacheAPI is the remote cached-content boundary. The registry of cache names
// is owned by the remote side: every operation is a round trip, and duplicate
// names are rejected remotely.
type CacheAPI interface {
	// CreateCache registers cached content. Fails with ErrCacheConflict when
	// the name is already taken.
	CreateCache(ctx context.Context, params CreateCacheParams) (*CacheEntry, error)
	// GetCache returns the entry or ErrCacheNotFound.
	GetCache(ctx context.Context, name string) (*CacheEntry, error)
	// ListCaches returns all live entries.
	ListCaches(ctx context.Context) ([]CacheEntry, error)
	// UpdateCacheTTL extends or shortens expiry. Fails with ErrCacheNotFound
	// when the name is unknown.
	UpdateCacheTTL(ctx context.Context, name string, ttl time.Duration) (*CacheEntry, error)
	// DeleteCache removes the entry. Deleting an absent cache is not an error.
	DeleteCache(ctx context.Context, name string) error
}
