package domain

import "time"

// CacheEntry is the metadata of one server-side cached-content entry.
// The cached content itself cannot be read back, only referenced by name.
type CacheEntry struct {
	Name        string    `json:"name"`
	Model       string    `json:"model"`
	DisplayName string    `json:"display_name,omitempty"`
	CreateTime  time.Time `json:"create_time"`
	UpdateTime  time.Time `json:"update_time"`
	ExpireTime  time.Time `json:"expire_time"`
}

// CreateCacheParams describes a cache to register remotely.
type CreateCacheParams struct {
	Model   string
	Name    string
	Content string
	TTL     time.Duration
}

// CacheConfig is the per-conversation cache policy. When RefreshTTL is set,
// the loop slides the entry's expiry after every successful turn that used
// the cache. AutoManage creates the cache from the system prompt when it does
// not exist yet.
type CacheConfig struct {
	Name       string        `json:"name,omitempty"`
	RefreshTTL time.Duration `json:"refresh_ttl,omitempty"`
	AutoManage bool          `json:"auto_manage,omitempty"`
}
