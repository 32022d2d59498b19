package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/trace"

	"genflow/internal/domain"
	"genflow/internal/infra/tracer"
)

// cachedContents CRUD. The remote side owns the cache registry; every
// operation here is a round trip.

// CreateCache implements domain.CacheAPI. A 409 from the API (name taken)
// maps to ErrCacheConflict.
func (c *Client) CreateCache(ctx context.Context, params domain.CreateCacheParams) (*domain.CacheEntry, error) {
	ctx, span := tracer.StartSpan(ctx, "gemini.cache.create",
		trace.WithAttributes(tracer.StringAttr("cache.name", params.Name)),
	)
	defer span.End()

	model := params.Model
	if model == "" {
		model = c.model
	}

	body, err := json.Marshal(cachedContentBody{
		Model:       "models/" + model,
		DisplayName: params.Name,
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: params.Content}},
		}},
		TTL: ttlString(params.TTL),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal cache body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/cachedContents?key=%s", c.baseURL, url.QueryEscape(c.apiKey))

	respBody, status, err := doJSONRequest(ctx, c.client, http.MethodPost, endpoint, body)
	if err != nil {
		if status == http.StatusConflict {
			err = domain.NewDomainError("gemini.CreateCache", domain.ErrCacheConflict, params.Name)
		}
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("gemini.CreateCache", err)
	}

	entry, err := decodeCacheEntry(respBody)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("gemini.CreateCache", err)
	}

	c.logger.Info("cache created", "name", entry.Name, "expire_time", entry.ExpireTime)
	tracer.SetOK(span)
	return entry, nil
}

// GetCache implements domain.CacheAPI. A 404 maps to ErrCacheNotFound.
func (c *Client) GetCache(ctx context.Context, name string) (*domain.CacheEntry, error) {
	ctx, span := tracer.StartSpan(ctx, "gemini.cache.get",
		trace.WithAttributes(tracer.StringAttr("cache.name", name)),
	)
	defer span.End()

	respBody, status, err := doJSONRequest(ctx, c.client, http.MethodGet, c.cacheURL(name, ""), nil)
	if err != nil {
		if status == http.StatusNotFound {
			err = domain.NewDomainError("gemini.GetCache", domain.ErrCacheNotFound, name)
		}
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("gemini.GetCache", err)
	}

	entry, err := decodeCacheEntry(respBody)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("gemini.GetCache", err)
	}
	tracer.SetOK(span)
	return entry, nil
}

// ListCaches implements domain.CacheAPI, following pagination to the end.
func (c *Client) ListCaches(ctx context.Context) ([]domain.CacheEntry, error) {
	ctx, span := tracer.StartSpan(ctx, "gemini.cache.list")
	defer span.End()

	var entries []domain.CacheEntry
	pageToken := ""
	for {
		endpoint := fmt.Sprintf("%s/v1beta/cachedContents?key=%s", c.baseURL, url.QueryEscape(c.apiKey))
		if pageToken != "" {
			endpoint += "&pageToken=" + url.QueryEscape(pageToken)
		}

		respBody, _, err := doJSONRequest(ctx, c.client, http.MethodGet, endpoint, nil)
		if err != nil {
			tracer.RecordError(span, err)
			return nil, domain.WrapOp("gemini.ListCaches", err)
		}

		var page cachedContentList
		if err := json.Unmarshal(respBody, &page); err != nil {
			err = fmt.Errorf("decode cache list: %w", err)
			tracer.RecordError(span, err)
			return nil, domain.WrapOp("gemini.ListCaches", err)
		}
		for _, res := range page.CachedContents {
			entries = append(entries, toCacheEntry(res))
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	tracer.SetOK(span)
	return entries, nil
}

// UpdateCacheTTL implements domain.CacheAPI. The PATCH resets expiry to
// now + ttl; a 404 maps to ErrCacheNotFound.
func (c *Client) UpdateCacheTTL(ctx context.Context, name string, ttl time.Duration) (*domain.CacheEntry, error) {
	ctx, span := tracer.StartSpan(ctx, "gemini.cache.update_ttl",
		trace.WithAttributes(tracer.StringAttr("cache.name", name)),
	)
	defer span.End()

	body, err := json.Marshal(cachedContentBody{TTL: ttlString(ttl)})
	if err != nil {
		return nil, fmt.Errorf("marshal ttl body: %w", err)
	}

	respBody, status, err := doJSONRequest(ctx, c.client, http.MethodPatch, c.cacheURL(name, "updateMask=ttl"), body)
	if err != nil {
		if status == http.StatusNotFound {
			err = domain.NewDomainError("gemini.UpdateCacheTTL", domain.ErrCacheNotFound, name)
		}
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("gemini.UpdateCacheTTL", err)
	}

	entry, err := decodeCacheEntry(respBody)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("gemini.UpdateCacheTTL", err)
	}

	c.logger.Debug("cache TTL refreshed", "name", name, "expire_time", entry.ExpireTime)
	tracer.SetOK(span)
	return entry, nil
}

// DeleteCache implements domain.CacheAPI. Deleting an absent cache succeeds,
// so a 404 is swallowed.
func (c *Client) DeleteCache(ctx context.Context, name string) error {
	ctx, span := tracer.StartSpan(ctx, "gemini.cache.delete",
		trace.WithAttributes(tracer.StringAttr("cache.name", name)),
	)
	defer span.End()

	_, status, err := doJSONRequest(ctx, c.client, http.MethodDelete, c.cacheURL(name, ""), nil)
	if err != nil {
		if status == http.StatusNotFound {
			tracer.SetOK(span)
			return nil
		}
		tracer.RecordError(span, err)
		return domain.WrapOp("gemini.DeleteCache", err)
	}

	c.logger.Info("cache deleted", "name", name)
	tracer.SetOK(span)
	return nil
}

// cacheURL builds a per-resource cachedContents URL. Server names look like
// "cachedContents/abc123"; the name is escaped per path segment.
func (c *Client) cacheURL(name, extraQuery string) string {
	endpoint := fmt.Sprintf("%s/v1beta/%s?key=%s", c.baseURL, escapeResourceName(name), url.QueryEscape(c.apiKey))
	if extraQuery != "" {
		endpoint += "&" + extraQuery
	}
	return endpoint
}

func escapeResourceName(name string) string {
	return (&url.URL{Path: name}).EscapedPath()
}

func decodeCacheEntry(body []byte) (*domain.CacheEntry, error) {
	var res cachedContentResource
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	entry := toCacheEntry(res)
	return &entry, nil
}

// ttlString renders a duration in the API's seconds-string form, e.g. "3600s".
func ttlString(ttl time.Duration) string {
	return fmt.Sprintf("%ds", int64(ttl.Seconds()))
}
