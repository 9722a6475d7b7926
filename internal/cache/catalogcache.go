package cache

import (
	"context"
	"encoding/json"
	"time"

	"blackbox/internal/model"
)

// CatalogCache wraps a Cache with a typed accessor keyed on model id, so
// catalog validation results survive across repeated deploys of the same
// model within the TTL window (spec.md §4.6/§4.13, decided at 60s).
type CatalogCache struct {
	backend Cache
	ttl     time.Duration
}

// NewCatalogCache wraps backend with the given TTL.
func NewCatalogCache(backend Cache, ttl time.Duration) *CatalogCache {
	return &CatalogCache{backend: backend, ttl: ttl}
}

func catalogKey(modelID string) string {
	return "catalog:" + modelID
}

// Get returns a cached validation result for modelID, if present and unexpired.
func (c *CatalogCache) Get(ctx context.Context, modelID string) (*model.CatalogValidationResult, bool) {
	raw, err := c.backend.Get(ctx, catalogKey(modelID))
	if err != nil {
		return nil, false
	}
	var result model.CatalogValidationResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false
	}
	return &result, true
}

// Set stores a validation result for modelID under the cache's configured TTL.
func (c *CatalogCache) Set(ctx context.Context, modelID string, result *model.CatalogValidationResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.backend.Set(ctx, catalogKey(modelID), raw, c.ttl)
}

// Invalidate removes any cached entry for modelID.
func (c *CatalogCache) Invalidate(ctx context.Context, modelID string) error {
	return c.backend.Delete(ctx, catalogKey(modelID))
}
