package mediawidget

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = sql.ErrNoRows

// CategoryCache is an in-memory copy of the category list with TTL. Widget
// forms, the media library and feeds read categories far more often than
// admins change them.
type CategoryCache struct {
	mu      sync.RWMutex
	cats    []Category
	byID    map[int64]Category
	fetched time.Time
	ttl     time.Duration
	store   *Store
}

// NewCategoryCache creates a CategoryCache backed by the given Store.
func NewCategoryCache(s *Store, ttl time.Duration) *CategoryCache {
	return &CategoryCache{store: s, ttl: ttl}
}

func (c *CategoryCache) valid() bool {
	return c.byID != nil && time.Since(c.fetched) < c.ttl
}

// Invalidate clears the cache so the next read triggers a fresh load.
func (c *CategoryCache) Invalidate() {
	c.mu.Lock()
	c.cats = nil
	c.byID = nil
	c.mu.Unlock()
}

func (c *CategoryCache) ensureLoaded(ctx context.Context) ([]Category, map[int64]Category, error) {
	c.mu.RLock()
	if c.valid() {
		cats, byID := c.cats, c.byID
		c.mu.RUnlock()
		return cats, byID, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid() {
		return c.cats, c.byID, nil
	}
	cats, err := c.store.ListCategories(ctx)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[int64]Category, len(cats))
	for _, cat := range cats {
		byID[cat.ID] = cat
	}
	c.cats, c.byID, c.fetched = cats, byID, time.Now()
	return cats, byID, nil
}

// List returns all categories ordered by name.
func (c *CategoryCache) List(ctx context.Context) ([]Category, error) {
	cats, _, err := c.ensureLoaded(ctx)
	return cats, err
}

// Get returns one category by id.
func (c *CategoryCache) Get(ctx context.Context, id int64) (Category, error) {
	_, byID, err := c.ensureLoaded(ctx)
	if err != nil {
		return Category{}, err
	}
	cat, ok := byID[id]
	if !ok {
		return Category{}, ErrNotFound
	}
	return cat, nil
}

// Name returns the category name for id, or "" when unset or unknown.
func (c *CategoryCache) Name(ctx context.Context, id int64) string {
	if id < 1 {
		return ""
	}
	cat, err := c.Get(ctx, id)
	if err != nil {
		return ""
	}
	return cat.Name
}
