package tilestore

import (
	"context"
	"errors"
	"log/slog"
)

// Cache is the [Store] implementation used by the application. It opens its
// [Backend] lazily and applies the fail-open read and fail-closed write
// policy.
type Cache struct {
	backend *Lazy[Backend]
}

var _ Store = (*Cache)(nil)

// NewCache returns a Cache whose backend is created by open on first use.
func NewCache(open func(ctx context.Context) (Backend, error)) *Cache {
	return &Cache{backend: NewLazy(open)}
}

// NewCacheFor wraps an already opened backend.
func NewCacheFor(b Backend) *Cache {
	return NewCache(func(context.Context) (Backend, error) { return b, nil })
}

// Backend returns the opened backend, opening it if needed.
func (c *Cache) Backend(ctx context.Context) (Backend, error) {
	return c.backend.Get(ctx)
}

// Get implements [Store].
func (c *Cache) Get(ctx context.Context, url string) (string, bool) {
	b, err := c.backend.Get(ctx)
	if err != nil {
		slog.Warn("tilestore: open failed, treating as miss", "url", url, "err", err)
		return "", false
	}
	payload, ok, err := b.Load(ctx, url)
	if err != nil {
		slog.Warn("tilestore: read failed, treating as miss", "url", url, "err", err)
		return "", false
	}
	return payload, ok
}

// Put implements [Store].
func (c *Cache) Put(ctx context.Context, url, payload string) error {
	b, err := c.backend.Get(ctx)
	if err != nil {
		return &StorageError{Op: "open", URL: url, Err: err}
	}
	if err := b.Save(ctx, url, payload); err != nil {
		return &StorageError{Op: "put", URL: url, Err: err}
	}
	return nil
}

// Delete implements [Store].
func (c *Cache) Delete(ctx context.Context, url string) error {
	b, err := c.backend.Get(ctx)
	if err != nil {
		return &StorageError{Op: "open", URL: url, Err: err}
	}
	if err := b.Remove(ctx, url); err != nil {
		return &StorageError{Op: "delete", URL: url, Err: err}
	}
	return nil
}

// DeleteAll implements [Store].
func (c *Cache) DeleteAll(ctx context.Context, urls []string) (int, error) {
	var (
		deleted int
		errs    []error
	)
	for _, u := range urls {
		if err := c.Delete(ctx, u); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}
