// Package tilestore persists map tile payloads keyed by tile URL.
//
// A payload is a self-contained data URL string ("data:image/png;base64,...")
// so that any text-capable backend can hold it.
//
// [Store] is the contract used by the download pipeline and the tile proxy.
// Reads fail open: a storage fault during Get is logged and reported as a
// cache miss so the caller falls back to the network. Writes fail closed: Put
// returns a [*StorageError] and the caller must abort whatever it was doing.
//
// Backends implement the smaller error-returning [Backend] interface. [Cache]
// adapts a lazily opened Backend into a Store.
package tilestore

import (
	"context"
	"fmt"
)

// Store maps tile URLs to payloads. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the payload for url. It never returns an error; a storage
	// failure is logged and reported as ok == false.
	Get(ctx context.Context, url string) (payload string, ok bool)

	// Put stores payload under url, replacing any previous value. Failures are
	// returned as *StorageError.
	Put(ctx context.Context, url, payload string) error

	// Delete removes url. Deleting a missing key is not an error.
	Delete(ctx context.Context, url string) error

	// DeleteAll removes every url, continuing past individual failures. It
	// returns the number of successful deletes and the joined failures.
	DeleteAll(ctx context.Context, urls []string) (deleted int, err error)
}

// Backend is a raw persistence engine for tile payloads.
type Backend interface {
	// Load returns the payload for url. A missing key is ("", false, nil).
	Load(ctx context.Context, url string) (string, bool, error)

	// Save upserts payload under url.
	Save(ctx context.Context, url, payload string) error

	// Remove deletes url. A missing key is not an error.
	Remove(ctx context.Context, url string) error
}

// StorageError reports a failed tile store operation.
type StorageError struct {
	Op  string
	URL string
	Err error
}

func (e *StorageError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("tilestore: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("tilestore: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
