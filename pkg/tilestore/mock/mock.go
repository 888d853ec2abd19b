// Package mock provides an in-memory test double for tilestore.Backend.
//
// Backend keeps payloads in a map and records every call. Set the Err fields
// to inject failures; FailURLs fails only the listed keys.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/sadaksathi/pkg/tilestore"
)

// Backend is a mock implementation of tilestore.Backend.
type Backend struct {
	mu sync.Mutex

	data map[string]string

	// LoadErr, if non-nil, is returned by every Load.
	LoadErr error

	// SaveErr, if non-nil, is returned by every Save.
	SaveErr error

	// RemoveErr, if non-nil, is returned by every Remove.
	RemoveErr error

	// FailURLs makes Save and Remove fail for the listed keys with the mapped
	// error.
	FailURLs map[string]error

	// LoadCalls, SaveCalls and RemoveCalls record the url of each call in order.
	LoadCalls   []string
	SaveCalls   []string
	RemoveCalls []string
}

// New returns an empty Backend.
func New() *Backend {
	return &Backend{data: make(map[string]string)}
}

// Load records the call and returns the stored payload.
func (b *Backend) Load(_ context.Context, url string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.LoadCalls = append(b.LoadCalls, url)
	if b.LoadErr != nil {
		return "", false, b.LoadErr
	}
	v, ok := b.data[url]
	return v, ok, nil
}

// Save records the call and stores payload.
func (b *Backend) Save(_ context.Context, url, payload string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.SaveCalls = append(b.SaveCalls, url)
	if b.SaveErr != nil {
		return b.SaveErr
	}
	if err := b.FailURLs[url]; err != nil {
		return err
	}
	if b.data == nil {
		b.data = make(map[string]string)
	}
	b.data[url] = payload
	return nil
}

// Remove records the call and deletes url.
func (b *Backend) Remove(_ context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.RemoveCalls = append(b.RemoveCalls, url)
	if b.RemoveErr != nil {
		return b.RemoveErr
	}
	if err := b.FailURLs[url]; err != nil {
		return err
	}
	delete(b.data, url)
	return nil
}

// Len returns the number of stored payloads.
func (b *Backend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Has reports whether url is stored.
func (b *Backend) Has(url string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.data[url]
	return ok
}

// Reset clears stored data and recorded calls.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = make(map[string]string)
	b.LoadCalls = nil
	b.SaveCalls = nil
	b.RemoveCalls = nil
}

var _ tilestore.Backend = (*Backend)(nil)
