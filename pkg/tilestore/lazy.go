package tilestore

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Lazy opens a value on first use. Concurrent first callers share a single
// open call. A successful result is cached for the lifetime of the Lazy; a
// failed open is not cached and the next call tries again.
type Lazy[T any] struct {
	open func(ctx context.Context) (T, error)

	group singleflight.Group

	mu     sync.Mutex
	val    T
	opened bool
}

// NewLazy returns a Lazy that calls open on first use.
func NewLazy[T any](open func(ctx context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{open: open}
}

// Get returns the opened value, opening it if necessary.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	l.mu.Lock()
	if l.opened {
		v := l.val
		l.mu.Unlock()
		return v, nil
	}
	l.mu.Unlock()

	v, err, _ := l.group.Do("open", func() (any, error) {
		l.mu.Lock()
		if l.opened {
			v := l.val
			l.mu.Unlock()
			return v, nil
		}
		l.mu.Unlock()

		v, err := l.open(ctx)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.val, l.opened = v, true
		l.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Opened reports whether the value has been opened successfully.
func (l *Lazy[T]) Opened() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opened
}

// Peek returns the opened value without triggering an open.
func (l *Lazy[T]) Peek() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.val, l.opened
}
