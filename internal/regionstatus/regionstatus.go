// Package regionstatus is the single owner of per-region offline download
// status. The record is a JSON object stored under one preference key:
//
//	{"bagmati": {"status": "downloading", "progress": 42}}
//
// Regions without an entry are implicitly [None]. Observers registered with
// [Tracker.Subscribe] are called synchronously after every write.
package regionstatus

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"sync"

	"github.com/MrWong99/sadaksathi/internal/prefs"
)

// Key is the preference key holding the status record.
const Key = "sadak-sathi-region-status"

// Status is a region's download state.
type Status string

const (
	None        Status = "none"
	Downloading Status = "downloading"
	Downloaded  Status = "downloaded"
)

// Entry is the stored state of one region. Progress is a percentage and is
// set while downloading.
type Entry struct {
	Status   Status `json:"status"`
	Progress *int   `json:"progress,omitempty"`
}

// Progress returns a pointer to p, for use with [Tracker.Set].
func Progress(p int) *int { return &p }

// Tracker reads and writes the status record.
type Tracker struct {
	store prefs.Store

	// writeMu serialises read-modify-write cycles and observer delivery.
	writeMu sync.Mutex

	mu        sync.Mutex
	observers map[int]func(map[string]Entry)
	nextID    int
}

// New returns a Tracker persisting to store.
func New(store prefs.Store) *Tracker {
	return &Tracker{store: store, observers: make(map[int]func(map[string]Entry))}
}

// All returns every region that is not [None]. A missing, unreadable or
// corrupt record yields an empty map.
func (t *Tracker) All(ctx context.Context) map[string]Entry {
	return t.load(ctx)
}

// Get returns the entry for id, or a [None] entry.
func (t *Tracker) Get(ctx context.Context, id string) Entry {
	if e, ok := t.All(ctx)[id]; ok {
		return e
	}
	return Entry{Status: None}
}

// Set records status for id. [None] removes the entry; other statuses upsert
// it with progress. A persistence failure is logged and observers are still
// notified with the attempted record. Observers may read the tracker but must
// not call Set.
func (t *Tracker) Set(ctx context.Context, id string, status Status, progress *int) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	all := t.load(ctx)
	if status == None {
		delete(all, id)
	} else {
		var p *int
		if progress != nil {
			v := *progress
			p = &v
		}
		all[id] = Entry{Status: status, Progress: p}
	}

	if data, err := json.Marshal(all); err != nil {
		slog.Error("regionstatus: encode record", "err", err)
	} else if err := t.store.Set(ctx, Key, string(data)); err != nil {
		slog.Error("regionstatus: persist record", "region", id, "status", status, "err", err)
	}

	t.mu.Lock()
	fns := make([]func(map[string]Entry), 0, len(t.observers))
	for _, fn := range t.observers {
		fns = append(fns, fn)
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn(maps.Clone(all))
	}
}

// Subscribe registers fn to receive the full record after every Set. The
// returned function removes the subscription.
func (t *Tracker) Subscribe(fn func(map[string]Entry)) (unsubscribe func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.observers[id] = fn
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.observers, id)
			t.mu.Unlock()
		})
	}
}

func (t *Tracker) load(ctx context.Context) map[string]Entry {
	out := make(map[string]Entry)
	raw, ok, err := t.store.Get(ctx, Key)
	if err != nil {
		slog.Warn("regionstatus: read record", "err", err)
		return out
	}
	if !ok || raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		slog.Warn("regionstatus: corrupt record, treating as empty", "err", err)
		return make(map[string]Entry)
	}
	for id, e := range out {
		if e.Status == None || e.Status == "" {
			delete(out, id)
		}
	}
	return out
}
