package regionstatus

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/sadaksathi/internal/prefs"
)

func TestSetAndAll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr := New(prefs.NewMemory(nil))

	tr.Set(ctx, "bagmati", Downloading, Progress(42))
	all := tr.All(ctx)
	e, ok := all["bagmati"]
	if !ok || len(all) != 1 {
		t.Fatalf("All = %v", all)
	}
	if e.Status != Downloading || e.Progress == nil || *e.Progress != 42 {
		t.Errorf("entry = %+v", e)
	}

	tr.Set(ctx, "bagmati", None, nil)
	if _, ok := tr.All(ctx)["bagmati"]; ok {
		t.Error("none must remove the entry")
	}
	if got := tr.Get(ctx, "bagmati"); got.Status != None || got.Progress != nil {
		t.Errorf("Get after none = %+v", got)
	}
}

func TestPersistedFormat(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := prefs.NewMemory(nil)
	tr := New(store)
	tr.Set(ctx, "lumbini", Downloaded, Progress(100))

	raw, ok := store.Raw(Key)
	if !ok {
		t.Fatal("record not persisted")
	}
	if want := `{"lumbini":{"status":"downloaded","progress":100}}`; raw != want {
		t.Errorf("record = %s, want %s", raw, want)
	}

	// A fresh tracker over the same store sees the same state.
	if e := New(store).Get(ctx, "lumbini"); e.Status != Downloaded {
		t.Errorf("reloaded entry = %+v", e)
	}
}

func TestCorruptRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "{oops"},
		{"wrong shape", `["a","b"]`},
		{"wrong field type", `{"a":{"status":7}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr := New(prefs.NewMemory(map[string]string{Key: tt.raw}))
			if all := tr.All(ctx); len(all) != 0 {
				t.Errorf("All = %v, want empty", all)
			}
			// A write over a corrupt record replaces it.
			tr.Set(ctx, "a", Downloading, Progress(1))
			if e := tr.Get(ctx, "a"); e.Status != Downloading {
				t.Errorf("entry after repair = %+v", e)
			}
		})
	}
}

func TestReadFailureIsEmpty(t *testing.T) {
	t.Parallel()

	store := prefs.NewMemory(map[string]string{Key: `{"a":{"status":"downloaded"}}`})
	store.GetErr = errors.New("io error")
	if all := New(store).All(context.Background()); len(all) != 0 {
		t.Errorf("All = %v, want empty", all)
	}
}

func TestObserversSeeWrittenValue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := prefs.NewMemory(nil)
	tr := New(store)

	var seen []map[string]Entry
	var persistedAtNotify []string
	unsubscribe := tr.Subscribe(func(m map[string]Entry) {
		seen = append(seen, m)
		raw, _ := store.Raw(Key)
		persistedAtNotify = append(persistedAtNotify, raw)
	})

	tr.Set(ctx, "karnali", Downloading, Progress(0))
	tr.Set(ctx, "karnali", Downloaded, Progress(100))
	unsubscribe()
	unsubscribe()
	tr.Set(ctx, "karnali", None, nil)

	if len(seen) != 2 {
		t.Fatalf("notifications = %d, want 2", len(seen))
	}
	if seen[1]["karnali"].Status != Downloaded {
		t.Errorf("second notification = %+v", seen[1])
	}
	if persistedAtNotify[1] != `{"karnali":{"status":"downloaded","progress":100}}` {
		t.Errorf("observer ran before persist: %s", persistedAtNotify[1])
	}
}

func TestNotifiesDespitePersistFailure(t *testing.T) {
	t.Parallel()

	store := prefs.NewMemory(nil)
	store.SetErr = errors.New("disk full")
	tr := New(store)

	var got map[string]Entry
	tr.Subscribe(func(m map[string]Entry) { got = m })
	tr.Set(context.Background(), "gandaki", Downloading, Progress(10))

	if got["gandaki"].Status != Downloading {
		t.Errorf("observer got %v, want attempted change", got)
	}
}
