package session

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/mattjoyce/hostbridge/internal/storage"
)

// storeUnderTest exercises both implementations through the Store interface.
func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "session.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return map[string]Store{
		"sqlite": NewSQLiteStore(db),
		"memory": NewMemoryStore(),
	}
}

func TestStorePutGetDelete(t *testing.T) {
	t.Parallel()

	for name, st := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := st.Get(ctx, "jobs/test"); !errors.Is(err, ErrNoKey) {
				t.Fatalf("expected ErrNoKey, got %v", err)
			}

			if err := st.Put(ctx, "jobs/test", []byte(`[1]`)); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := st.Put(ctx, "jobs/test", []byte(`[1,2]`)); err != nil {
				t.Fatalf("Put overwrite: %v", err)
			}

			got, err := st.Get(ctx, "jobs/test")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if string(got) != `[1,2]` {
				t.Fatalf("unexpected value: %s", got)
			}

			if err := st.Delete(ctx, "jobs/test"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := st.Get(ctx, "jobs/test"); !errors.Is(err, ErrNoKey) {
				t.Fatalf("expected ErrNoKey after delete, got %v", err)
			}
			// Deleting again must be a no-op.
			if err := st.Delete(ctx, "jobs/test"); err != nil {
				t.Fatalf("Delete absent: %v", err)
			}
		})
	}
}

func TestStoreKeysPrefix(t *testing.T) {
	t.Parallel()

	for name, st := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, k := range []string{"jobs/build", "jobs/test", "meta/version"} {
				if err := st.Put(ctx, k, []byte("x")); err != nil {
					t.Fatalf("Put %s: %v", k, err)
				}
			}

			keys, err := st.Keys(ctx, "jobs/")
			if err != nil {
				t.Fatalf("Keys: %v", err)
			}
			want := []string{"jobs/build", "jobs/test"}
			if !reflect.DeepEqual(keys, want) {
				t.Fatalf("unexpected keys: %v", keys)
			}
		})
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "session.db")

	db, err := storage.OpenSQLite(ctx, dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := NewSQLiteStore(db).Put(ctx, "jobs/build", []byte(`["a"]`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	_ = db.Close()

	// A reload discards every in-process structure; the blob must remain.
	db2, err := storage.OpenSQLite(ctx, dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = db2.Close() })

	got, err := NewSQLiteStore(db2).Get(ctx, "jobs/build")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(got) != `["a"]` {
		t.Fatalf("unexpected value: %s", got)
	}
}
