package blob

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	return map[string]Store{"fs": fs, "memory": NewMemory()}
}

func TestPutGetRoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			body := "\"code\",\"name\"\r\n"
			info, err := store.Put(ctx, "exports/stocktake-20260828-090000.csv", strings.NewReader(body), PutOptions{})
			if err != nil {
				t.Fatalf("Put: %v", err)
			}
			if info.Size != int64(len(body)) {
				t.Fatalf("size = %d, want %d", info.Size, len(body))
			}
			if info.ContentType == "" {
				t.Fatalf("content type must be inferred from the key")
			}

			got, rc, err := store.Get(ctx, "exports/stocktake-20260828-090000.csv")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			defer rc.Close()
			data, err := io.ReadAll(rc)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			if string(data) != body {
				t.Fatalf("body = %q", data)
			}
			if got.Size != info.Size {
				t.Fatalf("head size = %d, want %d", got.Size, info.Size)
			}
		})
	}
}

func TestPutOverwritesExistingKey(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := "exports/daily.csv"
			if _, err := store.Put(ctx, key, strings.NewReader("first"), PutOptions{}); err != nil {
				t.Fatalf("first Put: %v", err)
			}
			if _, err := store.Put(ctx, key, strings.NewReader("second"), PutOptions{}); err != nil {
				t.Fatalf("re-publish must overwrite, got %v", err)
			}
			_, rc, err := store.Get(ctx, key)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			defer rc.Close()
			data, _ := io.ReadAll(rc)
			if string(data) != "second" {
				t.Fatalf("body = %q, want the re-published artifact", data)
			}
		})
	}
}

func TestListFiltersByPrefix(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, key := range []string{"exports/a.csv", "exports/b.csv", "backups/state.json"} {
				if _, err := store.Put(ctx, key, strings.NewReader("x"), PutOptions{}); err != nil {
					t.Fatalf("Put %s: %v", key, err)
				}
			}
			infos, err := store.List(ctx, "exports/")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(infos) != 2 {
				t.Fatalf("listed %d artifacts, want 2", len(infos))
			}
			if infos[0].Key != "exports/a.csv" || infos[1].Key != "exports/b.csv" {
				t.Fatalf("keys not sorted: %+v", infos)
			}
		})
	}
}

func TestDeleteReportsExistence(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.Put(ctx, "exports/x.csv", strings.NewReader("x"), PutOptions{}); err != nil {
				t.Fatalf("Put: %v", err)
			}
			ok, err := store.Delete(ctx, "exports/x.csv")
			if err != nil || !ok {
				t.Fatalf("Delete existing = %v, %v", ok, err)
			}
			ok, err = store.Delete(ctx, "exports/x.csv")
			if err != nil || ok {
				t.Fatalf("Delete missing = %v, %v", ok, err)
			}
		})
	}
}

func TestKeySanitization(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"", "/abs.csv", "../escape.csv"} {
				if _, err := store.Put(context.Background(), key, strings.NewReader("x"), PutOptions{}); err == nil {
					t.Fatalf("key %q must be rejected", key)
				}
			}
		})
	}
}

func TestPresignUnsupportedLocally(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.PresignURL(context.Background(), "exports/a.csv", time.Minute); err != ErrUnsupported {
				t.Fatalf("expected ErrUnsupported, got %v", err)
			}
		})
	}
}

func TestOpenSelectsDriverFromEnv(t *testing.T) {
	t.Setenv("STOCKTAKE_BLOB_DRIVER", "memory")
	store, err := Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if store.Driver() != DriverMemory {
		t.Fatalf("driver = %s", store.Driver())
	}

	t.Setenv("STOCKTAKE_BLOB_DRIVER", "fs")
	t.Setenv("STOCKTAKE_BLOB_FS_ROOT", t.TempDir())
	store, err = Open(context.Background())
	if err != nil {
		t.Fatalf("Open fs: %v", err)
	}
	if store.Driver() != DriverFilesystem {
		t.Fatalf("driver = %s", store.Driver())
	}

	t.Setenv("STOCKTAKE_BLOB_DRIVER", "bogus")
	if _, err := Open(context.Background()); err == nil {
		t.Fatalf("unknown driver must fail")
	}
}
