package snapshot

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"actdb/internal/blob"
	"actdb/internal/persistence"
	"actdb/pkg/act"
)

func testAct(title string) act.Act {
	return act.Act{
		ID:              act.Identifier{Year: 2012, Number: 1},
		Title:           "Example Act",
		PublicationDate: act.MustDate("2011-12-20"),
		Root: &act.Node{
			Children: []*act.Node{
				{
					Kind: act.KindArticle,
					ID:   "1",
					Children: []*act.Node{
						{Kind: act.KindParagraph, ID: "1", Body: title},
					},
				},
			},
		},
	}
}

func newTestStore(t *testing.T) (*Store, blob.Store) {
	t.Helper()
	blobs := blob.NewMemory()
	store, err := New(blobs, persistence.NewMemory(), Options{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, blobs
}

func TestPutThenGetAt(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	a := testAct("original text")

	cp, err := store.Put(ctx, Record{Act: a, Date: act.MustDate("2012-01-01"), Note: "original text"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !strings.HasPrefix(cp.Key, "snapshot/") || !strings.HasSuffix(cp.Key, ".json") {
		t.Fatalf("unexpected key shape: %s", cp.Key)
	}

	got, gotCP, err := store.GetAt(ctx, a.ID, act.MustDate("2012-06-01"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if gotCP.Key != cp.Key {
		t.Fatalf("change point mismatch: %s vs %s", gotCP.Key, cp.Key)
	}
	if !act.Equal(got.Root, a.Root) || got.Title != a.Title {
		t.Fatal("returned act differs from stored act")
	}

	_, _, err = store.GetAt(ctx, a.ID, act.MustDate("2011-12-31"))
	if !errors.Is(err, ErrNotYetInForce) {
		t.Fatalf("expected ErrNotYetInForce, got %v", err)
	}
}

func TestPutIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	rec := Record{Act: testAct("same"), Date: act.MustDate("2012-01-01")}

	first, err := store.Put(ctx, rec)
	if err != nil {
		t.Fatalf("first put: %v", err)
	}
	second, err := store.Put(ctx, rec)
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if first.Key != second.Key {
		t.Fatalf("identical records produced different keys: %s vs %s", first.Key, second.Key)
	}
	points, _ := store.ChangePoints(ctx, rec.Act.ID)
	if len(points) != 1 {
		t.Fatalf("expected one change point, got %d", len(points))
	}
}

func TestGetAtReturnsIndependentCopy(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	a := testAct("original text")
	store.Put(ctx, Record{Act: a, Date: act.MustDate("2012-01-01")})

	got, _, err := store.GetAt(ctx, a.ID, act.MustDate("2012-01-01"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Root.Children[0].Children[0].Body = "mutated"

	again, _, _ := store.GetAt(ctx, a.ID, act.MustDate("2012-01-01"))
	if again.Root.Children[0].Children[0].Body != "original text" {
		t.Fatal("mutating a returned act must not affect later reads")
	}
}

func TestGetAtServesFromCacheAfterFirstRead(t *testing.T) {
	store, blobs := newTestStore(t)
	ctx := context.Background()
	a := testAct("cached")
	cp, _ := store.Put(ctx, Record{Act: a, Date: act.MustDate("2012-01-01")})

	// Remove the blob underneath; the cached record must still serve reads.
	if ok, err := blobs.Delete(ctx, cp.Key); err != nil || !ok {
		t.Fatalf("delete blob: ok=%v err=%v", ok, err)
	}
	if _, _, err := store.GetAt(ctx, a.ID, act.MustDate("2012-01-01")); err != nil {
		t.Fatalf("expected cache hit, got %v", err)
	}
}

func TestInvalidateDropsLaterPoints(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	a := testAct("v1")
	store.Put(ctx, Record{Act: a, Date: act.MustDate("2012-01-01")})
	b := testAct("v2")
	store.Put(ctx, Record{Act: b, Date: act.MustDate("2013-01-01")})

	n, err := store.Invalidate(ctx, a.ID, act.MustDate("2013-01-01"))
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 dropped, got %d", n)
	}
	latest, ok, _ := store.Latest(ctx, a.ID)
	if !ok || latest.Date != act.MustDate("2012-01-01") {
		t.Fatalf("unexpected latest after invalidate: %+v ok=%v", latest, ok)
	}
}

func TestKeyFanOut(t *testing.T) {
	key := Key([]byte("payload"))
	parts := strings.Split(key, "/")
	if len(parts) != 3 || parts[0] != "snapshot" || len(parts[1]) != 2 {
		t.Fatalf("unexpected key layout: %s", key)
	}
	if key != Key([]byte("payload")) {
		t.Fatal("key derivation must be deterministic")
	}
}

func TestOpenIndexSelectsDriver(t *testing.T) {
	ctx := context.Background()

	t.Setenv("ACTDB_INDEX_DRIVER", "memory")
	idx, err := OpenIndex(ctx)
	if err != nil {
		t.Fatalf("memory driver: %v", err)
	}
	if _, ok := idx.(*persistence.Memory); !ok {
		t.Fatalf("expected memory index, got %T", idx)
	}

	t.Setenv("ACTDB_INDEX_DRIVER", "sqlite")
	t.Setenv("ACTDB_INDEX_SQLITE_PATH", filepath.Join(t.TempDir(), "idx.db"))
	idx, err = OpenIndex(ctx)
	if err != nil {
		t.Fatalf("sqlite driver: %v", err)
	}
	_ = idx.Close()

	t.Setenv("ACTDB_INDEX_DRIVER", "gibberish")
	if _, err := OpenIndex(ctx); err == nil {
		t.Fatal("expected error for unknown driver")
	}

	t.Setenv("ACTDB_INDEX_DRIVER", "postgres")
	t.Setenv("ACTDB_INDEX_POSTGRES_DSN", "")
	if _, err := OpenIndex(ctx); err == nil {
		t.Fatal("expected error for missing postgres dsn")
	}
}
