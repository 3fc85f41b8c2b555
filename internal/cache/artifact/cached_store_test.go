package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	artifactrepo "smartplanning/internal/repository/artifact"
)

type countingOrigin struct {
	mu sync.Mutex

	data map[string][]byte
	urls map[string]string

	gets, puts, lists, urlCalls int
	failPut                     bool
}

func newCountingOrigin() *countingOrigin {
	return &countingOrigin{data: map[string][]byte{}, urls: map[string]string{}}
}

func (s *countingOrigin) Put(_ context.Context, id, path string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.failPut {
		return fmt.Errorf("origin unavailable")
	}
	s.data[id+"/"+path] = append([]byte(nil), content...)
	return nil
}

func (s *countingOrigin) Get(_ context.Context, id, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	raw, ok := s.data[id+"/"+path]
	if !ok {
		return nil, artifactrepo.ErrNotFound
	}
	return append([]byte(nil), raw...), nil
}

func (s *countingOrigin) GetURL(_ context.Context, id, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urlCalls++
	return s.urls[id+"/"+path], nil
}

func (s *countingOrigin) List(_ context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	out := []string{}
	for k := range s.data {
		if rest, ok := strings.CutPrefix(k, id+"/"); ok {
			out = append(out, rest)
		}
	}
	return out, nil
}

func TestCachedStoreServesRepeatReadsFromMemory(t *testing.T) {
	origin := newCountingOrigin()
	origin.data["snap/snapshot.json"] = []byte(`{"demands":[]}`)
	store := NewCachedStore(origin, DefaultCacheConfig())

	for i := 0; i < 3; i++ {
		got, err := store.Get(context.Background(), "snap", "snapshot.json")
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if string(got) != `{"demands":[]}` {
			t.Fatalf("unexpected content: %q", got)
		}
	}
	if origin.gets != 1 {
		t.Fatalf("expected a single origin read, got %d", origin.gets)
	}
	m := store.Metrics()
	if m.BlobHits != 2 || m.BlobMisses != 1 || m.OriginReads != 1 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}

func TestCachedStoreFailedWriteIsNotCached(t *testing.T) {
	origin := newCountingOrigin()
	store := NewCachedStore(origin, DefaultCacheConfig())

	if err := store.Put(context.Background(), "snap", "iteration-1/validation.json", []byte("[]")); err != nil {
		t.Fatalf("put: %v", err)
	}
	origin.failPut = true
	if err := store.Put(context.Background(), "snap", "iteration-2/validation.json", []byte("[]")); err == nil {
		t.Fatalf("expected put error")
	}
	_, err := store.Get(context.Background(), "snap", "iteration-2/validation.json")
	if !errors.Is(err, artifactrepo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if got := store.Metrics().OriginWriteErr; got != 1 {
		t.Fatalf("expected one write error, got %d", got)
	}
}

func TestCachedStorePutInvalidatesList(t *testing.T) {
	origin := newCountingOrigin()
	store := NewCachedStore(origin, DefaultCacheConfig())
	ctx := context.Background()

	if _, err := store.List(ctx, "snap"); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, "snap", "snapshot.json", []byte("{}")); err != nil {
		t.Fatal(err)
	}
	list, err := store.List(ctx, "snap")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || origin.lists != 2 {
		t.Fatalf("list not refreshed after put: %v (origin lists=%d)", list, origin.lists)
	}
}

func TestCachedStoreExpiresAndSkipsLargeBlobs(t *testing.T) {
	origin := newCountingOrigin()
	origin.data["snap/a"] = []byte("A")
	origin.data["snap/big"] = []byte(strings.Repeat("x", 64))
	store := NewCachedStore(origin, CacheConfig{BlobTTL: 10 * time.Millisecond, BlobMaxEntries: 8, BlobMaxBytes: 16})
	ctx := context.Background()

	_, _ = store.Get(ctx, "snap", "a")
	time.Sleep(30 * time.Millisecond)
	_, _ = store.Get(ctx, "snap", "a")
	if origin.gets != 2 {
		t.Fatalf("expected re-read after ttl, got %d", origin.gets)
	}

	_, _ = store.Get(ctx, "snap", "big")
	_, _ = store.Get(ctx, "snap", "big")
	if origin.gets != 4 {
		t.Fatalf("oversized blob should bypass cache, got %d origin reads", origin.gets)
	}
}

func TestCachedStoreURLCache(t *testing.T) {
	origin := newCountingOrigin()
	origin.urls["snap/audit-report.md"] = "https://bucket/snap/audit-report.md"
	store := NewCachedStore(origin, DefaultCacheConfig())

	for i := 0; i < 2; i++ {
		u, err := store.GetURL(context.Background(), "snap", "audit-report.md")
		if err != nil || u != "https://bucket/snap/audit-report.md" {
			t.Fatalf("url %d: %q %v", i, u, err)
		}
	}
	if origin.urlCalls != 1 {
		t.Fatalf("expected one origin url call, got %d", origin.urlCalls)
	}
}

func TestDiskStore(t *testing.T) {
	root := t.TempDir()
	store := NewDiskStore(root)
	ctx := context.Background()

	if _, err := store.Get(ctx, "snap", "snapshot.json"); !errors.Is(err, artifactrepo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.Put(ctx, "snap", "iteration-1/corrected_snapshot.json", []byte("{}")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, "snap", "iteration-1", "corrected_snapshot.json")); err != nil {
		t.Fatalf("file not written: %v", err)
	}
	list, err := store.List(ctx, "snap")
	if err != nil || len(list) != 1 || list[0] != "iteration-1/corrected_snapshot.json" {
		t.Fatalf("unexpected list %v %v", list, err)
	}
	if err := store.Put(ctx, "snap", "../escape", nil); err == nil {
		t.Fatalf("expected traversal to be rejected")
	}
	if err := store.Put(ctx, "../snap", "a", nil); err == nil {
		t.Fatalf("expected traversal in id to be rejected")
	}
	empty, err := store.List(ctx, "missing")
	if err != nil || len(empty) != 0 {
		t.Fatalf("missing snapshot should list empty: %v %v", empty, err)
	}
}
