package artifact

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	artifactrepo "smartplanning/internal/repository/artifact"
)

type Store = artifactrepo.Store

type CacheConfig struct {
	BlobTTL        time.Duration
	BlobMaxEntries int
	// BlobMaxBytes skips caching of single blobs larger than this; 0 caches everything.
	BlobMaxBytes int

	ListTTL        time.Duration
	ListMaxEntries int

	URLTTL        time.Duration
	URLMaxEntries int
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		BlobTTL:        5 * time.Minute,
		BlobMaxEntries: 1024,
		BlobMaxBytes:   8 * 1024 * 1024,
		ListTTL:        30 * time.Second,
		ListMaxEntries: 512,
		URLTTL:         5 * time.Minute,
		URLMaxEntries:  1024,
	}
}

func (c CacheConfig) withDefaults() CacheConfig {
	def := DefaultCacheConfig()
	if c.BlobTTL <= 0 {
		c.BlobTTL = def.BlobTTL
	}
	if c.BlobMaxEntries <= 0 {
		c.BlobMaxEntries = def.BlobMaxEntries
	}
	if c.BlobMaxBytes < 0 {
		c.BlobMaxBytes = def.BlobMaxBytes
	}
	if c.ListTTL <= 0 {
		c.ListTTL = def.ListTTL
	}
	if c.ListMaxEntries <= 0 {
		c.ListMaxEntries = def.ListMaxEntries
	}
	if c.URLTTL <= 0 {
		c.URLTTL = def.URLTTL
	}
	if c.URLMaxEntries <= 0 {
		c.URLMaxEntries = def.URLMaxEntries
	}
	return c
}

type MetricsSnapshot struct {
	BlobHits       uint64 `json:"blob_hits"`
	BlobMisses     uint64 `json:"blob_misses"`
	ListHits       uint64 `json:"list_hits"`
	ListMisses     uint64 `json:"list_misses"`
	URLHits        uint64 `json:"url_hits"`
	URLMisses      uint64 `json:"url_misses"`
	OriginReads    uint64 `json:"origin_reads"`
	OriginWrites   uint64 `json:"origin_writes"`
	OriginReadErr  uint64 `json:"origin_read_errors"`
	OriginWriteErr uint64 `json:"origin_write_errors"`
}

type metrics struct {
	blobHits, blobMisses     atomic.Uint64
	listHits, listMisses     atomic.Uint64
	urlHits, urlMisses       atomic.Uint64
	originReads, originWrite atomic.Uint64
	originReadErr            atomic.Uint64
	originWriteErr           atomic.Uint64
}

func (m *metrics) snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		BlobHits:       m.blobHits.Load(),
		BlobMisses:     m.blobMisses.Load(),
		ListHits:       m.listHits.Load(),
		ListMisses:     m.listMisses.Load(),
		URLHits:        m.urlHits.Load(),
		URLMisses:      m.urlMisses.Load(),
		OriginReads:    m.originReads.Load(),
		OriginWrites:   m.originWrite.Load(),
		OriginReadErr:  m.originReadErr.Load(),
		OriginWriteErr: m.originWriteErr.Load(),
	}
}

// CachedStore is a read-through, write-through cache in front of a slower origin.
type CachedStore struct {
	origin       Store
	blobMaxBytes int

	blobs   *expirable.LRU[string, []byte]
	lists   *expirable.LRU[string, []string]
	urls    *expirable.LRU[string, string]
	metrics metrics
}

func NewCachedStore(origin Store, cfg CacheConfig) *CachedStore {
	cfg = cfg.withDefaults()
	return &CachedStore{
		origin:       origin,
		blobMaxBytes: cfg.BlobMaxBytes,
		blobs:        expirable.NewLRU[string, []byte](cfg.BlobMaxEntries, nil, cfg.BlobTTL),
		lists:        expirable.NewLRU[string, []string](cfg.ListMaxEntries, nil, cfg.ListTTL),
		urls:         expirable.NewLRU[string, string](cfg.URLMaxEntries, nil, cfg.URLTTL),
	}
}

func (s *CachedStore) Put(ctx context.Context, snapshotID, path string, content []byte) error {
	s.metrics.originWrite.Add(1)
	if err := s.origin.Put(ctx, snapshotID, path, content); err != nil {
		s.metrics.originWriteErr.Add(1)
		return err
	}
	key := cacheKey(snapshotID, path)
	s.storeBlob(key, content)
	s.lists.Remove(strings.TrimSpace(snapshotID))
	s.urls.Remove(key)
	return nil
}

func (s *CachedStore) Get(ctx context.Context, snapshotID, path string) ([]byte, error) {
	key := cacheKey(snapshotID, path)
	if raw, ok := s.blobs.Get(key); ok {
		s.metrics.blobHits.Add(1)
		return append([]byte(nil), raw...), nil
	}
	s.metrics.blobMisses.Add(1)
	s.metrics.originReads.Add(1)

	raw, err := s.origin.Get(ctx, snapshotID, path)
	if err != nil {
		s.metrics.originReadErr.Add(1)
		return nil, err
	}
	s.storeBlob(key, raw)
	return append([]byte(nil), raw...), nil
}

func (s *CachedStore) GetURL(ctx context.Context, snapshotID, path string) (string, error) {
	key := cacheKey(snapshotID, path)
	if cached, ok := s.urls.Get(key); ok {
		s.metrics.urlHits.Add(1)
		return cached, nil
	}
	s.metrics.urlMisses.Add(1)
	s.metrics.originReads.Add(1)

	url, err := s.origin.GetURL(ctx, snapshotID, path)
	if err != nil {
		s.metrics.originReadErr.Add(1)
		return "", err
	}
	if strings.TrimSpace(url) != "" {
		s.urls.Add(key, url)
	}
	return url, nil
}

func (s *CachedStore) List(ctx context.Context, snapshotID string) ([]string, error) {
	snapshotID = strings.TrimSpace(snapshotID)
	if list, ok := s.lists.Get(snapshotID); ok {
		s.metrics.listHits.Add(1)
		return append([]string(nil), list...), nil
	}
	s.metrics.listMisses.Add(1)
	s.metrics.originReads.Add(1)

	list, err := s.origin.List(ctx, snapshotID)
	if err != nil {
		s.metrics.originReadErr.Add(1)
		return nil, err
	}
	s.lists.Add(snapshotID, append([]string(nil), list...))
	return append([]string(nil), list...), nil
}

func (s *CachedStore) Metrics() MetricsSnapshot {
	if s == nil {
		return MetricsSnapshot{}
	}
	return s.metrics.snapshot()
}

func (s *CachedStore) storeBlob(key string, raw []byte) {
	if s.blobMaxBytes > 0 && len(raw) > s.blobMaxBytes {
		s.blobs.Remove(key)
		return
	}
	s.blobs.Add(key, append([]byte(nil), raw...))
}

func cacheKey(snapshotID, path string) string {
	return strings.TrimSpace(snapshotID) + "/" + strings.TrimLeft(strings.TrimSpace(path), "/")
}
