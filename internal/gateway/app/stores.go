package app

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	artifactcache "smartplanning/internal/cache/artifact"
	"smartplanning/internal/gateway/config"
	artifactrepo "smartplanning/internal/repository/artifact"
)

// initArtifactStore opens the backend named by STORAGE_MODE behind the
// read-through cache. A cloud backend that cannot be configured falls back to
// the local directory. The returned closer may be nil.
func initArtifactStore(cfg *config.Config, log *zap.Logger) (artifactrepo.Store, io.Closer, error) {
	local := func() artifactrepo.Store {
		log.Info("artifact store: local directory", zap.String("path", cfg.Storage.LocalPath))
		return artifactcache.NewDiskStore(cfg.Storage.LocalPath)
	}

	var (
		origin artifactrepo.Store
		closer io.Closer
	)
	switch cfg.Storage.Mode {
	case config.StorageLocal:
		origin = local()
	case config.StorageMemory:
		log.Info("artifact store: in-memory")
		origin = artifactrepo.NewMemoryStore()
	case config.StorageS3:
		s3Store, err := newArtifactS3Store(cfg, log)
		if err != nil {
			log.Warn("artifact store: using local fallback", zap.Error(err))
			origin = local()
		} else {
			origin = s3Store
		}
	case config.StoragePostgres:
		dsn := strings.TrimSpace(cfg.Storage.DatabaseURL)
		if dsn == "" {
			return nil, nil, fmt.Errorf("STORAGE_MODE=postgres requires DATABASE_URL")
		}
		st, err := artifactrepo.OpenPostgres(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open artifact postgres store: %w", err)
		}
		log.Info("artifact store: postgres")
		origin, closer = st, st
	case config.StorageSQLite:
		st, err := artifactrepo.OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open artifact sqlite store: %w", err)
		}
		log.Info("artifact store: sqlite", zap.String("path", cfg.Storage.SQLitePath))
		origin, closer = st, st
	default:
		return nil, nil, fmt.Errorf("unknown STORAGE_MODE %q", cfg.Storage.Mode)
	}
	return artifactcache.NewCachedStore(origin, artifactcache.DefaultCacheConfig()), closer, nil
}

func newArtifactS3Store(cfg *config.Config, log *zap.Logger) (artifactrepo.Store, error) {
	a := cfg.Storage.Artifact
	if strings.TrimSpace(a.Endpoint) == "" || strings.TrimSpace(a.Bucket) == "" {
		return nil, fmt.Errorf("s3 config incomplete")
	}
	s3Cfg := artifactrepo.S3Config{
		Endpoint:  a.Endpoint,
		Region:    a.Region,
		AccessKey: a.AccessKey,
		SecretKey: a.SecretKey,
		Bucket:    a.Bucket,
		UseSSL:    a.UseSSL,
	}
	s3Store, err := artifactrepo.NewS3Store(s3Cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize artifact s3 store: %w", err)
	}
	log.Info("artifact store: s3", zap.String("bucket", s3Cfg.Bucket), zap.String("endpoint", s3Cfg.Endpoint))
	return s3Store, nil
}
