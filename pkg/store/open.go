package store

import (
	"context"
	"fmt"

	"github.com/speedrun-hq/tokenrunner/pkg/config"
	"github.com/speedrun-hq/tokenrunner/pkg/logger"
)

// Open creates the backend selected by STORE_BACKEND
func Open(ctx context.Context, cfg config.StoreConfig, log logger.Logger) (Backend, error) {
	switch cfg.Backend {
	case config.StoreMemory:
		log.Notice("Using in-memory store, runs are lost on exit")
		return NewMemoryStore(), nil
	case config.StoreFile:
		log.Info("Using file store at %s", cfg.Dir)
		return NewFileStore(cfg.Dir)
	case config.StoreRedis:
		log.Info("Using redis store")
		return NewRedisStore(ctx, cfg.RedisURL)
	case config.StorePostgres:
		log.Info("Using postgres store")
		return NewPostgresStore(ctx, cfg.PostgresURL)
	case config.StoreS3:
		log.Info("Using object store %s/%s", cfg.S3Endpoint, cfg.S3Bucket)
		return NewObjectStore(ctx, ObjectConfig{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}
