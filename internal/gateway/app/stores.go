package app

import (
	"fmt"
	"log"

	"quorum/internal/gateway/config"
	"quorum/internal/gateway/repository/artifact"
	"quorum/internal/gateway/repository/conversation"
)

type gatewayStores struct {
	conversation conversation.Store
	artifact     artifact.Store
}

// initStores picks the conversation store (postgres, sqlite, memory) and
// the artifact store (s3, the same SQL database, memory).
func initStores(cfg *config.Config) (*gatewayStores, error) {
	var (
		origin conversation.Store
		sqlDB  *conversation.SQLStore
	)
	switch {
	case cfg.Store.DatabaseURL != "":
		st, err := conversation.NewPostgres(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		log.Printf("conversation store: postgres")
		origin, sqlDB = st, st
	case cfg.Store.SQLitePath != "":
		st, err := conversation.NewSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		log.Printf("conversation store: sqlite path=%s", cfg.Store.SQLitePath)
		origin, sqlDB = st, st
	default:
		log.Printf("conversation store: in-memory")
		origin = conversation.NewMemoryStore()
	}

	cached, err := conversation.NewCachedStore(origin, cfg.Store.CacheSize)
	if err != nil {
		_ = origin.Close()
		return nil, fmt.Errorf("failed to build conversation cache: %w", err)
	}

	artifacts, err := chooseArtifactStore(cfg, sqlDB)
	if err != nil {
		_ = origin.Close()
		return nil, err
	}
	return &gatewayStores{conversation: cached, artifact: artifacts}, nil
}

func chooseArtifactStore(cfg *config.Config, sqlDB *conversation.SQLStore) (artifact.Store, error) {
	if cfg.Artifact.Enabled {
		s3Cfg := artifact.S3Config{
			Endpoint:  cfg.Artifact.Endpoint,
			Region:    cfg.Artifact.Region,
			AccessKey: cfg.Artifact.AccessKey,
			SecretKey: cfg.Artifact.SecretKey,
			Bucket:    cfg.Artifact.Bucket,
			UseSSL:    cfg.Artifact.UseSSL,
		}
		st, err := artifact.NewS3Store(s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize artifact s3 store: %w", err)
		}
		log.Printf("artifact store: s3 bucket=%s endpoint=%s", s3Cfg.Bucket, s3Cfg.Endpoint)
		return st, nil
	}
	if sqlDB != nil {
		log.Printf("artifact store: sql")
		return artifact.NewSQLStore(sqlDB.DB(), sqlDB.Postgres()), nil
	}
	log.Printf("artifact store: in-memory")
	return artifact.NewMemoryStore(), nil
}
