package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-tavern/roleplay/internal/config"
	"github.com/zhouzirui/z-tavern/roleplay/internal/storage"
)

func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.Backend, error) {
	switch cfg.Backend {
	case config.StorageRedis:
		log.Info().Str("url", cfg.RedisURL).Msg("using redis storage")
		return storage.NewRedisBackend(ctx, cfg.RedisURL, cfg.RedisPrefix)
	case config.StorageFile, "":
		log.Info().Str("dir", cfg.DataDir).Msg("using file storage")
		return storage.NewFileBackend(cfg.DataDir)
	default:
		return nil, errors.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
