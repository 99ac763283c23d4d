package main

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/ivanov-nikolay/design_tools/internal/config"
	"github.com/ivanov-nikolay/design_tools/internal/logging"
	"github.com/ivanov-nikolay/design_tools/internal/storage"
)

// app общие зависимости команд
type app struct {
	cfg   *config.Config
	store *storage.Store
	meta  storage.MetadataStore
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	store := storage.NewStore(afero.NewOsFs(), cfg.Storage.UploadRoot, cfg.Storage.TempDirPath())
	if err := store.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	return &app{cfg: cfg, store: store, meta: newMetadataStore(ctx, cfg)}, nil
}

// newMetadataStore Redis при заданном адресе, иначе память процесса.
// Недоступный Redis не мешает запуску: метаданные вспомогательные.
func newMetadataStore(ctx context.Context, cfg *config.Config) storage.MetadataStore {
	if cfg.Redis.Addr == "" {
		return storage.NewMemoryMetadataStore()
	}
	meta, err := storage.NewRedisMetadataStore(ctx, cfg.Redis, cfg.Storage.SessionLifetime())
	if err != nil {
		logging.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, keeping file metadata in memory")
		return storage.NewMemoryMetadataStore()
	}
	return meta
}

func (a *app) close() {
	if err := a.meta.Close(); err != nil {
		logging.Warn().Err(err).Msg("Failed to close metadata store")
	}
}
