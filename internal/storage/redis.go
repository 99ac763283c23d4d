package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/ivanov-nikolay/design_tools/internal/config"
	"github.com/ivanov-nikolay/design_tools/internal/logging"
	"github.com/ivanov-nikolay/design_tools/internal/models"
)

// deletedTTL сколько хранятся записи удаленной сессии
const deletedTTL = 24 * time.Hour

// RedisMetadataStore хранит метаданные файлов в Redis:
// session:{id}:files - множество имен, file:{id}:{name} - хэш с полями metadata, download_cnt, deleted
type RedisMetadataStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMetadataStore настраивает клиент Redis и проверяет соединение.
// Записи живут sessionLifetime + deletedTTL, даже если очистка не отметит сессию.
func NewRedisMetadataStore(ctx context.Context, cfg config.RedisConfig, sessionLifetime time.Duration) (*RedisMetadataStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	logging.Info().Str("addr", cfg.Addr).Msg("Connected to Redis")
	return &RedisMetadataStore{client: client, ttl: sessionLifetime + deletedTTL}, nil
}

func fileKey(sessionID, fileName string) string {
	return fmt.Sprintf("file:%s:%s", sessionID, fileName)
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s:files", sessionID)
}

// SaveFile сохраняет метаданные о файле
func (r *RedisMetadataStore) SaveFile(ctx context.Context, metadata models.FileMetadata) error {
	data, err := json.Marshal(metadata)
	if err != nil {
		return err
	}

	key := fileKey(metadata.SessionID, metadata.FileName)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, "metadata", data, "download_cnt", 0)
	pipe.SAdd(ctx, sessionKey(metadata.SessionID), metadata.FileName)
	pipe.Expire(ctx, key, r.ttl)
	pipe.Expire(ctx, sessionKey(metadata.SessionID), r.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// IncrementDownloadCount увеличивает счетчик скачивания файла
func (r *RedisMetadataStore) IncrementDownloadCount(ctx context.Context, sessionID, fileName string) error {
	return r.client.HIncrBy(ctx, fileKey(sessionID, fileName), "download_cnt", 1).Err()
}

// MarkSessionDeleted помечает файлы удаленной сессии и ставит записям срок жизни
func (r *RedisMetadataStore) MarkSessionDeleted(ctx context.Context, sessionID string) error {
	names, err := r.client.SMembers(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	for _, name := range names {
		key := fileKey(sessionID, name)
		pipe.HSet(ctx, key, "deleted", true)
		pipe.Expire(ctx, key, deletedTTL)
	}
	pipe.Expire(ctx, sessionKey(sessionID), deletedTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// File читает метаданные файла вместе со счетчиком скачиваний
func (r *RedisMetadataStore) File(ctx context.Context, sessionID, fileName string) (models.FileMetadata, error) {
	var metadata models.FileMetadata

	fields, err := r.client.HGetAll(ctx, fileKey(sessionID, fileName)).Result()
	if err != nil {
		return metadata, err
	}
	raw, ok := fields["metadata"]
	if !ok {
		return metadata, redis.Nil
	}
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return metadata, err
	}
	if n, err := strconv.Atoi(fields["download_cnt"]); err == nil {
		metadata.DownloadCount = n
	}
	metadata.Deleted = fields["deleted"] == "1" || fields["deleted"] == "true"
	return metadata, nil
}

func (r *RedisMetadataStore) Close() error {
	return r.client.Close()
}
