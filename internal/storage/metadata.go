package storage

import (
	"context"
	"sync"

	"github.com/ivanov-nikolay/design_tools/internal/models"
)

// MetadataStore хранит сведения о загруженных файлах. Источником истины о наличии
// сессий остается файловая система; ошибки хранилища метаданных не влияют на ответы API.
type MetadataStore interface {
	SaveFile(ctx context.Context, metadata models.FileMetadata) error
	IncrementDownloadCount(ctx context.Context, sessionID, fileName string) error
	MarkSessionDeleted(ctx context.Context, sessionID string) error
	Close() error
}

// MemoryMetadataStore хранение метаданных в памяти процесса
type MemoryMetadataStore struct {
	mu       sync.Mutex
	sessions map[string]map[string]models.FileMetadata
}

func NewMemoryMetadataStore() *MemoryMetadataStore {
	return &MemoryMetadataStore{sessions: make(map[string]map[string]models.FileMetadata)}
}

func (m *MemoryMetadataStore) SaveFile(_ context.Context, metadata models.FileMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	files, ok := m.sessions[metadata.SessionID]
	if !ok {
		files = make(map[string]models.FileMetadata)
		m.sessions[metadata.SessionID] = files
	}
	files[metadata.FileName] = metadata
	return nil
}

func (m *MemoryMetadataStore) IncrementDownloadCount(_ context.Context, sessionID, fileName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if data, ok := m.sessions[sessionID][fileName]; ok {
		data.DownloadCount++
		m.sessions[sessionID][fileName] = data
	}
	return nil
}

// MarkSessionDeleted забывает сессию целиком: в памяти нет смысла хранить удаленные записи
func (m *MemoryMetadataStore) MarkSessionDeleted(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

// File возвращает метаданные файла сессии
func (m *MemoryMetadataStore) File(sessionID, fileName string) (models.FileMetadata, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.sessions[sessionID][fileName]
	return data, ok
}

func (m *MemoryMetadataStore) Close() error {
	return nil
}
