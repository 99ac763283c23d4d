package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	"github.com/ivanov-nikolay/design_tools/internal/config"
	"github.com/ivanov-nikolay/design_tools/internal/logging"
	"github.com/ivanov-nikolay/design_tools/internal/models"
	"github.com/ivanov-nikolay/design_tools/internal/utils"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrFileNotFound    = errors.New("file not found")
	ErrFileTooLarge    = errors.New("file exceeds size limit")
	ErrReadFailed      = errors.New("failed to read upload")
)

const defaultContentType = "application/octet-stream"

// StagedFile файл, принятый во временный каталог, но еще не перенесенный в сессию
type StagedFile struct {
	Path         string
	OriginalName string
	Size         int64
	SHA256       string
	ContentType  string
}

// Store хранилище сессий: каталог на сессию внутри root и каталог временных файлов
type Store struct {
	fs      afero.Fs
	root    string
	tempDir string
}

func NewStore(fs afero.Fs, root, tempDir string) *Store {
	return &Store{fs: fs, root: root, tempDir: tempDir}
}

// Init создает корневую директорию и каталог временных файлов
func (s *Store) Init() error {
	for _, dir := range []string{s.root, s.tempDir} {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

// Stage сохраняет файл во временный каталог под случайным именем.
// Если данных больше limit, файл удаляется и возвращается ErrFileTooLarge.
func (s *Store) Stage(r io.Reader, originalName string, limit int64) (StagedFile, error) {
	f, path, err := s.createTemp(originalName)
	if err != nil {
		return StagedFile{}, err
	}

	hr := utils.NewHashingReader(io.LimitReader(sourceReader{r}, limit+1))
	if _, err := io.Copy(f, hr); err != nil {
		f.Close()
		s.remove(path)
		return StagedFile{}, fmt.Errorf("failed to write file: %w", err)
	}
	if hr.Size() > limit {
		f.Close()
		s.remove(path)
		return StagedFile{}, ErrFileTooLarge
	}

	contentType := defaultContentType
	if _, err := f.Seek(0, io.SeekStart); err == nil {
		if mt, err := mimetype.DetectReader(f); err == nil {
			contentType = mt.String()
		}
	}
	if err := f.Close(); err != nil {
		s.remove(path)
		return StagedFile{}, fmt.Errorf("failed to close file: %w", err)
	}

	return StagedFile{
		Path:         path,
		OriginalName: originalName,
		Size:         hr.Size(),
		SHA256:       hr.Sum(),
		ContentType:  contentType,
	}, nil
}

// sourceReader помечает ошибки чтения источника, чтобы отличать их от ошибок записи на диск
type sourceReader struct {
	r io.Reader
}

func (s sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		err = fmt.Errorf("%w: %w", ErrReadFailed, err)
	}
	return n, err
}

// createTemp имя временного файла: время + случайный суффикс + расширение исходного файла
func (s *Store) createTemp(originalName string) (afero.File, string, error) {
	ext := ""
	if e := filepath.Ext(originalName); len(e) > 1 {
		ext = unsafeNameChars.ReplaceAllString(e, "_")
	}

	for attempt := 0; attempt < 5; attempt++ {
		name := fmt.Sprintf("%d-%d%s", time.Now().UnixMilli(), rand.Int64N(1e9), ext)
		path := filepath.Join(s.tempDir, name)
		f, err := s.fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			// каталог удалили снаружи, создаем заново
			if mkErr := s.fs.MkdirAll(s.tempDir, 0o755); mkErr != nil {
				return nil, "", fmt.Errorf("failed to recreate temp directory: %w", mkErr)
			}
			logging.Warn().Str("dir", s.tempDir).Msg("Temp directory was missing, recreated")
			continue
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("failed to create temp file: %w", err)
		}
	}
	return nil, "", errors.New("failed to allocate temp file name")
}

// Discard удаляет временные файлы
func (s *Store) Discard(files []StagedFile) {
	for _, f := range files {
		s.remove(f.Path)
	}
}

func (s *Store) remove(path string) {
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.Warn().Err(err).Str("file", filepath.Base(path)).Msg("Failed to remove staged file")
	}
}

// Commit переносит временные файлы в каталог сессии, создавая его при необходимости.
// При ошибке возвращает уже перенесенные файлы; остальные остаются во временном каталоге.
func (s *Store) Commit(sessionID string, files []StagedFile) ([]models.StoredFile, error) {
	if !ValidSessionID(sessionID) {
		return nil, fmt.Errorf("invalid session id %q", sessionID)
	}

	dir := s.sessionDir(sessionID)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	stored := make([]models.StoredFile, 0, len(files))
	for _, f := range files {
		name, err := UniqueName(s.fs, dir, SanitizeName(filepath.Base(f.OriginalName)))
		if err != nil {
			return stored, err
		}
		if err := s.fs.Rename(f.Path, filepath.Join(dir, name)); err != nil {
			return stored, fmt.Errorf("failed to move %s into session: %w", name, err)
		}
		stored = append(stored, models.StoredFile{
			Name:         name,
			OriginalName: f.OriginalName,
			Size:         f.Size,
			SHA256:       f.SHA256,
			ContentType:  f.ContentType,
		})
	}
	return stored, nil
}

// Open открывает файл сессии для чтения
func (s *Store) Open(sessionID, name string) (afero.File, os.FileInfo, error) {
	if !ValidSessionID(sessionID) || !validFileName(name) {
		return nil, nil, ErrFileNotFound
	}

	path := filepath.Join(s.sessionDir(sessionID), name)
	info, err := s.fs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrFileNotFound
		}
		return nil, nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, nil, ErrFileNotFound
	}

	f, err := s.fs.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrFileNotFound
		}
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, info, nil
}

// SessionFiles возвращает файлы сессии, отсортированные по имени
func (s *Store) SessionFiles(sessionID string) ([]os.FileInfo, error) {
	if !ValidSessionID(sessionID) {
		return nil, ErrSessionNotFound
	}

	entries, err := afero.ReadDir(s.fs, s.sessionDir(sessionID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read session directory: %w", err)
	}

	files := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.Mode().IsRegular() {
			files = append(files, e)
		}
	}
	return files, nil
}

// Sessions перечисляет записи корневого каталога, кроме служебных
func (s *Store) Sessions() ([]os.FileInfo, error) {
	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read upload root: %w", err)
	}

	tempDir := filepath.Clean(s.tempDir)
	sessions := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), config.ReservedPrefix) || filepath.Join(s.root, e.Name()) == tempDir {
			continue
		}
		sessions = append(sessions, e)
	}
	return sessions, nil
}

// TempFiles перечисляет файлы во временном каталоге
func (s *Store) TempFiles() ([]os.FileInfo, error) {
	entries, err := afero.ReadDir(s.fs, s.tempDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read temp directory: %w", err)
	}

	files := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.Mode().IsRegular() {
			files = append(files, e)
		}
	}
	return files, nil
}

// RemoveTemp удаляет файл из временного каталога
func (s *Store) RemoveTemp(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid temp file %q", name)
	}
	if err := s.fs.Remove(filepath.Join(s.tempDir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove temp file: %w", err)
	}
	return nil
}

// RemoveSession рекурсивно удаляет запись корневого каталога
func (s *Store) RemoveSession(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid session entry %q", name)
	}
	if err := s.fs.RemoveAll(s.sessionDir(name)); err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}
