package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// ZipName имя архива сессии для Content-Disposition
func ZipName(sessionID string) string {
	return fmt.Sprintf("design-tools-%s.zip", sessionID)
}

// WriteZip потоково пишет плоский zip-архив с файлами сессии в w
func (s *Store) WriteZip(w io.Writer, sessionID string, files []os.FileInfo) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	dir := s.sessionDir(sessionID)
	for _, info := range files {
		if err := s.addToZip(zw, filepath.Join(dir, info.Name()), info); err != nil {
			zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}

func (s *Store) addToZip(zw *zip.Writer, path string, info os.FileInfo) error {
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to build header for %s: %w", info.Name(), err)
	}
	header.Name = info.Name()
	header.Method = zip.Deflate

	entry, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to add %s to archive: %w", info.Name(), err)
	}

	f, err := s.fs.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", info.Name(), err)
	}
	defer f.Close()

	if _, err := io.Copy(entry, f); err != nil {
		return fmt.Errorf("failed to write %s to archive: %w", info.Name(), err)
	}
	return nil
}
