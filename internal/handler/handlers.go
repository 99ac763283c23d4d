package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"

	"github.com/ivanov-nikolay/design_tools/internal/logging"
	"github.com/ivanov-nikolay/design_tools/internal/metrics"
	"github.com/ivanov-nikolay/design_tools/internal/models"
	"github.com/ivanov-nikolay/design_tools/internal/storage"
)

// multipartOverhead запас на заголовки частей и границы сверх суммарного размера файлов
const multipartOverhead = 1 << 20

// uploadError отказ в загрузке с HTTP статусом и сообщением для клиента
type uploadError struct {
	status  int
	message string
	err     error
}

func (e *uploadError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}
	return e.message
}

func (e *uploadError) Unwrap() error {
	return e.err
}

func rejectUpload(status int, message string, err error) *uploadError {
	return &uploadError{status: status, message: message, err: err}
}

// handleUpload принимает файлы, проверяет лимиты и переносит их в новую сессию
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.uploads.TryAcquire(1) {
		respondError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}
	defer s.uploads.Release(1)

	log := logging.Ctx(r.Context())
	limits := s.cfg.Limits
	r.Body = http.MaxBytesReader(w, r.Body, int64(limits.MaxFiles)*limits.MaxFileSize+multipartOverhead)

	staged, err := s.receiveFiles(r)
	if err != nil {
		s.store.Discard(staged)
		var ue *uploadError
		if !errors.As(err, &ue) {
			ue = rejectUpload(http.StatusInternalServerError, "Failed to upload files", err)
		}
		result := "rejected"
		if ue.status >= http.StatusInternalServerError {
			result = "error"
			log.Error().Err(err).Msg("Upload failed")
		} else {
			log.Warn().Err(err).Int("status", ue.status).Msg("Upload rejected")
		}
		metrics.Uploads.WithLabelValues(result).Inc()
		respondError(w, ue.status, ue.message)
		return
	}

	if len(staged) == 0 {
		metrics.Uploads.WithLabelValues("rejected").Inc()
		respondError(w, http.StatusBadRequest, "No files uploaded")
		return
	}

	var total int64
	for _, f := range staged {
		total += f.Size
	}
	if total > limits.MaxTotalSize {
		s.store.Discard(staged)
		log.Warn().
			Str("total", humanize.IBytes(uint64(total))).
			Str("limit", humanize.IBytes(uint64(limits.MaxTotalSize))).
			Msg("Upload rejected: total size over limit")
		metrics.Uploads.WithLabelValues("rejected").Inc()
		respondError(w, http.StatusRequestEntityTooLarge, "Total upload size exceeds allowed limit")
		return
	}

	sessionID := storage.NewSessionID()
	stored, err := s.store.Commit(sessionID, staged)
	if err != nil {
		s.store.Discard(staged[len(stored):])
		log.Error().Err(err).Str("session", sessionID).Msg("Failed to commit upload")
		metrics.Uploads.WithLabelValues("error").Inc()
		respondError(w, http.StatusInternalServerError, "Failed to upload files")
		return
	}

	resp := models.UploadResponse{SessionID: sessionID, Files: make([]models.UploadedFile, 0, len(stored))}
	now := time.Now()
	for _, f := range stored {
		resp.Files = append(resp.Files, models.UploadedFile{
			Name: f.Name,
			URL:  fmt.Sprintf("/api/download/%s/%s", sessionID, url.PathEscape(f.Name)),
			Size: f.Size,
		})
		if err := s.meta.SaveFile(r.Context(), models.FileMetadata{
			SessionID:    sessionID,
			FileName:     f.Name,
			OriginalName: f.OriginalName,
			Size:         f.Size,
			SHA256:       f.SHA256,
			ContentType:  f.ContentType,
			UploadedAt:   now,
		}); err != nil {
			log.Warn().Err(err).Str("session", sessionID).Str("file", f.Name).Msg("Failed to save file metadata")
		}
	}

	metrics.Uploads.WithLabelValues("ok").Inc()
	metrics.SessionsCreated.Inc()
	metrics.UploadedBytes.Add(float64(total))
	log.Info().
		Str("session", sessionID).
		Int("files", len(stored)).
		Str("size", humanize.IBytes(uint64(total))).
		Msg("Upload committed")

	respondJSON(w, http.StatusOK, resp)
}

// receiveFiles читает части multipart по очереди и складывает файлы во временный каталог.
// При ошибке возвращает уже принятые файлы, чтобы вызывающий их удалил.
func (s *Server) receiveFiles(r *http.Request) ([]storage.StagedFile, error) {
	limits := s.cfg.Limits

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, rejectUpload(http.StatusBadRequest, "Invalid multipart request", err)
	}

	var staged []storage.StagedFile
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return staged, nil
		}
		if err != nil {
			return staged, bodyError(err)
		}

		if part.FileName() == "" {
			part.Close()
			continue
		}
		if field := part.FormName(); field != "files" && field != "files[]" {
			part.Close()
			return staged, rejectUpload(http.StatusBadRequest, "Unexpected field", fmt.Errorf("field %q", field))
		}
		if len(staged) >= limits.MaxFiles {
			part.Close()
			return staged, rejectUpload(http.StatusBadRequest, "Too many files uploaded", nil)
		}

		f, err := s.store.Stage(part, part.FileName(), limits.MaxFileSize)
		part.Close()
		if err != nil {
			if errors.Is(err, storage.ErrFileTooLarge) {
				return staged, rejectUpload(http.StatusRequestEntityTooLarge, "File exceeds size limit",
					fmt.Errorf("%s over %s", part.FileName(), humanize.IBytes(uint64(limits.MaxFileSize))))
			}
			if errors.Is(err, storage.ErrReadFailed) {
				return staged, bodyError(err)
			}
			return staged, err
		}
		staged = append(staged, f)
	}
}

// bodyError ошибка чтения тела запроса: превышение MaxBytesReader или обрыв/мусор от клиента
func bodyError(err error) *uploadError {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return rejectUpload(http.StatusRequestEntityTooLarge, "Request body too large", err)
	}
	return rejectUpload(http.StatusBadRequest, "Malformed multipart body", err)
}

// handleDownload отдает один файл сессии
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	fileName := chi.URLParam(r, "fileName")

	f, info, err := s.store.Open(sessionID, fileName)
	if err != nil {
		if errors.Is(err, storage.ErrFileNotFound) {
			metrics.Downloads.WithLabelValues("file", "not_found").Inc()
			respondError(w, http.StatusNotFound, "File not found")
			return
		}
		logging.Ctx(r.Context()).Error().Err(err).Str("session", sessionID).Msg("Failed to open file")
		metrics.Downloads.WithLabelValues("file", "error").Inc()
		respondError(w, http.StatusInternalServerError, "Failed to read file")
		return
	}
	defer f.Close()

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectReader(f); err == nil {
		contentType = mt.String()
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("session", sessionID).Msg("Failed to rewind file")
		metrics.Downloads.WithLabelValues("file", "error").Inc()
		respondError(w, http.StatusInternalServerError, "Failed to read file")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", info.Name()))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)

	metrics.Downloads.WithLabelValues("file", "ok").Inc()
	if err := s.meta.IncrementDownloadCount(r.Context(), sessionID, info.Name()); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Str("session", sessionID).Msg("Failed to increment download count")
	}
}

// handleDownloadZip отдает все файлы сессии одним архивом. Архив пишется сразу в ответ;
// ошибка посреди записи обрывает соединение, потому что заголовки уже отправлены.
func (s *Server) handleDownloadZip(w http.ResponseWriter, r *http.Request) {
	if !s.uploads.TryAcquire(1) {
		respondError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}
	defer s.uploads.Release(1)

	log := logging.Ctx(r.Context())
	sessionID := chi.URLParam(r, "sessionId")

	files, err := s.store.SessionFiles(sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			metrics.Downloads.WithLabelValues("zip", "not_found").Inc()
			respondError(w, http.StatusNotFound, "Session not found")
			return
		}
		log.Error().Err(err).Str("session", sessionID).Msg("Failed to list session files")
		metrics.Downloads.WithLabelValues("zip", "error").Inc()
		respondError(w, http.StatusInternalServerError, "Failed to create archive")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", storage.ZipName(sessionID)))
	w.WriteHeader(http.StatusOK)

	if err := s.store.WriteZip(w, sessionID, files); err != nil {
		log.Error().Err(err).Str("session", sessionID).Msg("Failed to stream archive")
		metrics.Downloads.WithLabelValues("zip", "error").Inc()
		panic(http.ErrAbortHandler)
	}
	metrics.Downloads.WithLabelValues("zip", "ok").Inc()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, models.HealthResponse{Status: "ok"})
}
