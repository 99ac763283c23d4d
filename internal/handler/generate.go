package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/ivanov-nikolay/design_tools/internal/generation"
	"github.com/ivanov-nikolay/design_tools/internal/logging"
	"github.com/ivanov-nikolay/design_tools/internal/models"
)

const maxGenerateBody = 1 << 20

func (s *Server) requireGenerationKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Generation.APIKey == "" {
			respondError(w, http.StatusInternalServerError, generation.ErrNotConfigured.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleGenerateCreate ставит задачу генерации изображения или видео
func (s *Server) handleGenerateCreate(w http.ResponseWriter, r *http.Request) {
	var req generation.CreateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxGenerateBody)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		respondError(w, http.StatusUnprocessableEntity, "Prompt is required")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondJSON(w, http.StatusUnprocessableEntity, models.ErrorResponse{
			Error:   "Invalid generation parameters",
			Details: err.Error(),
		})
		return
	}

	resp, err := s.gen.Create(r.Context(), req)
	if err != nil {
		s.respondGenerationError(w, r, err)
		return
	}
	if resp.Status >= http.StatusBadRequest {
		respondJSON(w, resp.Status, models.ErrorResponse{
			Error:   resp.ErrorMessage("Generation API error"),
			Details: resp.Body,
		})
		return
	}
	writeJSON(w, resp.Status, resp.Body)
}

// handleGenerateStatus состояние задачи по jobId из query
func (s *Server) handleGenerateStatus(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.URL.Query().Get("jobId"))
	if jobID == "" {
		respondError(w, http.StatusUnprocessableEntity, "jobId is required")
		return
	}

	resp, err := s.gen.Status(r.Context(), jobID)
	if err != nil {
		s.respondGenerationError(w, r, err)
		return
	}
	if resp.Status >= http.StatusBadRequest {
		respondError(w, resp.Status, resp.ErrorMessage("Generation API error"))
		return
	}
	writeJSON(w, resp.Status, resp.Body)
}

// handleGenerateCancel отмена задачи по jobId из тела запроса
func (s *Server) handleGenerateCancel(w http.ResponseWriter, r *http.Request) {
	var req generation.CancelRequest
	_ = json.NewDecoder(io.LimitReader(r.Body, maxGenerateBody)).Decode(&req)

	jobID := strings.TrimSpace(req.JobID)
	if jobID == "" {
		respondError(w, http.StatusUnprocessableEntity, "jobId is required to cancel a job")
		return
	}

	resp, err := s.gen.Cancel(r.Context(), jobID)
	if err != nil {
		s.respondGenerationError(w, r, err)
		return
	}
	if resp.Status >= http.StatusBadRequest {
		respondError(w, resp.Status, resp.ErrorMessage("Failed to cancel job"))
		return
	}
	writeJSON(w, resp.Status, resp.Body)
}

func (s *Server) respondGenerationError(w http.ResponseWriter, r *http.Request, err error) {
	log := logging.Ctx(r.Context())
	switch {
	case errors.Is(err, generation.ErrNotConfigured):
		respondError(w, http.StatusInternalServerError, err.Error())
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		log.Warn().Err(err).Msg("Generation API unavailable")
		respondError(w, http.StatusServiceUnavailable, "Generation API temporarily unavailable")
	default:
		log.Error().Err(err).Msg("Generation API request failed")
		respondError(w, http.StatusBadGateway, "Generation API request failed")
	}
}
