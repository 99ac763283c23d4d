package handler

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"

	"github.com/ivanov-nikolay/design_tools/internal/config"
	"github.com/ivanov-nikolay/design_tools/internal/generation"
	"github.com/ivanov-nikolay/design_tools/internal/logging"
	"github.com/ivanov-nikolay/design_tools/internal/storage"
)

// Server HTTP API сервиса: загрузка, скачивание файлов и архивов, прокси генерации
type Server struct {
	cfg      *config.Config
	store    *storage.Store
	meta     storage.MetadataStore
	gen      *generation.Client
	limiter  *IPLimiter
	uploads  *semaphore.Weighted
	validate *validator.Validate
}

func NewServer(cfg *config.Config, store *storage.Store, meta storage.MetadataStore, gen *generation.Client) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		meta:     meta,
		gen:      gen,
		limiter:  NewIPLimiter(cfg.Limits),
		uploads:  semaphore.NewWeighted(cfg.Limits.MaxConcurrentUploads),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Limiter возвращает ограничитель по IP, чтобы запустить его сброс как отдельный сервис
func (s *Server) Limiter() *IPLimiter {
	return s.limiter
}

// Router собирает маршруты
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.cfg.Server.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware)
			r.Post("/upload", s.handleUpload)
			r.Get("/download/{sessionId}/{fileName}", s.handleDownload)
			r.Get("/download-zip/{sessionId}", s.handleDownloadZip)
		})

		r.Group(func(r chi.Router) {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins:     s.cfg.Generation.AllowedOrigins,
				AllowedMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
				AllowedHeaders:     []string{"Content-Type"},
				OptionsPassthrough: true,
			}))
			r.Options("/generate", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})

			r.Group(func(r chi.Router) {
				r.Use(httprate.LimitByIP(s.cfg.Generation.RequestsPerMin, time.Minute))
				r.Use(s.requireGenerationKey)
				r.Post("/generate", s.handleGenerateCreate)
				r.Get("/generate", s.handleGenerateStatus)
				r.Delete("/generate", s.handleGenerateCancel)
			})
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	if dir := s.cfg.Server.PublicDir; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			r.Handle("/*", http.FileServer(http.Dir(dir)))
		} else {
			logging.Warn().Str("dir", dir).Msg("Public directory not found, static files disabled")
		}
	}

	return r
}
