package handler

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/ivanov-nikolay/design_tools/internal/config"
	"github.com/ivanov-nikolay/design_tools/internal/logging"
	"github.com/ivanov-nikolay/design_tools/internal/metrics"
)

// IPStats счетчики лимитов одного IP
type IPStats struct {
	Connections int64         // Одновременные соединения
	UploadBytes int64         // Байты загруженных данных с последнего сброса
	RateLimiter *rate.Limiter // Лимит запросов (RPS), nil если отключен
	mu          sync.Mutex
}

// IPLimiter ограничивает частоту запросов, число одновременных соединений
// и объем загрузок с одного IP. Нулевое значение лимита отключает проверку.
type IPLimiter struct {
	stats          sync.Map
	rps            int
	maxConnections int64
	maxUploadBytes int64
	resetInterval  time.Duration
}

func NewIPLimiter(limits config.LimitsConfig) *IPLimiter {
	return &IPLimiter{
		rps:            limits.RequestsPerSecond,
		maxConnections: limits.MaxConnectionsPerIP,
		maxUploadBytes: limits.MaxUploadBytesPerIP,
		resetInterval:  config.StatsResetInterval,
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (l *IPLimiter) statsFor(ip string) *IPStats {
	if v, ok := l.stats.Load(ip); ok {
		return v.(*IPStats)
	}
	s := &IPStats{}
	if l.rps > 0 {
		s.RateLimiter = rate.NewLimiter(rate.Limit(l.rps), l.rps)
	}
	v, _ := l.stats.LoadOrStore(ip, s)
	return v.(*IPStats)
}

// Middleware применяет лимиты к запросу
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		stats := l.statsFor(ip)

		if stats.RateLimiter != nil && !stats.RateLimiter.Allow() {
			respondError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}

		stats.mu.Lock()
		if l.maxConnections > 0 && stats.Connections >= l.maxConnections {
			stats.mu.Unlock()
			respondError(w, http.StatusTooManyRequests, "Too many connections from this IP")
			return
		}
		if l.maxUploadBytes > 0 && r.Method == http.MethodPost && r.ContentLength > 0 {
			if stats.UploadBytes+r.ContentLength > l.maxUploadBytes {
				stats.mu.Unlock()
				logging.Ctx(r.Context()).Warn().Str("ip", ip).
					Str("used", humanize.IBytes(uint64(stats.UploadBytes))).
					Msg("Upload quota exceeded")
				respondError(w, http.StatusForbidden, "Upload limit exceeded")
				return
			}
			stats.UploadBytes += r.ContentLength
		}
		stats.Connections++
		stats.mu.Unlock()

		defer func() {
			stats.mu.Lock()
			stats.Connections--
			stats.mu.Unlock()
		}()

		next.ServeHTTP(w, r)
	})
}

// Reset обнуляет счетчики загруженных байт
func (l *IPLimiter) Reset() {
	l.stats.Range(func(key, value interface{}) bool {
		stats := value.(*IPStats)
		stats.mu.Lock()
		stats.UploadBytes = 0
		idle := stats.Connections == 0
		stats.mu.Unlock()
		if idle {
			l.stats.Delete(key)
		}
		return true
	})
}

// Serve периодически сбрасывает статистику до отмены контекста
func (l *IPLimiter) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.resetInterval):
			l.Reset()
		}
	}
}

func (l *IPLimiter) String() string {
	return "ip-stats-reset"
}

// requestLogger пишет строку лога на каждый запрос и наблюдает латентность по шаблону маршрута
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			elapsed := time.Since(start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).
				Observe(elapsed.Seconds())

			logging.Ctx(r.Context()).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", elapsed).
				Str("remote", r.RemoteAddr).
				Msg("HTTP request")
		}()

		next.ServeHTTP(ww, r)
	})
}
