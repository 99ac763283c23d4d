package storage

import (
	"context"
	"time"

	"github.com/ivanov-nikolay/design_tools/internal/logging"
	"github.com/ivanov-nikolay/design_tools/internal/metrics"
)

// SweepResult итоги одного прохода очистки
type SweepResult struct {
	Scanned     int
	Removed     int
	TempRemoved int
	Failed      int
}

// Sweeper периодически удаляет сессии старше lifetime и забытые временные файлы.
// Блокировок с загрузками и скачиваниями нет: сессия, удаленная во время
// скачивания, просто перестает находиться.
type Sweeper struct {
	store    *Store
	meta     MetadataStore
	interval time.Duration
	lifetime time.Duration
	now      func() time.Time
}

func NewSweeper(store *Store, meta MetadataStore, interval, lifetime time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		meta:     meta,
		interval: interval,
		lifetime: lifetime,
		now:      time.Now,
	}
}

// Sweep один проход по корневому и временному каталогам. Ошибки по отдельным записям
// логируются и не прерывают проход.
func (s *Sweeper) Sweep(ctx context.Context) SweepResult {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	var result SweepResult
	now := s.now()
	s.sweepSessions(ctx, now, &result)
	s.sweepTemp(now, &result)
	return result
}

func (s *Sweeper) sweepSessions(ctx context.Context, now time.Time, result *SweepResult) {
	entries, err := s.store.Sessions()
	if err != nil {
		logging.Error().Err(err).Msg("Cleanup failed to list sessions")
		result.Failed++
		metrics.SweepFailures.Inc()
		return
	}

	for _, entry := range entries {
		result.Scanned++
		if now.Sub(entry.ModTime()) <= s.lifetime {
			continue
		}

		sessionID := entry.Name()
		if err := s.store.RemoveSession(sessionID); err != nil {
			logging.Error().Err(err).Str("session_id", sessionID).Msg("Cleanup failed")
			result.Failed++
			metrics.SweepFailures.Inc()
			continue
		}

		result.Removed++
		metrics.SweepRemoved.Inc()
		logging.Info().Str("session_id", sessionID).Msg("Cleanup removed session")

		if s.meta != nil {
			if err := s.meta.MarkSessionDeleted(ctx, sessionID); err != nil {
				logging.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to mark session as deleted")
			}
		}
	}
}

// sweepTemp удаляет временные файлы, оставшиеся от оборванных загрузок.
// Файл активной загрузки обновляется при каждой записи и под порог не попадает.
func (s *Sweeper) sweepTemp(now time.Time, result *SweepResult) {
	files, err := s.store.TempFiles()
	if err != nil {
		logging.Error().Err(err).Msg("Cleanup failed to list temp files")
		result.Failed++
		metrics.SweepFailures.Inc()
		return
	}

	for _, f := range files {
		if now.Sub(f.ModTime()) <= s.lifetime {
			continue
		}
		if err := s.store.RemoveTemp(f.Name()); err != nil {
			logging.Error().Err(err).Str("file", f.Name()).Msg("Cleanup failed to remove temp file")
			result.Failed++
			metrics.SweepFailures.Inc()
			continue
		}
		result.TempRemoved++
		metrics.SweepRemovedTemp.Inc()
		logging.Info().Str("file", f.Name()).Msg("Cleanup removed stale temp file")
	}
}

// Serve выполняет очистку сразу при запуске и затем каждые interval до отмены ctx
func (s *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		result := s.Sweep(ctx)
		logging.Debug().
			Int("scanned", result.Scanned).
			Int("removed", result.Removed).
			Int("temp_removed", result.TempRemoved).
			Int("failed", result.Failed).
			Msg("Cleanup pass finished")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) String() string {
	return "session-sweeper"
}
