// Package janitor implements the C9 JanitorLoop: the periodic background
// sweep that bounds disk and storage growth for temp files, expired dedup
// artifacts and old log rows.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"mp3pipeline/internal/storage"
	"mp3pipeline/internal/store"
	"mp3pipeline/internal/temparena"
)

// Loop runs the hourly/daily cleanup ticks described in spec §4.9.
type Loop struct {
	store        store.Store
	objects      storage.Store
	arena        *temparena.Arena
	logger       *slog.Logger
	tempMaxAge   time.Duration
	slidingTTL   time.Duration
	absoluteTTL  time.Duration
	eventTTL     time.Duration
	hourlyEvery  time.Duration
	dailyAt      int // hour of day (0-23) the daily pass runs at
	lastDailyRun time.Time
}

// New constructs a JanitorLoop. tempMaxAge/slidingTTL/eventTTL default to
// spec's 24h temp-file / 1h artifact / 30-day log-row retention when zero.
// absoluteTTL is the Caching.DefaultExpirationDays hard cap: an artifact is
// purged once it is older than whichever of slidingTTL/absoluteTTL elapses
// first. absoluteTTL <= 0 disables the hard cap (sliding TTL alone applies).
func New(
	st store.Store,
	objects storage.Store,
	arena *temparena.Arena,
	tempMaxAge, slidingTTL, absoluteTTL, eventTTL time.Duration,
	logger *slog.Logger,
) *Loop {
	if tempMaxAge <= 0 {
		tempMaxAge = 24 * time.Hour
	}
	if slidingTTL <= 0 {
		slidingTTL = time.Hour
	}
	if eventTTL <= 0 {
		eventTTL = 30 * 24 * time.Hour
	}
	return &Loop{
		store:       st,
		objects:     objects,
		arena:       arena,
		logger:      logger,
		tempMaxAge:  tempMaxAge,
		slidingTTL:  slidingTTL,
		absoluteTTL: absoluteTTL,
		eventTTL:    eventTTL,
		hourlyEvery: time.Hour,
		dailyAt:     3,
	}
}

// effectiveArtifactTTL is the sliding TTL, capped by the absolute TTL when
// the latter is enabled and shorter.
func (l *Loop) effectiveArtifactTTL() time.Duration {
	if l.absoluteTTL > 0 && l.absoluteTTL < l.slidingTTL {
		return l.absoluteTTL
	}
	return l.slidingTTL
}

// Run ticks hourly until ctx is cancelled, running the hourly sweep every
// tick and the daily sweep once per day at dailyAt.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.hourlyEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.hourly(ctx)
			l.maybeDaily(ctx)
		}
	}
}

func (l *Loop) hourly(ctx context.Context) {
	if err := l.arena.CleanupOlderThan(l.tempMaxAge); err != nil {
		l.logger.Error("janitor: temp arena cleanup failed", "error", err)
	}
	l.purgeExpiredArtifacts(ctx)
}

func (l *Loop) maybeDaily(ctx context.Context) {
	now := time.Now()
	if now.Hour() != l.dailyAt {
		return
	}
	if !l.lastDailyRun.IsZero() && now.Sub(l.lastDailyRun) < 23*time.Hour {
		return
	}
	l.lastDailyRun = now
	l.daily(ctx)
}

func (l *Loop) daily(ctx context.Context) {
	if err := l.arena.CleanupOlderThan(0); err != nil {
		l.logger.Error("janitor: deep temp arena cleanup failed", "error", err)
	}
	purged, err := l.store.PurgeEventsOlderThan(ctx, time.Now().Add(-l.eventTTL))
	if err != nil {
		l.logger.Error("janitor: PurgeEventsOlderThan failed", "error", err)
		return
	}
	l.logger.Info("janitor: purged log events", "count", purged)
}

// purgeExpiredArtifacts deletes the backing objects for every artifact
// past its TTL before removing the store row, so a crash mid-sweep leaves
// at most an orphaned object rather than a dangling reference.
func (l *Loop) purgeExpiredArtifacts(ctx context.Context) {
	cutoff := time.Now().Add(-l.effectiveArtifactTTL())
	expired, err := l.store.ListExpiredArtifacts(ctx, cutoff)
	if err != nil {
		l.logger.Error("janitor: ListExpiredArtifacts failed", "error", err)
		return
	}
	for _, a := range expired {
		if a.AudioURL != "" {
			if _, err := l.objects.Delete(ctx, a.AudioURL); err != nil {
				l.logger.Warn("janitor: failed to delete expired audio object", "video_hash", a.VideoHash, "error", err)
			}
		}
		if a.VideoURL != "" {
			if _, err := l.objects.Delete(ctx, a.VideoURL); err != nil {
				l.logger.Warn("janitor: failed to delete expired video object", "video_hash", a.VideoHash, "error", err)
			}
		}
	}
	if _, err := l.store.PurgeExpiredArtifacts(ctx, cutoff); err != nil {
		l.logger.Error("janitor: PurgeExpiredArtifacts failed", "error", err)
	}
}
