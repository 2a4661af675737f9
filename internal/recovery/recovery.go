// Package recovery implements the C8 RecoveryLoop: a ticker that scans the
// job store for work stuck past a staleness threshold and either
// re-dispatches it or gives up once its attempt budget is spent.
package recovery

import (
	"context"
	"log/slog"
	"time"

	"mp3pipeline/internal/dispatcher"
	"mp3pipeline/internal/domain"
	"mp3pipeline/internal/eventlog"
	"mp3pipeline/internal/store"
)

// Loop periodically re-injects jobs that have sat in a non-terminal
// status past StaleThreshold, up to MaxAttempts, per spec §4.8.
type Loop struct {
	store       store.Store
	events      *eventlog.Logger
	dispatch    dispatcher.Enqueuer
	logger      *slog.Logger
	tickEvery   time.Duration
	staleAfter  time.Duration
	maxAttempts int
}

// New constructs a RecoveryLoop. tickEvery and staleAfter default to
// spec's 10-minute tick / 30-minute staleness threshold when zero;
// maxAttempts defaults to 3.
func New(
	st store.Store,
	events *eventlog.Logger,
	dispatch dispatcher.Enqueuer,
	tickEvery, staleAfter time.Duration,
	maxAttempts int,
	logger *slog.Logger,
) *Loop {
	if tickEvery <= 0 {
		tickEvery = 10 * time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Loop{
		store:       st,
		events:      events,
		dispatch:    dispatch,
		logger:      logger,
		tickEvery:   tickEvery,
		staleAfter:  staleAfter,
		maxAttempts: maxAttempts,
	}
}

// Run ticks until ctx is cancelled, scanning for and recovering stuck jobs
// on each tick. Safe to run concurrently with the Dispatcher: the
// Dispatcher's own idempotency check prevents double-injection of a job
// recovery re-enqueues.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.tickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep(ctx)
		}
	}
}

func (l *Loop) sweep(ctx context.Context) {
	stale, err := l.store.GetStale(ctx, l.staleAfter)
	if err != nil {
		l.logger.Error("recovery: GetStale failed", "error", err)
		return
	}
	for _, job := range stale {
		l.recover(ctx, job)
	}
}

func (l *Loop) recover(ctx context.Context, job domain.Job) {
	if job.ProcessingAttempts >= l.maxAttempts {
		if err := l.store.UpdateStatus(ctx, job.ID, domain.StatusFailed, store.StatusUpdate{
			ErrorMessage: "max attempts exceeded",
		}); err != nil {
			l.logger.Error("recovery: UpdateStatus(Failed) failed", "job_id", job.ID, "error", err)
			return
		}
		l.events.Log(domain.LogEvent{
			JobID: job.ID, BatchID: job.BatchID, EventType: domain.EventJobCancelled,
			JobStatus: domain.StatusFailed, Message: "max attempts exceeded",
		})
		return
	}

	previousStatus := job.Status
	if err := l.store.IncrementAttempt(ctx, job.ID); err != nil {
		l.logger.Error("recovery: IncrementAttempt failed", "job_id", job.ID, "error", err)
		return
	}
	l.events.Log(domain.LogEvent{
		JobID: job.ID, BatchID: job.BatchID, EventType: domain.EventJobRecovered,
		JobStatus: domain.StatusPending,
		Message:   "recovered from " + string(previousStatus),
	})
	l.dispatch.DispatchWithTimeout(ctx, job.ID)
}
