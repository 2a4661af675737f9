// Package worker implements C6 StageWorkers: the four worker pools
// (Download, Youtube, Convert, Upload) that drain their queue with bounded
// parallelism, execute their stage, and forward the payload to the next
// stage or terminate the job. Each pool's shape (drain-loop over a channel,
// bounded by a fixed number of goroutines, shutdown-aware) is grounded on
// the teacher's job.Service.processChunksParallel fan-out and the
// upload_worker_pool.go reference example's ctx.Done()-select idiom.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mp3pipeline/internal/domain"
	"mp3pipeline/internal/eventlog"
	"mp3pipeline/internal/pipeline"
	"mp3pipeline/internal/store"
	"mp3pipeline/internal/temparena"
)

// Pool runs n goroutines all pulling from the same dequeue function until
// the queue reports ErrClosed or ctx is cancelled. It is the shared
// skeleton every one of the four stage worker pools is built from.
type Pool struct {
	name   string
	n      int
	run    func(ctx context.Context)
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewPool constructs a Pool of n goroutines each calling run once; run
// itself loops until its queue closes or ctx is cancelled.
func NewPool(name string, n int, logger *slog.Logger, run func(ctx context.Context)) *Pool {
	if n < 1 {
		n = 1
	}
	return &Pool{name: name, n: n, run: run, logger: logger}
}

// Start launches the pool's goroutines.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(idx int) {
			defer p.wg.Done()
			p.run(ctx)
		}(i)
	}
}

// Wait blocks until every goroutine in the pool has returned, i.e. until
// the pool has finished draining after shutdown.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// deps bundles the collaborators every stage worker needs. Stages embed it
// rather than repeating the same four constructor parameters four times.
type deps struct {
	store  store.Store
	events *eventlog.Logger
	arena  *temparena.Arena
	logger *slog.Logger
}

// reloadActive reloads job by id and reports whether it is still actionable
// (present and non-terminal). Every worker's first step per spec
// (4.6.1-4.6.4 step 1) is "reload job; if missing/terminal, drop with log."
func (d *deps) reloadActive(ctx context.Context, jobID string) (*domain.Job, bool) {
	job, err := d.store.Get(ctx, jobID)
	if err != nil {
		d.logger.Warn("worker: job missing on reload, dropping", "job_id", jobID, "error", err)
		return nil, false
	}
	if job.Status.IsTerminal() {
		d.logger.Info("worker: job already terminal, dropping", "job_id", jobID, "status", job.Status)
		return nil, false
	}
	return job, true
}

// fail transitions job to Failed with reason and logs it. Used by every
// worker's error paths; never returns an error itself (StoreFailure here
// is logged and swallowed per spec §7).
func (d *deps) fail(ctx context.Context, job *domain.Job, reason string) {
	if err := d.store.UpdateStatus(ctx, job.ID, domain.StatusFailed, store.StatusUpdate{ErrorMessage: reason}); err != nil {
		d.logger.Error("worker: fail UpdateStatus failed", "job_id", job.ID, "error", err)
	}
	d.events.LogError(ctx, job.ID, job.BatchID, domain.StatusFailed, reason, "")
}

// completeFromCache transitions job to Completed using a pre-existing
// artifact, used by the Download worker's post-hash cache-hit path.
func (d *deps) completeFromCache(ctx context.Context, job *domain.Job, artifact domain.MediaArtifact) {
	upd := store.StatusUpdate{Mp3URL: artifact.AudioURL, NewVideoURL: artifact.VideoURL}
	if err := d.store.UpdateStatus(ctx, job.ID, domain.StatusCompleted, upd); err != nil {
		d.logger.Error("worker: cache-hit UpdateStatus failed", "job_id", job.ID, "error", err)
		return
	}
	d.events.Log(domain.LogEvent{JobID: job.ID, BatchID: job.BatchID, EventType: domain.EventCacheHit, JobStatus: domain.StatusCompleted, Message: "content-hash cache hit"})
	d.events.LogJobCompleted(ctx, domain.LogEvent{JobID: job.ID, BatchID: job.BatchID, JobStatus: domain.StatusCompleted, Message: "completed via cache"})
}

func queueTimeMs(createdAt time.Time) int64 {
	return time.Since(createdAt).Milliseconds()
}
