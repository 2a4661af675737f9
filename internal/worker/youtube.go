package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"mp3pipeline/internal/domain"
	"mp3pipeline/internal/eventlog"
	"mp3pipeline/internal/fetch"
	"mp3pipeline/internal/pipeline"
	"mp3pipeline/internal/store"
	"mp3pipeline/internal/temparena"
	"mp3pipeline/internal/ytresolve"
)

// Youtube runs the C6 Youtube stage worker: resolves the best audio-only
// stream for a video-platform URL and downloads it directly to an
// .mp3-named temp file, retrying transient failures with linear backoff
// before giving up.
type Youtube struct {
	deps
	resolver    ytresolve.Resolver
	http        *fetch.Client
	upload      *pipeline.Queue[domain.UploadPayload]
	source      *pipeline.Queue[domain.DownloadPayload]
	maxAttempts int
	baseDelay   time.Duration
}

// NewYoutube constructs a Youtube stage worker. maxAttempts and baseDelay
// default to spec's 3 attempts / linear k*base_delay when zero.
func NewYoutube(
	st store.Store,
	events *eventlog.Logger,
	arena *temparena.Arena,
	resolver ytresolve.Resolver,
	httpClient *fetch.Client,
	source *pipeline.Queue[domain.DownloadPayload],
	upload *pipeline.Queue[domain.UploadPayload],
	maxAttempts int,
	baseDelay time.Duration,
	logger *slog.Logger,
) *Youtube {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}
	return &Youtube{
		deps:        deps{store: st, events: events, arena: arena, logger: logger},
		resolver:    resolver,
		http:        httpClient,
		upload:      upload,
		source:      source,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
	}
}

// Run drains the Youtube queue until it closes or ctx is cancelled.
func (w *Youtube) Run(ctx context.Context) {
	for {
		payload, err := w.source.Dequeue(ctx)
		if err != nil {
			return
		}
		w.process(ctx, payload)
	}
}

func (w *Youtube) process(ctx context.Context, payload domain.DownloadPayload) {
	job, ok := w.reloadActive(ctx, payload.JobID)
	if !ok {
		return
	}

	if err := w.store.UpdateStatus(ctx, job.ID, domain.StatusDownloading, store.StatusUpdate{}); err != nil {
		w.logger.Error("youtube: UpdateStatus failed", "job_id", job.ID, "error", err)
	}
	w.events.Log(domain.LogEvent{
		JobID: job.ID, BatchID: job.BatchID, EventType: domain.EventDownloadStarted,
		JobStatus: domain.StatusDownloading, QueueTimeMs: queueTimeMs(job.CreatedAt),
	})

	data, err := w.downloadWithRetry(ctx, job, payload.VideoURL)
	if err != nil {
		w.fail(ctx, job, fmt.Sprintf("youtube download failed: %v", err))
		return
	}

	f, path, err := w.arena.CreateTempFile(".mp3")
	if err != nil {
		w.fail(ctx, job, fmt.Sprintf("temp file allocation failed: %v", err))
		return
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = w.arena.DeleteTempFile(path)
		w.fail(ctx, job, fmt.Sprintf("temp file write failed: %v", err))
		return
	}
	_ = f.Close()

	sum := sha256.Sum256([]byte(payload.VideoURL))
	videoHash := hex.EncodeToString(sum[:])

	job.FileSizeBytes = int64(len(data))
	job.ContentType = "audio/mpeg"
	job.VideoHash = videoHash
	job.TempMp3Path = path
	if err := w.store.Update(ctx, job); err != nil {
		w.logger.Error("youtube: Update failed", "job_id", job.ID, "error", err)
	}

	w.events.Log(domain.LogEvent{
		JobID: job.ID, BatchID: job.BatchID, EventType: domain.EventDownloadCompleted,
		JobStatus: domain.StatusDownloading, FileSizeBytes: job.FileSizeBytes,
	})

	uploadPayload := domain.UploadPayload{JobID: job.ID, Mp3Path: path, VideoPath: "", VideoHash: videoHash}
	if err := w.upload.Enqueue(ctx, uploadPayload); err != nil {
		_ = w.arena.DeleteTempFile(path)
		if !errors.Is(err, context.Canceled) {
			w.fail(ctx, job, fmt.Sprintf("enqueue to upload stage failed: %v", err))
		}
	}
}

// downloadWithRetry resolves and fetches the audio stream, retrying
// retryable failures up to maxAttempts times with linear backoff
// (k*baseDelay), and aborting immediately on a permanent failure.
func (w *Youtube) downloadWithRetry(ctx context.Context, job *domain.Job, videoURL string) ([]byte, error) {
	var result []byte
	attempt := 0

	op := func() error {
		attempt++
		stream, err := w.resolver.ResolveAudioStream(ctx, videoURL)
		if err != nil {
			if isPermanentYoutubeErr(err) {
				return backoff.Permanent(err)
			}
			return err
		}

		res, err := w.http.Get(ctx, stream.URL)
		if err != nil {
			if isPermanentHTTPErr(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = res.Bytes
		return nil
	}

	bo := backoff.WithMaxRetries(&linearBackOff{base: w.baseDelay, attempt: &attempt}, uint64(w.maxAttempts-1))
	notify := func(err error, d time.Duration) {
		w.events.Log(domain.LogEvent{
			JobID: job.ID, BatchID: job.BatchID, EventType: domain.EventJobRetry,
			JobStatus: job.Status, Message: fmt.Sprintf("retrying after: %v", err),
		})
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		return nil, err
	}
	return result, nil
}

// linearBackOff implements backoff.BackOff with k*base_delay growth
// (attempt 1 -> base, attempt 2 -> 2*base, ...), per spec's "linear
// backoff (k*base_delay)" requirement rather than the library's default
// exponential curve.
type linearBackOff struct {
	base    time.Duration
	attempt *int
}

func (l *linearBackOff) NextBackOff() time.Duration {
	return time.Duration(*l.attempt) * l.base
}

func (l *linearBackOff) Reset() {}

func isPermanentYoutubeErr(err error) bool {
	return errors.Is(err, ytresolve.ErrVideoUnavailable)
}

// isPermanentHTTPErr implements spec's "permanent (video unavailable, HTTP
// 4xx except 408/429)" vs "retryable (timeout, transient HTTP)" split: any
// 5xx, and 408/429 specifically, are retryable; every other 4xx is
// permanent.
func isPermanentHTTPErr(err error) bool {
	var statusErr *fetch.StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	switch statusErr.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return statusErr.StatusCode >= 400 && statusErr.StatusCode < 500
}
