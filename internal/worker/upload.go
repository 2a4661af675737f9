package worker

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"mp3pipeline/internal/domain"
	"mp3pipeline/internal/eventlog"
	"mp3pipeline/internal/pipeline"
	"mp3pipeline/internal/storage"
	"mp3pipeline/internal/store"
	"mp3pipeline/internal/temparena"
)

// Upload runs the C6 Upload stage worker: drains UploadQueue, uploads the
// mp3 (and, if present, the source video) to the object store in
// parallel, records the dedup artifact, and marks the job Completed.
type Upload struct {
	deps
	objects storage.Store
	source  *pipeline.Queue[domain.UploadPayload]
}

// NewUpload constructs an Upload stage worker.
func NewUpload(
	st store.Store,
	events *eventlog.Logger,
	arena *temparena.Arena,
	objects storage.Store,
	source *pipeline.Queue[domain.UploadPayload],
	logger *slog.Logger,
) *Upload {
	return &Upload{
		deps:    deps{store: st, events: events, arena: arena, logger: logger},
		objects: objects,
		source:  source,
	}
}

// Run drains the Upload queue until it closes or ctx is cancelled.
func (w *Upload) Run(ctx context.Context) {
	for {
		payload, err := w.source.Dequeue(ctx)
		if err != nil {
			return
		}
		w.process(ctx, payload)
	}
}

func (w *Upload) process(ctx context.Context, payload domain.UploadPayload) {
	defer func() {
		_ = w.arena.DeleteTempFile(payload.Mp3Path)
		_ = w.arena.DeleteTempFile(payload.VideoPath)
	}()

	job, ok := w.reloadActive(ctx, payload.JobID)
	if !ok {
		return
	}

	if err := w.store.UpdateStatus(ctx, job.ID, domain.StatusUploading, store.StatusUpdate{}); err != nil {
		w.logger.Error("upload: UpdateStatus failed", "job_id", job.ID, "error", err)
	}
	w.events.Log(domain.LogEvent{
		JobID: job.ID, BatchID: job.BatchID, EventType: domain.EventUploadStarted,
		JobStatus: domain.StatusUploading,
	})

	var audioURL, videoURL string
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		url, err := w.objects.Upload(gctx, payload.Mp3Path, "audio/mpeg")
		if err != nil {
			return fmt.Errorf("upload mp3: %w", err)
		}
		audioURL = url
		return nil
	})

	if payload.VideoPath != "" {
		g.Go(func() error {
			url, err := w.objects.Upload(gctx, payload.VideoPath, "video/mp4")
			if err != nil {
				return fmt.Errorf("upload video: %w", err)
			}
			videoURL = url
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		w.fail(ctx, job, fmt.Sprintf("upload failed: %v", err))
		return
	}

	if err := w.store.SaveArtifact(ctx, domain.MediaArtifact{
		VideoHash:     payload.VideoHash,
		VideoURL:      videoURL,
		AudioURL:      audioURL,
		FileSizeBytes: job.FileSizeBytes,
	}); err != nil {
		w.logger.Error("upload: SaveArtifact failed", "job_id", job.ID, "error", err)
	}

	if err := w.store.UpdateStatus(ctx, job.ID, domain.StatusCompleted, store.StatusUpdate{
		Mp3URL: audioURL, NewVideoURL: videoURL,
	}); err != nil {
		w.logger.Error("upload: UpdateStatus(Completed) failed", "job_id", job.ID, "error", err)
		return
	}

	w.events.LogJobCompleted(ctx, domain.LogEvent{
		JobID: job.ID, BatchID: job.BatchID,
		JobStatus: domain.StatusCompleted, DurationSeconds: float64(queueTimeMs(job.CreatedAt)) / 1000.0,
	})
}
