package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mp3pipeline/internal/domain"
	"mp3pipeline/internal/eventlog"
	"mp3pipeline/internal/media"
	"mp3pipeline/internal/pipeline"
	"mp3pipeline/internal/store"
	"mp3pipeline/internal/temparena"
)

// Convert runs the C6 Convert stage worker: drains ConvertQueue, probes
// the input for an audio stream, invokes the transcoder, and hands off to
// UploadQueue.
type Convert struct {
	deps
	transcoder media.Transcoder
	bitrate    string
	upload     *pipeline.Queue[domain.UploadPayload]
	source     *pipeline.Queue[domain.ConvertPayload]
}

// NewConvert constructs a Convert stage worker.
func NewConvert(
	st store.Store,
	events *eventlog.Logger,
	arena *temparena.Arena,
	transcoder media.Transcoder,
	bitrate string,
	source *pipeline.Queue[domain.ConvertPayload],
	upload *pipeline.Queue[domain.UploadPayload],
	logger *slog.Logger,
) *Convert {
	if bitrate == "" {
		bitrate = "128k"
	}
	return &Convert{
		deps:       deps{store: st, events: events, arena: arena, logger: logger},
		transcoder: transcoder,
		bitrate:    bitrate,
		upload:     upload,
		source:     source,
	}
}

// Run drains the Convert queue until it closes or ctx is cancelled.
func (w *Convert) Run(ctx context.Context) {
	for {
		payload, err := w.source.Dequeue(ctx)
		if err != nil {
			return
		}
		w.process(ctx, payload)
	}
}

func (w *Convert) process(ctx context.Context, payload domain.ConvertPayload) {
	job, ok := w.reloadActive(ctx, payload.JobID)
	if !ok {
		_ = w.arena.DeleteTempFile(payload.VideoPath)
		return
	}

	if err := w.store.UpdateStatus(ctx, job.ID, domain.StatusConverting, store.StatusUpdate{}); err != nil {
		w.logger.Error("convert: UpdateStatus failed", "job_id", job.ID, "error", err)
	}
	w.events.Log(domain.LogEvent{
		JobID: job.ID, BatchID: job.BatchID, EventType: domain.EventConversionStarted,
		JobStatus: domain.StatusConverting,
	})

	hasAudio, err := w.transcoder.HasAudioStream(ctx, payload.VideoPath)
	if err != nil || !hasAudio {
		_ = w.arena.DeleteTempFile(payload.VideoPath)
		w.fail(ctx, job, "no audio stream present in source")
		return
	}

	outFile, outPath, err := w.arena.CreateTempFile(".mp3")
	if err != nil {
		_ = w.arena.DeleteTempFile(payload.VideoPath)
		w.fail(ctx, job, fmt.Sprintf("temp file allocation failed: %v", err))
		return
	}
	_ = outFile.Close() // transcoder writes to the path directly

	if err := w.transcoder.Transcode(ctx, payload.VideoPath, outPath, w.bitrate); err != nil {
		_ = w.arena.DeleteTempFile(payload.VideoPath)
		_ = w.arena.DeleteTempFile(outPath)
		w.fail(ctx, job, fmt.Sprintf("transcode failed: %v", err))
		return
	}

	w.events.Log(domain.LogEvent{
		JobID: job.ID, BatchID: job.BatchID, EventType: domain.EventConversionCompleted,
		JobStatus: domain.StatusConverting,
	})

	uploadPayload := domain.UploadPayload{
		JobID: job.ID, Mp3Path: outPath, VideoPath: payload.VideoPath, VideoHash: payload.VideoHash,
	}
	if err := w.upload.Enqueue(ctx, uploadPayload); err != nil {
		_ = w.arena.DeleteTempFile(payload.VideoPath)
		_ = w.arena.DeleteTempFile(outPath)
		if !errors.Is(err, context.Canceled) {
			w.fail(ctx, job, fmt.Sprintf("enqueue to upload stage failed: %v", err))
		}
	}
}
