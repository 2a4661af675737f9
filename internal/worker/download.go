package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mp3pipeline/internal/domain"
	"mp3pipeline/internal/eventlog"
	"mp3pipeline/internal/fetch"
	"mp3pipeline/internal/hasher"
	"mp3pipeline/internal/pipeline"
	"mp3pipeline/internal/storage"
	"mp3pipeline/internal/store"
	"mp3pipeline/internal/temparena"
)

// Download runs the C6 Download stage worker: drains DownloadQueue, fetches
// source bytes (from the object store if already present, else over HTTP),
// fingerprints them, and either completes the job via cache-hit or hands
// off to ConvertQueue.
type Download struct {
	deps
	objects      storage.Store
	http         *fetch.Client
	convert      *pipeline.Queue[domain.ConvertPayload]
	source       *pipeline.Queue[domain.DownloadPayload]
	allowedTypes map[string]struct{}
}

// NewDownload constructs a Download stage worker. allowedTypes is the
// FileConverter.AllowedFileTypes whitelist (spec §6); a nil or empty set
// disables the check.
func NewDownload(
	st store.Store,
	events *eventlog.Logger,
	arena *temparena.Arena,
	objects storage.Store,
	httpClient *fetch.Client,
	allowedTypes map[string]struct{},
	source *pipeline.Queue[domain.DownloadPayload],
	convert *pipeline.Queue[domain.ConvertPayload],
	logger *slog.Logger,
) *Download {
	return &Download{
		deps:         deps{store: st, events: events, arena: arena, logger: logger},
		objects:      objects,
		http:         httpClient,
		convert:      convert,
		source:       source,
		allowedTypes: allowedTypes,
	}
}

// Run drains the Download queue until it closes or ctx is cancelled.
func (w *Download) Run(ctx context.Context) {
	for {
		payload, err := w.source.Dequeue(ctx)
		if err != nil {
			return
		}
		w.process(ctx, payload)
	}
}

func (w *Download) process(ctx context.Context, payload domain.DownloadPayload) {
	job, ok := w.reloadActive(ctx, payload.JobID)
	if !ok {
		return
	}

	if err := w.store.UpdateStatus(ctx, job.ID, domain.StatusDownloading, store.StatusUpdate{}); err != nil {
		w.logger.Error("download: UpdateStatus failed", "job_id", job.ID, "error", err)
	}
	w.events.Log(domain.LogEvent{
		JobID: job.ID, BatchID: job.BatchID, EventType: domain.EventDownloadStarted,
		JobStatus: domain.StatusDownloading, QueueTimeMs: queueTimeMs(job.CreatedAt),
	})

	bytesData, contentType, err := w.fetchBytes(ctx, payload.VideoURL)
	if err != nil {
		w.fail(ctx, job, fmt.Sprintf("download failed: %v", err))
		return
	}

	if !w.typeAllowed(contentType) {
		w.fail(ctx, job, fmt.Sprintf("type disallowed: %s", contentType))
		return
	}

	ext := fetch.ExtFromURL(payload.VideoURL)
	if ext == "" {
		ext = fetch.ExtByContentType(contentType)
	}

	f, path, err := w.arena.CreateTempFile(ext)
	if err != nil {
		w.fail(ctx, job, fmt.Sprintf("temp file allocation failed: %v", err))
		return
	}
	if _, err := f.Write(bytesData); err != nil {
		_ = f.Close()
		_ = w.arena.DeleteTempFile(path)
		w.fail(ctx, job, fmt.Sprintf("temp file write failed: %v", err))
		return
	}
	_ = f.Close()

	videoHash := hasher.Hash(bytesData)
	job.FileSizeBytes = int64(len(bytesData))
	job.ContentType = contentType
	job.VideoHash = videoHash
	job.TempVideoPath = path
	if err := w.store.Update(ctx, job); err != nil {
		w.logger.Error("download: Update failed", "job_id", job.ID, "error", err)
	}

	w.events.Log(domain.LogEvent{
		JobID: job.ID, BatchID: job.BatchID, EventType: domain.EventDownloadCompleted,
		JobStatus: domain.StatusDownloading, FileSizeBytes: job.FileSizeBytes,
	})

	if artifact, err := w.store.FindArtifactByHash(ctx, videoHash); err == nil && artifact != nil {
		w.completeFromCache(ctx, job, *artifact)
		_ = w.arena.DeleteTempFile(path)
		return
	}

	convertPayload := domain.ConvertPayload{JobID: job.ID, VideoPath: path, VideoHash: videoHash}
	if err := w.convert.Enqueue(ctx, convertPayload); err != nil {
		// Ownership transfer failed: the worker that failed before a
		// successful enqueue must release its temp files (spec §3).
		_ = w.arena.DeleteTempFile(path)
		if !errors.Is(err, context.Canceled) {
			w.fail(ctx, job, fmt.Sprintf("enqueue to convert stage failed: %v", err))
		}
	}
}

// typeAllowed reports whether contentType passes the
// FileConverter.AllowedFileTypes whitelist. An empty contentType (the
// object-store cache-hit path, which doesn't report one) and a nil/empty
// whitelist both pass, per spec §6's "whitelist of content-types accepted
// by Download" being an opt-in check.
func (w *Download) typeAllowed(contentType string) bool {
	if len(w.allowedTypes) == 0 || contentType == "" {
		return true
	}
	_, ok := w.allowedTypes[fetch.NormalizeContentType(contentType)]
	return ok
}

// fetchBytes returns the object store's copy if the URL is already stored
// there, else performs an HTTP GET with a browser identity.
func (w *Download) fetchBytes(ctx context.Context, videoURL string) ([]byte, string, error) {
	if w.objects != nil {
		if exists, err := w.objects.Exists(ctx, videoURL); err == nil && exists {
			data, err := w.objects.Download(ctx, videoURL)
			if err == nil {
				return data, "", nil
			}
		}
	}

	res, err := w.http.Get(ctx, videoURL)
	if err != nil {
		return nil, "", err
	}
	return res.Bytes, res.ContentType, nil
}
