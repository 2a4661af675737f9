package worker

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mp3pipeline/internal/domain"
	"mp3pipeline/internal/eventlog"
	"mp3pipeline/internal/fetch"
	"mp3pipeline/internal/pipeline"
	"mp3pipeline/internal/storage"
	"mp3pipeline/internal/store"
	"mp3pipeline/internal/temparena"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDownload_HappyPathEnqueuesConvert(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("fake video bytes"))
	}))
	defer srv.Close()

	st := store.NewMemory()
	events := eventlog.New(st, testLogger(), 50, time.Hour)
	events.Start()
	defer events.Stop()

	arena, err := temparena.New(t.TempDir(), 0)
	require.NoError(t, err)
	objects, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	convertQ := pipeline.New[domain.ConvertPayload](5)
	downloadQ := pipeline.New[domain.DownloadPayload](5)

	w := NewDownload(st, events, arena, objects, fetch.New(0, 0), nil, downloadQ, convertQ, testLogger())

	ctx := context.Background()
	job := &domain.Job{VideoURL: srv.URL + "/video.mp4"}
	require.NoError(t, st.Create(ctx, job))

	w.process(ctx, domain.DownloadPayload{JobID: job.ID, VideoURL: job.VideoURL})

	payload, err := convertQ.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, payload.JobID)
	assert.FileExists(t, payload.VideoPath)

	got, err := st.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, got.VideoHash)
	assert.Equal(t, int64(len("fake video bytes")), got.FileSizeBytes)
}

func TestDownload_DisallowedContentTypeFailsJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write([]byte("not a video"))
	}))
	defer srv.Close()

	st := store.NewMemory()
	events := eventlog.New(st, testLogger(), 50, time.Hour)
	events.Start()
	defer events.Stop()

	arena, err := temparena.New(t.TempDir(), 0)
	require.NoError(t, err)
	objects, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	allowed := map[string]struct{}{"video/mp4": {}}
	w := NewDownload(st, events, arena, objects, fetch.New(0, 0), allowed,
		pipeline.New[domain.DownloadPayload](5), pipeline.New[domain.ConvertPayload](5), testLogger())

	ctx := context.Background()
	job := &domain.Job{VideoURL: srv.URL + "/archive.zip"}
	require.NoError(t, st.Create(ctx, job))

	w.process(ctx, domain.DownloadPayload{JobID: job.ID, VideoURL: job.VideoURL})

	got, err := st.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "disallowed")
}

func TestDownload_OversizedResponseFailsJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	st := store.NewMemory()
	events := eventlog.New(st, testLogger(), 50, time.Hour)
	events.Start()
	defer events.Stop()

	arena, err := temparena.New(t.TempDir(), 0)
	require.NoError(t, err)
	objects, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	w := NewDownload(st, events, arena, objects, fetch.New(0, 5), nil,
		pipeline.New[domain.DownloadPayload](5), pipeline.New[domain.ConvertPayload](5), testLogger())

	ctx := context.Background()
	job := &domain.Job{VideoURL: srv.URL + "/big.mp4"}
	require.NoError(t, st.Create(ctx, job))

	w.process(ctx, domain.DownloadPayload{JobID: job.ID, VideoURL: job.VideoURL})

	got, err := st.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
}

func TestDownload_404FailsJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	st := store.NewMemory()
	events := eventlog.New(st, testLogger(), 50, time.Hour)
	events.Start()
	defer events.Stop()

	arena, err := temparena.New(t.TempDir(), 0)
	require.NoError(t, err)
	objects, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	w := NewDownload(st, events, arena, objects, fetch.New(0, 0), nil,
		pipeline.New[domain.DownloadPayload](5), pipeline.New[domain.ConvertPayload](5), testLogger())

	ctx := context.Background()
	job := &domain.Job{VideoURL: srv.URL + "/missing.mp4"}
	require.NoError(t, st.Create(ctx, job))

	w.process(ctx, domain.DownloadPayload{JobID: job.ID, VideoURL: job.VideoURL})

	got, err := st.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.NotEmpty(t, got.ErrorMessage)
}

func TestDownload_DropsTerminalJobWithoutProcessing(t *testing.T) {
	st := store.NewMemory()
	events := eventlog.New(st, testLogger(), 50, time.Hour)
	events.Start()
	defer events.Stop()
	arena, err := temparena.New(t.TempDir(), 0)
	require.NoError(t, err)
	objects, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	w := NewDownload(st, events, arena, objects, fetch.New(0, 0), nil,
		pipeline.New[domain.DownloadPayload](5), pipeline.New[domain.ConvertPayload](5), testLogger())

	ctx := context.Background()
	job := &domain.Job{VideoURL: "https://example.com/a.mp4"}
	require.NoError(t, st.Create(ctx, job))
	require.NoError(t, st.UpdateStatus(ctx, job.ID, domain.StatusFailed, store.StatusUpdate{ErrorMessage: "x"}))

	assert.NotPanics(t, func() {
		w.process(ctx, domain.DownloadPayload{JobID: job.ID, VideoURL: job.VideoURL})
	})
}
