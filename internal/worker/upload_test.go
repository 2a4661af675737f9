package worker

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mp3pipeline/internal/domain"
	"mp3pipeline/internal/eventlog"
	"mp3pipeline/internal/pipeline"
	"mp3pipeline/internal/store"
)

// stubObjectStore is a test double for storage.Store that records what
// was uploaded and can be made to fail on demand.
type stubObjectStore struct {
	mu        sync.Mutex
	uploaded  map[string]string // path -> contentType
	uploadErr error
}

func newStubObjectStore() *stubObjectStore {
	return &stubObjectStore{uploaded: make(map[string]string)}
}

func (s *stubObjectStore) Exists(_ context.Context, _ string) (bool, error) { return false, nil }

func (s *stubObjectStore) Download(_ context.Context, _ string) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (s *stubObjectStore) Upload(_ context.Context, path, contentType string) (string, error) {
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	s.mu.Lock()
	s.uploaded[path] = contentType
	s.mu.Unlock()
	return "https://objects.example.com/" + contentType + "/" + path, nil
}

func (s *stubObjectStore) Delete(_ context.Context, _ string) (bool, error) { return true, nil }

func TestUpload_HappyPathCompletesJobAndSavesArtifact(t *testing.T) {
	st := store.NewMemory()
	events := eventlog.New(st, testLogger(), 50, time.Hour)
	events.Start()
	defer events.Stop()
	arena := newTestArena(t)
	objects := newStubObjectStore()

	_, mp3Path, err := arena.CreateTempFile(".mp3")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(mp3Path, []byte("mp3 bytes"), 0o600))
	_, videoPath, err := arena.CreateTempFile(".mp4")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(videoPath, []byte("video bytes"), 0o600))

	uploadQ := pipeline.New[domain.UploadPayload](5)
	w := NewUpload(st, events, arena, objects, uploadQ, testLogger())

	ctx := context.Background()
	job := &domain.Job{VideoURL: "https://example.com/a.mp4", FileSizeBytes: 11}
	require.NoError(t, st.Create(ctx, job))

	w.process(ctx, domain.UploadPayload{JobID: job.ID, Mp3Path: mp3Path, VideoPath: videoPath, VideoHash: "deadbeef"})

	got, err := st.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.NotEmpty(t, got.Mp3URL)
	assert.NotEmpty(t, got.NewVideoURL)
	assert.NoFileExists(t, mp3Path)
	assert.NoFileExists(t, videoPath)

	artifact, err := st.FindArtifactByHash(ctx, "deadbeef")
	require.NoError(t, err)
	require.NotNil(t, artifact)
	assert.Equal(t, got.Mp3URL, artifact.AudioURL)
	assert.Equal(t, got.NewVideoURL, artifact.VideoURL)
}

func TestUpload_YoutubeJobWithoutVideoPathUploadsOnlyMp3(t *testing.T) {
	st := store.NewMemory()
	events := eventlog.New(st, testLogger(), 50, time.Hour)
	events.Start()
	defer events.Stop()
	arena := newTestArena(t)
	objects := newStubObjectStore()

	_, mp3Path, err := arena.CreateTempFile(".mp3")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(mp3Path, []byte("mp3 bytes"), 0o600))

	uploadQ := pipeline.New[domain.UploadPayload](5)
	w := NewUpload(st, events, arena, objects, uploadQ, testLogger())

	ctx := context.Background()
	job := &domain.Job{VideoURL: "https://youtu.be/abc"}
	require.NoError(t, st.Create(ctx, job))

	w.process(ctx, domain.UploadPayload{JobID: job.ID, Mp3Path: mp3Path, VideoPath: "", VideoHash: "h2"})

	got, err := st.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.NotEmpty(t, got.Mp3URL)
	assert.Empty(t, got.NewVideoURL)
}

func TestUpload_FailureMarksJobFailedAndStillCleansUpTemps(t *testing.T) {
	st := store.NewMemory()
	events := eventlog.New(st, testLogger(), 50, time.Hour)
	events.Start()
	defer events.Stop()
	arena := newTestArena(t)
	objects := newStubObjectStore()
	objects.uploadErr = errors.New("s3 unavailable")

	_, mp3Path, err := arena.CreateTempFile(".mp3")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(mp3Path, []byte("mp3 bytes"), 0o600))

	uploadQ := pipeline.New[domain.UploadPayload](5)
	w := NewUpload(st, events, arena, objects, uploadQ, testLogger())

	ctx := context.Background()
	job := &domain.Job{VideoURL: "https://example.com/a.mp4"}
	require.NoError(t, st.Create(ctx, job))

	w.process(ctx, domain.UploadPayload{JobID: job.ID, Mp3Path: mp3Path, VideoPath: "", VideoHash: "h3"})

	got, err := st.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.NotEmpty(t, got.ErrorMessage)
	assert.NoFileExists(t, mp3Path)
}

func TestUpload_DropsTerminalJobButStillCleansUpTemps(t *testing.T) {
	st := store.NewMemory()
	events := eventlog.New(st, testLogger(), 50, time.Hour)
	events.Start()
	defer events.Stop()
	arena := newTestArena(t)
	objects := newStubObjectStore()

	_, mp3Path, err := arena.CreateTempFile(".mp3")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(mp3Path, []byte("mp3 bytes"), 0o600))

	uploadQ := pipeline.New[domain.UploadPayload](5)
	w := NewUpload(st, events, arena, objects, uploadQ, testLogger())

	ctx := context.Background()
	job := &domain.Job{VideoURL: "https://example.com/a.mp4"}
	require.NoError(t, st.Create(ctx, job))
	require.NoError(t, st.UpdateStatus(ctx, job.ID, domain.StatusFailed, store.StatusUpdate{ErrorMessage: "x"}))

	w.process(ctx, domain.UploadPayload{JobID: job.ID, Mp3Path: mp3Path, VideoPath: "", VideoHash: "h4"})

	assert.NoFileExists(t, mp3Path)
}
