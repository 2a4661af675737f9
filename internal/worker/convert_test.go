package worker

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mp3pipeline/internal/domain"
	"mp3pipeline/internal/eventlog"
	"mp3pipeline/internal/pipeline"
	"mp3pipeline/internal/store"
	"mp3pipeline/internal/temparena"
)

// stubTranscoder is a test double for media.Transcoder.
type stubTranscoder struct {
	hasAudio    bool
	hasAudioErr error
	transcodeErr error
}

func (s *stubTranscoder) HasAudioStream(_ context.Context, _ string) (bool, error) {
	if s.hasAudioErr != nil {
		return false, s.hasAudioErr
	}
	return s.hasAudio, nil
}

func (s *stubTranscoder) Transcode(_ context.Context, _, output, _ string) error {
	if s.transcodeErr != nil {
		return s.transcodeErr
	}
	return os.WriteFile(output, []byte("id3 fake mp3 bytes"), 0o600)
}

func newTestArena(t *testing.T) *temparena.Arena {
	t.Helper()
	arena, err := temparena.New(t.TempDir(), 0)
	require.NoError(t, err)
	return arena
}

func TestConvert_HappyPathEnqueuesUpload(t *testing.T) {
	st := store.NewMemory()
	events := eventlog.New(st, testLogger(), 50, time.Hour)
	events.Start()
	defer events.Stop()
	arena := newTestArena(t)

	_, videoPath, err := arena.CreateTempFile(".mp4")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(videoPath, []byte("fake video"), 0o600))

	convertQ := pipeline.New[domain.ConvertPayload](5)
	uploadQ := pipeline.New[domain.UploadPayload](5)

	w := NewConvert(st, events, arena, &stubTranscoder{hasAudio: true}, "128k", convertQ, uploadQ, testLogger())

	ctx := context.Background()
	job := &domain.Job{VideoURL: "https://example.com/a.mp4"}
	require.NoError(t, st.Create(ctx, job))

	w.process(ctx, domain.ConvertPayload{JobID: job.ID, VideoPath: videoPath, VideoHash: "deadbeef"})

	payload, err := uploadQ.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, payload.JobID)
	assert.Equal(t, videoPath, payload.VideoPath)
	assert.Equal(t, "deadbeef", payload.VideoHash)
	assert.FileExists(t, payload.Mp3Path)
}

func TestConvert_NoAudioStreamFailsJobAndCleansUpVideo(t *testing.T) {
	st := store.NewMemory()
	events := eventlog.New(st, testLogger(), 50, time.Hour)
	events.Start()
	defer events.Stop()
	arena := newTestArena(t)

	_, videoPath, err := arena.CreateTempFile(".mp4")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(videoPath, []byte("fake video"), 0o600))

	w := NewConvert(st, events, arena, &stubTranscoder{hasAudio: false}, "128k",
		pipeline.New[domain.ConvertPayload](5), pipeline.New[domain.UploadPayload](5), testLogger())

	ctx := context.Background()
	job := &domain.Job{VideoURL: "https://example.com/silent.mp4"}
	require.NoError(t, st.Create(ctx, job))

	w.process(ctx, domain.ConvertPayload{JobID: job.ID, VideoPath: videoPath, VideoHash: "h"})

	got, err := st.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.NoFileExists(t, videoPath)
}

func TestConvert_TranscodeFailureCleansUpBothTempFiles(t *testing.T) {
	st := store.NewMemory()
	events := eventlog.New(st, testLogger(), 50, time.Hour)
	events.Start()
	defer events.Stop()
	arena := newTestArena(t)

	_, videoPath, err := arena.CreateTempFile(".mp4")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(videoPath, []byte("fake video"), 0o600))

	w := NewConvert(st, events, arena, &stubTranscoder{hasAudio: true, transcodeErr: errors.New("boom")}, "128k",
		pipeline.New[domain.ConvertPayload](5), pipeline.New[domain.UploadPayload](5), testLogger())

	ctx := context.Background()
	job := &domain.Job{VideoURL: "https://example.com/a.mp4"}
	require.NoError(t, st.Create(ctx, job))

	w.process(ctx, domain.ConvertPayload{JobID: job.ID, VideoPath: videoPath, VideoHash: "h"})

	got, err := st.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.NoFileExists(t, videoPath)
	stats, err := arena.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalFiles)
}

func TestConvert_DropsTerminalJobAndReleasesVideoTemp(t *testing.T) {
	st := store.NewMemory()
	events := eventlog.New(st, testLogger(), 50, time.Hour)
	events.Start()
	defer events.Stop()
	arena := newTestArena(t)

	_, videoPath, err := arena.CreateTempFile(".mp4")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(videoPath, []byte("fake video"), 0o600))

	w := NewConvert(st, events, arena, &stubTranscoder{hasAudio: true}, "128k",
		pipeline.New[domain.ConvertPayload](5), pipeline.New[domain.UploadPayload](5), testLogger())

	ctx := context.Background()
	job := &domain.Job{VideoURL: "https://example.com/a.mp4"}
	require.NoError(t, st.Create(ctx, job))
	require.NoError(t, st.UpdateStatus(ctx, job.ID, domain.StatusFailed, store.StatusUpdate{ErrorMessage: "x"}))

	w.process(ctx, domain.ConvertPayload{JobID: job.ID, VideoPath: videoPath, VideoHash: "h"})

	assert.NoFileExists(t, videoPath)
}
