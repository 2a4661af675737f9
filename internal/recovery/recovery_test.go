package recovery

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mp3pipeline/internal/domain"
	"mp3pipeline/internal/eventlog"
	"mp3pipeline/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubEnqueuer struct {
	mu       sync.Mutex
	attempts []string
}

func (s *stubEnqueuer) Dispatch(_ context.Context, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, jobID)
}

func (s *stubEnqueuer) DispatchWithTimeout(ctx context.Context, jobID string) {
	s.Dispatch(ctx, jobID)
}

func (s *stubEnqueuer) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.attempts))
	copy(out, s.attempts)
	return out
}

func newTestLoop(t *testing.T, maxAttempts int) (*Loop, store.Store, *stubEnqueuer) {
	t.Helper()
	st := store.NewMemory()
	events := eventlog.New(st, testLogger(), 50, time.Hour)
	events.Start()
	t.Cleanup(events.Stop)
	enq := &stubEnqueuer{}
	l := New(st, events, enq, time.Hour, 30*time.Minute, maxAttempts, testLogger())
	return l, st, enq
}

func TestRecovery_StuckJobUnderLimitIsRecoveredAndRedispatched(t *testing.T) {
	l, st, enq := newTestLoop(t, 3)
	ctx := context.Background()

	job := &domain.Job{VideoURL: "https://example.com/a.mp4"}
	require.NoError(t, st.Create(ctx, job))
	job.Status = domain.StatusDownloading
	old := time.Now().Add(-time.Hour)
	job.LastAttemptAt = &old
	require.NoError(t, st.Update(ctx, job))

	l.sweep(ctx)

	got, err := st.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, 1, got.ProcessingAttempts)
	assert.Equal(t, []string{job.ID}, enq.calls())
}

func TestRecovery_JobAtAttemptLimitIsFailedNotRedispatched(t *testing.T) {
	l, st, enq := newTestLoop(t, 3)
	ctx := context.Background()

	job := &domain.Job{VideoURL: "https://example.com/a.mp4"}
	require.NoError(t, st.Create(ctx, job))
	job.Status = domain.StatusConverting
	job.ProcessingAttempts = 3
	old := time.Now().Add(-time.Hour)
	job.LastAttemptAt = &old
	require.NoError(t, st.Update(ctx, job))

	l.sweep(ctx)

	got, err := st.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.NotEmpty(t, got.ErrorMessage)
	assert.Empty(t, enq.calls())
}

func TestRecovery_FreshJobIsUntouched(t *testing.T) {
	l, st, enq := newTestLoop(t, 3)
	ctx := context.Background()

	job := &domain.Job{VideoURL: "https://example.com/a.mp4"}
	require.NoError(t, st.Create(ctx, job))
	job.Status = domain.StatusDownloading
	require.NoError(t, st.Update(ctx, job))

	l.sweep(ctx)

	got, err := st.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDownloading, got.Status)
	assert.Empty(t, enq.calls())
}

func TestRecovery_CompletedJobNeverSurfacesAsStale(t *testing.T) {
	l, st, enq := newTestLoop(t, 3)
	ctx := context.Background()

	job := &domain.Job{VideoURL: "https://example.com/a.mp4"}
	require.NoError(t, st.Create(ctx, job))
	require.NoError(t, st.UpdateStatus(ctx, job.ID, domain.StatusCompleted, store.StatusUpdate{Mp3URL: "https://x/y.mp3"}))

	l.sweep(ctx)

	assert.Empty(t, enq.calls())
}
