package janitor

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mp3pipeline/internal/domain"
	"mp3pipeline/internal/store"
	"mp3pipeline/internal/temparena"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubObjectStore struct {
	deleted []string
}

func (s *stubObjectStore) Exists(_ context.Context, _ string) (bool, error) { return false, nil }
func (s *stubObjectStore) Download(_ context.Context, _ string) ([]byte, error) {
	return nil, nil
}
func (s *stubObjectStore) Upload(_ context.Context, _, _ string) (string, error) { return "", nil }
func (s *stubObjectStore) Delete(_ context.Context, url string) (bool, error) {
	s.deleted = append(s.deleted, url)
	return true, nil
}

func TestJanitor_HourlyPurgesExpiredArtifactsAndTheirObjects(t *testing.T) {
	st := store.NewMemory()
	objects := &stubObjectStore{}
	arena, err := temparena.New(t.TempDir(), 0)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, st.SaveArtifact(ctx, domain.MediaArtifact{
		VideoHash: "old", VideoURL: "https://v/old.mp4", AudioURL: "https://a/old.mp3",
		CreatedAt: time.Now().Add(-2 * time.Hour),
	}))
	require.NoError(t, st.SaveArtifact(ctx, domain.MediaArtifact{
		VideoHash: "fresh", VideoURL: "https://v/fresh.mp4", AudioURL: "https://a/fresh.mp3",
		CreatedAt: time.Now(),
	}))

	l := New(st, objects, arena, time.Hour, time.Hour, 0, 30*24*time.Hour, testLogger())
	l.hourly(ctx)

	assert.ElementsMatch(t, []string{"https://a/old.mp3", "https://v/old.mp4"}, objects.deleted)

	got, err := st.FindArtifactByHash(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = st.FindArtifactByHash(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestJanitor_AbsoluteTTLCapsArtifactLifetimeBelowSlidingTTL(t *testing.T) {
	st := store.NewMemory()
	objects := &stubObjectStore{}
	arena, err := temparena.New(t.TempDir(), 0)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, st.SaveArtifact(ctx, domain.MediaArtifact{
		VideoHash: "old-by-absolute", VideoURL: "https://v/x.mp4", AudioURL: "https://a/x.mp3",
		CreatedAt: time.Now().Add(-2 * time.Hour),
	}))

	// sliding TTL alone (24h) would keep this artifact; the 1h absolute cap
	// must still purge it.
	l := New(st, objects, arena, time.Hour, 24*time.Hour, time.Hour, 30*24*time.Hour, testLogger())
	l.purgeExpiredArtifacts(ctx)

	assert.ElementsMatch(t, []string{"https://a/x.mp3", "https://v/x.mp4"}, objects.deleted)
	got, err := st.FindArtifactByHash(ctx, "old-by-absolute")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestJanitor_HourlyCleansUpStaleTempFiles(t *testing.T) {
	st := store.NewMemory()
	objects := &stubObjectStore{}
	root := t.TempDir()
	arena, err := temparena.New(root, 0)
	require.NoError(t, err)

	_, path, err := arena.CreateTempFile(".mp4")
	require.NoError(t, err)
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	l := New(st, objects, arena, 24*time.Hour, time.Hour, 0, 30*24*time.Hour, testLogger())
	l.hourly(context.Background())

	assert.NoFileExists(t, path)
}

func TestJanitor_DailyPurgesOldLogEvents(t *testing.T) {
	st := store.NewMemory()
	objects := &stubObjectStore{}
	arena, err := temparena.New(t.TempDir(), 0)
	require.NoError(t, err)

	ctx := context.Background()
	old := time.Now().Add(-60 * 24 * time.Hour)
	require.NoError(t, st.AppendEvents(ctx, []domain.LogEvent{
		{JobID: "j1", EventType: domain.EventJobCompleted, Timestamp: old},
	}))
	recent := time.Now()
	require.NoError(t, st.AppendEvents(ctx, []domain.LogEvent{
		{JobID: "j2", EventType: domain.EventJobCompleted, Timestamp: recent},
	}))

	l := New(st, objects, arena, 24*time.Hour, time.Hour, 0, 30*24*time.Hour, testLogger())
	l.daily(ctx)

	removed, err := st.PurgeEventsOlderThan(ctx, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, removed) // already purged by the daily sweep above
}

func TestJanitor_MaybeDailyOnlyRunsAtConfiguredHourOncePerDay(t *testing.T) {
	st := store.NewMemory()
	objects := &stubObjectStore{}
	arena, err := temparena.New(t.TempDir(), 0)
	require.NoError(t, err)

	l := New(st, objects, arena, 24*time.Hour, time.Hour, 0, 30*24*time.Hour, testLogger())
	l.dailyAt = time.Now().Hour()

	l.maybeDaily(context.Background())
	first := l.lastDailyRun
	require.False(t, first.IsZero())

	l.maybeDaily(context.Background())
	assert.Equal(t, first, l.lastDailyRun)
}

func TestJanitor_PurgeExpiredArtifactsSkipsObjectsWithoutURLs(t *testing.T) {
	st := store.NewMemory()
	objects := &stubObjectStore{}
	arena, err := temparena.New(filepath.Join(t.TempDir(), "arena"), 0)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, st.SaveArtifact(ctx, domain.MediaArtifact{
		VideoHash: "audio-only", AudioURL: "https://a/x.mp3",
		CreatedAt: time.Now().Add(-2 * time.Hour),
	}))

	l := New(st, objects, arena, time.Hour, time.Hour, 0, 30*24*time.Hour, testLogger())
	l.purgeExpiredArtifacts(ctx)

	assert.Equal(t, []string{"https://a/x.mp3"}, objects.deleted)
}
