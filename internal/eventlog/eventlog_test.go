package eventlog

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mp3pipeline/internal/domain"
	"mp3pipeline/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLogger_ProgressEventsAreDropped(t *testing.T) {
	st := store.NewMemory()
	l := New(st, testLogger(), 50, time.Hour)
	l.Start()
	defer l.Stop()

	l.Log(domain.LogEvent{JobID: "j1", EventType: domain.EventDownloadProgress})
	l.LogError(context.Background(), "j1", "", domain.StatusFailed, "flush trigger", "")

	events := st.Events()
	for _, e := range events {
		assert.NotEqual(t, domain.EventDownloadProgress, e.EventType)
	}
}

func TestLogger_LogErrorIsSynchronouslyDurable(t *testing.T) {
	st := store.NewMemory()
	l := New(st, testLogger(), 50, time.Hour) // flush timer far in the future
	l.Start()
	defer l.Stop()

	l.LogError(context.Background(), "j1", "b1", domain.StatusFailed, "boom", "stack trace")

	events := st.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventError, events[0].EventType)
	assert.Equal(t, "boom", events[0].Message)
}

func TestLogger_LogJobCompletedIsSynchronouslyDurable(t *testing.T) {
	st := store.NewMemory()
	l := New(st, testLogger(), 50, time.Hour) // flush timer far in the future
	l.Start()
	defer l.Stop()

	l.LogJobCompleted(context.Background(), domain.LogEvent{JobID: "j1", BatchID: "b1", JobStatus: domain.StatusCompleted})

	events := st.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventJobCompleted, events[0].EventType)
}

func TestLogger_DepthTriggerFlushesWithoutWaitingForTimer(t *testing.T) {
	st := store.NewMemory()
	l := New(st, testLogger(), 5, time.Hour) // batchSize=5, so 2x=10 triggers async flush
	l.Start()
	defer l.Stop()

	for i := 0; i < 11; i++ {
		l.Log(domain.LogEvent{JobID: "j1", EventType: domain.EventJobCreated})
	}

	require.Eventually(t, func() bool {
		return len(st.Events()) >= 10
	}, time.Second, 10*time.Millisecond)
}

func TestLogger_StopDrainsRemainingBuffer(t *testing.T) {
	st := store.NewMemory()
	l := New(st, testLogger(), 50, time.Hour)
	l.Start()

	l.Log(domain.LogEvent{JobID: "j1", EventType: domain.EventJobCreated})
	l.Log(domain.LogEvent{JobID: "j1", EventType: domain.EventJobCompleted})

	l.Stop()

	events := st.Events()
	assert.Len(t, events, 2)
}

func TestLogger_TimerFlushesOnSchedule(t *testing.T) {
	st := store.NewMemory()
	l := New(st, testLogger(), 50, 20*time.Millisecond)
	l.Start()
	defer l.Stop()

	l.Log(domain.LogEvent{JobID: "j1", EventType: domain.EventJobQueued})

	require.Eventually(t, func() bool {
		return len(st.Events()) == 1
	}, time.Second, 5*time.Millisecond)
}
