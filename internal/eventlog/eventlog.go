// Package eventlog implements C4 JobLogger: a batched, append-only log of
// job events backed by the Store. Log never blocks a stage worker on a
// database write — it appends to an in-memory buffer and a background
// flusher drains it on a timer or depth trigger, the same bulk-batching
// discipline the ohlcv ingestion pipeline uses for its COPY writer.
// LogError and LogJobCompleted are the exception: they flush synchronously,
// so the calling worker waits for that database write.
package eventlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mp3pipeline/internal/domain"
	"mp3pipeline/internal/store"
)

const (
	defaultBatchSize     = 50
	defaultFlushInterval = 3 * time.Second
)

// Logger is the batched JobLogger. It is safe for concurrent use by many
// stage workers; only one flush runs at a time.
type Logger struct {
	st     store.Store
	logger *slog.Logger

	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	buf     []domain.LogEvent
	flushMu sync.Mutex

	flushCh chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// New constructs a Logger. batchSize and flushInterval fall back to spec
// defaults (50 events / 3s) when zero.
func New(st store.Store, logger *slog.Logger, batchSize int, flushInterval time.Duration) *Logger {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	return &Logger{
		st:            st,
		logger:        logger,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		flushCh:       make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Start launches the background flush loop. Call Stop to drain and halt it.
func (l *Logger) Start() {
	l.wg.Add(1)
	go l.run()
}

func (l *Logger) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.flush(context.Background())
		case <-l.flushCh:
			l.flush(context.Background())
		case <-l.done:
			l.flush(context.Background())
			return
		}
	}
}

// Stop signals the flush loop to drain and exit, blocking until the final
// synchronous flush completes.
func (l *Logger) Stop() {
	close(l.done)
	l.wg.Wait()
}

// Log appends an event to the buffer. Progress events are dropped here per
// spec: they are a transient signal, never persisted. A depth of
// 2x batchSize triggers an async flush; the append itself never blocks on
// storage.
func (l *Logger) Log(e domain.LogEvent) {
	if domain.IsProgressEvent(e.EventType) {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	l.buf = append(l.buf, e)
	depth := len(l.buf)
	l.mu.Unlock()

	if depth >= 2*l.batchSize {
		select {
		case l.flushCh <- struct{}{}:
		default:
		}
	}
}

// LogError logs an Error-type event and blocks until it is durably
// persisted, per spec's JobLogger contract ("a successful LogError call is
// durable by the time the call returns").
func (l *Logger) LogError(ctx context.Context, jobID, batchID string, status domain.Status, message, details string) {
	l.mu.Lock()
	l.buf = append(l.buf, domain.LogEvent{
		JobID:     jobID,
		BatchID:   batchID,
		Timestamp: time.Now().UTC(),
		EventType: domain.EventError,
		JobStatus: status,
		Message:   message,
		Details:   details,
	})
	l.mu.Unlock()

	l.flush(ctx)
}

// LogJobCompleted logs a JobCompleted-type event and blocks until it is
// durably persisted, per spec's JobLogger contract ("a successful
// LogJobCompleted or LogError call is durable by the time the call
// returns"). e.EventType is overwritten with EventJobCompleted.
func (l *Logger) LogJobCompleted(ctx context.Context, e domain.LogEvent) {
	e.EventType = domain.EventJobCompleted
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	l.buf = append(l.buf, e)
	l.mu.Unlock()

	l.flush(ctx)
}

// flush drains the buffer and persists it. Only one flush runs at a time;
// a concurrent caller's events simply join the next flush's batch.
func (l *Logger) flush(ctx context.Context) {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	l.mu.Lock()
	if len(l.buf) == 0 {
		l.mu.Unlock()
		return
	}
	batch := l.buf
	l.buf = nil
	l.mu.Unlock()

	for start := 0; start < len(batch); start += l.batchSize {
		end := start + l.batchSize
		if end > len(batch) {
			end = len(batch)
		}
		if err := l.st.AppendEvents(ctx, batch[start:end]); err != nil {
			// LoggingFailure is swallowed at the call site, never propagated
			// to stage logic; the process stderr logger is the backstop.
			l.logger.Error("eventlog: failed to persist batch", "error", err, "batch_size", end-start)
		}
	}
}
