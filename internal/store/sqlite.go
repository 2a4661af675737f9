package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go sqlite driver, registers "sqlite"

	"mp3pipeline/internal/domain"
)

// SQLiteStore is the durable Store adapter. It survives process restarts,
// which is what lets RecoveryLoop pick a job back up after a crash.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// Open creates (or reopens) the sqlite-backed job store at path, running
// migrations and setting the same WAL/synchronous pragmas down-kingo's
// storage layer uses for a single-writer, many-reader workload.
func Open(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection avoids "database is locked" errors under sqlite's
	// single-writer model; reads share that connection, so all access is
	// serialized.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		batch_id TEXT,
		video_url TEXT NOT NULL,
		status TEXT NOT NULL,
		mp3_url TEXT,
		new_video_url TEXT,
		error_message TEXT,
		content_type TEXT,
		file_size_bytes INTEGER DEFAULT 0,
		video_hash TEXT,
		processing_attempts INTEGER DEFAULT 0,
		created_at DATETIME NOT NULL,
		completed_at DATETIME,
		last_attempt_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_batch_id ON jobs(batch_id);

	CREATE TABLE IF NOT EXISTS media_artifacts (
		video_hash TEXT PRIMARY KEY,
		video_url TEXT NOT NULL,
		audio_url TEXT NOT NULL,
		file_size_bytes INTEGER DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS log_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		batch_id TEXT,
		timestamp DATETIME NOT NULL,
		event_type TEXT NOT NULL,
		job_status TEXT,
		message TEXT,
		details TEXT,
		file_size_bytes INTEGER DEFAULT 0,
		duration_seconds REAL DEFAULT 0,
		queue_time_ms INTEGER DEFAULT 0,
		step TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_log_events_job_id ON log_events(job_id);
	CREATE INDEX IF NOT EXISTS idx_log_events_timestamp ON log_events(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying sqlite handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create implements Store.
func (s *SQLiteStore) Create(ctx context.Context, job *domain.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = domain.StatusPending
	job.CreatedAt = time.Now().UTC()
	job.ProcessingAttempts = 0

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, batch_id, video_url, status, processing_attempts, created_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		job.ID, nullableString(job.BatchID), job.VideoURL, string(job.Status), job.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, batch_id, video_url, status, mp3_url, new_video_url, error_message,
		       content_type, file_size_bytes, video_hash, processing_attempts,
		       created_at, completed_at, last_attempt_at
		FROM jobs WHERE id = ?`, id)

	return scanJob(row)
}

// Update implements Store.
func (s *SQLiteStore) Update(ctx context.Context, job *domain.Job) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			batch_id = ?, video_url = ?, status = ?, mp3_url = ?, new_video_url = ?,
			error_message = ?, content_type = ?, file_size_bytes = ?, video_hash = ?,
			processing_attempts = ?, completed_at = ?, last_attempt_at = ?
		WHERE id = ?`,
		nullableString(job.BatchID), job.VideoURL, string(job.Status),
		nullableString(job.Mp3URL), nullableString(job.NewVideoURL),
		nullableString(job.ErrorMessage), nullableString(job.ContentType),
		job.FileSizeBytes, nullableString(job.VideoHash), job.ProcessingAttempts,
		nullableTime(job.CompletedAt), nullableTime(job.LastAttemptAt), job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return requireRowsAffected(res)
}

// UpdateStatus implements Store.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, newStatus domain.Status, upd StatusUpdate) error {
	now := time.Now().UTC()

	var completedAt any
	if newStatus.IsTerminal() {
		completedAt = now
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = ?,
			mp3_url = COALESCE(NULLIF(?, ''), mp3_url),
			new_video_url = COALESCE(NULLIF(?, ''), new_video_url),
			error_message = COALESCE(NULLIF(?, ''), error_message),
			completed_at = COALESCE(?, completed_at),
			last_attempt_at = ?
		WHERE id = ?`,
		string(newStatus), upd.Mp3URL, upd.NewVideoURL, upd.ErrorMessage,
		completedAt, now, id,
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return requireRowsAffected(res)
}

// IncrementAttempt implements Store.
func (s *SQLiteStore) IncrementAttempt(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, processing_attempts = processing_attempts + 1
		WHERE id = ?`, string(domain.StatusPending), id)
	if err != nil {
		return fmt.Errorf("increment attempt: %w", err)
	}
	return requireRowsAffected(res)
}

// GetStale implements Store.
func (s *SQLiteStore) GetStale(ctx context.Context, olderThan time.Duration) ([]domain.Job, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, video_url, status, mp3_url, new_video_url, error_message,
		       content_type, file_size_bytes, video_hash, processing_attempts,
		       created_at, completed_at, last_attempt_at
		FROM jobs
		WHERE status NOT IN (?, ?)
		  AND COALESCE(last_attempt_at, created_at) < ?`,
		string(domain.StatusCompleted), string(domain.StatusFailed), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("query stale jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// FindArtifactByHash implements Store.
func (s *SQLiteStore) FindArtifactByHash(ctx context.Context, hash string) (*domain.MediaArtifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT video_hash, video_url, audio_url, file_size_bytes, created_at
		FROM media_artifacts WHERE video_hash = ?`, hash)

	var a domain.MediaArtifact
	err := row.Scan(&a.VideoHash, &a.VideoURL, &a.AudioURL, &a.FileSizeBytes, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // a miss is the expected common case, not an error
	}
	if err != nil {
		return nil, fmt.Errorf("find artifact: %w", err)
	}
	return &a, nil
}

// SaveArtifact implements Store. Insert-if-absent: the first writer for a
// given hash wins, later writers no-op (spec's race-tolerant semantics).
func (s *SQLiteStore) SaveArtifact(ctx context.Context, artifact domain.MediaArtifact) error {
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO media_artifacts (video_hash, video_url, audio_url, file_size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(video_hash) DO NOTHING`,
		artifact.VideoHash, artifact.VideoURL, artifact.AudioURL, artifact.FileSizeBytes, artifact.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}
	return nil
}

// PurgeExpired implements Store.
func (s *SQLiteStore) PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN (?, ?) AND completed_at < ?`,
		string(domain.StatusCompleted), string(domain.StatusFailed), olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("purge expired jobs: %w", err)
	}
	return res.RowsAffected()
}

// ListExpiredArtifacts implements Store.
func (s *SQLiteStore) ListExpiredArtifacts(ctx context.Context, olderThan time.Time) ([]domain.MediaArtifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT video_hash, video_url, audio_url, file_size_bytes, created_at
		FROM media_artifacts WHERE created_at < ? ORDER BY video_hash`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list expired artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.MediaArtifact
	for rows.Next() {
		var a domain.MediaArtifact
		if err := rows.Scan(&a.VideoHash, &a.VideoURL, &a.AudioURL, &a.FileSizeBytes, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan expired artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PurgeExpiredArtifacts implements Store.
func (s *SQLiteStore) PurgeExpiredArtifacts(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM media_artifacts WHERE created_at < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge expired artifacts: %w", err)
	}
	return res.RowsAffected()
}

// CreateBatch implements Store.
func (s *SQLiteStore) CreateBatch(ctx context.Context, batch domain.Batch) error {
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO batches (id, created_at) VALUES (?, ?)`, batch.ID, batch.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// JobsByBatch implements Store.
func (s *SQLiteStore) JobsByBatch(ctx context.Context, batchID string) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, video_url, status, mp3_url, new_video_url, error_message,
		       content_type, file_size_bytes, video_hash, processing_attempts,
		       created_at, completed_at, last_attempt_at
		FROM jobs WHERE batch_id = ?`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query batch jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// AppendEvents implements Store.
func (s *SQLiteStore) AppendEvents(ctx context.Context, events []domain.LogEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO log_events
			(job_id, batch_id, timestamp, event_type, job_status, message, details,
			 file_size_bytes, duration_seconds, queue_time_ms, step)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx,
			e.JobID, nullableString(e.BatchID), e.Timestamp, string(e.EventType),
			nullableString(string(e.JobStatus)), e.Message, e.Details,
			e.FileSizeBytes, e.DurationSeconds, e.QueueTimeMs, e.Step,
		); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}

	return tx.Commit()
}

// PurgeEventsOlderThan implements Store.
func (s *SQLiteStore) PurgeEventsOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM log_events WHERE timestamp < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge log events: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	var batchID, mp3URL, newVideoURL, errMsg, contentType, videoHash sql.NullString
	var completedAt, lastAttemptAt sql.NullTime

	err := row.Scan(
		&j.ID, &batchID, &j.VideoURL, &j.Status, &mp3URL, &newVideoURL, &errMsg,
		&contentType, &j.FileSizeBytes, &videoHash, &j.ProcessingAttempts,
		&j.CreatedAt, &completedAt, &lastAttemptAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	j.BatchID = batchID.String
	j.Mp3URL = mp3URL.String
	j.NewVideoURL = newVideoURL.String
	j.ErrorMessage = errMsg.String
	j.ContentType = contentType.String
	j.VideoHash = videoHash.String
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	if lastAttemptAt.Valid {
		t := lastAttemptAt.Time
		j.LastAttemptAt = &t
	}
	return &j, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func requireRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces constraint violations as a plain error
	// whose message names the constraint; there is no typed sentinel to
	// errors.As against, so match on substring like the driver's own
	// examples do.
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
