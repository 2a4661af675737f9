// Package store implements C1 JobStore: the persistent record of every job
// and its terminal artifacts, plus the content-hash dedup index. A sqlite
// adapter backs production use (crash recovery survives a process
// restart); an in-memory adapter backs tests.
package store

import (
	"context"
	"errors"
	"time"

	"mp3pipeline/internal/domain"
)

// Sentinel errors returned by every Store implementation.
var (
	// ErrAlreadyExists is returned by Create when the job id collides with
	// an existing row.
	ErrAlreadyExists = errors.New("store: job already exists")
	// ErrNotFound is returned by Get/Update/UpdateStatus when no row
	// matches the given id.
	ErrNotFound = errors.New("store: job not found")
)

// StatusUpdate carries the optional fields an UpdateStatus call may set
// alongside the new status, per spec's partial-atomic-update contract.
type StatusUpdate struct {
	Mp3URL       string
	NewVideoURL  string
	ErrorMessage string
}

// Store is the port every pipeline component mutates jobs and artifacts
// through. It is the only path for mutating job state (spec §5): every
// update is a single transaction, and no in-memory "current state" is
// trusted across an await point — callers reload before deciding.
type Store interface {
	// Create assigns an id if job.ID is empty, inserts with
	// status=Pending, created_at=now, processing_attempts=0. Returns
	// ErrAlreadyExists on id collision.
	Create(ctx context.Context, job *domain.Job) error

	// Get returns the job by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Job, error)

	// Update writes back all mutable fields of job atomically.
	Update(ctx context.Context, job *domain.Job) error

	// UpdateStatus atomically transitions a job to newStatus, setting
	// completed_at iff newStatus is Completed or Failed, and always
	// setting last_attempt_at. Returns ErrNotFound if missing.
	UpdateStatus(ctx context.Context, id string, newStatus domain.Status, upd StatusUpdate) error

	// IncrementAttempt atomically bumps processing_attempts and resets the
	// job to Pending, used by RecoveryLoop.
	IncrementAttempt(ctx context.Context, id string) error

	// GetStale returns every job with status not in {Completed, Failed}
	// whose last activity (last_attempt_at, or created_at if never
	// attempted) is older than olderThan.
	GetStale(ctx context.Context, olderThan time.Duration) ([]domain.Job, error)

	// FindArtifactByHash returns the MediaArtifact for hash, or nil if
	// none exists (not an error: a miss is the common case).
	FindArtifactByHash(ctx context.Context, hash string) (*domain.MediaArtifact, error)

	// SaveArtifact inserts an artifact, no-oping on hash collision
	// (first writer wins; the system tolerates losing this race).
	SaveArtifact(ctx context.Context, artifact domain.MediaArtifact) error

	// PurgeExpired deletes completed/failed jobs whose CompletedAt is
	// older than olderThan, returning the number of rows removed.
	PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error)

	// ListExpiredArtifacts returns every MediaArtifact older than
	// olderThan, used by JanitorLoop to delete the backing objects before
	// purging the row.
	ListExpiredArtifacts(ctx context.Context, olderThan time.Time) ([]domain.MediaArtifact, error)

	// PurgeExpiredArtifacts deletes MediaArtifact rows older than
	// olderThan, returning the number of rows removed.
	PurgeExpiredArtifacts(ctx context.Context, olderThan time.Time) (int64, error)

	// CreateBatch inserts a new batch row.
	CreateBatch(ctx context.Context, batch domain.Batch) error

	// JobsByBatch returns every job belonging to batchID, used to derive
	// batch status.
	JobsByBatch(ctx context.Context, batchID string) ([]domain.Job, error)

	// AppendEvents persists a batch of LogEvents. Progress events must
	// already have been filtered out by the caller (JobLogger).
	AppendEvents(ctx context.Context, events []domain.LogEvent) error

	// PurgeEventsOlderThan deletes log_events rows older than olderThan,
	// returning the number of rows removed.
	PurgeEventsOlderThan(ctx context.Context, olderThan time.Time) (int64, error)

	// Close releases the underlying storage handle.
	Close() error
}
