package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mp3pipeline/internal/domain"
)

// MemoryStore is an in-process Store used by tests and by examples that
// don't need durability. Every accessor returns a deep copy so callers can
// never mutate state through a pointer they didn't get from Update.
type MemoryStore struct {
	mu        sync.Mutex
	jobs      map[string]domain.Job
	batches   map[string]domain.Batch
	artifacts map[string]domain.MediaArtifact
	events    []domain.LogEvent
}

var _ Store = (*MemoryStore)(nil)

// NewMemory constructs an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[string]domain.Job),
		batches:   make(map[string]domain.Batch),
		artifacts: make(map[string]domain.MediaArtifact),
	}
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if _, exists := m.jobs[job.ID]; exists {
		return ErrAlreadyExists
	}

	job.Status = domain.StatusPending
	job.CreatedAt = time.Now().UTC()
	job.ProcessingAttempts = 0
	m.jobs[job.ID] = cloneJob(*job)
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := cloneJob(j)
	return &clone, nil
}

// Update implements Store.
func (m *MemoryStore) Update(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	m.jobs[job.ID] = cloneJob(*job)
	return nil
}

// UpdateStatus implements Store.
func (m *MemoryStore) UpdateStatus(_ context.Context, id string, newStatus domain.Status, upd StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}

	now := time.Now().UTC()
	j.Status = newStatus
	if upd.Mp3URL != "" {
		j.Mp3URL = upd.Mp3URL
	}
	if upd.NewVideoURL != "" {
		j.NewVideoURL = upd.NewVideoURL
	}
	if upd.ErrorMessage != "" {
		j.ErrorMessage = upd.ErrorMessage
	}
	if newStatus.IsTerminal() {
		j.CompletedAt = &now
	}
	j.LastAttemptAt = &now

	m.jobs[id] = j
	return nil
}

// IncrementAttempt implements Store.
func (m *MemoryStore) IncrementAttempt(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.ProcessingAttempts++
	j.Status = domain.StatusPending
	m.jobs[id] = j
	return nil
}

// GetStale implements Store.
func (m *MemoryStore) GetStale(_ context.Context, olderThan time.Duration) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var out []domain.Job
	for _, j := range m.jobs {
		if j.Status.IsTerminal() {
			continue
		}
		last := j.CreatedAt
		if j.LastAttemptAt != nil {
			last = *j.LastAttemptAt
		}
		if last.Before(cutoff) {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

// FindArtifactByHash implements Store.
func (m *MemoryStore) FindArtifactByHash(_ context.Context, hash string) (*domain.MediaArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.artifacts[hash]
	if !ok {
		return nil, nil //nolint:nilnil // miss is the common case
	}
	clone := a
	return &clone, nil
}

// SaveArtifact implements Store.
func (m *MemoryStore) SaveArtifact(_ context.Context, artifact domain.MediaArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.artifacts[artifact.VideoHash]; exists {
		return nil
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}
	m.artifacts[artifact.VideoHash] = artifact
	return nil
}

// PurgeExpired implements Store.
func (m *MemoryStore) PurgeExpired(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, j := range m.jobs {
		if !j.Status.IsTerminal() || j.CompletedAt == nil {
			continue
		}
		if j.CompletedAt.Before(olderThan) {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

// ListExpiredArtifacts implements Store.
func (m *MemoryStore) ListExpiredArtifacts(_ context.Context, olderThan time.Time) ([]domain.MediaArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.MediaArtifact
	for _, a := range m.artifacts {
		if a.CreatedAt.Before(olderThan) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].VideoHash < out[k].VideoHash })
	return out, nil
}

// PurgeExpiredArtifacts implements Store.
func (m *MemoryStore) PurgeExpiredArtifacts(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for hash, a := range m.artifacts {
		if a.CreatedAt.Before(olderThan) {
			delete(m.artifacts, hash)
			n++
		}
	}
	return n, nil
}

// CreateBatch implements Store.
func (m *MemoryStore) CreateBatch(_ context.Context, batch domain.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	m.batches[batch.ID] = batch
	return nil
}

// JobsByBatch implements Store.
func (m *MemoryStore) JobsByBatch(_ context.Context, batchID string) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Job
	for _, j := range m.jobs {
		if j.BatchID == batchID {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

// AppendEvents implements Store.
func (m *MemoryStore) AppendEvents(_ context.Context, events []domain.LogEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, events...)
	return nil
}

// PurgeEventsOlderThan implements Store.
func (m *MemoryStore) PurgeEventsOlderThan(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.events[:0]
	var n int64
	for _, e := range m.events {
		if e.Timestamp.Before(olderThan) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return n, nil
}

// Close implements Store. No-op: there is no handle to release.
func (m *MemoryStore) Close() error {
	return nil
}

// Events returns a copy of every event recorded so far, for test assertions.
func (m *MemoryStore) Events() []domain.LogEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.LogEvent, len(m.events))
	copy(out, m.events)
	return out
}

func cloneJob(j domain.Job) domain.Job {
	clone := j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		clone.CompletedAt = &t
	}
	if j.LastAttemptAt != nil {
		t := *j.LastAttemptAt
		clone.LastAttemptAt = &t
	}
	return clone
}
