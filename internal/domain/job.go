// Package domain holds the persistent and in-flight types shared across the
// job orchestration core: jobs, batches, dedup artifacts, log events and the
// typed payloads that flow between pipeline stages.
package domain

import "time"

// Status is the lifecycle state of a Job.
type Status string

// Job lifecycle states, per spec's state machine:
//
//	Pending -> Downloading -> Converting -> Uploading -> Completed
//	Pending -> (any stage)  -> Failed
//	Downloading -> Completed      (cache hit after hashing)
//	(any non-terminal) -> Pending (via RecoveryLoop, increments attempts)
const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusConverting  Status = "converting"
	StatusUploading   Status = "uploading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// IsTerminal reports whether no further stage transitions occur from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the persistent record of a single URL-to-MP3 conversion request.
type Job struct {
	ID                 string
	BatchID            string // empty if not part of a batch
	VideoURL           string
	Status             Status
	Mp3URL             string
	NewVideoURL        string // re-hosted copy of the source video, if uploaded
	ErrorMessage       string
	ContentType        string
	FileSizeBytes      int64
	VideoHash          string
	ProcessingAttempts int
	CreatedAt          time.Time
	CompletedAt        *time.Time
	LastAttemptAt      *time.Time

	// Transient fields: never persisted, only meaningful while the job's
	// payload is in flight inside the process.
	TempVideoPath string `json:"-"`
	TempMp3Path   string `json:"-"`
}

// Batch groups jobs submitted together. Its Status is derived, not stored.
type Batch struct {
	ID        string
	CreatedAt time.Time
}

// BatchStatus is the derived aggregate state of a Batch's member jobs.
type BatchStatus string

// Derived batch states.
const (
	BatchInProgress BatchStatus = "in_progress"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// DeriveBatchStatus computes a Batch's status from its member jobs.
// All-Completed -> Completed. All-terminal with at least one Failed ->
// Failed. Anything else (a member still in flight) -> InProgress.
func DeriveBatchStatus(jobs []Job) BatchStatus {
	if len(jobs) == 0 {
		return BatchInProgress
	}
	allTerminal := true
	anyFailed := false
	anyNonCompleted := false
	for _, j := range jobs {
		if !j.Status.IsTerminal() {
			allTerminal = false
		}
		if j.Status == StatusFailed {
			anyFailed = true
		}
		if j.Status != StatusCompleted {
			anyNonCompleted = true
		}
	}
	switch {
	case !anyNonCompleted:
		return BatchCompleted
	case allTerminal && anyFailed:
		return BatchFailed
	default:
		return BatchInProgress
	}
}

// MediaArtifact is the authoritative content-hash dedup record: the first
// successful run for a given VideoHash creates one, and every later job
// consults it before doing any work.
type MediaArtifact struct {
	VideoHash     string
	VideoURL      string
	AudioURL      string
	FileSizeBytes int64
	CreatedAt     time.Time
}

// Progress derives the coarse (0/25/50/75/100) status-endpoint progress
// value for a job, per spec's status contract. Progress is never driven by
// in-flight progress events, only by the persisted Status.
func Progress(s Status) int {
	switch s {
	case StatusPending:
		return 0
	case StatusDownloading:
		return 25
	case StatusConverting:
		return 50
	case StatusUploading:
		return 75
	case StatusCompleted:
		return 100
	case StatusFailed:
		return 0
	default:
		return 0
	}
}
