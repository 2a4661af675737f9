// Package dispatcher implements C5 Dispatcher: the single entry point that
// takes a job id, validates and dedupes it, and enqueues it into the
// correct first-stage queue. RecoveryLoop re-enters the system through the
// same path, which is what makes re-injection idempotent (spec §4.8).
package dispatcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"mp3pipeline/internal/domain"
	"mp3pipeline/internal/eventlog"
	"mp3pipeline/internal/pipeline"
	"mp3pipeline/internal/store"
)

// youtubeHosts is the known video-platform set from spec §4.5 step 6.
var youtubeHosts = map[string]struct{}{
	"youtube.com":     {},
	"www.youtube.com": {},
	"m.youtube.com":   {},
	"youtu.be":        {},
}

// dangerousExtensions are refused outright at dispatch time, per spec's
// "not in a dangerous-extension set" validation rule.
var dangerousExtensions = map[string]struct{}{
	".exe": {}, ".sh": {}, ".bat": {}, ".cmd": {}, ".msi": {}, ".dll": {},
}

// Dispatcher is the sole path by which a job id becomes an enqueued
// pipeline payload.
type Dispatcher struct {
	store   store.Store
	logger  *eventlog.Logger
	stages  *pipeline.Stages
	slogger *slog.Logger
}

// New constructs a Dispatcher.
func New(st store.Store, logger *eventlog.Logger, stages *pipeline.Stages, slogger *slog.Logger) *Dispatcher {
	return &Dispatcher{store: st, logger: logger, stages: stages, slogger: slogger}
}

// Dispatch implements spec §4.5's 7-step algorithm for a single job id.
func (d *Dispatcher) Dispatch(ctx context.Context, jobID string) {
	job, err := d.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			d.logger.LogError(ctx, jobID, "", domain.StatusFailed, "dispatch: job not found", err.Error())
			return
		}
		d.slogger.Error("dispatcher: store.Get failed", "job_id", jobID, "error", err)
		return
	}

	// Step 2/3: idempotent re-entry / already progressing.
	if job.Status.IsTerminal() || job.Status != domain.StatusPending {
		return
	}

	// Step 4: best-effort URL-hash cache-hit fast path.
	urlHash := sha256Hex(job.VideoURL)
	if artifact, err := d.store.FindArtifactByHash(ctx, urlHash); err == nil && artifact != nil {
		d.completeFromCache(ctx, job, artifact)
		return
	}

	// Step 5: validate.
	if err := validateURL(job.VideoURL); err != nil {
		d.fail(ctx, job, fmt.Sprintf("invalid video url: %v", err))
		return
	}

	// Step 6: classify and enqueue.
	payload := domain.DownloadPayload{JobID: job.ID, VideoURL: job.VideoURL}
	var enqueueErr error
	if isYoutubeHost(job.VideoURL) {
		enqueueErr = d.stages.Youtube.TryEnqueue(payload)
	} else {
		enqueueErr = d.stages.Download.TryEnqueue(payload)
	}

	// Step 7: overload handling.
	if errors.Is(enqueueErr, pipeline.ErrFull) {
		d.fail(ctx, job, "system overloaded")
		return
	}
	if enqueueErr != nil {
		d.slogger.Error("dispatcher: enqueue failed", "job_id", job.ID, "error", enqueueErr)
		return
	}

	d.logger.Log(domain.LogEvent{
		JobID: job.ID, BatchID: job.BatchID, EventType: domain.EventJobQueued,
		JobStatus: job.Status, Message: "job queued",
	})
}

func (d *Dispatcher) completeFromCache(ctx context.Context, job *domain.Job, artifact *domain.MediaArtifact) {
	upd := store.StatusUpdate{Mp3URL: artifact.AudioURL, NewVideoURL: artifact.VideoURL}
	if err := d.store.UpdateStatus(ctx, job.ID, domain.StatusCompleted, upd); err != nil {
		d.slogger.Error("dispatcher: cache-hit UpdateStatus failed", "job_id", job.ID, "error", err)
		return
	}
	d.logger.Log(domain.LogEvent{
		JobID: job.ID, BatchID: job.BatchID, EventType: domain.EventCacheHit,
		JobStatus: domain.StatusCompleted, Message: "url-hash cache hit",
	})
	d.logger.LogJobCompleted(ctx, domain.LogEvent{
		JobID: job.ID, BatchID: job.BatchID,
		JobStatus: domain.StatusCompleted, Message: "completed via cache",
	})
}

func (d *Dispatcher) fail(ctx context.Context, job *domain.Job, reason string) {
	if err := d.store.UpdateStatus(ctx, job.ID, domain.StatusFailed, store.StatusUpdate{ErrorMessage: reason}); err != nil {
		d.slogger.Error("dispatcher: fail UpdateStatus failed", "job_id", job.ID, "error", err)
	}
	d.logger.LogError(ctx, job.ID, job.BatchID, domain.StatusFailed, reason, "")
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func isYoutubeHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	_, ok := youtubeHosts[strings.ToLower(u.Hostname())]
	return ok
}

// validateURL enforces spec §4.5 step 5: scheme in {http, https}, not
// loopback/link-local, and no dangerous file extension. Literal private
// (RFC 1918 / fc00::/7) addresses are rejected as well.
func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("scheme must be http or https")
	}
	if u.Hostname() == "" {
		return errors.New("missing host")
	}
	if isLoopbackOrLinkLocal(u.Hostname()) {
		return errors.New("loopback/link-local hosts are not allowed")
	}
	if hasDangerousExtension(u.Path) {
		return errors.New("dangerous file extension")
	}
	return nil
}

func isLoopbackOrLinkLocal(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsPrivate()
}

func hasDangerousExtension(path string) bool {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return false
	}
	ext := strings.ToLower(path[idx:])
	_, ok := dangerousExtensions[ext]
	return ok
}

// Enqueuer is the narrow interface RecoveryLoop depends on, breaking the
// Dispatcher<->worker-pool cycle per spec §9's design note: the
// Orchestrator wires the concrete Dispatcher behind this port.
type Enqueuer interface {
	Dispatch(ctx context.Context, jobID string)
	DispatchWithTimeout(ctx context.Context, jobID string)
}

var _ Enqueuer = (*Dispatcher)(nil)

// dispatchTimeout bounds a single Dispatch call so a stuck store/queue call
// cannot wedge RecoveryLoop's tick forever.
const dispatchTimeout = 30 * time.Second

// DispatchWithTimeout wraps Dispatch with a bounded context, used by
// RecoveryLoop's per-job re-injection.
func (d *Dispatcher) DispatchWithTimeout(ctx context.Context, jobID string) {
	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()
	d.Dispatch(ctx, jobID)
}
