// Package ytresolve resolves a YouTube-family URL to a direct, downloadable
// audio-only stream URL. It mirrors the teacher's provider-port shape (a
// narrow Resolver interface plus a concrete implementation) so the Youtube
// worker can depend on an interface and tests can stub it. The only
// implementation here is StubResolver; no HTTP-backed resolver is included.
package ytresolve

import (
	"context"
	"errors"
)

// Sentinel errors, matching the Youtube worker's retryable/permanent split.
var (
	// ErrVideoUnavailable is a permanent failure: the video was removed,
	// is private, or is region-locked.
	ErrVideoUnavailable = errors.New("ytresolve: video unavailable")
	// ErrResolutionTimeout is a retryable failure.
	ErrResolutionTimeout = errors.New("ytresolve: resolution timed out")
)

// Stream describes a resolved audio-only stream.
type Stream struct {
	URL           string
	ContentLength int64
	MimeType      string
}

// Resolver resolves a YouTube-family page URL to a direct audio stream.
type Resolver interface {
	ResolveAudioStream(ctx context.Context, videoURL string) (Stream, error)
}

// StubResolver is a deterministic Resolver for tests and environments
// without a real extraction backend wired in: it treats the input URL
// itself as the (already-direct) audio stream URL.
type StubResolver struct{}

// NewStub constructs a StubResolver.
func NewStub() *StubResolver {
	return &StubResolver{}
}

// ResolveAudioStream implements Resolver.
func (s *StubResolver) ResolveAudioStream(_ context.Context, videoURL string) (Stream, error) {
	return Stream{URL: videoURL, MimeType: "audio/mpeg"}, nil
}
