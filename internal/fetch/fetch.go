// Package fetch implements the outbound HTTP side of the Download worker:
// issuing a GET with a realistic browser identity and mapping the response
// status to the job orchestration core's error taxonomy.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Error kinds the Download worker discriminates on, per spec §4.6.1's
// "403 -> AccessDenied; 404 -> NotFound; other non-2xx -> HttpFailure"
// mapping. All three are treated as recoverable TransientNetwork/
// PermanentFetch failures at the call site.
var (
	ErrAccessDenied = errors.New("fetch: access denied")
	ErrNotFound     = errors.New("fetch: resource not found")
	ErrHTTPFailure  = errors.New("fetch: non-2xx response")
	// ErrFileTooLarge is returned when a response body exceeds the
	// configured FileConverter.MaxFileSizeBytes cap.
	ErrFileTooLarge = errors.New("fetch: file exceeds max size")
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Client downloads source bytes with a browser-like identity.
type Client struct {
	http     *http.Client
	maxBytes int64
}

// New constructs a Client with the given timeout and max response body size
// (FileConverter.MaxFileSizeBytes). maxBytes <= 0 disables the size cap.
func New(timeout time.Duration, maxBytes int64) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{http: &http.Client{Timeout: timeout}, maxBytes: maxBytes}
}

// Result is the outcome of a successful fetch.
type Result struct {
	Bytes       []byte
	ContentType string
}

// Get issues a GET for videoURL with a realistic User-Agent and a
// platform-specific Referer, returning the body and reported content type.
func (c *Client) Get(ctx context.Context, videoURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Referer", refererFor(videoURL))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", videoURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, mapStatusError(resp.StatusCode)
	}

	var reader io.Reader = resp.Body
	if c.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, c.maxBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if c.maxBytes > 0 && int64(len(body)) > c.maxBytes {
		return nil, ErrFileTooLarge
	}

	return &Result{Bytes: body, ContentType: resp.Header.Get("Content-Type")}, nil
}

// StatusError carries the raw HTTP status alongside one of the sentinel
// kinds, so callers that need to discriminate further (e.g. the Youtube
// worker's retryable-5xx-vs-permanent-4xx split) don't have to parse it
// back out of an error string.
type StatusError struct {
	StatusCode int
	kind       error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: status %d", e.kind, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return e.kind
}

func mapStatusError(status int) error {
	switch status {
	case http.StatusForbidden:
		return &StatusError{StatusCode: status, kind: ErrAccessDenied}
	case http.StatusNotFound:
		return &StatusError{StatusCode: status, kind: ErrNotFound}
	default:
		return &StatusError{StatusCode: status, kind: ErrHTTPFailure}
	}
}

// refererFor derives a plausible same-origin referer for videoURL, which
// a number of video CDNs use as a lightweight hotlink check.
func refererFor(videoURL string) string {
	u, err := url.Parse(videoURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return videoURL
	}
	return fmt.Sprintf("%s://%s/", u.Scheme, u.Host)
}

// NormalizeContentType strips any "; charset=..." parameter and
// lower-cases a response Content-Type, so callers can compare it directly
// against a whitelist or switch on it.
func NormalizeContentType(contentType string) string {
	return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
}

// ExtByContentType maps a response content-type to a file extension,
// falling back to ".mp4" for anything unrecognized, per spec's
// "inferred extension ... falling back to content-type map" step.
func ExtByContentType(contentType string) string {
	ct := NormalizeContentType(contentType)
	switch ct {
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "audio/mpeg":
		return ".mp3"
	default:
		return ".mp4"
	}
}

// ExtFromURL returns the file extension suggested by videoURL's path
// suffix, or "" if none is present.
func ExtFromURL(videoURL string) string {
	u, err := url.Parse(videoURL)
	if err != nil {
		return ""
	}
	path := u.Path
	if idx := strings.LastIndex(path, "."); idx >= 0 && idx > strings.LastIndex(path, "/") {
		ext := path[idx:]
		if len(ext) <= 5 { // ".webm" etc; avoid accidental dotted segments
			return ext
		}
	}
	return ""
}
