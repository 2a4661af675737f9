// Package storage implements the Object Store external collaborator from
// spec §6: Exists/Download/Upload/Delete over opaque URL keys. An S3
// adapter backs production use; a local-disk adapter backs tests and
// standalone runs without AWS credentials.
package storage

import (
	"context"
)

// Store is the narrow port stage workers depend on. URLs returned by
// Upload are opaque strings used as artifact keys elsewhere in the
// system (MediaArtifact.AudioURL, Job.Mp3URL, ...).
type Store interface {
	// Exists reports whether url is already present in the store, used by
	// the Download worker's "already stored" fast path.
	Exists(ctx context.Context, url string) (bool, error)
	// Download fetches the bytes at url.
	Download(ctx context.Context, url string) ([]byte, error)
	// Upload stores the contents of path under a derived key and returns
	// the resulting URL. contentType is recorded as object metadata where
	// the backing store supports it.
	Upload(ctx context.Context, path, contentType string) (url string, err error)
	// Delete removes the object named by url, reporting whether it was
	// present beforehand.
	Delete(ctx context.Context, url string) (existed bool, err error)
}
