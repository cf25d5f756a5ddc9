// Package stemstore persists separated stems as WAV files.
//
// A Store is a minimal object store: local disk or any S3-compatible
// bucket. The Exporter writes one directory per separation run:
//
//	{prefix}/{run id}/
//	    manifest.yaml
//	    drums.wav
//	    bass.wav
//	    ...
//
// Paths are forward-slash separated and relative to the store root.
package stemstore

import (
	"context"
)

// Store is a minimal interface for object-oriented storage. Implementations
// must be safe for concurrent use.
type Store interface {
	// Put writes data to path, replacing any existing object. Parent
	// directories are created as needed.
	Put(ctx context.Context, path string, data []byte, contentType string) error

	// Get reads the object at path. A missing object returns an error
	// wrapping fs.ErrNotExist.
	Get(ctx context.Context, path string) ([]byte, error)

	// Exists reports whether path exists.
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes path. Missing objects are not an error.
	Delete(ctx context.Context, path string) error

	// Location returns a human-readable location for path, such as a
	// filesystem path or an s3:// URL.
	Location(path string) string
}
