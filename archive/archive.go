// Package archive stores the raw payloads sources were built from, so that a
// source can be re-normalized later without fetching it again.
package archive

import (
	"context"
	"errors"
	"path"

	"github.com/poiesic/civicrag/core"
)

var (
	// ErrBucketRequired is returned when an S3 archive has no bucket.
	ErrBucketRequired = errors.New("archive config: bucket is required")

	// ErrRegionRequired is returned when an S3 archive has no region.
	ErrRegionRequired = errors.New("archive config: region is required")
)

// Archive stores raw payloads.
// Implementations must be safe for concurrent use.
type Archive interface {
	// Put stores data under key and returns a URI for it.
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// Key returns the archive key of a payload: raw/<type>/<fingerprint>.
// Payloads are content-addressed, so re-archiving unchanged content overwrites
// the same object.
func Key(typ core.SourceType, fp core.Fingerprint) string {
	return path.Join("raw", string(typ), fp.String())
}

// Discard is an Archive that stores nothing.
type Discard struct{}

var _ Archive = Discard{}

// Put implements Archive. It returns an empty URI.
func (Discard) Put(context.Context, string, string, []byte) (string, error) {
	return "", nil
}
