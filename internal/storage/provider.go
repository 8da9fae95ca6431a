// Package storage uploads completed mission archives to S3-compatible
// object storage.
package storage

import (
	"context"
	"time"
)

// Provider is the object-storage surface used by the mission archive.
type Provider interface {
	// PutFile uploads one local file under the given object name.
	PutFile(ctx context.Context, objectName, filePath string) error

	// GeneratePresignedURL creates a temporary download link for an
	// archived object.
	GeneratePresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)

	// CheckBucket ensures the target bucket exists.
	CheckBucket(ctx context.Context) error
}
