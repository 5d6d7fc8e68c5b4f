package storage

import (
	"context"
	"io"
)

// Storage is a destination for generated reports. OpenWriter returns the
// writer and its location (path or s3:// URL); the object is only complete
// once Close returns nil.
type Storage interface {
	Name() string
	OpenWriter(ctx context.Context, key string) (io.WriteCloser, string, error)
}
