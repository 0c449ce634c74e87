package storage

import (
	"context"
	"io"
)

type Uploader interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (storedPath string, err error)
}

// ObjectStore is the corpus bucket: uploads from the admin API and reads for
// index rebuilds.
type ObjectStore interface {
	Uploader
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Open(ctx context.Context, objectName string) (io.ReadCloser, error)
}

type ObjectInfo struct {
	Name        string
	Size        int64
	ContentType string
}
