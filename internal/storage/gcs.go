package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/mindpal/backend/internal/utils"
	"google.golang.org/api/iterator"
)

// GCSStore keeps corpus documents in a private bucket.
type GCSStore struct {
	client *gcs.Client
	bucket string
}

func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("gcs: bucket name is empty")
	}
	c, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &GCSStore{client: c, bucket: bucket}, nil
}

func (s *GCSStore) Close() error { return s.client.Close() }

func (s *GCSStore) object(name string) *gcs.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(name)
}

// Upload returns a gs:// URI. A failed copy aborts the write so no partial
// object is committed.
func (s *GCSStore) Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.object(objectName).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("upload %s: %w", objectName, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, objectName), nil
}

// List skips folder placeholder objects.
func (s *GCSStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	q := &gcs.Query{Prefix: prefix}
	if err := q.SetAttrSelection([]string{"Name", "Size", "ContentType"}); err != nil {
		return nil, err
	}
	it := s.client.Bucket(s.bucket).Objects(ctx, q)

	var out []ObjectInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", s.bucket, prefix, err)
		}
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		out = append(out, ObjectInfo{Name: attrs.Name, Size: attrs.Size, ContentType: attrs.ContentType})
	}
}

func (s *GCSStore) Open(ctx context.Context, objectName string) (io.ReadCloser, error) {
	rc, err := s.object(objectName).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("open %s: %w", objectName, utils.ErrNotFound)
	}
	return rc, err
}
