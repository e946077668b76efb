package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSBucket implements Bucket on Google Cloud Storage.
type GCSBucket struct {
	name   string
	bucket *storage.BucketHandle
}

// NewGCSBucket wraps one bucket of an existing storage client.
func NewGCSBucket(client *storage.Client, name string) *GCSBucket {
	return &GCSBucket{name: name, bucket: client.Bucket(name)}
}

func (g *GCSBucket) Name() string { return g.name }

func (g *GCSBucket) Upload(ctx context.Context, data []byte, path, contentType string) (string, error) {
	w := g.bucket.Object(path).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write object %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize object %s: %w", path, err)
	}
	return MakeURI(g.name, path), nil
}

func (g *GCSBucket) Download(ctx context.Context, path string) ([]byte, error) {
	r, err := g.bucket.Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, path)
		}
		return nil, fmt.Errorf("open object %s: %w", path, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", path, err)
	}
	return data, nil
}

func (g *GCSBucket) Exists(ctx context.Context, path string) (bool, error) {
	_, err := g.bucket.Object(path).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s: %w", path, err)
	}
	return true, nil
}

// Delete removes the object. Deleting a missing object is a no-op so that
// cleanup paths stay idempotent.
func (g *GCSBucket) Delete(ctx context.Context, path string) error {
	if err := g.bucket.Object(path).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("delete object %s: %w", path, err)
	}
	return nil
}
