// Package blob abstracts the object store holding uploaded documents.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrObjectNotFound distinguishes a missing object from transport or
// permission failures; callers treat the two very differently.
var ErrObjectNotFound = errors.New("blob: object not found")

// Bucket is the storage surface the pipeline consumes. Upload returns the
// canonical URI for the stored object.
type Bucket interface {
	Name() string
	Upload(ctx context.Context, data []byte, path, contentType string) (string, error)
	Download(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error
}

// MakeURI builds the gs://bucket/path form.
func MakeURI(bucket, path string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, strings.TrimPrefix(path, "/"))
}

// ParseURI splits a gs://bucket/path URI into its bucket and object path.
func ParseURI(uri string) (bucket, path string, err error) {
	const scheme = "gs://"
	if !strings.HasPrefix(uri, scheme) {
		return "", "", fmt.Errorf("blob: unsupported URI %q", uri)
	}
	rest := strings.TrimPrefix(uri, scheme)
	slash := strings.Index(rest, "/")
	if slash <= 0 || slash == len(rest)-1 {
		return "", "", fmt.Errorf("blob: malformed URI %q", uri)
	}
	return rest[:slash], rest[slash+1:], nil
}

// DownloadURI resolves a full URI against b, guarding against a URI that
// points at a different bucket than the one this deployment owns.
func DownloadURI(ctx context.Context, b Bucket, uri string) ([]byte, error) {
	bucket, path, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if bucket != b.Name() {
		return nil, fmt.Errorf("blob: URI bucket %q does not match configured bucket %q", bucket, b.Name())
	}
	return b.Download(ctx, path)
}
