package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/googleapi"
)

// ErrPermissionDenied is returned when the credentials may not write to the bucket.
var ErrPermissionDenied = errors.New("storage: permission denied")

// ObjectAttrs are the metadata written with every object.
type ObjectAttrs struct {
	ContentType  string
	CacheControl string
}

// ObjectStore writes and copies objects in a bucket.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, object string, r io.Reader, attrs ObjectAttrs) error
	CopyObject(ctx context.Context, sourceBucket, sourceObject, destBucket, destObject string, attrs ObjectAttrs) error
}

// Copier provides object upload and copy operations in Cloud Storage.
type Copier struct {
	client *gcs.Client
}

// NewCopier constructs a Copier backed by the provided Cloud Storage client.
func NewCopier(client *gcs.Client) (*Copier, error) {
	if client == nil {
		return nil, errors.New("storage copier: client is required")
	}
	return &Copier{client: client}, nil
}

// Upload writes r to bucket/object. Writes are retried with backoff since published objects
// are overwritten idempotently.
func (c *Copier) Upload(ctx context.Context, bucket, object string, r io.Reader, attrs ObjectAttrs) error {
	if c == nil || c.client == nil {
		return errors.New("storage copier: client is not initialised")
	}
	bucket = strings.TrimSpace(bucket)
	object = strings.TrimSpace(object)
	if bucket == "" || object == "" {
		return errors.New("storage copier: bucket and object must be provided")
	}

	w := c.object(bucket, object).NewWriter(ctx)
	w.ContentType = attrs.ContentType
	w.CacheControl = attrs.CacheControl
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return mapError(fmt.Sprintf("upload %s", object), err)
	}
	if err := w.Close(); err != nil {
		return mapError(fmt.Sprintf("upload %s", object), err)
	}
	return nil
}

// CopyObject copies an object from the source bucket/path to the destination.
func (c *Copier) CopyObject(ctx context.Context, sourceBucket, sourceObject, destBucket, destObject string, attrs ObjectAttrs) error {
	if c == nil || c.client == nil {
		return errors.New("storage copier: client is not initialised")
	}

	srcBucket := strings.TrimSpace(sourceBucket)
	srcObject := strings.TrimSpace(sourceObject)
	dstBucket := strings.TrimSpace(destBucket)
	dstObject := strings.TrimSpace(destObject)

	if srcBucket == "" || srcObject == "" || dstBucket == "" || dstObject == "" {
		return errors.New("storage copier: source and destination must be provided")
	}
	if srcBucket == dstBucket && srcObject == dstObject {
		return nil
	}

	src := c.client.Bucket(srcBucket).Object(srcObject)
	dst := c.object(dstBucket, dstObject)
	copier := dst.CopierFrom(src)
	copier.ContentType = attrs.ContentType
	copier.CacheControl = attrs.CacheControl
	if _, err := copier.Run(ctx); err != nil {
		return mapError(fmt.Sprintf("copy %s to %s", srcObject, dstObject), err)
	}
	return nil
}

func (c *Copier) object(bucket, object string) *gcs.ObjectHandle {
	return c.client.Bucket(bucket).Object(object).Retryer(
		gcs.WithBackoff(gax.Backoff{Initial: 200 * time.Millisecond, Max: 5 * time.Second, Multiplier: 2}),
		gcs.WithPolicy(gcs.RetryAlways),
	)
}

func mapError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden) {
		return fmt.Errorf("%w: %s: %w", ErrPermissionDenied, op, err)
	}
	return fmt.Errorf("storage: %s: %w", op, err)
}
