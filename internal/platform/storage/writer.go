package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// ObjectWriter uploads rendered objects into a single bucket.
type ObjectWriter struct {
	client *gcs.Client
	bucket string
}

// NewObjectWriter constructs an ObjectWriter backed by the provided Cloud Storage client.
func NewObjectWriter(client *gcs.Client, bucket string) (*ObjectWriter, error) {
	if client == nil {
		return nil, errors.New("storage writer: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	return &ObjectWriter{client: client, bucket: bucket}, nil
}

// Bucket reports the target bucket.
func (w *ObjectWriter) Bucket() string {
	if w == nil {
		return ""
	}
	return w.bucket
}

// Write stores data under object, replacing any previous version.
func (w *ObjectWriter) Write(ctx context.Context, object string, contentType string, data []byte) error {
	if w == nil || w.client == nil {
		return errors.New("storage writer: client is not initialised")
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return errInvalidObject
	}

	writer := w.client.Bucket(w.bucket).Object(object).NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = "private, max-age=0"
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("storage writer: write %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("storage writer: close %s: %w", object, err)
	}
	return nil
}
