// Package gcs stores export files in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

// Uploader writes objects into one bucket.
type Uploader struct {
	client *storage.Client
	bucket string
}

// NewUploader creates an uploader for bucket. With an empty credentialsFile
// Application Default Credentials are used.
func NewUploader(ctx context.Context, bucket, credentialsFile string) (*Uploader, error) {
	if bucket == "" {
		return nil, fmt.Errorf("NewUploader: bucket is required")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewUploader: create storage client: %w", err)
	}
	return &Uploader{client: client, bucket: bucket}, nil
}

// ObjectName places an export under exports/<yyyy>/<mm>/ with a unique
// prefix, e.g. exports/2024/03/<uuid>-ledger.csv.
func ObjectName(now time.Time, ext string) string {
	return fmt.Sprintf("exports/%04d/%02d/%s-ledger.%s", now.Year(), int(now.Month()), uuid.New().String(), ext)
}

// URI renders the gs:// address of an object.
func URI(bucket, object string) string {
	return "gs://" + bucket + "/" + object
}

// Upload streams r into objectName and returns the object's gs:// URI.
func (u *Uploader) Upload(ctx context.Context, objectName, contentType string, r io.Reader) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := u.client.Bucket(u.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType

	if err := writeObject(w, r, cancel); err != nil {
		return "", fmt.Errorf("Upload: %s: %w", objectName, err)
	}
	return URI(u.bucket, objectName), nil
}

// writeObject copies r into w and commits the object by closing w. When the
// copy fails, abort cancels the writer's context first so that Close
// discards the partial object instead of committing it.
func writeObject(w io.WriteCloser, r io.Reader, abort context.CancelFunc) error {
	if _, err := io.Copy(w, r); err != nil {
		abort()
		_ = w.Close()
		return fmt.Errorf("copy to GCS writer: %w", err)
	}

	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	return nil
}

// Close releases the storage client.
func (u *Uploader) Close() error {
	return u.client.Close()
}
