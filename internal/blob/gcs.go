package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/shelfware/shelfsyncgo/internal/syncerr"
)

// GCSUploader stores images in a Google Cloud Storage bucket and returns
// their public object URLs.
type GCSUploader struct {
	bucket string
	client *storage.Client
}

// NewGCSUploader opens a storage client. With an empty credential path the
// client falls back to application default credentials.
func NewGCSUploader(bucket, credentialsPath string) (*GCSUploader, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs uploader requires a bucket name")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var opts []option.ClientOption
	if credentialsPath != "" {
		creds, err := os.ReadFile(credentialsPath)
		if err != nil {
			return nil, fmt.Errorf("read gcs credentials: %w", err)
		}
		opts = append(opts, option.WithCredentialsJSON(creds))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &GCSUploader{bucket: bucket, client: client}, nil
}

// Upload writes the object and returns its public URL
func (u *GCSUploader) Upload(ctx context.Context, objectName, contentType string, data []byte) (string, error) {
	writer := u.client.Bucket(u.bucket).Object(objectName).NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = "public, max-age=86400"

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		writer.Close()
		return "", &syncerr.NetworkError{Op: "gcs upload", Err: err}
	}
	if err := writer.Close(); err != nil {
		return "", &syncerr.NetworkError{Op: "gcs upload", Err: err}
	}

	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", u.bucket, objectName), nil
}

// Close releases the storage client
func (u *GCSUploader) Close() error {
	return u.client.Close()
}
