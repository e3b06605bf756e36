// Package blob uploads staged images to durable remote storage. The sync
// engine drains the staging area through an Uploader; which backend is used
// is a deployment decision.
package blob

import (
	"context"
	"fmt"
	"os"

	"github.com/shelfware/shelfsyncgo/internal/config"
)

// Uploader pushes one image and returns its public URL
type Uploader interface {
	Upload(ctx context.Context, objectName, contentType string, data []byte) (string, error)
}

// NewUploader selects the backend from config
func NewUploader(cfg config.BlobConfig) (Uploader, error) {
	switch cfg.Backend {
	case "gcs":
		credPath := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
		return NewGCSUploader(cfg.GCSBucket, credPath)
	case "http":
		if cfg.UploadURL == "" {
			return nil, fmt.Errorf("http blob backend requires BLOB_UPLOAD_URL")
		}
		return NewHTTPUploader(cfg.UploadURL), nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}
