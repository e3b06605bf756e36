package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/shelfware/shelfsyncgo/internal/syncerr"
)

// HTTPUploader posts images as multipart form data to the central API's
// upload endpoint, for deployments without a cloud bucket.
type HTTPUploader struct {
	uploadURL string
	http      *http.Client
}

func NewHTTPUploader(uploadURL string) *HTTPUploader {
	return &HTTPUploader{
		uploadURL: uploadURL,
		http:      &http.Client{Timeout: 60 * time.Second},
	}
}

// Upload posts the file and returns the URL the server stored it under
func (u *HTTPUploader) Upload(ctx context.Context, objectName, contentType string, data []byte) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, objectName))
	header.Set("Content-Type", contentType)
	part, err := form.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.uploadURL, &body)
	if err != nil {
		return "", &syncerr.NetworkError{Op: "image upload", Err: err}
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := u.http.Do(req)
	if err != nil {
		return "", &syncerr.NetworkError{Op: "image upload", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &syncerr.NetworkError{Op: "image upload", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &syncerr.NetworkError{
			Op:         "image upload",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("server returned %d", resp.StatusCode),
		}
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &result); err != nil || result.URL == "" {
		return "", &syncerr.NetworkError{Op: "image upload", Err: fmt.Errorf("upload response missing url")}
	}
	return result.URL, nil
}

var _ Uploader = (*HTTPUploader)(nil)
var _ Uploader = (*GCSUploader)(nil)
