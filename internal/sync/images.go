package sync

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shelfware/shelfsyncgo/internal/models"
)

// drainImages uploads staged blobs and rewrites their owners' placeholder
// photo references
func (e *Engine) drainImages(ctx context.Context, result *PassResult) {
	if e.uploader == nil {
		return
	}

	blobs, err := e.store.NextImageBatch(e.config.BatchSize, e.config.MaxRetries, time.Now().UTC())
	if err != nil {
		result.addError(err)
		return
	}
	if len(blobs) == 0 {
		return
	}

	log.Printf("📦 Uploading %d staged images", len(blobs))

	for i := range blobs {
		if err := e.uploadImage(ctx, &blobs[i]); err != nil {
			result.addError(err)
			retryAt := time.Now().UTC().Add(nextBackoff(blobs[i].UploadAttempts+1, e.config.BackoffMin(), e.config.BackoffMax()))
			if mErr := e.store.MarkImageFailed(blobs[i].ID, err.Error(), &retryAt); mErr != nil {
				result.addError(mErr)
			}
			continue
		}
		result.addImage()
	}
}

func (e *Engine) uploadImage(ctx context.Context, blob *models.ImageBlob) error {
	if err := e.store.MarkImageUploading(blob.ID); err != nil {
		return err
	}

	data, err := e.store.ImageData(blob)
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	objectName := fmt.Sprintf("images/%s/%s.jpg", objectPrefix(blob), blob.ID)
	url, err := e.uploader.Upload(opCtx, objectName, blob.ContentType, data)
	if err != nil {
		return err
	}

	return e.store.CompleteImageUpload(blob, url)
}

func objectPrefix(blob *models.ImageBlob) string {
	if owner, _, ok := blob.OwnerEntity(); ok {
		return string(owner)
	}
	return "misc"
}

func (r *PassResult) addImage() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ImagesUploaded++
}
