package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/shelfware/shelfsyncgo/internal/models"
	"github.com/shelfware/shelfsyncgo/internal/notify"
	"github.com/shelfware/shelfsyncgo/internal/syncerr"
	"gorm.io/gorm"
)

// PlaceholderScheme prefixes local-only photo references written into an
// entity's photo field until its blob is uploaded
const PlaceholderScheme = "local://images/"

// StageImage persists a captured photo locally for deferred upload. The
// image is downscaled and re-encoded as JPEG, optionally encrypted at rest,
// and the owning entity's photo field is set to a local placeholder in the
// same transaction.
func (s *Store) StageImage(data []byte, fileName string, owner models.EntityType, ownerID string) (*models.ImageBlob, error) {
	if len(data) == 0 {
		return nil, &syncerr.ValidationError{Field: "data", Reason: "empty image payload"}
	}

	processed, err := s.processImage(data)
	if err != nil {
		return nil, err
	}

	stored := processed
	encrypted := false
	if s.cipher != nil {
		stored, err = s.cipher.Seal(processed)
		if err != nil {
			return nil, syncerr.Storage("encrypt blob", err)
		}
		encrypted = true
	}

	blob := &models.ImageBlob{
		ID:           uuid.NewString(),
		FileName:     fileName,
		ContentType:  "image/jpeg",
		Data:         stored,
		SizeBytes:    int64(len(processed)),
		Encrypted:    encrypted,
		UploadStatus: models.UploadStatusPending,
	}
	if !blob.SetOwner(owner, ownerID) {
		return nil, &syncerr.ValidationError{Field: "owner", Reason: fmt.Sprintf("entity type %s cannot own a photo", owner)}
	}
	blob.PlaceholderURL = PlaceholderScheme + blob.ID

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(blob).Error; err != nil {
			return syncerr.Storage("stage blob", err)
		}

		rec, err := s.getTx(tx, owner, ownerID)
		if err != nil {
			return err
		}
		rec.SetPhotoURL(blob.PlaceholderURL)
		rec.Meta().LocalModifiedAt = time.Now().UTC()
		if err := tx.Save(rec).Error; err != nil {
			return syncerr.Storage("set photo placeholder", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(owner, ownerID, notify.ActionUpdated)
	return blob, nil
}

// processImage downscales oversized photos and re-encodes them as JPEG
func (s *Store) processImage(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &syncerr.ValidationError{Field: "data", Reason: fmt.Sprintf("undecodable image: %v", err)}
	}

	bounds := img.Bounds()
	if bounds.Dx() > s.imaging.MaxDimension || bounds.Dy() > s.imaging.MaxDimension {
		img = imaging.Fit(img, s.imaging.MaxDimension, s.imaging.MaxDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(s.imaging.JPEGQuality)); err != nil {
		return nil, syncerr.Storage("encode image", err)
	}
	return buf.Bytes(), nil
}

// ImageData returns the blob payload, decrypting when staged encrypted
func (s *Store) ImageData(blob *models.ImageBlob) ([]byte, error) {
	if !blob.Encrypted {
		return blob.Data, nil
	}
	if s.cipher == nil {
		return nil, syncerr.Storage("decrypt blob", fmt.Errorf("blob %s is encrypted but no key is configured", blob.ID))
	}
	data, err := s.cipher.Open(blob.Data)
	if err != nil {
		return nil, syncerr.Storage("decrypt blob", err)
	}
	return data, nil
}

// GetImage returns one staged blob by id, for serving placeholder URLs
func (s *Store) GetImage(blobID string) (*models.ImageBlob, error) {
	var blob models.ImageBlob
	err := s.db.First(&blob, "id = ?", blobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, syncerr.ErrNotFound
	}
	if err != nil {
		return nil, syncerr.Storage("blob get", err)
	}
	return &blob, nil
}

// NextImageBatch returns blobs eligible for upload
func (s *Store) NextImageBatch(limit, maxAttempts int, now time.Time) ([]models.ImageBlob, error) {
	var blobs []models.ImageBlob
	err := s.db.
		Where(
			s.db.Where("upload_status = ?", models.UploadStatusPending).
				Or("upload_status = ? AND upload_attempts < ? AND (next_retry_at IS NULL OR next_retry_at <= ?)",
					models.UploadStatusFailed, maxAttempts, now),
		).
		Order("created_at ASC").
		Limit(limit).
		Find(&blobs).Error
	if err != nil {
		return nil, syncerr.Storage("blob batch", err)
	}
	return blobs, nil
}

// MarkImageUploading transitions a blob into its upload attempt
func (s *Store) MarkImageUploading(blobID string) error {
	err := s.db.Model(&models.ImageBlob{}).
		Where("id = ?", blobID).
		Updates(map[string]interface{}{
			"upload_status":   models.UploadStatusUploading,
			"upload_attempts": gorm.Expr("upload_attempts + 1"),
			"last_attempt_at": time.Now().UTC(),
		}).Error
	return syncerr.Storage("blob uploading", err)
}

// MarkImageFailed records a failed upload attempt and its retry schedule
func (s *Store) MarkImageFailed(blobID, errorMessage string, nextRetryAt *time.Time) error {
	err := s.db.Model(&models.ImageBlob{}).
		Where("id = ?", blobID).
		Updates(map[string]interface{}{
			"upload_status": models.UploadStatusFailed,
			"error_message": errorMessage,
			"next_retry_at": nextRetryAt,
		}).Error
	return syncerr.Storage("blob failed", err)
}

// CompleteImageUpload stores the remote URL and rewrites the owning
// entity's placeholder reference, appending the corrective UPDATE event
// that pushes the new photo URL remotely on the next pass.
func (s *Store) CompleteImageUpload(blob *models.ImageBlob, remoteURL string) error {
	owner, ownerID, hasOwner := blob.OwnerEntity()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.ImageBlob{}).
			Where("id = ?", blob.ID).
			Updates(map[string]interface{}{
				"upload_status": models.UploadStatusUploaded,
				"remote_url":    remoteURL,
				"error_message": nil,
				"next_retry_at": nil,
			}).Error; err != nil {
			return syncerr.Storage("blob uploaded", err)
		}
		if !hasOwner {
			return nil
		}

		rec, err := s.getTx(tx, owner, ownerID)
		if err != nil {
			return err
		}
		if rec.GetPhotoURL() != blob.PlaceholderURL {
			// Owner photo changed since staging; keep the blob uploaded but
			// leave the entity alone.
			return nil
		}

		original, err := snapshotJSON(rec)
		if err != nil {
			return err
		}
		rec.SetPhotoURL(remoteURL)
		rec.Meta().SyncStatus = models.SyncStatusPending
		rec.Meta().LocalModifiedAt = time.Now().UTC()
		if err := tx.Save(rec).Error; err != nil {
			return syncerr.Storage("rewrite photo reference", err)
		}

		payload, err := snapshotJSON(map[string]interface{}{"photo_url": remoteURL})
		if err != nil {
			return err
		}
		event := &models.OfflineEvent{
			Type:         models.EventUpdate,
			Entity:       owner,
			EntityID:     ownerID,
			Data:         payload,
			OriginalData: original,
		}
		return s.appendEventTx(tx, event)
	})
	if err != nil {
		return err
	}

	if hasOwner {
		s.publish(owner, ownerID, notify.ActionUpdated)
	}
	return nil
}

func snapshotJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, syncerr.Storage("encode snapshot", err)
	}
	return raw, nil
}
