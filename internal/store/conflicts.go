package store

import (
	"errors"
	"time"

	"github.com/shelfware/shelfsyncgo/internal/models"
	"github.com/shelfware/shelfsyncgo/internal/syncerr"
	"gorm.io/gorm"
)

// GetConflicts returns conflict records, unresolved first
func (s *Store) GetConflicts(includeResolved bool) ([]models.SyncConflict, error) {
	tx := s.db.DB.Order("created_at ASC")
	if !includeResolved {
		tx = tx.Where("resolved_at IS NULL")
	}

	var conflicts []models.SyncConflict
	if err := tx.Find(&conflicts).Error; err != nil {
		return nil, syncerr.Storage("conflict list", err)
	}
	return conflicts, nil
}

// GetConflict returns one conflict by id
func (s *Store) GetConflict(id string) (*models.SyncConflict, error) {
	var conflict models.SyncConflict
	err := s.db.First(&conflict, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, syncerr.ErrNotFound
	}
	if err != nil {
		return nil, syncerr.Storage("conflict get", err)
	}
	return &conflict, nil
}

// UnresolvedConflictCount returns how many conflicts still need review
func (s *Store) UnresolvedConflictCount() (int64, error) {
	var count int64
	err := s.db.Model(&models.SyncConflict{}).
		Where("resolved_at IS NULL").
		Count(&count).Error
	if err != nil {
		return 0, syncerr.Storage("conflict count", err)
	}
	return count, nil
}

// HasUnresolvedConflict reports whether the entity is blocked from sync
func (s *Store) HasUnresolvedConflict(entity models.EntityType, entityID string) (bool, error) {
	var count int64
	err := s.db.Model(&models.SyncConflict{}).
		Where("entity = ? AND entity_id = ? AND resolved_at IS NULL", entity, entityID).
		Count(&count).Error
	if err != nil {
		return false, syncerr.Storage("conflict check", err)
	}
	return count > 0, nil
}

// PurgeExpired removes synced events, resolved conflicts, uploaded blobs and
// locally deleted synced mirror rows older than the cutoff. Runs as the
// maintenance sweep of the periodic sync pass.
func (s *Store) PurgeExpired(cutoff time.Time) (int64, error) {
	var purged int64

	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("status = ? AND timestamp < ?", models.EventStatusSynced, cutoff).
			Delete(&models.OfflineEvent{})
		if res.Error != nil {
			return syncerr.Storage("purge events", res.Error)
		}
		purged += res.RowsAffected

		res = tx.Where("resolved_at IS NOT NULL AND resolved_at < ?", cutoff).
			Delete(&models.SyncConflict{})
		if res.Error != nil {
			return syncerr.Storage("purge conflicts", res.Error)
		}
		purged += res.RowsAffected

		res = tx.Where("upload_status = ? AND created_at < ?", models.UploadStatusUploaded, cutoff).
			Delete(&models.ImageBlob{})
		if res.Error != nil {
			return syncerr.Storage("purge blobs", res.Error)
		}
		purged += res.RowsAffected

		for _, entity := range models.AllEntityTypes {
			rec, err := models.NewRecord(entity)
			if err != nil {
				return err
			}
			res = tx.Where("deleted = ? AND sync_status = ? AND local_modified_at < ?",
				true, models.SyncStatusSynced, cutoff).
				Delete(rec)
			if res.Error != nil {
				return syncerr.Storage("purge mirror rows", res.Error)
			}
			purged += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}
