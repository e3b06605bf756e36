package store

import (
	"github.com/shelfware/shelfsyncgo/internal/models"
	"github.com/shelfware/shelfsyncgo/internal/syncerr"
)

// StorageStats summarizes what the device is holding locally
type StorageStats struct {
	Entities            map[models.EntityType]int64  `json:"entities"`
	Events              map[models.EventStatus]int64 `json:"events"`
	UnresolvedConflicts int64                        `json:"unresolvedConflicts"`
	PendingImages       int64                        `json:"pendingImages"`
	PendingImageBytes   int64                        `json:"pendingImageBytes"`
}

// GetStorageStats counts mirror rows, log entries by status, open conflicts
// and blobs still waiting for upload
func (s *Store) GetStorageStats() (*StorageStats, error) {
	stats := &StorageStats{
		Entities: make(map[models.EntityType]int64, len(models.AllEntityTypes)),
		Events:   make(map[models.EventStatus]int64),
	}

	for _, entity := range models.AllEntityTypes {
		rec, err := models.NewRecord(entity)
		if err != nil {
			return nil, err
		}
		var count int64
		if err := s.db.Model(rec).Where("deleted = ?", false).Count(&count).Error; err != nil {
			return nil, syncerr.Storage("entity count", err)
		}
		stats.Entities[entity] = count
	}

	type statusCount struct {
		Status models.EventStatus
		Count  int64
	}
	var byStatus []statusCount
	err := s.db.Model(&models.OfflineEvent{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&byStatus).Error
	if err != nil {
		return nil, syncerr.Storage("event count", err)
	}
	for _, sc := range byStatus {
		stats.Events[sc.Status] = sc.Count
	}

	unresolved, err := s.UnresolvedConflictCount()
	if err != nil {
		return nil, err
	}
	stats.UnresolvedConflicts = unresolved

	type blobAgg struct {
		Count int64
		Bytes int64
	}
	var blobs blobAgg
	err = s.db.Model(&models.ImageBlob{}).
		Select("COUNT(*) AS count, COALESCE(SUM(size_bytes), 0) AS bytes").
		Where("upload_status != ?", models.UploadStatusUploaded).
		Scan(&blobs).Error
	if err != nil {
		return nil, syncerr.Storage("blob count", err)
	}
	stats.PendingImages = blobs.Count
	stats.PendingImageBytes = blobs.Bytes

	return stats, nil
}
