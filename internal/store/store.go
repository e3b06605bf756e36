// Package store implements the durable local state of the device: the
// entity mirror tables, the offline event log, conflict records, and the
// image staging area. All mutations that must stay consistent with each
// other (mirror row + event append, id remap + event rewrite) run inside a
// single transaction.
package store

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shelfware/shelfsyncgo/internal/database"
	"github.com/shelfware/shelfsyncgo/internal/models"
	"github.com/shelfware/shelfsyncgo/internal/notify"
	"github.com/shelfware/shelfsyncgo/internal/utils"
	"gorm.io/gorm"
)

// ImagingOptions controls photo processing at staging time
type ImagingOptions struct {
	MaxDimension int
	JPEGQuality  int
}

// Store is the single entry point to the local database
type Store struct {
	db       *database.DB
	validate *validator.Validate
	bus      *notify.Bus
	deviceID string
	imaging  ImagingOptions
	cipher   *utils.BlobCipher
}

// New creates a store over an opened database
func New(db *database.DB, bus *notify.Bus, deviceID string, imaging ImagingOptions, cipher *utils.BlobCipher) *Store {
	if imaging.MaxDimension <= 0 {
		imaging.MaxDimension = 1600
	}
	if imaging.JPEGQuality <= 0 {
		imaging.JPEGQuality = 85
	}
	return &Store{
		db:       db,
		validate: validator.New(),
		bus:      bus,
		deviceID: deviceID,
		imaging:  imaging,
		cipher:   cipher,
	}
}

// Migrate synchronizes the local schema
func (s *Store) Migrate() error {
	err := s.db.AutoMigrate(
		&models.Item{},
		&models.Category{},
		&models.Container{},
		&models.Location{},
		&models.Source{},
		&models.OfflineEvent{},
		&models.SyncConflict{},
		&models.ImageBlob{},
	)
	if err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return nil
}

// RecoverInterrupted requeues work stranded mid-flight by a process kill:
// events stuck in syncing go back to pending, blobs stuck in uploading are
// marked failed and retried on the next drain. Only safe before the engine
// starts draining; no pass may be in flight.
func (s *Store) RecoverInterrupted() (int64, error) {
	var recovered int64

	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.OfflineEvent{}).
			Where("status = ?", models.EventStatusSyncing).
			Updates(map[string]interface{}{
				"status":        models.EventStatusPending,
				"error_message": nil,
				"next_retry_at": nil,
				"retryable":     true,
			})
		if res.Error != nil {
			return fmt.Errorf("requeue interrupted events: %w", res.Error)
		}
		recovered += res.RowsAffected

		res = tx.Model(&models.ImageBlob{}).
			Where("upload_status = ?", models.UploadStatusUploading).
			Updates(map[string]interface{}{
				"upload_status": models.UploadStatusFailed,
				"error_message": "upload interrupted",
				"next_retry_at": nil,
			})
		if res.Error != nil {
			return fmt.Errorf("requeue interrupted uploads: %w", res.Error)
		}
		recovered += res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return recovered, nil
}

// DB exposes the underlying handle for diagnostics
func (s *Store) DB() *gorm.DB {
	return s.db.DB
}

// DeviceID returns the device identity stamped onto events
func (s *Store) DeviceID() string {
	return s.deviceID
}

// Bus returns the change notification bus
func (s *Store) Bus() *notify.Bus {
	return s.bus
}

func (s *Store) publish(entity models.EntityType, id string, action notify.Action) {
	if s.bus != nil {
		s.bus.Publish(notify.Change{Entity: entity, EntityID: id, Action: action})
	}
}
