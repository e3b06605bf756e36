package store

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shelfware/shelfsyncgo/internal/models"
	"github.com/shelfware/shelfsyncgo/internal/notify"
	"github.com/shelfware/shelfsyncgo/internal/syncerr"
	"gorm.io/gorm"
)

// CommitCreateResult finalizes a successfully pushed CREATE: the offline id
// is remapped to the server-assigned one everywhere it leaked (queued event
// payloads, blob owners, foreign references), the mirror row is replaced by
// the server's view of the record, and the event is marked synced. One
// transaction, so a crash can never leave a half-remapped id.
func (s *Store) CommitCreateResult(event *models.OfflineEvent, serverRecord map[string]interface{}) error {
	serverID := RecordID(serverRecord)
	localID := event.EntityID

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if serverID != "" && serverID != localID {
			if err := s.remapIDTx(tx, event.Entity, localID, serverID); err != nil {
				return err
			}
		}
		if err := s.markSyncedTx(tx, event.Entity, localID, serverRecord); err != nil {
			return err
		}
		return s.markEventStatusTx(tx, event.EventID, models.EventStatusSynced, "", nil, true)
	})
	if err != nil {
		return err
	}

	if serverID == "" {
		serverID = localID
	}
	s.publish(event.Entity, serverID, notify.ActionSynced)
	return nil
}

// CommitSyncedMutation finalizes a pushed UPDATE/MOVE/ASSIGN: the mirror row
// is refreshed from the server response and the event marked synced.
func (s *Store) CommitSyncedMutation(event *models.OfflineEvent, serverRecord map[string]interface{}) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.markSyncedTx(tx, event.Entity, event.EntityID, serverRecord); err != nil {
			return err
		}
		return s.markEventStatusTx(tx, event.EventID, models.EventStatusSynced, "", nil, true)
	})
	if err != nil {
		return err
	}
	s.publish(event.Entity, event.EntityID, notify.ActionSynced)
	return nil
}

// CommitDelete finalizes a pushed DELETE. The mirror row keeps its soft
// delete flag and flips to synced so the maintenance sweep can purge it.
func (s *Store) CommitDelete(event *models.OfflineEvent) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		rec, err := s.getTx(tx, event.Entity, event.EntityID)
		if err == nil {
			now := time.Now().UTC()
			meta := rec.Meta()
			meta.Deleted = true
			meta.SyncStatus = models.SyncStatusSynced
			meta.LastSyncedAt = &now
			if err := tx.Save(rec).Error; err != nil {
				return syncerr.Storage("mirror mark deleted", err)
			}
		} else if !syncerr.IsValidation(err) {
			// Row already purged locally is fine; anything else is not.
			return err
		}
		return s.markEventStatusTx(tx, event.EventID, models.EventStatusSynced, "", nil, true)
	})
	if err != nil {
		return err
	}
	s.publish(event.Entity, event.EntityID, notify.ActionDeleted)
	return nil
}

// RecordConflict files a conflict for manual or automatic resolution: the
// conflict row, the event's conflict status, and the mirror row's conflict
// flag are written atomically. Further events for the entity stay queued
// until the conflict is resolved.
func (s *Store) RecordConflict(event *models.OfflineEvent, conflictType models.ConflictType, serverData map[string]interface{}) (*models.SyncConflict, error) {
	serverJSON, err := json.Marshal(serverData)
	if err != nil {
		return nil, syncerr.Storage("encode server state", err)
	}
	serverTS, _ := RecordUpdatedAt(serverData)

	conflict := &models.SyncConflict{
		ID:              uuid.NewString(),
		EventID:         event.EventID,
		Entity:          event.Entity,
		EntityID:        event.EntityID,
		Type:            conflictType,
		LocalData:       event.Data,
		ServerData:      serverJSON,
		LocalTimestamp:  event.Timestamp,
		ServerTimestamp: serverTS,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conflict).Error; err != nil {
			return syncerr.Storage("conflict create", err)
		}
		if err := s.markEventStatusTx(tx, event.EventID, models.EventStatusConflict, "", nil, true); err != nil {
			return err
		}

		rec, err := s.getTx(tx, event.Entity, event.EntityID)
		if err != nil {
			if syncerr.IsValidation(err) {
				// DELETE_UPDATE against a locally purged row still needs the
				// conflict record itself.
				return nil
			}
			return err
		}
		rec.Meta().SyncStatus = models.SyncStatusConflict
		if err := tx.Save(rec).Error; err != nil {
			return syncerr.Storage("mirror mark conflict", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(event.Entity, event.EntityID, notify.ActionConflict)
	return conflict, nil
}

// ResolveConflict records the chosen resolution and restores the mirror row
// to the resolved state. The caller supplies the resolved record fields;
// for the "server" choice that is the server's state, for "local" the local
// one, for "merge"/"manual" the combined record. A corrective event is
// appended for every choice except "server", whose state is already remote.
func (s *Store) ResolveConflict(conflictID string, resolution models.Resolution, resolvedRecord map[string]interface{}, resolvedBy string) (*models.SyncConflict, error) {
	var conflict models.SyncConflict

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&conflict, "id = ?", conflictID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return syncerr.ErrNotFound
			}
			return syncerr.Storage("conflict get", err)
		}
		if conflict.IsResolved() {
			return &syncerr.ValidationError{Field: "resolution", Reason: "conflict is already resolved"}
		}

		resolvedJSON, err := json.Marshal(resolvedRecord)
		if err != nil {
			return syncerr.Storage("encode resolution", err)
		}
		now := time.Now().UTC()
		conflict.Resolution = &resolution
		conflict.ResolvedData = resolvedJSON
		conflict.ResolvedAt = &now
		if resolvedBy != "" {
			conflict.ResolvedBy = &resolvedBy
		}
		if err := tx.Save(&conflict).Error; err != nil {
			return syncerr.Storage("conflict resolve", err)
		}

		// The originating event is settled by the resolution. Leaving it in
		// conflict status would keep remote pulls of this entity blocked.
		if err := s.markEventStatusTx(tx, conflict.EventID, models.EventStatusSynced, "", nil, true); err != nil && !errors.Is(err, syncerr.ErrNotFound) {
			return err
		}

		rec, err := s.getTx(tx, conflict.Entity, conflict.EntityID)
		if err != nil {
			return err
		}
		original, err := json.Marshal(rec)
		if err != nil {
			return syncerr.Storage("snapshot original", err)
		}
		if err := decodeInto(rec, resolvedRecord); err != nil {
			return err
		}
		rec.SetID(conflict.EntityID)
		meta := rec.Meta()
		meta.LocalModifiedAt = now

		if resolution == models.ResolutionServer {
			// Server already holds this state, nothing to push back.
			meta.SyncStatus = models.SyncStatusSynced
			meta.LastSyncedAt = &now
			if ts, ok := RecordUpdatedAt(resolvedRecord); ok {
				meta.ServerUpdatedAt = &ts
			}
			return tx.Save(rec).Error
		}

		meta.SyncStatus = models.SyncStatusPending
		if err := tx.Save(rec).Error; err != nil {
			return syncerr.Storage("mirror apply resolution", err)
		}

		corrective := &models.OfflineEvent{
			Type:         models.EventUpdate,
			Entity:       conflict.Entity,
			EntityID:     conflict.EntityID,
			Data:         resolvedJSON,
			OriginalData: original,
			Timestamp:    now,
		}
		return s.appendEventTx(tx, corrective)
	})
	if err != nil {
		return nil, err
	}

	s.publish(conflict.Entity, conflict.EntityID, notify.ActionResolved)
	return &conflict, nil
}
