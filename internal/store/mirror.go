package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shelfware/shelfsyncgo/internal/models"
	"github.com/shelfware/shelfsyncgo/internal/notify"
	"github.com/shelfware/shelfsyncgo/internal/syncerr"
	"gorm.io/gorm"
)

// Filter narrows mirror list queries
type Filter struct {
	Status         models.SyncStatus
	IncludeDeleted bool
	Limit          int
}

// Get returns a mirror record by id. Never touches the network.
func (s *Store) Get(entity models.EntityType, id string) (models.SyncableRecord, error) {
	rec, err := models.NewRecord(entity)
	if err != nil {
		return nil, &syncerr.ValidationError{Field: "entity", Reason: err.Error()}
	}

	err = s.db.First(rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, syncerr.ErrNotFound
	}
	if err != nil {
		return nil, syncerr.Storage("mirror get", err)
	}
	return rec, nil
}

// GetByQRCode looks up an item or container by its printed code
func (s *Store) GetByQRCode(entity models.EntityType, code string) (models.SyncableRecord, error) {
	rec, err := models.NewRecord(entity)
	if err != nil {
		return nil, &syncerr.ValidationError{Field: "entity", Reason: err.Error()}
	}

	err = s.db.First(rec, "qr_code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, syncerr.ErrNotFound
	}
	if err != nil {
		return nil, syncerr.Storage("mirror qr lookup", err)
	}
	return rec, nil
}

// List returns mirror records for the entity type, filtered. Read-only and
// offline-safe: the UI reads the mirror directly, never the network.
func (s *Store) List(entity models.EntityType, f Filter) ([]models.SyncableRecord, error) {
	tx := s.db.DB.Order("local_modified_at DESC")
	if f.Status != "" {
		tx = tx.Where("sync_status = ?", f.Status)
	}
	if !f.IncludeDeleted {
		tx = tx.Where("deleted = ?", false)
	}
	if f.Limit > 0 {
		tx = tx.Limit(f.Limit)
	}

	switch entity {
	case models.EntityTypeItem:
		return findAll[models.Item](tx)
	case models.EntityTypeCategory:
		return findAll[models.Category](tx)
	case models.EntityTypeContainer:
		return findAll[models.Container](tx)
	case models.EntityTypeLocation:
		return findAll[models.Location](tx)
	case models.EntityTypeSource:
		return findAll[models.Source](tx)
	default:
		return nil, &syncerr.ValidationError{Field: "entity", Reason: fmt.Sprintf("unsupported entity type: %s", entity)}
	}
}

type recordPtr[T any] interface {
	*T
	models.SyncableRecord
}

func findAll[T any, PT recordPtr[T]](tx *gorm.DB) ([]models.SyncableRecord, error) {
	var rows []T
	if err := tx.Find(&rows).Error; err != nil {
		return nil, syncerr.Storage("mirror list", err)
	}
	out := make([]models.SyncableRecord, len(rows))
	for i := range rows {
		out[i] = PT(&rows[i])
	}
	return out, nil
}

// Upsert inserts or replaces a record by id, stamping LocalModifiedAt.
// Assigns an offline id when the record has none (local-origin create).
func (s *Store) Upsert(rec models.SyncableRecord) error {
	if rec.GetID() == "" {
		rec.SetID(models.NewOfflineID())
		rec.Meta().SyncStatus = models.SyncStatusPending
	}
	rec.Meta().LocalModifiedAt = time.Now().UTC()
	if rec.Meta().SourceDevice == "" {
		rec.Meta().SourceDevice = s.deviceID
	}

	if err := s.db.Save(rec).Error; err != nil {
		return syncerr.Storage("mirror upsert", err)
	}
	s.publish(rec.EntityType(), rec.GetID(), notify.ActionUpdated)
	return nil
}

// ApplyLocalMutation is the single write path for UI-triggered changes: it
// updates the mirror row and appends the offline event in one transaction,
// so no local edit can exist without its mutation intent on the log.
func (s *Store) ApplyLocalMutation(entity models.EntityType, evType models.EventType, entityID string, payload map[string]interface{}) (models.SyncableRecord, *models.OfflineEvent, error) {
	if !entity.IsValid() {
		return nil, nil, &syncerr.ValidationError{Field: "entity", Reason: fmt.Sprintf("unknown entity type %q", entity)}
	}
	if !evType.IsValid() {
		return nil, nil, &syncerr.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown event type %q", evType)}
	}
	if err := validateMutationPayload(evType, payload); err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	var rec models.SyncableRecord
	var event *models.OfflineEvent

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var original []byte

		switch evType {
		case models.EventCreate:
			created, err := models.NewRecord(entity)
			if err != nil {
				return &syncerr.ValidationError{Field: "entity", Reason: err.Error()}
			}
			if err := decodeInto(created, payload); err != nil {
				return err
			}
			if created.GetID() == "" {
				created.SetID(models.NewOfflineID())
			}
			if entityID == "" {
				entityID = created.GetID()
			}
			meta := created.Meta()
			meta.SyncStatus = models.SyncStatusPending
			meta.LocalModifiedAt = now
			meta.SourceDevice = s.deviceID

			if err := s.validate.Struct(created); err != nil {
				return &syncerr.ValidationError{Reason: err.Error()}
			}
			if err := tx.Create(created).Error; err != nil {
				return syncerr.Storage("mirror create", err)
			}
			rec = created

		case models.EventUpdate, models.EventMove, models.EventAssign:
			existing, err := s.getTx(tx, entity, entityID)
			if err != nil {
				return err
			}
			original, err = json.Marshal(existing)
			if err != nil {
				return syncerr.Storage("snapshot original", err)
			}
			if err := decodeInto(existing, payload); err != nil {
				return err
			}
			existing.SetID(entityID) // id is never patched
			meta := existing.Meta()
			meta.SyncStatus = models.SyncStatusPending
			meta.LocalModifiedAt = now

			if err := tx.Save(existing).Error; err != nil {
				return syncerr.Storage("mirror update", err)
			}
			rec = existing

		case models.EventDelete:
			existing, err := s.getTx(tx, entity, entityID)
			if err != nil {
				return err
			}
			original, err = json.Marshal(existing)
			if err != nil {
				return syncerr.Storage("snapshot original", err)
			}
			meta := existing.Meta()
			meta.Deleted = true
			meta.SyncStatus = models.SyncStatusPending
			meta.LocalModifiedAt = now

			if err := tx.Save(existing).Error; err != nil {
				return syncerr.Storage("mirror delete", err)
			}
			rec = existing
		}

		data, err := json.Marshal(payload)
		if err != nil {
			return syncerr.Storage("encode payload", err)
		}

		event = &models.OfflineEvent{
			Type:         evType,
			Entity:       entity,
			EntityID:     entityID,
			Data:         data,
			OriginalData: original,
			Timestamp:    now,
			DeviceID:     s.deviceID,
		}
		return s.appendEventTx(tx, event)
	})
	if err != nil {
		return nil, nil, err
	}

	action := notify.ActionUpdated
	switch evType {
	case models.EventCreate:
		action = notify.ActionCreated
	case models.EventDelete:
		action = notify.ActionDeleted
	}
	s.publish(entity, entityID, action)

	return rec, event, nil
}

// validateMutationPayload rejects payloads that cannot express the event type
func validateMutationPayload(evType models.EventType, payload map[string]interface{}) error {
	switch evType {
	case models.EventCreate, models.EventUpdate:
		if len(payload) == 0 {
			return &syncerr.ValidationError{Field: "data", Reason: "payload is required"}
		}
	case models.EventMove:
		if _, ok := payload["container_id"]; !ok {
			if _, ok := payload["location_id"]; !ok {
				return &syncerr.ValidationError{Field: "data", Reason: "MOVE requires container_id or location_id"}
			}
		}
	case models.EventAssign:
		if _, ok := payload["category_id"]; !ok {
			if _, ok := payload["source_id"]; !ok {
				return &syncerr.ValidationError{Field: "data", Reason: "ASSIGN requires category_id or source_id"}
			}
		}
	}
	return nil
}

// MarkSynced replaces the record keyed by localID with the server-returned
// state under the server-assigned id and marks it synced.
func (s *Store) MarkSynced(entity models.EntityType, localID string, serverRecord map[string]interface{}) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		return s.markSyncedTx(tx, entity, localID, serverRecord)
	})
	if err != nil {
		return err
	}
	s.publish(entity, localID, notify.ActionSynced)
	return nil
}

func (s *Store) markSyncedTx(tx *gorm.DB, entity models.EntityType, localID string, serverRecord map[string]interface{}) error {
	rec, err := models.NewRecord(entity)
	if err != nil {
		return &syncerr.ValidationError{Field: "entity", Reason: err.Error()}
	}
	// Server ids may arrive numeric; strip the key so decoding into the
	// string-typed column cannot fail, then set it explicitly.
	fields := make(map[string]interface{}, len(serverRecord))
	for k, v := range serverRecord {
		if k != "id" {
			fields[k] = v
		}
	}
	if err := decodeInto(rec, fields); err != nil {
		return err
	}

	serverID := RecordID(serverRecord)
	if serverID == "" {
		serverID = localID
	}
	rec.SetID(serverID)

	now := time.Now().UTC()
	meta := rec.Meta()
	meta.SyncStatus = models.SyncStatusSynced
	meta.LastSyncedAt = &now
	meta.LocalModifiedAt = now
	meta.SourceDevice = s.deviceID
	if ts, ok := RecordUpdatedAt(serverRecord); ok {
		meta.ServerUpdatedAt = &ts
	}
	if deleted, ok := serverRecord["deleted"].(bool); ok {
		meta.Deleted = deleted
	}

	if serverID != localID {
		empty, _ := models.NewRecord(entity)
		if err := tx.Delete(empty, "id = ?", localID).Error; err != nil {
			return syncerr.Storage("retire offline id", err)
		}
	}
	if err := tx.Save(rec).Error; err != nil {
		return syncerr.Storage("mirror mark synced", err)
	}
	return nil
}

// RemapID rewrites every reference to a retired offline id after a CREATE
// event was assigned its server id: pending events, staged image blobs, and
// foreign references held by other mirror rows, all in one transaction.
func (s *Store) RemapID(entity models.EntityType, offlineID, serverID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return s.remapIDTx(tx, entity, offlineID, serverID)
	})
}

func (s *Store) remapIDTx(tx *gorm.DB, entity models.EntityType, offlineID, serverID string) error {
	if err := tx.Model(&models.OfflineEvent{}).
		Where("entity = ? AND entity_id = ?", entity, offlineID).
		Update("entity_id", serverID).Error; err != nil {
		return syncerr.Storage("remap event ids", err)
	}

	// Payloads of queued events may embed the offline id as a foreign
	// reference (an item created inside an offline container).
	oldRef, newRef := fmt.Sprintf("%q", offlineID), fmt.Sprintf("%q", serverID)
	if err := tx.Exec(
		"UPDATE offline_events SET data = REPLACE(data, ?, ?) WHERE data LIKE ?",
		oldRef, newRef, "%"+offlineID+"%",
	).Error; err != nil {
		return syncerr.Storage("remap event payloads", err)
	}

	var blobColumn string
	switch entity {
	case models.EntityTypeItem:
		blobColumn = "item_id"
	case models.EntityTypeCategory:
		blobColumn = "category_id"
	case models.EntityTypeContainer:
		blobColumn = "container_id"
	}
	if blobColumn != "" {
		if err := tx.Model(&models.ImageBlob{}).
			Where(blobColumn+" = ?", offlineID).
			Update(blobColumn, serverID).Error; err != nil {
			return syncerr.Storage("remap blob ids", err)
		}
	}

	for _, ref := range mirrorReferences(entity) {
		if err := tx.Table(ref.table).
			Where(ref.column+" = ?", offlineID).
			Update(ref.column, serverID).Error; err != nil {
			return syncerr.Storage("remap mirror references", err)
		}
	}
	return nil
}

type mirrorRef struct {
	table  string
	column string
}

// mirrorReferences lists the foreign columns that may hold an offline id of
// the given entity type
func mirrorReferences(entity models.EntityType) []mirrorRef {
	switch entity {
	case models.EntityTypeCategory:
		return []mirrorRef{{"items", "category_id"}}
	case models.EntityTypeContainer:
		return []mirrorRef{{"items", "container_id"}}
	case models.EntityTypeLocation:
		return []mirrorRef{
			{"items", "location_id"},
			{"containers", "location_id"},
			{"locations", "parent_id"},
		}
	case models.EntityTypeSource:
		return []mirrorRef{{"items", "source_id"}}
	}
	return nil
}

func (s *Store) getTx(tx *gorm.DB, entity models.EntityType, id string) (models.SyncableRecord, error) {
	rec, err := models.NewRecord(entity)
	if err != nil {
		return nil, &syncerr.ValidationError{Field: "entity", Reason: err.Error()}
	}
	err = tx.First(rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &syncerr.ValidationError{Field: "entityId", Reason: fmt.Sprintf("no local %s with id %s", entity, id)}
	}
	if err != nil {
		return nil, syncerr.Storage("mirror get", err)
	}
	return rec, nil
}

// decodeInto applies a JSON payload onto a typed record. Only keys present
// in the payload are overwritten.
func decodeInto(rec models.SyncableRecord, payload map[string]interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return &syncerr.ValidationError{Field: "data", Reason: err.Error()}
	}
	if err := json.Unmarshal(raw, rec); err != nil {
		return &syncerr.ValidationError{Field: "data", Reason: err.Error()}
	}
	return nil
}

// RecordID extracts the id from a server record, tolerating numeric ids
func RecordID(record map[string]interface{}) string {
	switch v := record["id"].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case int:
		return fmt.Sprintf("%d", v)
	case json.Number:
		return v.String()
	}
	return ""
}

// RecordUpdatedAt extracts the server last-modified stamp from a record
func RecordUpdatedAt(record map[string]interface{}) (time.Time, bool) {
	switch v := record["updated_at"].(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return ts, true
		}
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			return ts, true
		}
	case time.Time:
		return v, true
	}
	return time.Time{}, false
}
