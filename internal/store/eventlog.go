package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shelfware/shelfsyncgo/internal/models"
	"github.com/shelfware/shelfsyncgo/internal/syncerr"
	"gorm.io/gorm"
)

// AppendEvent records a mutation intent on the log. Used directly by the
// conflict resolver for corrective events; UI mutations go through
// ApplyLocalMutation so the mirror write shares the transaction.
func (s *Store) AppendEvent(event *models.OfflineEvent) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return s.appendEventTx(tx, event)
	})
}

func (s *Store) appendEventTx(tx *gorm.DB, event *models.OfflineEvent) error {
	if event.Entity == "" || event.Type == "" || event.EntityID == "" {
		return &syncerr.ValidationError{Field: "event", Reason: "entity, type and entityId are required"}
	}
	if !event.Entity.IsValid() {
		return &syncerr.ValidationError{Field: "entity", Reason: fmt.Sprintf("unknown entity type %q", event.Entity)}
	}
	if !event.Type.IsValid() {
		return &syncerr.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown event type %q", event.Type)}
	}
	if err := s.validate.Struct(event); err != nil {
		return &syncerr.ValidationError{Reason: err.Error()}
	}

	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	// Wall clock orders events; the autoincrement Seq breaks
	// sub-millisecond ties deterministically.
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.DeviceID == "" {
		event.DeviceID = s.deviceID
	}
	event.Status = models.EventStatusPending
	event.Retryable = true

	if err := tx.Create(event).Error; err != nil {
		return syncerr.Storage("event append", err)
	}
	return nil
}

// NextBatch returns the drainable events: pending, plus failed events that
// are retryable, under the attempt threshold, and past their backoff window.
// Events for entities with an unresolved conflict are held back entirely.
// The result is ordered by timestamp (Seq tie-break) and regrouped so all
// events for one entityId are contiguous, preserving their original order.
func (s *Store) NextBatch(limit, maxAttempts int, now time.Time) ([]models.OfflineEvent, error) {
	var events []models.OfflineEvent
	err := s.db.
		Where("NOT EXISTS (SELECT 1 FROM sync_conflicts WHERE sync_conflicts.entity = offline_events.entity AND sync_conflicts.entity_id = offline_events.entity_id AND sync_conflicts.resolved_at IS NULL)").
		Where(
			s.db.Where("status = ?", models.EventStatusPending).
				Or("status = ? AND retryable = ? AND sync_attempts < ? AND (next_retry_at IS NULL OR next_retry_at <= ?)",
					models.EventStatusFailed, true, maxAttempts, now),
		).
		Order("timestamp ASC, seq ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, syncerr.Storage("event batch", err)
	}

	return groupByEntity(events), nil
}

// groupByEntity makes events for each entityId contiguous while keeping
// groups ordered by their earliest event and events within a group in
// original order.
func groupByEntity(events []models.OfflineEvent) []models.OfflineEvent {
	if len(events) < 2 {
		return events
	}

	order := make([]string, 0, len(events))
	groups := make(map[string][]models.OfflineEvent, len(events))
	for _, ev := range events {
		key := string(ev.Entity) + "/" + ev.EntityID
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], ev)
	}

	out := make([]models.OfflineEvent, 0, len(events))
	for _, key := range order {
		out = append(out, groups[key]...)
	}
	return out
}

// GetEvent returns one event by its id
func (s *Store) GetEvent(eventID string) (*models.OfflineEvent, error) {
	var event models.OfflineEvent
	err := s.db.First(&event, "event_id = ?", eventID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, syncerr.ErrNotFound
	}
	if err != nil {
		return nil, syncerr.Storage("event get", err)
	}
	return &event, nil
}

// ListEvents returns log entries for the history view, newest first
func (s *Store) ListEvents(entity models.EntityType, status models.EventStatus, limit int) ([]models.OfflineEvent, error) {
	tx := s.db.DB.Order("timestamp DESC, seq DESC")
	if entity != "" {
		tx = tx.Where("entity = ?", entity)
	}
	if status != "" {
		tx = tx.Where("status = ?", status)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}

	var events []models.OfflineEvent
	if err := tx.Find(&events).Error; err != nil {
		return nil, syncerr.Storage("event list", err)
	}
	return events, nil
}

// MarkEventStatus transitions an event through its state machine:
// pending → syncing → {synced | failed | conflict}; failed → pending.
// Entering syncing increments the attempt counter; entering failed records
// the attempt time and error message.
func (s *Store) MarkEventStatus(eventID string, status models.EventStatus, errorMessage string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return s.markEventStatusTx(tx, eventID, status, errorMessage, nil, true)
	})
}

// MarkEventFailed records a failure with its retry schedule. Permanent
// failures (remote validation) are excluded from automatic retry.
func (s *Store) MarkEventFailed(eventID, errorMessage string, nextRetryAt *time.Time, retryable bool) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return s.markEventStatusTx(tx, eventID, models.EventStatusFailed, errorMessage, nextRetryAt, retryable)
	})
}

// RetryEvent moves a failed event back to pending for another drain pass
func (s *Store) RetryEvent(eventID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return s.markEventStatusTx(tx, eventID, models.EventStatusPending, "", nil, true)
	})
}

func (s *Store) markEventStatusTx(tx *gorm.DB, eventID string, status models.EventStatus, errorMessage string, nextRetryAt *time.Time, retryable bool) error {
	var event models.OfflineEvent
	err := tx.First(&event, "event_id = ?", eventID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return syncerr.ErrNotFound
	}
	if err != nil {
		return syncerr.Storage("event get", err)
	}

	if !validTransition(event.Status, status) {
		return &syncerr.ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("illegal event transition %s → %s", event.Status, status),
		}
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{"status": status}

	switch status {
	case models.EventStatusSyncing:
		updates["sync_attempts"] = event.SyncAttempts + 1
		updates["last_sync_attempt"] = now
	case models.EventStatusFailed:
		updates["last_sync_attempt"] = now
		updates["error_message"] = errorMessage
		updates["next_retry_at"] = nextRetryAt
		updates["retryable"] = retryable
	case models.EventStatusPending:
		updates["error_message"] = nil
		updates["next_retry_at"] = nil
		updates["retryable"] = true
	}

	if err := tx.Model(&models.OfflineEvent{}).Where("event_id = ?", eventID).Updates(updates).Error; err != nil {
		return syncerr.Storage("event transition", err)
	}
	return nil
}

func validTransition(from, to models.EventStatus) bool {
	switch from {
	case models.EventStatusPending:
		return to == models.EventStatusSyncing
	case models.EventStatusSyncing:
		return to == models.EventStatusSynced || to == models.EventStatusFailed || to == models.EventStatusConflict
	case models.EventStatusFailed:
		return to == models.EventStatusPending || to == models.EventStatusSyncing
	case models.EventStatusConflict:
		// Settled by conflict resolution; the corrective event, when one is
		// needed, carries the intent forward.
		return to == models.EventStatusSynced
	case models.EventStatusSynced:
		return false
	}
	return false
}

// HasPendingEvents reports whether the entity still has undrained local
// mutations. Remote pulls must not overwrite such rows.
func (s *Store) HasPendingEvents(entity models.EntityType, entityID string) (bool, error) {
	var count int64
	err := s.db.Model(&models.OfflineEvent{}).
		Where("entity = ? AND entity_id = ?", entity, entityID).
		Where("status IN ?", []models.EventStatus{models.EventStatusPending, models.EventStatusSyncing, models.EventStatusFailed, models.EventStatusConflict}).
		Count(&count).Error
	if err != nil {
		return false, syncerr.Storage("pending check", err)
	}
	return count > 0, nil
}

// PendingEventCount returns how many local changes still wait to sync
func (s *Store) PendingEventCount() (int64, error) {
	var count int64
	err := s.db.Model(&models.OfflineEvent{}).
		Where("status IN ?", []models.EventStatus{models.EventStatusPending, models.EventStatusSyncing, models.EventStatusFailed}).
		Count(&count).Error
	if err != nil {
		return 0, syncerr.Storage("pending count", err)
	}
	return count, nil
}
