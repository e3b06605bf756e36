package models

import (
	"time"

	"gorm.io/datatypes"
)

// OfflineEvent represents one mutation intent recorded locally before being
// pushed to the remote store. Events for the same entity must be applied
// remotely in non-decreasing timestamp order; Seq breaks sub-millisecond ties.
type OfflineEvent struct {
	Seq      uint64     `gorm:"primaryKey;autoIncrement" json:"seq"`
	EventID  string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"event_id"`
	Type     EventType  `gorm:"type:varchar(20);not null" json:"type" validate:"required"`
	Entity   EntityType `gorm:"type:varchar(50);not null;index:idx_entity_events" json:"entity" validate:"required"`
	EntityID string     `gorm:"type:varchar(64);not null;index:idx_entity_events" json:"entity_id" validate:"required"`

	// Data is the mutation payload: full record for CREATE, field patch for
	// UPDATE/MOVE/ASSIGN, empty for DELETE.
	Data datatypes.JSON `json:"data"`
	// OriginalData is the pre-mutation snapshot, required for UPDATE/DELETE/
	// MOVE/ASSIGN to support conflict diffing.
	OriginalData datatypes.JSON `json:"original_data,omitempty"`

	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`
	DeviceID  string    `gorm:"type:varchar(255)" json:"device_id"`

	Status          EventStatus `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	SyncAttempts    int         `gorm:"default:0" json:"sync_attempts"`
	LastSyncAttempt *time.Time  `json:"last_sync_attempt,omitempty"`
	NextRetryAt     *time.Time  `gorm:"index" json:"next_retry_at,omitempty"`
	// Retryable is cleared for permanent failures (remote validation errors)
	// so the drain never picks them up again without a corrective local edit.
	Retryable    bool    `gorm:"default:true" json:"retryable"`
	ErrorMessage *string `gorm:"type:text" json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (OfflineEvent) TableName() string { return "offline_events" }
