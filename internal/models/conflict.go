package models

import (
	"time"

	"gorm.io/datatypes"
)

// SyncConflict records a detected divergence between the server's current
// state and the state a pending local event assumed. An unresolved conflict
// blocks automatic sync of further events for the same entity.
type SyncConflict struct {
	ID       string       `gorm:"primaryKey;type:varchar(64)" json:"id"`
	EventID  string       `gorm:"type:varchar(64);not null;index" json:"event_id"`
	Entity   EntityType   `gorm:"type:varchar(50);not null;index:idx_conflict_entity" json:"entity"`
	EntityID string       `gorm:"type:varchar(64);not null;index:idx_conflict_entity" json:"entity_id"`
	Type     ConflictType `gorm:"type:varchar(30);not null" json:"type"`

	LocalData  datatypes.JSON `json:"local_data"`
	ServerData datatypes.JSON `json:"server_data"`

	LocalTimestamp  time.Time `json:"local_timestamp"`
	ServerTimestamp time.Time `json:"server_timestamp"`

	Resolution   *Resolution    `gorm:"type:varchar(20)" json:"resolution,omitempty"`
	ResolvedData datatypes.JSON `json:"resolved_data,omitempty"`
	ResolvedAt   *time.Time     `gorm:"index" json:"resolved_at,omitempty"`
	ResolvedBy   *string        `gorm:"type:varchar(255)" json:"resolved_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (SyncConflict) TableName() string { return "sync_conflicts" }

// IsResolved reports whether a resolution has been recorded
func (c *SyncConflict) IsResolved() bool {
	return c.Resolution != nil
}
