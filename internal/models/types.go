package models

// EntityType identifies one of the synchronized entity tables
type EntityType string

const (
	EntityTypeItem      EntityType = "items"
	EntityTypeCategory  EntityType = "categories"
	EntityTypeContainer EntityType = "containers"
	EntityTypeLocation  EntityType = "locations"
	EntityTypeSource    EntityType = "sources"
)

// AllEntityTypes lists every entity type in drain priority order
var AllEntityTypes = []EntityType{
	EntityTypeCategory,
	EntityTypeLocation,
	EntityTypeSource,
	EntityTypeContainer,
	EntityTypeItem,
}

// IsValid reports whether the entity type is one of the known tables
func (e EntityType) IsValid() bool {
	switch e {
	case EntityTypeItem, EntityTypeCategory, EntityTypeContainer, EntityTypeLocation, EntityTypeSource:
		return true
	}
	return false
}

// SyncStatus represents the sync state of a mirror record
type SyncStatus string

const (
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusConflict SyncStatus = "conflict"
)

// EventType represents the kind of mutation intent recorded in the event log
type EventType string

const (
	EventCreate EventType = "CREATE"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	EventMove   EventType = "MOVE"
	EventAssign EventType = "ASSIGN"
)

// IsValid reports whether the event type is known
func (t EventType) IsValid() bool {
	switch t {
	case EventCreate, EventUpdate, EventDelete, EventMove, EventAssign:
		return true
	}
	return false
}

// EventStatus represents the lifecycle state of an offline event
type EventStatus string

const (
	EventStatusPending  EventStatus = "pending"
	EventStatusSyncing  EventStatus = "syncing"
	EventStatusSynced   EventStatus = "synced"
	EventStatusFailed   EventStatus = "failed"
	EventStatusConflict EventStatus = "conflict"
)

// ConflictType classifies the pairing of local intent and remote change
type ConflictType string

const (
	ConflictUpdateUpdate ConflictType = "UPDATE_UPDATE"
	ConflictDeleteUpdate ConflictType = "DELETE_UPDATE"
	ConflictMoveMove     ConflictType = "MOVE_MOVE"
	ConflictCreateCreate ConflictType = "CREATE_CREATE"
)

// Resolution represents how a conflict was (or must be) resolved
type Resolution string

const (
	ResolutionLocal  Resolution = "local"
	ResolutionServer Resolution = "server"
	ResolutionMerge  Resolution = "merge"
	ResolutionManual Resolution = "manual"
)

// UploadStatus represents the lifecycle state of a staged image blob
type UploadStatus string

const (
	UploadStatusPending   UploadStatus = "pending"
	UploadStatusUploading UploadStatus = "uploading"
	UploadStatusUploaded  UploadStatus = "uploaded"
	UploadStatusFailed    UploadStatus = "failed"
)
