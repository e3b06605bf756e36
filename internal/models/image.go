package models

import "time"

// ImageBlob holds a photo payload staged locally until it is durably
// uploaded to remote blob storage. A blob is associated with at most one
// owning entity; the entity references it through a local placeholder URL
// until the upload succeeds.
type ImageBlob struct {
	ID string `gorm:"primaryKey;type:varchar(64)" json:"id"`

	ItemID      *string `gorm:"type:varchar(64);index" json:"item_id,omitempty"`
	CategoryID  *string `gorm:"type:varchar(64);index" json:"category_id,omitempty"`
	ContainerID *string `gorm:"type:varchar(64);index" json:"container_id,omitempty"`

	FileName    string `gorm:"type:varchar(255)" json:"file_name"`
	ContentType string `gorm:"type:varchar(100)" json:"content_type"`
	Data        []byte `gorm:"type:blob" json:"-"`
	SizeBytes   int64  `json:"size_bytes"`
	Encrypted   bool   `gorm:"default:false" json:"encrypted"`

	// PlaceholderURL is the local-only reference written into the owning
	// entity's photo field at capture time, rewritten to RemoteURL after a
	// successful upload.
	PlaceholderURL string `gorm:"type:varchar(255);index" json:"placeholder_url"`
	RemoteURL      *string `gorm:"type:varchar(500)" json:"remote_url,omitempty"`

	UploadStatus   UploadStatus `gorm:"type:varchar(20);default:'pending';index" json:"upload_status"`
	UploadAttempts int          `gorm:"default:0" json:"upload_attempts"`
	LastAttemptAt  *time.Time   `json:"last_attempt_at,omitempty"`
	NextRetryAt    *time.Time   `gorm:"index" json:"next_retry_at,omitempty"`
	ErrorMessage   *string      `gorm:"type:text" json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (ImageBlob) TableName() string { return "image_blobs" }

// OwnerEntity returns the entity type and id this blob is associated with
func (b *ImageBlob) OwnerEntity() (EntityType, string, bool) {
	switch {
	case b.ItemID != nil:
		return EntityTypeItem, *b.ItemID, true
	case b.CategoryID != nil:
		return EntityTypeCategory, *b.CategoryID, true
	case b.ContainerID != nil:
		return EntityTypeContainer, *b.ContainerID, true
	}
	return "", "", false
}

// SetOwner assigns the owning entity reference for the blob
func (b *ImageBlob) SetOwner(entity EntityType, id string) bool {
	switch entity {
	case EntityTypeItem:
		b.ItemID = &id
	case EntityTypeCategory:
		b.CategoryID = &id
	case EntityTypeContainer:
		b.ContainerID = &id
	default:
		return false
	}
	return true
}
