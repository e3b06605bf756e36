package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OfflineIDPrefix marks identifiers generated on-device before the server
// has assigned a canonical id
const OfflineIDPrefix = "offline_"

// NewOfflineID generates a device-local placeholder id for an entity created
// while disconnected. It is replaced by the server id once the CREATE event
// syncs.
func NewOfflineID() string {
	return fmt.Sprintf("%s%d_%s", OfflineIDPrefix, time.Now().UnixMilli(), uuid.NewString()[:8])
}

// IsOfflineID reports whether the id is a device-generated placeholder
func IsOfflineID(id string) bool {
	return strings.HasPrefix(id, OfflineIDPrefix)
}

// SyncMeta carries the sync bookkeeping shared by every mirror record
type SyncMeta struct {
	SyncStatus      SyncStatus `gorm:"type:varchar(20);default:'pending';index" json:"sync_status"`
	LastSyncedAt    *time.Time `json:"last_synced_at,omitempty"`
	LocalModifiedAt time.Time  `gorm:"index" json:"local_modified_at"`
	// ServerUpdatedAt is the server-side last-modified stamp captured at the
	// last successful sync. Conflict detection compares the server's current
	// stamp against the value recorded in an event's original data.
	ServerUpdatedAt *time.Time `json:"server_updated_at,omitempty"`
	SourceDevice    string     `gorm:"type:varchar(255)" json:"source_device"`
	Deleted         bool       `gorm:"default:false;index" json:"deleted"`
}

// SyncableRecord is implemented by every mirror entity model
type SyncableRecord interface {
	GetID() string
	SetID(id string)
	GetPhotoURL() string
	SetPhotoURL(url string)
	GetQRCode() string
	Meta() *SyncMeta
	EntityType() EntityType
}

// Item represents an inventory item in the local mirror
type Item struct {
	ID            string  `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name          string  `gorm:"not null" json:"name" validate:"required"`
	Description   string  `json:"description"`
	QRCode        string  `gorm:"index" json:"qr_code"`
	CategoryID    *string `gorm:"type:varchar(64);index" json:"category_id,omitempty"`
	ContainerID   *string `gorm:"type:varchar(64);index" json:"container_id,omitempty"`
	LocationID    *string `gorm:"type:varchar(64);index" json:"location_id,omitempty"`
	SourceID      *string `gorm:"type:varchar(64);index" json:"source_id,omitempty"`
	Quantity      int     `gorm:"default:1" json:"quantity"`
	PurchasePrice float64 `json:"purchase_price"`
	SellingPrice  float64 `json:"selling_price"`
	PhotoURL      string  `json:"photo_url"`
	Notes         string  `json:"notes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	SyncMeta  `gorm:"embedded"`
}

func (Item) TableName() string { return "items" }

func (i *Item) GetID() string            { return i.ID }
func (i *Item) SetID(id string)          { i.ID = id }
func (i *Item) GetPhotoURL() string      { return i.PhotoURL }
func (i *Item) SetPhotoURL(url string)   { i.PhotoURL = url }
func (i *Item) GetQRCode() string        { return i.QRCode }
func (i *Item) Meta() *SyncMeta          { return &i.SyncMeta }
func (i *Item) EntityType() EntityType   { return EntityTypeItem }

// Category represents an item category in the local mirror
type Category struct {
	ID       string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name     string `gorm:"not null" json:"name" validate:"required"`
	Icon     string `json:"icon"`
	Color    string `json:"color"`
	PhotoURL string `json:"photo_url"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	SyncMeta  `gorm:"embedded"`
}

func (Category) TableName() string { return "categories" }

func (c *Category) GetID() string          { return c.ID }
func (c *Category) SetID(id string)        { c.ID = id }
func (c *Category) GetPhotoURL() string    { return c.PhotoURL }
func (c *Category) SetPhotoURL(url string) { c.PhotoURL = url }
func (c *Category) GetQRCode() string      { return "" }
func (c *Category) Meta() *SyncMeta        { return &c.SyncMeta }
func (c *Category) EntityType() EntityType { return EntityTypeCategory }

// Container represents a storage container (box, bin, shelf unit)
type Container struct {
	ID         string  `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name       string  `gorm:"not null" json:"name" validate:"required"`
	QRCode     string  `gorm:"index" json:"qr_code"`
	LocationID *string `gorm:"type:varchar(64);index" json:"location_id,omitempty"`
	PhotoURL   string  `json:"photo_url"`
	Notes      string  `json:"notes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	SyncMeta  `gorm:"embedded"`
}

func (Container) TableName() string { return "containers" }

func (c *Container) GetID() string          { return c.ID }
func (c *Container) SetID(id string)        { c.ID = id }
func (c *Container) GetPhotoURL() string    { return c.PhotoURL }
func (c *Container) SetPhotoURL(url string) { c.PhotoURL = url }
func (c *Container) GetQRCode() string      { return c.QRCode }
func (c *Container) Meta() *SyncMeta        { return &c.SyncMeta }
func (c *Container) EntityType() EntityType { return EntityTypeContainer }

// Location represents a physical location (room, closet, garage)
type Location struct {
	ID       string  `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name     string  `gorm:"not null" json:"name" validate:"required"`
	ParentID *string `gorm:"type:varchar(64);index" json:"parent_id,omitempty"`
	Notes    string  `json:"notes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	SyncMeta  `gorm:"embedded"`
}

func (Location) TableName() string { return "locations" }

func (l *Location) GetID() string          { return l.ID }
func (l *Location) SetID(id string)        { l.ID = id }
func (l *Location) GetPhotoURL() string    { return "" }
func (l *Location) SetPhotoURL(string)     {}
func (l *Location) GetQRCode() string      { return "" }
func (l *Location) Meta() *SyncMeta        { return &l.SyncMeta }
func (l *Location) EntityType() EntityType { return EntityTypeLocation }

// Source represents where an item was acquired (store, marketplace, person)
type Source struct {
	ID   string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name string `gorm:"not null" json:"name" validate:"required"`
	URL  string `json:"url"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	SyncMeta  `gorm:"embedded"`
}

func (Source) TableName() string { return "sources" }

func (s *Source) GetID() string          { return s.ID }
func (s *Source) SetID(id string)        { s.ID = id }
func (s *Source) GetPhotoURL() string    { return "" }
func (s *Source) SetPhotoURL(string)     {}
func (s *Source) GetQRCode() string      { return "" }
func (s *Source) Meta() *SyncMeta        { return &s.SyncMeta }
func (s *Source) EntityType() EntityType { return EntityTypeSource }

// NewRecord returns a zero value of the model backing the entity type
func NewRecord(entity EntityType) (SyncableRecord, error) {
	switch entity {
	case EntityTypeItem:
		return &Item{}, nil
	case EntityTypeCategory:
		return &Category{}, nil
	case EntityTypeContainer:
		return &Container{}, nil
	case EntityTypeLocation:
		return &Location{}, nil
	case EntityTypeSource:
		return &Source{}, nil
	default:
		return nil, fmt.Errorf("unsupported entity type: %s", entity)
	}
}
