package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/amirphl/broadcast-hub/utils"
	"gorm.io/gorm"
)

// BroadcastKind is the subscription segment a broadcast belongs to
type BroadcastKind string

const (
	BroadcastKindNews      BroadcastKind = "news"
	BroadcastKindMeetings  BroadcastKind = "meetings"
	BroadcastKindImportant BroadcastKind = "important"
)

// BroadcastKinds lists every recognised segment in display order
var BroadcastKinds = []BroadcastKind{BroadcastKindNews, BroadcastKindMeetings, BroadcastKindImportant}

func (k BroadcastKind) String() string {
	return string(k)
}

// Valid checks if the kind is a recognised segment
func (k BroadcastKind) Valid() bool {
	switch k {
	case BroadcastKindNews, BroadcastKindMeetings, BroadcastKindImportant:
		return true
	default:
		return false
	}
}

// BroadcastStatus represents the lifecycle status of a broadcast
type BroadcastStatus string

const (
	BroadcastStatusDraft     BroadcastStatus = "draft"
	BroadcastStatusScheduled BroadcastStatus = "scheduled"
	BroadcastStatusSending   BroadcastStatus = "sending"
	BroadcastStatusSent      BroadcastStatus = "sent"
	BroadcastStatusFailed    BroadcastStatus = "failed"
)

func (s BroadcastStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s BroadcastStatus) Valid() bool {
	switch s {
	case BroadcastStatusDraft, BroadcastStatusScheduled, BroadcastStatusSending,
		BroadcastStatusSent, BroadcastStatusFailed:
		return true
	default:
		return false
	}
}

// BroadcastFile is a media attachment referenced by its Telegram file id
type BroadcastFile struct {
	FileID string `json:"file_id"`
	Type   string `json:"type"`
}

// BroadcastContent is the message payload stored as jsonb
type BroadcastContent struct {
	Text  string          `json:"text"`
	Files []BroadcastFile `json:"files,omitempty"`
}

// Value implements the driver.Valuer interface for BroadcastContent
func (c BroadcastContent) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements the sql.Scanner interface for BroadcastContent
func (c *BroadcastContent) Scan(value any) error {
	if value == nil {
		*c = BroadcastContent{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into BroadcastContent", value)
	}

	return json.Unmarshal(bytes, c)
}

// Broadcast is a campaign sent to one subscription segment
type Broadcast struct {
	ID          uint             `gorm:"primaryKey" json:"id"`
	Kind        BroadcastKind    `gorm:"type:broadcast_kind;not null;index:idx_broadcasts_kind" json:"kind"`
	Title       *string          `gorm:"size:255" json:"title,omitempty"`
	Content     BroadcastContent `gorm:"type:jsonb;not null" json:"content"`
	Status      BroadcastStatus  `gorm:"type:broadcast_status;not null;default:'draft';index:idx_broadcasts_status" json:"status"`
	ScheduledAt *time.Time       `gorm:"index:idx_broadcasts_scheduled_at" json:"scheduled_at,omitempty"`
	Schedule    *string          `gorm:"size:255" json:"schedule,omitempty"`
	Enabled     *bool            `gorm:"not null;default:true" json:"enabled"`
	CreatedBy   *int64           `json:"created_by,omitempty"`
	CreatedAt   time.Time        `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_broadcasts_created_at" json:"created_at"`
	UpdatedAt   time.Time        `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (Broadcast) TableName() string { return "broadcasts" }

// BeforeCreate fills defaults not provided by the caller
func (b *Broadcast) BeforeCreate(tx *gorm.DB) error {
	if b.Status == "" {
		b.Status = BroadcastStatusDraft
	}
	if b.Enabled == nil {
		b.Enabled = utils.ToPtr(true)
	}
	now := utils.UTCNow()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	return nil
}

// BeforeUpdate is called before updating a record
func (b *Broadcast) BeforeUpdate(tx *gorm.DB) error {
	b.UpdatedAt = utils.UTCNow()
	return nil
}

// BroadcastFilter provides filter fields for repository queries
type BroadcastFilter struct {
	ID             *uint
	Kind           *BroadcastKind
	Status         *BroadcastStatus
	Enabled        *bool
	ScheduleBefore *time.Time
	CreatedAfter   *time.Time
	CreatedBefore  *time.Time
}
