package models

import (
	"time"

	"github.com/lib/pq"
)

// BroadcastTargetType discriminates the stored audience definition
type BroadcastTargetType string

const (
	BroadcastTargetTypeIDs  BroadcastTargetType = "ids"
	BroadcastTargetTypeSQL  BroadcastTargetType = "sql"
	BroadcastTargetTypeKind BroadcastTargetType = "kind"
)

func (t BroadcastTargetType) String() string {
	return string(t)
}

// BroadcastTarget is the audience definition of a broadcast.
// Exactly one row exists per broadcast; writes replace the previous row.
type BroadcastTarget struct {
	ID          uint                `gorm:"primaryKey" json:"id"`
	BroadcastID uint                `gorm:"not null;uniqueIndex:uk_broadcast_targets_broadcast_id" json:"broadcast_id"`
	Type        BroadcastTargetType `gorm:"type:broadcast_target_type;not null" json:"type"`
	UserIDs     pq.Int64Array       `gorm:"type:bigint[]" json:"user_ids,omitempty"`
	SQLText     *string             `gorm:"column:sql_text;type:text" json:"sql,omitempty"`
	Kind        *BroadcastKind      `gorm:"type:broadcast_kind" json:"kind,omitempty"`
	CreatedAt   time.Time           `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
}

func (BroadcastTarget) TableName() string { return "broadcast_targets" }

// BroadcastTargetFilter provides filter fields for repository queries
type BroadcastTargetFilter struct {
	ID          *uint
	BroadcastID *uint
	Type        *BroadcastTargetType
}
