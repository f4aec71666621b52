package models

import "time"

// DeliveryStatus is the outcome of delivering a broadcast to one user
type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "pending"
	DeliveryStatusSent    DeliveryStatus = "sent"
	DeliveryStatusFailed  DeliveryStatus = "failed"
	DeliveryStatusSkipped DeliveryStatus = "skipped"
)

func (s DeliveryStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryStatusPending, DeliveryStatusSent, DeliveryStatusFailed, DeliveryStatusSkipped:
		return true
	default:
		return false
	}
}

// Column limits of broadcast_deliveries
const (
	DeliveryErrorCodeMaxLen    = 64
	DeliveryErrorMessageMaxLen = 255
)

// BroadcastDelivery tracks one (broadcast, user) pair.
// The pair is unique; materialize creates rows, report mutates them.
type BroadcastDelivery struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	BroadcastID  uint           `gorm:"not null;uniqueIndex:uk_broadcast_deliveries_broadcast_user,priority:1;index:idx_broadcast_deliveries_broadcast_status,priority:1" json:"broadcast_id"`
	UserID       int64          `gorm:"not null;uniqueIndex:uk_broadcast_deliveries_broadcast_user,priority:2" json:"user_id"`
	Status       DeliveryStatus `gorm:"type:delivery_status;not null;default:'pending';index:idx_broadcast_deliveries_broadcast_status,priority:2" json:"status"`
	Attempts     int            `gorm:"not null;default:0" json:"attempts"`
	ErrorCode    *string        `gorm:"size:64" json:"error_code,omitempty"`
	ErrorMessage *string        `gorm:"size:255" json:"error_message,omitempty"`
	MessageID    *int64         `json:"message_id,omitempty"`
	SentAt       *time.Time     `json:"sent_at,omitempty"`
	CreatedAt    time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (BroadcastDelivery) TableName() string { return "broadcast_deliveries" }

// BroadcastDeliveryFilter provides filter fields for repository queries
type BroadcastDeliveryFilter struct {
	ID          *uint
	BroadcastID *uint
	UserID      *int64
	Status      *DeliveryStatus
}

// DeliveryOutcome is a reported delivery result for one user
type DeliveryOutcome struct {
	UserID       int64
	Status       DeliveryStatus
	MessageID    *int64
	ErrorCode    *string
	ErrorMessage *string
	SentAt       *time.Time
	AttemptInc   int
}
