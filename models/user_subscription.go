package models

import "time"

// UserSubscription holds the per-user segment flags
type UserSubscription struct {
	UserID           int64     `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	NewsEnabled      bool      `gorm:"not null;default:true" json:"news_enabled"`
	MeetingsEnabled  bool      `gorm:"not null;default:true" json:"meetings_enabled"`
	ImportantEnabled bool      `gorm:"not null;default:true" json:"important_enabled"`
	CreatedAt        time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt        time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (UserSubscription) TableName() string { return "user_subscriptions" }

// subscriptionColumns maps a segment to its flag column
var subscriptionColumns = map[BroadcastKind]string{
	BroadcastKindNews:      "news_enabled",
	BroadcastKindMeetings:  "meetings_enabled",
	BroadcastKindImportant: "important_enabled",
}

// SubscriptionColumn returns the flag column of a segment
func SubscriptionColumn(kind BroadcastKind) (string, bool) {
	col, ok := subscriptionColumns[kind]
	return col, ok
}
