package testing

import (
	"context"
	"fmt"

	"github.com/amirphl/broadcast-hub/models"
	"github.com/amirphl/broadcast-hub/utils"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestBroadcast inserts a draft broadcast of the given kind
func (tf *TestFixtures) CreateTestBroadcast(ctx context.Context, kind models.BroadcastKind) (*models.Broadcast, error) {
	b := &models.Broadcast{
		Kind:    kind,
		Title:   utils.ToPtr(fmt.Sprintf("test %s broadcast", kind)),
		Content: models.BroadcastContent{Text: "hello subscribers"},
	}
	if err := tf.DB.DB.WithContext(ctx).Create(b).Error; err != nil {
		return nil, fmt.Errorf("failed to insert broadcast: %w", err)
	}
	return b, nil
}

// CreateTestSubscriptions inserts one subscription row per user id with only
// the given segments enabled
func (tf *TestFixtures) CreateTestSubscriptions(ctx context.Context, userIDs []int64, kinds ...models.BroadcastKind) error {
	enabled := map[models.BroadcastKind]bool{}
	for _, k := range kinds {
		enabled[k] = true
	}

	rows := make([]*models.UserSubscription, 0, len(userIDs))
	for _, id := range userIDs {
		rows = append(rows, &models.UserSubscription{
			UserID:           id,
			NewsEnabled:      enabled[models.BroadcastKindNews],
			MeetingsEnabled:  enabled[models.BroadcastKindMeetings],
			ImportantEnabled: enabled[models.BroadcastKindImportant],
		})
	}

	// Select forces false flags to be written instead of falling back to column defaults
	err := tf.DB.DB.WithContext(ctx).
		Select("UserID", "NewsEnabled", "MeetingsEnabled", "ImportantEnabled").
		CreateInBatches(rows, 500).Error
	if err != nil {
		return fmt.Errorf("failed to insert subscriptions: %w", err)
	}
	return nil
}

// CreateTestTarget stores the audience target of a broadcast
func (tf *TestFixtures) CreateTestTarget(ctx context.Context, target *models.BroadcastTarget) error {
	if err := tf.DB.DB.WithContext(ctx).Create(target).Error; err != nil {
		return fmt.Errorf("failed to insert broadcast target: %w", err)
	}
	return nil
}

// DeliveriesOf returns every delivery row of a broadcast ordered by user id
func (tf *TestFixtures) DeliveriesOf(ctx context.Context, broadcastID uint) ([]models.BroadcastDelivery, error) {
	var rows []models.BroadcastDelivery
	err := tf.DB.DB.WithContext(ctx).
		Where("broadcast_id = ?", broadcastID).
		Order("user_id ASC").
		Find(&rows).Error
	return rows, err
}
