package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/broadcast-hub/models"
	"github.com/amirphl/broadcast-hub/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserSubscriptionRepositoryImpl implements the UserSubscriptionRepository interface
type UserSubscriptionRepositoryImpl struct {
	db *gorm.DB
}

// NewUserSubscriptionRepository creates a new user subscription repository
func NewUserSubscriptionRepository(db *gorm.DB) UserSubscriptionRepository {
	return &UserSubscriptionRepositoryImpl{db: db}
}

func (r *UserSubscriptionRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(TxContextKey).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

// SubscribedUserIDs returns user ids whose flag for the segment is on, ordered by user_id.
// A limit <= 0 returns every matching user.
func (r *UserSubscriptionRepositoryImpl) SubscribedUserIDs(ctx context.Context, kind models.BroadcastKind, limit int) ([]int64, error) {
	column, ok := models.SubscriptionColumn(kind)
	if !ok {
		return nil, fmt.Errorf("unknown broadcast kind %q", kind)
	}

	query := r.getDB(ctx).
		Model(&models.UserSubscription{}).
		Where(column+" = ?", true).
		Order("user_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var ids []int64
	if err := query.Pluck("user_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to load subscribers of %s: %w", kind, err)
	}

	return ids, nil
}

// Upsert inserts subscriptions or overwrites the flags of existing users
func (r *UserSubscriptionRepositoryImpl) Upsert(ctx context.Context, subs []*models.UserSubscription) error {
	if len(subs) == 0 {
		return nil
	}

	now := utils.UTCNow()
	for _, s := range subs {
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		s.UpdatedAt = now
	}

	// Select keeps false flags from being replaced by column defaults
	return r.getDB(ctx).Select("UserID", "NewsEnabled", "MeetingsEnabled", "ImportantEnabled", "CreatedAt", "UpdatedAt").Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"news_enabled":      clause.Expr{SQL: "EXCLUDED.news_enabled"},
			"meetings_enabled":  clause.Expr{SQL: "EXCLUDED.meetings_enabled"},
			"important_enabled": clause.Expr{SQL: "EXCLUDED.important_enabled"},
			"updated_at":        clause.Expr{SQL: "EXCLUDED.updated_at"},
		}),
	}).CreateInBatches(subs, utils.DeliveryChunkSize).Error
}
