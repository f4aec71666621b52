package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/broadcast-hub/models"
	"github.com/amirphl/broadcast-hub/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var deliveryConflictColumns = []clause.Column{{Name: "broadcast_id"}, {Name: "user_id"}}

// BroadcastDeliveryRepositoryImpl implements the BroadcastDeliveryRepository interface
type BroadcastDeliveryRepositoryImpl struct {
	*BaseRepository[models.BroadcastDelivery, models.BroadcastDeliveryFilter]
}

// NewBroadcastDeliveryRepository creates a new broadcast delivery repository
func NewBroadcastDeliveryRepository(db *gorm.DB) BroadcastDeliveryRepository {
	return &BroadcastDeliveryRepositoryImpl{
		BaseRepository: NewBaseRepository[models.BroadcastDelivery, models.BroadcastDeliveryFilter](db),
	}
}

// ExistingUserIDs returns which of the given users already have a row for the broadcast
func (r *BroadcastDeliveryRepositoryImpl) ExistingUserIDs(ctx context.Context, broadcastID uint, userIDs []int64) ([]int64, error) {
	existing := make([]int64, 0)
	if len(userIDs) == 0 {
		return existing, nil
	}

	err := r.getDB(ctx).
		Model(&models.BroadcastDelivery{}).
		Where("broadcast_id = ? AND user_id IN ?", broadcastID, userIDs).
		Pluck("user_id", &existing).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load existing deliveries of broadcast %d: %w", broadcastID, err)
	}

	return existing, nil
}

// InsertPending creates pending rows and returns how many were actually inserted.
// Pairs inserted concurrently by another writer are skipped.
func (r *BroadcastDeliveryRepositoryImpl) InsertPending(ctx context.Context, broadcastID uint, userIDs []int64) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}

	now := utils.UTCNow()
	rows := make([]models.BroadcastDelivery, 0, len(userIDs))
	for _, uid := range userIDs {
		rows = append(rows, models.BroadcastDelivery{
			BroadcastID: broadcastID,
			UserID:      uid,
			Status:      models.DeliveryStatusPending,
			Attempts:    0,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	res := r.getDB(ctx).Clauses(clause.OnConflict{
		Columns:   deliveryConflictColumns,
		DoNothing: true,
	}).Create(&rows)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to insert deliveries of broadcast %d: %w", broadcastID, res.Error)
	}

	return res.RowsAffected, nil
}

// ApplyOutcome updates an existing row; attempts grows by the outcome's increment
func (r *BroadcastDeliveryRepositoryImpl) ApplyOutcome(ctx context.Context, broadcastID uint, outcome models.DeliveryOutcome) (int64, error) {
	res := r.getDB(ctx).
		Model(&models.BroadcastDelivery{}).
		Where("broadcast_id = ? AND user_id = ?", broadcastID, outcome.UserID).
		Updates(map[string]any{
			"status":        outcome.Status,
			"message_id":    outcome.MessageID,
			"error_code":    outcome.ErrorCode,
			"error_message": outcome.ErrorMessage,
			"sent_at":       outcome.SentAt,
			"attempts":      gorm.Expr("attempts + ?", outcome.AttemptInc),
			"updated_at":    utils.UTCNow(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to update delivery %d/%d: %w", broadcastID, outcome.UserID, res.Error)
	}

	return res.RowsAffected, nil
}

// InsertOutcomes inserts rows for users without one. A row created concurrently
// is updated instead and its attempts accumulate.
func (r *BroadcastDeliveryRepositoryImpl) InsertOutcomes(ctx context.Context, broadcastID uint, outcomes []models.DeliveryOutcome) (int64, error) {
	if len(outcomes) == 0 {
		return 0, nil
	}

	now := utils.UTCNow()
	rows := make([]models.BroadcastDelivery, 0, len(outcomes))
	for _, o := range outcomes {
		rows = append(rows, models.BroadcastDelivery{
			BroadcastID:  broadcastID,
			UserID:       o.UserID,
			Status:       o.Status,
			Attempts:     o.AttemptInc,
			ErrorCode:    o.ErrorCode,
			ErrorMessage: o.ErrorMessage,
			MessageID:    o.MessageID,
			SentAt:       o.SentAt,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	res := r.getDB(ctx).Clauses(clause.OnConflict{
		Columns: deliveryConflictColumns,
		DoUpdates: clause.Assignments(map[string]any{
			"status":        clause.Expr{SQL: "EXCLUDED.status"},
			"message_id":    clause.Expr{SQL: "EXCLUDED.message_id"},
			"error_code":    clause.Expr{SQL: "EXCLUDED.error_code"},
			"error_message": clause.Expr{SQL: "EXCLUDED.error_message"},
			"sent_at":       clause.Expr{SQL: "EXCLUDED.sent_at"},
			"attempts":      clause.Expr{SQL: "broadcast_deliveries.attempts + EXCLUDED.attempts"},
			"updated_at":    clause.Expr{SQL: "EXCLUDED.updated_at"},
		}),
	}).Create(&rows)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to insert outcomes of broadcast %d: %w", broadcastID, res.Error)
	}

	return res.RowsAffected, nil
}

// CountByStatus returns delivery counts of a broadcast keyed by status
func (r *BroadcastDeliveryRepositoryImpl) CountByStatus(ctx context.Context, broadcastID uint) (map[models.DeliveryStatus]int64, error) {
	type row struct {
		Status models.DeliveryStatus
		Total  int64
	}

	var rows []row
	err := r.getDB(ctx).
		Model(&models.BroadcastDelivery{}).
		Select("status, COUNT(*) AS total").
		Where("broadcast_id = ?", broadcastID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count deliveries of broadcast %d: %w", broadcastID, err)
	}

	out := make(map[models.DeliveryStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Total
	}
	return out, nil
}

// ByFilter retrieves deliveries based on filter criteria
func (r *BroadcastDeliveryRepositoryImpl) ByFilter(ctx context.Context, filter models.BroadcastDeliveryFilter, orderBy string, limit, offset int) ([]*models.BroadcastDelivery, error) {
	db := r.getDB(ctx)

	var deliveries []*models.BroadcastDelivery
	query := r.applyFilter(db, filter)

	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	if err := query.Find(&deliveries).Error; err != nil {
		return nil, err
	}

	return deliveries, nil
}

// Count returns the number of deliveries matching the filter
func (r *BroadcastDeliveryRepositoryImpl) Count(ctx context.Context, filter models.BroadcastDeliveryFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	if err := r.applyFilter(db.Model(&models.BroadcastDelivery{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}

	return count, nil
}

// Exists checks if any delivery matching the filter exists
func (r *BroadcastDeliveryRepositoryImpl) Exists(ctx context.Context, filter models.BroadcastDeliveryFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *BroadcastDeliveryRepositoryImpl) applyFilter(db *gorm.DB, filter models.BroadcastDeliveryFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.BroadcastID != nil {
		db = db.Where("broadcast_id = ?", *filter.BroadcastID)
	}
	if filter.UserID != nil {
		db = db.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	return db
}
