package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/broadcast-hub/models"
	"gorm.io/gorm"
)

// BroadcastTargetRepositoryImpl implements the BroadcastTargetRepository interface
type BroadcastTargetRepositoryImpl struct {
	*BaseRepository[models.BroadcastTarget, models.BroadcastTargetFilter]
}

// NewBroadcastTargetRepository creates a new broadcast target repository
func NewBroadcastTargetRepository(db *gorm.DB) BroadcastTargetRepository {
	return &BroadcastTargetRepositoryImpl{
		BaseRepository: NewBaseRepository[models.BroadcastTarget, models.BroadcastTargetFilter](db),
	}
}

// ByBroadcastID returns the stored target of a broadcast or nil
func (r *BroadcastTargetRepositoryImpl) ByBroadcastID(ctx context.Context, broadcastID uint) (*models.BroadcastTarget, error) {
	targets, err := r.ByFilter(ctx, models.BroadcastTargetFilter{BroadcastID: &broadcastID}, "id DESC", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, nil
	}
	return targets[0], nil
}

// Replace deletes any prior target of the broadcast and inserts the given one
func (r *BroadcastTargetRepositoryImpl) Replace(ctx context.Context, target *models.BroadcastTarget) error {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}

	err = db.Where("broadcast_id = ?", target.BroadcastID).Delete(&models.BroadcastTarget{}).Error
	if err != nil {
		err = fmt.Errorf("failed to delete target of broadcast %d: %w", target.BroadcastID, err)
		return finishWrite(db, shouldCommit, err)
	}

	err = db.Create(target).Error
	if err != nil {
		err = fmt.Errorf("failed to create target of broadcast %d: %w", target.BroadcastID, err)
	}

	return finishWrite(db, shouldCommit, err)
}

// ByFilter retrieves targets based on filter criteria
func (r *BroadcastTargetRepositoryImpl) ByFilter(ctx context.Context, filter models.BroadcastTargetFilter, orderBy string, limit, offset int) ([]*models.BroadcastTarget, error) {
	db := r.getDB(ctx)

	var targets []*models.BroadcastTarget
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

	if err := query.Find(&targets).Error; err != nil {
		return nil, err
	}

	return targets, nil
}

// Count returns the number of targets matching the filter
func (r *BroadcastTargetRepositoryImpl) Count(ctx context.Context, filter models.BroadcastTargetFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	if err := r.applyFilter(db.Model(&models.BroadcastTarget{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}

	return count, nil
}

// Exists checks if any target matching the filter exists
func (r *BroadcastTargetRepositoryImpl) Exists(ctx context.Context, filter models.BroadcastTargetFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *BroadcastTargetRepositoryImpl) applyFilter(db *gorm.DB, filter models.BroadcastTargetFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.BroadcastID != nil {
		db = db.Where("broadcast_id = ?", *filter.BroadcastID)
	}
	if filter.Type != nil {
		db = db.Where("type = ?", *filter.Type)
	}
	return db
}
