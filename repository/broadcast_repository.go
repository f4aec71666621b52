package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/broadcast-hub/models"
	"github.com/amirphl/broadcast-hub/utils"
	"gorm.io/gorm"
)

// BroadcastRepositoryImpl implements the BroadcastRepository interface
type BroadcastRepositoryImpl struct {
	*BaseRepository[models.Broadcast, models.BroadcastFilter]
}

// NewBroadcastRepository creates a new broadcast repository
func NewBroadcastRepository(db *gorm.DB) BroadcastRepository {
	return &BroadcastRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Broadcast, models.BroadcastFilter](db),
	}
}

// ByID retrieves a broadcast by ID
func (r *BroadcastRepositoryImpl) ByID(ctx context.Context, id uint) (*models.Broadcast, error) {
	db := r.getDB(ctx)

	var broadcast models.Broadcast
	err := db.Where("id = ?", id).First(&broadcast).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find broadcast %d: %w", id, err)
	}

	return &broadcast, nil
}

// Update saves all fields of a broadcast
func (r *BroadcastRepositoryImpl) Update(ctx context.Context, broadcast *models.Broadcast) error {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}

	broadcast.UpdatedAt = utils.UTCNow()
	err = db.Save(broadcast).Error
	if err != nil {
		err = fmt.Errorf("failed to update broadcast %d: %w", broadcast.ID, err)
	}

	return finishWrite(db, shouldCommit, err)
}

// UpdateStatus updates only the status of a broadcast
func (r *BroadcastRepositoryImpl) UpdateStatus(ctx context.Context, id uint, status models.BroadcastStatus) error {
	db := r.getDB(ctx)
	return db.Model(&models.Broadcast{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"updated_at": utils.UTCNow(),
		}).Error
}

// Delete removes a broadcast; targets and deliveries cascade
func (r *BroadcastRepositoryImpl) Delete(ctx context.Context, id uint) (bool, error) {
	db := r.getDB(ctx)

	res := db.Where("id = ?", id).Delete(&models.Broadcast{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete broadcast %d: %w", id, res.Error)
	}

	return res.RowsAffected > 0, nil
}

// ByFilter retrieves broadcasts based on filter criteria
func (r *BroadcastRepositoryImpl) ByFilter(ctx context.Context, filter models.BroadcastFilter, orderBy string, limit, offset int) ([]*models.Broadcast, error) {
	db := r.getDB(ctx)

	var broadcasts []*models.Broadcast
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

	err := query.Find(&broadcasts).Error
	if err != nil {
		return nil, err
	}

	return broadcasts, nil
}

// Count returns the number of broadcasts matching the filter
func (r *BroadcastRepositoryImpl) Count(ctx context.Context, filter models.BroadcastFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	query := r.applyFilter(db.Model(&models.Broadcast{}), filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Exists checks if any broadcast matching the filter exists
func (r *BroadcastRepositoryImpl) Exists(ctx context.Context, filter models.BroadcastFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *BroadcastRepositoryImpl) applyFilter(db *gorm.DB, filter models.BroadcastFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.Kind != nil {
		db = db.Where("kind = ?", *filter.Kind)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.Enabled != nil {
		db = db.Where("enabled = ?", *filter.Enabled)
	}
	if filter.ScheduleBefore != nil {
		db = db.Where("scheduled_at IS NOT NULL AND scheduled_at <= ?", *filter.ScheduleBefore)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at < ?", *filter.CreatedBefore)
	}

	return db
}
