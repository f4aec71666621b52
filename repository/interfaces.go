// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"

	"github.com/amirphl/broadcast-hub/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// BroadcastRepository defines operations for broadcasts
type BroadcastRepository interface {
	Repository[models.Broadcast, models.BroadcastFilter]
	Update(ctx context.Context, broadcast *models.Broadcast) error
	UpdateStatus(ctx context.Context, id uint, status models.BroadcastStatus) error
	Delete(ctx context.Context, id uint) (bool, error)
}

// BroadcastTargetRepository defines operations for stored audience targets
type BroadcastTargetRepository interface {
	Repository[models.BroadcastTarget, models.BroadcastTargetFilter]
	ByBroadcastID(ctx context.Context, broadcastID uint) (*models.BroadcastTarget, error)
	Replace(ctx context.Context, target *models.BroadcastTarget) error
}

// UserSubscriptionRepository defines read access to segment flags
type UserSubscriptionRepository interface {
	SubscribedUserIDs(ctx context.Context, kind models.BroadcastKind, limit int) ([]int64, error)
	Upsert(ctx context.Context, subs []*models.UserSubscription) error
}

// AudienceSQLRepository runs validated audience SQL fragments
type AudienceSQLRepository interface {
	PreviewUserIDs(ctx context.Context, fragment string, limit int) ([]int64, error)
}

// BroadcastDeliveryRepository defines operations for delivery rows
type BroadcastDeliveryRepository interface {
	Repository[models.BroadcastDelivery, models.BroadcastDeliveryFilter]
	ExistingUserIDs(ctx context.Context, broadcastID uint, userIDs []int64) ([]int64, error)
	InsertPending(ctx context.Context, broadcastID uint, userIDs []int64) (int64, error)
	ApplyOutcome(ctx context.Context, broadcastID uint, outcome models.DeliveryOutcome) (int64, error)
	InsertOutcomes(ctx context.Context, broadcastID uint, outcomes []models.DeliveryOutcome) (int64, error)
	CountByStatus(ctx context.Context, broadcastID uint) (map[models.DeliveryStatus]int64, error)
}
