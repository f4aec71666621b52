package businessflow

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/amirphl/broadcast-hub/app/dto"
	"github.com/amirphl/broadcast-hub/models"
	"github.com/amirphl/broadcast-hub/repository"
	"github.com/amirphl/broadcast-hub/utils"
)

// BroadcastFlow handles broadcast management and stored targets
type BroadcastFlow interface {
	CreateBroadcast(ctx context.Context, req *dto.CreateBroadcastRequest) (*dto.BroadcastDTO, error)
	GetBroadcast(ctx context.Context, id uint) (*dto.BroadcastDTO, error)
	ListBroadcasts(ctx context.Context, req *dto.ListBroadcastsRequest) (*dto.ListBroadcastsResponse, error)
	UpdateBroadcast(ctx context.Context, id uint, req *dto.UpdateBroadcastRequest) (*dto.BroadcastDTO, error)
	DeleteBroadcast(ctx context.Context, id uint) error
	SendNow(ctx context.Context, id uint) (*dto.SendNowResponse, error)
	GetTarget(ctx context.Context, id uint) (*dto.BroadcastTargetDTO, error)
	PutTarget(ctx context.Context, id uint, req *dto.AudienceTargetRequest) (*dto.BroadcastTargetDTO, error)
	DispatchDue(ctx context.Context, now time.Time, batchSize int) (*DispatchResult, error)
}

// DispatchResult summarizes one dispatcher pass
type DispatchResult struct {
	Dispatched int
	Failed     int
	Skipped    int
}

type BroadcastFlowImpl struct {
	broadcastRepo repository.BroadcastRepository
	targetRepo    repository.BroadcastTargetRepository
	deliveryFlow  DeliveryFlow
	db            *gorm.DB
}

func NewBroadcastFlow(
	broadcastRepo repository.BroadcastRepository,
	targetRepo repository.BroadcastTargetRepository,
	deliveryFlow DeliveryFlow,
	db *gorm.DB,
) BroadcastFlow {
	return &BroadcastFlowImpl{
		broadcastRepo: broadcastRepo,
		targetRepo:    targetRepo,
		deliveryFlow:  deliveryFlow,
		db:            db,
	}
}

func (f *BroadcastFlowImpl) CreateBroadcast(ctx context.Context, req *dto.CreateBroadcastRequest) (*dto.BroadcastDTO, error) {
	kind := models.BroadcastKind(req.Kind)
	if !kind.Valid() {
		return nil, NewBusinessErrorf("BROADCAST_KIND_INVALID", "Unknown kind %q", ErrUnknownBroadcastKind, req.Kind)
	}

	status := models.BroadcastStatusDraft
	if req.Status != nil {
		status = models.BroadcastStatus(*req.Status)
		if !status.Valid() {
			return nil, NewBusinessErrorf("BROADCAST_STATUS_INVALID", "Invalid status %q", ErrInvalidBroadcastStatus, *req.Status)
		}
	}

	broadcast := &models.Broadcast{
		Kind:        kind,
		Title:       req.Title,
		Content:     contentFromDTO(req.Content),
		Status:      status,
		ScheduledAt: utils.TimeToUTCPtr(req.ScheduledAt),
		Schedule:    req.Schedule,
		Enabled:     req.Enabled,
		CreatedBy:   req.CreatedBy,
	}
	if err := f.broadcastRepo.Save(ctx, broadcast); err != nil {
		return nil, databaseError("BROADCAST_SAVE_FAILED", "Failed to create broadcast", err)
	}

	out := ToBroadcastDTO(broadcast)
	return &out, nil
}

func (f *BroadcastFlowImpl) GetBroadcast(ctx context.Context, id uint) (*dto.BroadcastDTO, error) {
	broadcast, err := f.loadBroadcast(ctx, id)
	if err != nil {
		return nil, err
	}

	out := ToBroadcastDTO(broadcast)
	return &out, nil
}

// ListBroadcasts returns broadcasts newest first
func (f *BroadcastFlowImpl) ListBroadcasts(ctx context.Context, req *dto.ListBroadcastsRequest) (*dto.ListBroadcastsResponse, error) {
	filter := models.BroadcastFilter{Enabled: req.Enabled}
	if req.Kind != nil {
		kind := models.BroadcastKind(*req.Kind)
		if !kind.Valid() {
			return nil, NewBusinessErrorf("BROADCAST_KIND_INVALID", "Unknown kind %q", ErrUnknownBroadcastKind, *req.Kind)
		}
		filter.Kind = &kind
	}
	if req.Status != nil {
		status := models.BroadcastStatus(*req.Status)
		if !status.Valid() {
			return nil, NewBusinessErrorf("BROADCAST_STATUS_INVALID", "Invalid status %q", ErrInvalidBroadcastStatus, *req.Status)
		}
		filter.Status = &status
	}

	limit := req.Limit
	if limit <= 0 {
		limit = utils.DefaultBroadcastListLimit
	}
	limit = min(limit, utils.MaxBroadcastListLimit)

	rows, err := f.broadcastRepo.ByFilter(ctx, filter, "id DESC", limit, max(req.Offset, 0))
	if err != nil {
		return nil, databaseError("BROADCAST_LIST_FAILED", "Failed to list broadcasts", err)
	}
	total, err := f.broadcastRepo.Count(ctx, filter)
	if err != nil {
		return nil, databaseError("BROADCAST_COUNT_FAILED", "Failed to count broadcasts", err)
	}

	items := make([]dto.BroadcastDTO, 0, len(rows))
	for _, b := range rows {
		items = append(items, ToBroadcastDTO(b))
	}

	return &dto.ListBroadcastsResponse{Items: items, Total: total}, nil
}

// UpdateBroadcast applies the non-nil fields of req
func (f *BroadcastFlowImpl) UpdateBroadcast(ctx context.Context, id uint, req *dto.UpdateBroadcastRequest) (*dto.BroadcastDTO, error) {
	if req.Kind == nil && req.Title == nil && req.Content == nil && req.Status == nil &&
		req.ScheduledAt == nil && req.Schedule == nil && req.Enabled == nil {
		return nil, NewBusinessError("BROADCAST_UPDATE_REQUIRED", "At least one field must be provided", ErrBroadcastUpdateRequired)
	}

	broadcast, err := f.loadBroadcast(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Kind != nil {
		kind := models.BroadcastKind(*req.Kind)
		if !kind.Valid() {
			return nil, NewBusinessErrorf("BROADCAST_KIND_INVALID", "Unknown kind %q", ErrUnknownBroadcastKind, *req.Kind)
		}
		broadcast.Kind = kind
	}
	if req.Status != nil {
		status := models.BroadcastStatus(*req.Status)
		if !status.Valid() {
			return nil, NewBusinessErrorf("BROADCAST_STATUS_INVALID", "Invalid status %q", ErrInvalidBroadcastStatus, *req.Status)
		}
		broadcast.Status = status
	}
	if req.Title != nil {
		broadcast.Title = req.Title
	}
	if req.Content != nil {
		broadcast.Content = contentFromDTO(*req.Content)
	}
	if req.ScheduledAt != nil {
		broadcast.ScheduledAt = utils.TimeToUTCPtr(req.ScheduledAt)
	}
	if req.Schedule != nil {
		broadcast.Schedule = req.Schedule
	}
	if req.Enabled != nil {
		broadcast.Enabled = req.Enabled
	}

	if err := f.broadcastRepo.Update(ctx, broadcast); err != nil {
		return nil, databaseError("BROADCAST_UPDATE_FAILED", "Failed to update broadcast", err)
	}

	out := ToBroadcastDTO(broadcast)
	return &out, nil
}

func (f *BroadcastFlowImpl) DeleteBroadcast(ctx context.Context, id uint) error {
	deleted, err := f.broadcastRepo.Delete(ctx, id)
	if err != nil {
		return databaseError("BROADCAST_DELETE_FAILED", "Failed to delete broadcast", err)
	}
	if !deleted {
		return NewBusinessErrorf("BROADCAST_NOT_FOUND", "Broadcast %d not found", ErrBroadcastNotFound, id)
	}
	return nil
}

// SendNow schedules the broadcast for immediate dispatch
func (f *BroadcastFlowImpl) SendNow(ctx context.Context, id uint) (*dto.SendNowResponse, error) {
	broadcast, err := f.loadBroadcast(ctx, id)
	if err != nil {
		return nil, err
	}

	now := utils.UTCNow()
	broadcast.Status = models.BroadcastStatusScheduled
	broadcast.ScheduledAt = &now
	if err := f.broadcastRepo.Update(ctx, broadcast); err != nil {
		return nil, databaseError("BROADCAST_UPDATE_FAILED", "Failed to schedule broadcast", err)
	}

	return &dto.SendNowResponse{
		ID:          broadcast.ID,
		Status:      broadcast.Status.String(),
		ScheduledAt: now.Format(time.RFC3339),
	}, nil
}

func (f *BroadcastFlowImpl) GetTarget(ctx context.Context, id uint) (*dto.BroadcastTargetDTO, error) {
	if _, err := f.loadBroadcast(ctx, id); err != nil {
		return nil, err
	}

	row, err := f.targetRepo.ByBroadcastID(ctx, id)
	if err != nil {
		return nil, databaseError("BROADCAST_TARGET_LOOKUP_FAILED", "Failed to load broadcast target", err)
	}
	if row == nil {
		return nil, NewBusinessErrorf("BROADCAST_TARGET_NOT_FOUND", "Broadcast %d has no target", ErrBroadcastTargetNotFound, id)
	}

	out := ToBroadcastTargetDTO(row)
	return &out, nil
}

// PutTarget validates the target and replaces the stored one
func (f *BroadcastFlowImpl) PutTarget(ctx context.Context, id uint, req *dto.AudienceTargetRequest) (*dto.BroadcastTargetDTO, error) {
	target, err := TargetFromRequest(req)
	if err != nil {
		return nil, err
	}
	if err := validateTarget(target); err != nil {
		return nil, err
	}

	row := TargetToModel(id, target)
	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		if _, err := f.loadBroadcast(txCtx, id); err != nil {
			return err
		}
		if err := f.targetRepo.Replace(txCtx, row); err != nil {
			return databaseError("BROADCAST_TARGET_SAVE_FAILED", "Failed to save broadcast target", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := ToBroadcastTargetDTO(row)
	return &out, nil
}

// DispatchDue materializes enabled scheduled broadcasts whose time has come
// and moves them to sending. Broadcasts without a usable target fail.
func (f *BroadcastFlowImpl) DispatchDue(ctx context.Context, now time.Time, batchSize int) (*DispatchResult, error) {
	status := models.BroadcastStatusScheduled
	filter := models.BroadcastFilter{
		Status:         &status,
		Enabled:        utils.ToPtr(true),
		ScheduleBefore: &now,
	}

	due, err := f.broadcastRepo.ByFilter(ctx, filter, "scheduled_at ASC", batchSize, 0)
	if err != nil {
		return nil, databaseError("BROADCAST_LIST_FAILED", "Failed to list due broadcasts", err)
	}

	result := &DispatchResult{}
	for _, b := range due {
		logger := log.With().Uint("broadcast_id", b.ID).Logger()

		res, err := f.deliveryFlow.Materialize(ctx, b.ID, &dto.MaterializeDeliveriesRequest{})
		switch {
		case err == nil:
			if err := f.broadcastRepo.UpdateStatus(ctx, b.ID, models.BroadcastStatusSending); err != nil {
				return result, databaseError("BROADCAST_UPDATE_FAILED", "Failed to mark broadcast as sending", err)
			}
			result.Dispatched++
			logger.Info().Int("total", res.Total).Int("created", res.Created).Msg("broadcast dispatched")
		case IsMaterializeInProgress(err):
			result.Skipped++
			logger.Debug().Msg("broadcast is being materialized elsewhere")
		case IsValidationError(err):
			if err := f.broadcastRepo.UpdateStatus(ctx, b.ID, models.BroadcastStatusFailed); err != nil {
				return result, databaseError("BROADCAST_UPDATE_FAILED", "Failed to mark broadcast as failed", err)
			}
			result.Failed++
			logger.Warn().Err(err).Msg("broadcast has no usable target")
		default:
			result.Skipped++
			logger.Error().Err(err).Msg("broadcast dispatch failed, will retry")
		}
	}

	return result, nil
}

func (f *BroadcastFlowImpl) loadBroadcast(ctx context.Context, id uint) (*models.Broadcast, error) {
	broadcast, err := f.broadcastRepo.ByID(ctx, id)
	if err != nil {
		return nil, databaseError("BROADCAST_LOOKUP_FAILED", "Failed to load broadcast", err)
	}
	if broadcast == nil {
		return nil, NewBusinessErrorf("BROADCAST_NOT_FOUND", "Broadcast %d not found", ErrBroadcastNotFound, id)
	}
	return broadcast, nil
}

func contentFromDTO(c dto.BroadcastContentDTO) models.BroadcastContent {
	files := make([]models.BroadcastFile, 0, len(c.Files))
	for _, file := range c.Files {
		files = append(files, models.BroadcastFile{FileID: file.FileID, Type: file.Type})
	}
	return models.BroadcastContent{Text: c.Text, Files: files}
}

// ToBroadcastDTO converts a broadcast model for responses
func ToBroadcastDTO(b *models.Broadcast) dto.BroadcastDTO {
	files := make([]dto.BroadcastFileDTO, 0, len(b.Content.Files))
	for _, file := range b.Content.Files {
		files = append(files, dto.BroadcastFileDTO{FileID: file.FileID, Type: file.Type})
	}

	var scheduledAt *string
	if b.ScheduledAt != nil {
		scheduledAt = utils.ToPtr(b.ScheduledAt.UTC().Format(time.RFC3339))
	}

	return dto.BroadcastDTO{
		ID:          b.ID,
		Kind:        b.Kind.String(),
		Title:       b.Title,
		Content:     dto.BroadcastContentDTO{Text: b.Content.Text, Files: files},
		Status:      b.Status.String(),
		ScheduledAt: scheduledAt,
		Schedule:    b.Schedule,
		Enabled:     utils.IsTrue(b.Enabled),
		CreatedBy:   b.CreatedBy,
		CreatedAt:   b.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   b.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
