package businessflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/amirphl/broadcast-hub/app/dto"
	"github.com/amirphl/broadcast-hub/models"
	"github.com/amirphl/broadcast-hub/repository"
	"github.com/amirphl/broadcast-hub/utils"
)

// DeliveryFlow handles delivery materialization, reporting and inspection
type DeliveryFlow interface {
	Materialize(ctx context.Context, broadcastID uint, req *dto.MaterializeDeliveriesRequest) (*dto.MaterializeDeliveriesResponse, error)
	Report(ctx context.Context, broadcastID uint, req *dto.ReportDeliveriesRequest) (*dto.ReportDeliveriesResponse, error)
	ListDeliveries(ctx context.Context, broadcastID uint, req *dto.ListDeliveriesRequest) (*dto.ListDeliveriesResponse, error)
	ExportDeliveries(ctx context.Context, broadcastID uint) (string, []byte, error)
}

type DeliveryFlowImpl struct {
	broadcastRepo repository.BroadcastRepository
	targetRepo    repository.BroadcastTargetRepository
	deliveryRepo  repository.BroadcastDeliveryRepository
	resolver      AudienceResolver
	locker        DeliveryLocker
	limits        AudienceLimits
	db            *gorm.DB
}

func NewDeliveryFlow(
	broadcastRepo repository.BroadcastRepository,
	targetRepo repository.BroadcastTargetRepository,
	deliveryRepo repository.BroadcastDeliveryRepository,
	resolver AudienceResolver,
	locker DeliveryLocker,
	limits AudienceLimits,
	db *gorm.DB,
) DeliveryFlow {
	if locker == nil {
		locker = NoopDeliveryLocker{}
	}
	return &DeliveryFlowImpl{
		broadcastRepo: broadcastRepo,
		targetRepo:    targetRepo,
		deliveryRepo:  deliveryRepo,
		resolver:      resolver,
		locker:        locker,
		limits:        limits.withDefaults(),
		db:            db,
	}
}

// Materialize creates a pending delivery row for every audience member that has none
func (f *DeliveryFlowImpl) Materialize(ctx context.Context, broadcastID uint, req *dto.MaterializeDeliveriesRequest) (*dto.MaterializeDeliveriesResponse, error) {
	release, err := f.locker.Acquire(ctx, broadcastID)
	if err != nil {
		if errors.Is(err, errLockHeld) {
			materializeConflictsTotal.Inc()
			return nil, NewBusinessErrorf("MATERIALIZE_IN_PROGRESS", "Materialize of broadcast %d is already running", ErrMaterializeInProgress, broadcastID)
		}
		log.Warn().Err(err).Uint("broadcast_id", broadcastID).Msg("materialize lock unavailable, continuing without it")
		release = func() {}
	}
	defer release()

	var limit *int
	if req.Limit != nil && *req.Limit > 0 {
		limit = utils.ToPtr(min(*req.Limit, f.limits.ResolveCeiling))
	}

	ids, source, err := f.materializeAudience(ctx, broadcastID, req, limit)
	if err != nil {
		return nil, err
	}

	logger := requestLogger(ctx).With().Uint("broadcast_id", broadcastID).Str("source", source).Int("total", len(ids)).Logger()
	if len(ids) == 0 {
		logger.Info().Msg("audience is empty, nothing to materialize")
		return &dto.MaterializeDeliveriesResponse{}, nil
	}

	var created int64
	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		if err := f.ensureBroadcast(txCtx, broadcastID); err != nil {
			return err
		}

		for _, chunk := range utils.Chunk(ids, f.limits.ChunkSize) {
			existing, err := f.deliveryRepo.ExistingUserIDs(txCtx, broadcastID, chunk)
			if err != nil {
				return databaseError("DELIVERY_LOOKUP_FAILED", "Failed to load existing deliveries", err)
			}

			missing := missingIDs(chunk, existing)
			if len(missing) == 0 {
				continue
			}

			n, err := f.deliveryRepo.InsertPending(txCtx, broadcastID, missing)
			if err != nil {
				return databaseError("DELIVERY_INSERT_FAILED", "Failed to create deliveries", err)
			}
			created += n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	total := len(ids)
	existed := total - int(created)
	deliveriesMaterializedTotal.WithLabelValues("created").Add(float64(created))
	deliveriesMaterializedTotal.WithLabelValues("existed").Add(float64(existed))
	logger.Info().Int64("created", created).Int("existed", existed).Msg("deliveries materialized")

	return &dto.MaterializeDeliveriesResponse{
		Total:   total,
		Created: int(created),
		Existed: existed,
	}, nil
}

// materializeAudience picks the audience source: ids, then inline target, then stored target
func (f *DeliveryFlowImpl) materializeAudience(ctx context.Context, broadcastID uint, req *dto.MaterializeDeliveriesRequest, limit *int) ([]int64, string, error) {
	n := 0
	if limit != nil {
		n = *limit
	}

	if len(req.IDs) > 0 {
		return utils.UniquePositive(req.IDs, n), "inline_ids", nil
	}

	if req.Target != nil {
		target, err := TargetFromRequest(req.Target)
		if err != nil {
			return nil, "", err
		}
		ids, err := f.resolver.ResolveTarget(ctx, target, limit)
		return ids, "inline_target:" + target.TargetType().String(), err
	}

	if err := f.ensureBroadcast(ctx, broadcastID); err != nil {
		return nil, "", err
	}

	row, err := f.targetRepo.ByBroadcastID(ctx, broadcastID)
	if err != nil {
		return nil, "", databaseError("BROADCAST_TARGET_LOOKUP_FAILED", "Failed to load broadcast target", err)
	}
	if row == nil {
		return nil, "", NewBusinessError("AUDIENCE_SOURCE_MISSING", "No ids or target provided and no target stored for broadcast", ErrAudienceSourceMissing)
	}

	target, err := TargetFromModel(row)
	if err != nil {
		return nil, "", err
	}
	ids, err := f.resolver.ResolveTarget(ctx, target, limit)
	return ids, "stored_target:" + target.TargetType().String(), err
}

// Report applies delivery outcomes. Existing rows are updated with attempts
// incremented; missing rows are inserted.
func (f *DeliveryFlowImpl) Report(ctx context.Context, broadcastID uint, req *dto.ReportDeliveriesRequest) (*dto.ReportDeliveriesResponse, error) {
	order, latest, err := collapseOutcomes(req.Items)
	if err != nil {
		return nil, err
	}
	if len(order) == 0 {
		return &dto.ReportDeliveriesResponse{}, nil
	}

	var updated, inserted int
	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		if err := f.ensureBroadcast(txCtx, broadcastID); err != nil {
			return err
		}

		for _, chunk := range utils.Chunk(order, f.limits.ChunkSize) {
			existing, err := f.deliveryRepo.ExistingUserIDs(txCtx, broadcastID, chunk)
			if err != nil {
				return databaseError("DELIVERY_LOOKUP_FAILED", "Failed to load existing deliveries", err)
			}
			existingSet := make(map[int64]struct{}, len(existing))
			for _, uid := range existing {
				existingSet[uid] = struct{}{}
			}

			missing := make([]models.DeliveryOutcome, 0, max(len(chunk)-len(existing), 0))
			for _, uid := range chunk {
				outcome := latest[uid]
				if _, ok := existingSet[uid]; !ok {
					missing = append(missing, outcome)
					continue
				}
				if _, err := f.deliveryRepo.ApplyOutcome(txCtx, broadcastID, outcome); err != nil {
					return databaseError("DELIVERY_UPDATE_FAILED", "Failed to update delivery", err)
				}
				updated++
			}

			if len(missing) > 0 {
				if _, err := f.deliveryRepo.InsertOutcomes(txCtx, broadcastID, missing); err != nil {
					return databaseError("DELIVERY_INSERT_FAILED", "Failed to insert deliveries", err)
				}
				inserted += len(missing)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, uid := range order {
		deliveriesReportedTotal.WithLabelValues(latest[uid].Status.String()).Inc()
	}
	logger := requestLogger(ctx)
	logger.Info().
		Uint("broadcast_id", broadcastID).
		Int("items", len(req.Items)).
		Int("updated", updated).
		Int("inserted", inserted).
		Msg("delivery report applied")

	return &dto.ReportDeliveriesResponse{
		Processed: updated + inserted,
		Updated:   updated,
		Inserted:  inserted,
	}, nil
}

// collapseOutcomes drops unusable user ids and keeps the last outcome per user
// in first-seen order
func collapseOutcomes(items []dto.DeliveryReportItem) ([]int64, map[int64]models.DeliveryOutcome, error) {
	order := make([]int64, 0, len(items))
	latest := make(map[int64]models.DeliveryOutcome, len(items))

	for _, item := range items {
		if !item.UserID.Valid || item.UserID.Value <= 0 {
			continue
		}

		status := models.DeliveryStatus(item.Status)
		if !status.Valid() {
			return nil, nil, NewBusinessErrorf("DELIVERY_STATUS_INVALID", "Invalid delivery status %q", ErrInvalidDeliveryStatus, item.Status)
		}

		inc := 1
		if item.AttemptInc != nil && *item.AttemptInc > 0 {
			inc = *item.AttemptInc
		}

		uid := item.UserID.Value
		if _, seen := latest[uid]; !seen {
			order = append(order, uid)
		}
		latest[uid] = models.DeliveryOutcome{
			UserID:       uid,
			Status:       status,
			MessageID:    item.MessageID,
			ErrorCode:    truncateRunes(item.ErrorCode, models.DeliveryErrorCodeMaxLen),
			ErrorMessage: truncateRunes(item.ErrorMessage, models.DeliveryErrorMessageMaxLen),
			SentAt:       utils.TimeToUTCPtr(item.SentAt),
			AttemptInc:   inc,
		}
	}

	return order, latest, nil
}

// ListDeliveries returns a page of deliveries with per-status totals
func (f *DeliveryFlowImpl) ListDeliveries(ctx context.Context, broadcastID uint, req *dto.ListDeliveriesRequest) (*dto.ListDeliveriesResponse, error) {
	if err := f.ensureBroadcast(ctx, broadcastID); err != nil {
		return nil, err
	}

	filter := models.BroadcastDeliveryFilter{BroadcastID: &broadcastID}
	if req.Status != nil {
		status := models.DeliveryStatus(*req.Status)
		if !status.Valid() {
			return nil, NewBusinessErrorf("DELIVERY_STATUS_INVALID", "Invalid delivery status %q", ErrInvalidDeliveryStatus, *req.Status)
		}
		filter.Status = &status
	}

	limit := req.Limit
	if limit <= 0 {
		limit = utils.DefaultDeliveryListLimit
	}
	limit = min(limit, utils.MaxDeliveryListLimit)
	offset := max(req.Offset, 0)

	rows, err := f.deliveryRepo.ByFilter(ctx, filter, "id ASC", limit, offset)
	if err != nil {
		return nil, databaseError("DELIVERY_LIST_FAILED", "Failed to list deliveries", err)
	}
	total, err := f.deliveryRepo.Count(ctx, filter)
	if err != nil {
		return nil, databaseError("DELIVERY_COUNT_FAILED", "Failed to count deliveries", err)
	}
	counts, err := f.deliveryRepo.CountByStatus(ctx, broadcastID)
	if err != nil {
		return nil, databaseError("DELIVERY_COUNT_FAILED", "Failed to count deliveries", err)
	}

	items := make([]dto.DeliveryItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, ToDeliveryItem(row))
	}
	statusCounts := make(map[string]int64, len(counts))
	for status, n := range counts {
		statusCounts[status.String()] = n
	}

	return &dto.ListDeliveriesResponse{
		Items:        items,
		Total:        total,
		StatusCounts: statusCounts,
	}, nil
}

// ExportDeliveries renders every delivery of a broadcast into an xlsx workbook
func (f *DeliveryFlowImpl) ExportDeliveries(ctx context.Context, broadcastID uint) (string, []byte, error) {
	if err := f.ensureBroadcast(ctx, broadcastID); err != nil {
		return "", nil, err
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	sheet := "deliveries"
	if err := xl.SetSheetName(xl.GetSheetName(0), sheet); err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to prepare Excel sheet", fmt.Errorf("%w: %w", ErrDeliveriesExportFailed, err))
	}

	header := []string{"id", "broadcast_id", "user_id", "status", "attempts", "error_code", "error_message", "message_id", "sent_at", "created_at", "updated_at"}
	_ = xl.SetSheetRow(sheet, "A1", &header)

	filter := models.BroadcastDeliveryFilter{BroadcastID: &broadcastID}
	rowIdx := 2
	for offset := 0; ; offset += f.limits.ChunkSize {
		rows, err := f.deliveryRepo.ByFilter(ctx, filter, "id ASC", f.limits.ChunkSize, offset)
		if err != nil {
			return "", nil, databaseError("DELIVERY_LIST_FAILED", "Failed to list deliveries", err)
		}

		for _, row := range rows {
			record := []any{
				row.ID,
				row.BroadcastID,
				row.UserID,
				row.Status.String(),
				row.Attempts,
				derefString(row.ErrorCode),
				derefString(row.ErrorMessage),
				formatOptionalInt(row.MessageID),
				utils.FormatTimePtr(row.SentAt),
				row.CreatedAt.UTC().Format(time.RFC3339),
				row.UpdatedAt.UTC().Format(time.RFC3339),
			}
			cellRef, _ := excelize.CoordinatesToCellName(1, rowIdx)
			_ = xl.SetSheetRow(sheet, cellRef, &record)
			rowIdx++
		}

		if len(rows) < f.limits.ChunkSize {
			break
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", fmt.Errorf("%w: %w", ErrDeliveriesExportFailed, err))
	}

	filename := fmt.Sprintf("broadcast_%d_deliveries.xlsx", broadcastID)
	return filename, buf.Bytes(), nil
}

func (f *DeliveryFlowImpl) ensureBroadcast(ctx context.Context, broadcastID uint) error {
	exists, err := f.broadcastRepo.Exists(ctx, models.BroadcastFilter{ID: &broadcastID})
	if err != nil {
		return databaseError("BROADCAST_LOOKUP_FAILED", "Failed to load broadcast", err)
	}
	if !exists {
		return NewBusinessErrorf("BROADCAST_NOT_FOUND", "Broadcast %d not found", ErrBroadcastNotFound, broadcastID)
	}
	return nil
}

// ToDeliveryItem converts a delivery row for responses
func ToDeliveryItem(row *models.BroadcastDelivery) dto.DeliveryItem {
	var sentAt *string
	if row.SentAt != nil {
		sentAt = utils.ToPtr(row.SentAt.UTC().Format(time.RFC3339))
	}
	return dto.DeliveryItem{
		ID:           row.ID,
		BroadcastID:  row.BroadcastID,
		UserID:       row.UserID,
		Status:       row.Status.String(),
		Attempts:     row.Attempts,
		ErrorCode:    row.ErrorCode,
		ErrorMessage: row.ErrorMessage,
		MessageID:    row.MessageID,
		SentAt:       sentAt,
		CreatedAt:    row.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    row.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func missingIDs(chunk, existing []int64) []int64 {
	if len(existing) == 0 {
		return chunk
	}
	seen := make(map[int64]struct{}, len(existing))
	for _, uid := range existing {
		seen[uid] = struct{}{}
	}
	out := make([]int64, 0, max(len(chunk)-len(existing), 0))
	for _, uid := range chunk {
		if _, ok := seen[uid]; !ok {
			out = append(out, uid)
		}
	}
	return out
}

func truncateRunes(s *string, n int) *string {
	if s == nil {
		return nil
	}
	r := []rune(*s)
	if len(r) <= n {
		return s
	}
	return utils.ToPtr(string(r[:n]))
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatOptionalInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
