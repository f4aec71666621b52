package businessflow

import (
	"context"

	"github.com/amirphl/broadcast-hub/app/dto"
	"github.com/amirphl/broadcast-hub/repository"
	"github.com/amirphl/broadcast-hub/utils"
)

// AudienceLimits bounds audience queries
type AudienceLimits struct {
	PreviewDefault int
	PreviewMax     int
	SampleSize     int
	ResolveCeiling int
	ChunkSize      int
}

// DefaultAudienceLimits returns the built-in bounds
func DefaultAudienceLimits() AudienceLimits {
	return AudienceLimits{
		PreviewDefault: utils.AudiencePreviewDefaultLimit,
		PreviewMax:     utils.AudiencePreviewMaxLimit,
		SampleSize:     utils.AudiencePreviewSampleSize,
		ResolveCeiling: utils.AudienceResolveCeiling,
		ChunkSize:      utils.DeliveryChunkSize,
	}
}

func (l AudienceLimits) withDefaults() AudienceLimits {
	d := DefaultAudienceLimits()
	if l.PreviewDefault <= 0 {
		l.PreviewDefault = d.PreviewDefault
	}
	if l.PreviewMax <= 0 {
		l.PreviewMax = d.PreviewMax
	}
	if l.SampleSize <= 0 {
		l.SampleSize = d.SampleSize
	}
	if l.ResolveCeiling <= 0 {
		l.ResolveCeiling = d.ResolveCeiling
	}
	if l.ChunkSize <= 0 {
		l.ChunkSize = d.ChunkSize
	}
	return l
}

// AudienceResolver turns a target into an ordered list of distinct positive user ids
type AudienceResolver interface {
	ResolveTarget(ctx context.Context, target AudienceTarget, limit *int) ([]int64, error)
}

// AudienceFlow handles audience preview and resolution
type AudienceFlow interface {
	AudienceResolver
	Preview(ctx context.Context, req *dto.AudiencePreviewRequest) (*dto.AudiencePreviewResponse, error)
	Resolve(ctx context.Context, req *dto.AudienceResolveRequest) (*dto.AudienceResolveResponse, error)
}

type AudienceFlowImpl struct {
	subscriptionRepo repository.UserSubscriptionRepository
	guard            *AudienceSQLGuard
	limits           AudienceLimits
}

func NewAudienceFlow(
	subscriptionRepo repository.UserSubscriptionRepository,
	guard *AudienceSQLGuard,
	limits AudienceLimits,
) AudienceFlow {
	return &AudienceFlowImpl{
		subscriptionRepo: subscriptionRepo,
		guard:            guard,
		limits:           limits.withDefaults(),
	}
}

// ResolveTarget resolves a target. A nil or non-positive limit means no limit,
// except for SQL targets which are always bounded by the resolve ceiling.
func (f *AudienceFlowImpl) ResolveTarget(ctx context.Context, target AudienceTarget, limit *int) ([]int64, error) {
	n := 0
	if limit != nil && *limit > 0 {
		n = *limit
	}

	ids, err := f.resolve(ctx, target, n)

	targetType := "unknown"
	if target != nil {
		targetType = target.TargetType().String()
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	audienceResolutionsTotal.WithLabelValues(targetType, outcome).Inc()

	return ids, err
}

func (f *AudienceFlowImpl) resolve(ctx context.Context, target AudienceTarget, n int) ([]int64, error) {
	switch t := target.(type) {
	case IDsTarget:
		return utils.UniquePositive(t.UserIDs, n), nil

	case KindTarget:
		if !t.Kind.Valid() {
			return nil, NewBusinessErrorf("AUDIENCE_KIND_UNKNOWN", "Unknown kind %q", ErrUnknownBroadcastKind, t.Kind)
		}
		rows, err := f.subscriptionRepo.SubscribedUserIDs(ctx, t.Kind, n)
		if err != nil {
			return nil, databaseError("AUDIENCE_KIND_QUERY_FAILED", "Failed to load subscribers", err)
		}
		return utils.UniquePositive(rows, n), nil

	case SQLTarget:
		sqlLimit := f.limits.ResolveCeiling
		if n > 0 && n < sqlLimit {
			sqlLimit = n
		}
		rows, err := f.guard.ExecutePreview(ctx, t.SQL, sqlLimit)
		if err != nil {
			return nil, err
		}
		return utils.UniquePositive(rows, n), nil

	default:
		return nil, NewBusinessError("AUDIENCE_TARGET_TYPE_UNKNOWN", "Unsupported target type", ErrUnknownTargetType)
	}
}

// Preview resolves a bounded audience and returns its size with a small sample
func (f *AudienceFlowImpl) Preview(ctx context.Context, req *dto.AudiencePreviewRequest) (*dto.AudiencePreviewResponse, error) {
	target, err := TargetFromRequest(req.Target)
	if err != nil {
		return nil, err
	}

	limit := f.limits.PreviewDefault
	if req.Limit != nil && *req.Limit > 0 {
		limit = *req.Limit
	}
	if limit > f.limits.PreviewMax {
		limit = f.limits.PreviewMax
	}

	ids, err := f.ResolveTarget(ctx, target, &limit)
	if err != nil {
		return nil, err
	}

	sample := ids
	if len(sample) > f.limits.SampleSize {
		sample = sample[:f.limits.SampleSize]
	}

	return &dto.AudiencePreviewResponse{
		Total:  len(ids),
		Sample: sample,
	}, nil
}

// Resolve returns the full audience of a target
func (f *AudienceFlowImpl) Resolve(ctx context.Context, req *dto.AudienceResolveRequest) (*dto.AudienceResolveResponse, error) {
	target, err := TargetFromRequest(req.Target)
	if err != nil {
		return nil, err
	}

	ids, err := f.ResolveTarget(ctx, target, req.Limit)
	if err != nil {
		return nil, err
	}

	return &dto.AudienceResolveResponse{
		Total: len(ids),
		IDs:   ids,
	}, nil
}

// validateTarget checks a target without resolving it
func validateTarget(target AudienceTarget) error {
	switch t := target.(type) {
	case IDsTarget:
		return nil
	case KindTarget:
		if !t.Kind.Valid() {
			return NewBusinessErrorf("AUDIENCE_KIND_UNKNOWN", "Unknown kind %q", ErrUnknownBroadcastKind, t.Kind)
		}
		return nil
	case SQLTarget:
		return ValidateAudienceSQL(t.SQL)
	default:
		return NewBusinessError("AUDIENCE_TARGET_TYPE_UNKNOWN", "Unsupported target type", ErrUnknownTargetType)
	}
}
