package businessflow

import (
	"time"

	"github.com/amirphl/broadcast-hub/app/dto"
	"github.com/amirphl/broadcast-hub/models"
	"github.com/amirphl/broadcast-hub/utils"
)

// AudienceTarget is one of IDsTarget, KindTarget or SQLTarget
type AudienceTarget interface {
	TargetType() models.BroadcastTargetType
	sealed()
}

// IDsTarget is a literal list of user ids
type IDsTarget struct {
	UserIDs []int64
}

// KindTarget selects every user subscribed to a segment
type KindTarget struct {
	Kind models.BroadcastKind
}

// SQLTarget selects user ids with a guarded SQL fragment
type SQLTarget struct {
	SQL string
}

func (IDsTarget) TargetType() models.BroadcastTargetType  { return models.BroadcastTargetTypeIDs }
func (KindTarget) TargetType() models.BroadcastTargetType { return models.BroadcastTargetTypeKind }
func (SQLTarget) TargetType() models.BroadcastTargetType  { return models.BroadcastTargetTypeSQL }

func (IDsTarget) sealed()  {}
func (KindTarget) sealed() {}
func (SQLTarget) sealed()  {}

// TargetFromRequest converts the wire form into a target
func TargetFromRequest(req *dto.AudienceTargetRequest) (AudienceTarget, error) {
	if req == nil {
		return nil, NewBusinessError("AUDIENCE_TARGET_REQUIRED", "Target is required", ErrTargetPayloadMissing)
	}

	switch models.BroadcastTargetType(req.Type) {
	case models.BroadcastTargetTypeIDs:
		return IDsTarget{UserIDs: req.UserIDs}, nil
	case models.BroadcastTargetTypeKind:
		if req.Kind == nil {
			return nil, NewBusinessError("AUDIENCE_TARGET_KIND_REQUIRED", "Kind is required for kind targets", ErrTargetPayloadMissing)
		}
		return KindTarget{Kind: models.BroadcastKind(*req.Kind)}, nil
	case models.BroadcastTargetTypeSQL:
		var sql string
		if req.SQL != nil {
			sql = *req.SQL
		}
		return SQLTarget{SQL: sql}, nil
	default:
		return nil, NewBusinessErrorf("AUDIENCE_TARGET_TYPE_UNKNOWN", "Unknown target type %q", ErrUnknownTargetType, req.Type)
	}
}

// TargetFromModel converts a stored target row
func TargetFromModel(row *models.BroadcastTarget) (AudienceTarget, error) {
	switch row.Type {
	case models.BroadcastTargetTypeIDs:
		return IDsTarget{UserIDs: []int64(row.UserIDs)}, nil
	case models.BroadcastTargetTypeKind:
		if row.Kind == nil {
			return nil, NewBusinessError("AUDIENCE_TARGET_KIND_REQUIRED", "Stored kind target has no kind", ErrTargetPayloadMissing)
		}
		return KindTarget{Kind: *row.Kind}, nil
	case models.BroadcastTargetTypeSQL:
		var sql string
		if row.SQLText != nil {
			sql = *row.SQLText
		}
		return SQLTarget{SQL: sql}, nil
	default:
		return nil, NewBusinessErrorf("AUDIENCE_TARGET_TYPE_UNKNOWN", "Unknown stored target type %q", ErrUnknownTargetType, row.Type)
	}
}

// TargetToModel builds the row stored for a broadcast
func TargetToModel(broadcastID uint, target AudienceTarget) *models.BroadcastTarget {
	row := &models.BroadcastTarget{
		BroadcastID: broadcastID,
		Type:        target.TargetType(),
		CreatedAt:   utils.UTCNow(),
	}

	switch t := target.(type) {
	case IDsTarget:
		row.UserIDs = utils.UniquePositive(t.UserIDs, 0)
	case KindTarget:
		row.Kind = utils.ToPtr(t.Kind)
	case SQLTarget:
		row.SQLText = utils.ToPtr(t.SQL)
	}

	return row
}

// ToBroadcastTargetDTO converts a stored target for responses
func ToBroadcastTargetDTO(row *models.BroadcastTarget) dto.BroadcastTargetDTO {
	out := dto.BroadcastTargetDTO{
		BroadcastID: row.BroadcastID,
		Type:        row.Type.String(),
		SQL:         row.SQLText,
		CreatedAt:   row.CreatedAt.Format(time.RFC3339),
	}
	if len(row.UserIDs) > 0 {
		out.UserIDs = []int64(row.UserIDs)
	}
	if row.Kind != nil {
		out.Kind = utils.ToPtr(row.Kind.String())
	}
	return out
}
