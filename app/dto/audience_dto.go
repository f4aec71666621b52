package dto

// AudienceTargetRequest is an audience definition. Type selects which of
// UserIDs, SQL or Kind is read.
type AudienceTargetRequest struct {
	Type    string  `json:"type" validate:"required"`
	UserIDs []int64 `json:"user_ids,omitempty"`
	SQL     *string `json:"sql,omitempty"`
	Kind    *string `json:"kind,omitempty"`
}

// AudiencePreviewRequest represents the payload to preview an audience
type AudiencePreviewRequest struct {
	Target *AudienceTargetRequest `json:"target" validate:"required"`
	Limit  *int                   `json:"limit,omitempty"`
}

type AudiencePreviewResponse struct {
	Total  int     `json:"total"`
	Sample []int64 `json:"sample"`
}

// AudienceResolveRequest represents the payload to resolve an audience
type AudienceResolveRequest struct {
	Target *AudienceTargetRequest `json:"target" validate:"required"`
	Limit  *int                   `json:"limit,omitempty"`
}

type AudienceResolveResponse struct {
	Total int     `json:"total"`
	IDs   []int64 `json:"ids"`
}
