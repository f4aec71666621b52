package dto

import "time"

type BroadcastFileDTO struct {
	FileID string `json:"file_id" validate:"required"`
	Type   string `json:"type" validate:"required,oneof=photo video document audio animation"`
}

type BroadcastContentDTO struct {
	Text  string             `json:"text" validate:"required,max=4096"`
	Files []BroadcastFileDTO `json:"files,omitempty" validate:"omitempty,dive"`
}

// CreateBroadcastRequest represents the payload to create a broadcast
type CreateBroadcastRequest struct {
	Kind        string              `json:"kind" validate:"required,oneof=news meetings important"`
	Title       *string             `json:"title,omitempty" validate:"omitempty,max=255"`
	Content     BroadcastContentDTO `json:"content" validate:"required"`
	Status      *string             `json:"status,omitempty" validate:"omitempty,oneof=draft scheduled sending sent failed"`
	ScheduledAt *time.Time          `json:"scheduled_at,omitempty"`
	Schedule    *string             `json:"schedule,omitempty" validate:"omitempty,max=255"`
	Enabled     *bool               `json:"enabled,omitempty"`
	CreatedBy   *int64              `json:"created_by,omitempty"`
}

// UpdateBroadcastRequest holds a partial update; nil fields are left unchanged
type UpdateBroadcastRequest struct {
	Kind        *string              `json:"kind,omitempty" validate:"omitempty,oneof=news meetings important"`
	Title       *string              `json:"title,omitempty" validate:"omitempty,max=255"`
	Content     *BroadcastContentDTO `json:"content,omitempty" validate:"omitempty"`
	Status      *string              `json:"status,omitempty" validate:"omitempty,oneof=draft scheduled sending sent failed"`
	ScheduledAt *time.Time           `json:"scheduled_at,omitempty"`
	Schedule    *string              `json:"schedule,omitempty" validate:"omitempty,max=255"`
	Enabled     *bool                `json:"enabled,omitempty"`
}

type BroadcastDTO struct {
	ID          uint                `json:"id"`
	Kind        string              `json:"kind"`
	Title       *string             `json:"title,omitempty"`
	Content     BroadcastContentDTO `json:"content"`
	Status      string              `json:"status"`
	ScheduledAt *string             `json:"scheduled_at,omitempty"`
	Schedule    *string             `json:"schedule,omitempty"`
	Enabled     bool                `json:"enabled"`
	CreatedBy   *int64              `json:"created_by,omitempty"`
	CreatedAt   string              `json:"created_at"`
	UpdatedAt   string              `json:"updated_at"`
}

// ListBroadcastsRequest represents query parameters for listing broadcasts
type ListBroadcastsRequest struct {
	Kind    *string `query:"kind" validate:"omitempty,oneof=news meetings important"`
	Status  *string `query:"status" validate:"omitempty,oneof=draft scheduled sending sent failed"`
	Enabled *bool   `query:"enabled"`
	Limit   int     `query:"limit" validate:"omitempty,min=1,max=1000"`
	Offset  int     `query:"offset" validate:"omitempty,min=0"`
}

type ListBroadcastsResponse struct {
	Items []BroadcastDTO `json:"items"`
	Total int64          `json:"total"`
}

type BroadcastTargetDTO struct {
	BroadcastID uint    `json:"broadcast_id"`
	Type        string  `json:"type"`
	UserIDs     []int64 `json:"user_ids,omitempty"`
	SQL         *string `json:"sql,omitempty"`
	Kind        *string `json:"kind,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

type SendNowResponse struct {
	ID          uint   `json:"id"`
	Status      string `json:"status"`
	ScheduledAt string `json:"scheduled_at"`
}
