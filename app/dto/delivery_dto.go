package dto

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/amirphl/broadcast-hub/utils"
)

// MaterializeDeliveriesRequest selects the audience to materialize.
// IDs win over Target; when both are empty the stored target is used.
type MaterializeDeliveriesRequest struct {
	IDs    []int64                `json:"ids,omitempty"`
	Target *AudienceTargetRequest `json:"target,omitempty"`
	Limit  *int                   `json:"limit,omitempty" validate:"omitempty,gte=0"`
}

type MaterializeDeliveriesResponse struct {
	Total   int `json:"total"`
	Created int `json:"created"`
	Existed int `json:"existed"`
}

// ReportedUserID accepts any JSON scalar. Values that are not integers
// decode without error and are marked invalid.
type ReportedUserID struct {
	Value int64
	Valid bool
}

func (id *ReportedUserID) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		*id = ReportedUserID{}
		return nil
	}

	id.Value, id.Valid = utils.ToInt64(raw)
	return nil
}

func (id ReportedUserID) MarshalJSON() ([]byte, error) {
	if !id.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(id.Value)
}

// DeliveryReportItem is one delivery outcome reported by the sender
type DeliveryReportItem struct {
	UserID       ReportedUserID `json:"user_id"`
	Status       string         `json:"status" validate:"required,oneof=pending sent failed skipped"`
	MessageID    *int64         `json:"message_id,omitempty"`
	ErrorCode    *string        `json:"error_code,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	SentAt       *time.Time     `json:"sent_at,omitempty"`
	// AttemptInc of nil or 0 counts as one attempt
	AttemptInc   *int           `json:"attempt_inc,omitempty" validate:"omitempty,gte=0"`
}

type ReportDeliveriesRequest struct {
	Items []DeliveryReportItem `json:"items" validate:"dive"`
}

type ReportDeliveriesResponse struct {
	Processed int `json:"processed"`
	Updated   int `json:"updated"`
	Inserted  int `json:"inserted"`
}

// ListDeliveriesRequest represents query parameters for listing deliveries
type ListDeliveriesRequest struct {
	Status *string `query:"status" validate:"omitempty,oneof=pending sent failed skipped"`
	Limit  int     `query:"limit" validate:"omitempty,min=1,max=1000"`
	Offset int     `query:"offset" validate:"omitempty,min=0"`
}

type DeliveryItem struct {
	ID           uint    `json:"id"`
	BroadcastID  uint    `json:"broadcast_id"`
	UserID       int64   `json:"user_id"`
	Status       string  `json:"status"`
	Attempts     int     `json:"attempts"`
	ErrorCode    *string `json:"error_code,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	MessageID    *int64  `json:"message_id,omitempty"`
	SentAt       *string `json:"sent_at,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

type ListDeliveriesResponse struct {
	Items        []DeliveryItem   `json:"items"`
	Total        int64            `json:"total"`
	StatusCounts map[string]int64 `json:"status_counts"`
}
