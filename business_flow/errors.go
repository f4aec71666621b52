// Package businessflow contains the core business logic for audiences, broadcasts and deliveries
package businessflow

import (
	"errors"
	"fmt"
)

// ErrValidation is wrapped by every error caused by bad caller input
var ErrValidation = errors.New("validation failed")

// Business flow error constants
var (
	// Audience SQL errors
	ErrAudienceSQLEmpty            = fmt.Errorf("%w: sql must not be empty", ErrValidation)
	ErrAudienceSQLNotSelect        = fmt.Errorf("%w: only SELECT statements are allowed", ErrValidation)
	ErrAudienceSQLForbiddenKeyword = fmt.Errorf("%w: sql contains a forbidden keyword", ErrValidation)
	ErrAudienceSQLMissingUserID    = fmt.Errorf("%w: sql must return a user_id column", ErrValidation)
	ErrAudienceSQLTooLong          = fmt.Errorf("%w: sql is too long", ErrValidation)

	// Audience target errors
	ErrUnknownTargetType     = fmt.Errorf("%w: unknown target type", ErrValidation)
	ErrUnknownBroadcastKind  = fmt.Errorf("%w: unknown broadcast kind", ErrValidation)
	ErrTargetPayloadMissing  = fmt.Errorf("%w: target payload is missing", ErrValidation)
	ErrAudienceSourceMissing = fmt.Errorf("%w: no ids, target or stored target available", ErrValidation)

	// Broadcast errors
	ErrBroadcastNotFound       = errors.New("broadcast not found")
	ErrBroadcastTargetNotFound = errors.New("broadcast target not found")
	ErrInvalidBroadcastStatus  = fmt.Errorf("%w: invalid broadcast status", ErrValidation)
	ErrBroadcastUpdateRequired = fmt.Errorf("%w: at least one field must be provided for update", ErrValidation)

	// Delivery errors
	ErrInvalidDeliveryStatus  = fmt.Errorf("%w: invalid delivery status", ErrValidation)
	ErrMaterializeInProgress  = errors.New("materialize already in progress for this broadcast")
	ErrDatabase               = errors.New("database error")
	ErrDeliveriesExportFailed = errors.New("deliveries export failed")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

// databaseError marks a storage failure while keeping the driver error in the chain
func databaseError(code, message string, err error) *BusinessError {
	return NewBusinessError(code, message, fmt.Errorf("%w: %w", ErrDatabase, err))
}

func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsBroadcastNotFound(err error) bool {
	return errors.Is(err, ErrBroadcastNotFound)
}

func IsBroadcastTargetNotFound(err error) bool {
	return errors.Is(err, ErrBroadcastTargetNotFound)
}

func IsNotFound(err error) bool {
	return IsBroadcastNotFound(err) || IsBroadcastTargetNotFound(err)
}

func IsMaterializeInProgress(err error) bool {
	return errors.Is(err, ErrMaterializeInProgress)
}

func IsConflict(err error) bool {
	return IsMaterializeInProgress(err)
}

func IsDatabaseError(err error) bool {
	return errors.Is(err, ErrDatabase)
}

func IsAudienceSQLForbiddenKeyword(err error) bool {
	return errors.Is(err, ErrAudienceSQLForbiddenKeyword)
}

func IsUnknownTargetType(err error) bool {
	return errors.Is(err, ErrUnknownTargetType)
}

func IsUnknownBroadcastKind(err error) bool {
	return errors.Is(err, ErrUnknownBroadcastKind)
}

func IsAudienceSourceMissing(err error) bool {
	return errors.Is(err, ErrAudienceSourceMissing)
}

// ErrorCode returns the business code carried by err, or fallback
func ErrorCode(err error, fallback string) string {
	var be *BusinessError
	if errors.As(err, &be) && be.Code != "" {
		return be.Code
	}
	return fallback
}

// ErrorMessage returns the business message carried by err, or fallback
func ErrorMessage(err error, fallback string) string {
	var be *BusinessError
	if errors.As(err, &be) && be.Message != "" {
		return be.Message
	}
	return fallback
}
