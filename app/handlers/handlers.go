// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/rs/zerolog/log"

	"github.com/amirphl/broadcast-hub/app/dto"
	businessflow "github.com/amirphl/broadcast-hub/business_flow"
	"github.com/amirphl/broadcast-hub/utils"
)

const (
	defaultRequestTimeout = 30 * time.Second
	bulkRequestTimeout    = 5 * time.Minute
)

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "min":
		return err.Field() + " must be at least " + err.Param()
	case "max":
		return err.Field() + " must be at most " + err.Param()
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", err.Field(), err.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", err.Field(), err.Param())
	default:
		return err.Field() + " is invalid"
	}
}

// validationDetails renders every field error of a failed validation
func validationDetails(err error) []string {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return []string{err.Error()}
	}
	details := make([]string, 0, len(fieldErrors))
	for _, e := range fieldErrors {
		details = append(details, getValidationErrorMessage(e))
	}
	return details
}

func errorResponse(c fiber.Ctx, status int, message, code string, details any) error {
	return c.Status(status).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    code,
			Details: details,
		},
	})
}

func successResponse(c fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// flowErrorResponse maps a business flow error onto the response envelope.
// Validation errors are 400, missing resources 404, a running materialize 409.
func flowErrorResponse(c fiber.Ctx, err error, fallbackMessage, fallbackCode string) error {
	code := businessflow.ErrorCode(err, fallbackCode)

	switch {
	case businessflow.IsValidationError(err):
		return errorResponse(c, fiber.StatusBadRequest, businessflow.ErrorMessage(err, "Validation failed"), code, nil)
	case businessflow.IsNotFound(err):
		return errorResponse(c, fiber.StatusNotFound, businessflow.ErrorMessage(err, "Not found"), code, nil)
	case businessflow.IsConflict(err):
		return errorResponse(c, fiber.StatusConflict, businessflow.ErrorMessage(err, "Conflict"), code, nil)
	}

	log.Error().
		Err(err).
		Str("request_id", requestid.FromContext(c)).
		Str("path", c.Path()).
		Msg(fallbackMessage)
	return errorResponse(c, fiber.StatusInternalServerError, fallbackMessage, fallbackCode, nil)
}

// createRequestContext creates a context with request-scoped values for observability and timeout
func createRequestContext(c fiber.Ctx, endpoint string, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	ctx = context.WithValue(ctx, utils.RequestIDKey, requestid.FromContext(c))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, timeout)
	if principal, ok := c.Locals(utils.PrincipalKey).(string); ok {
		ctx = context.WithValue(ctx, utils.PrincipalKey, principal)
	}

	return ctx, cancel
}

// parseBroadcastID reads the :id path parameter
func parseBroadcastID(c fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("broadcast id must be a positive integer")
	}
	return uint(id), nil
}
