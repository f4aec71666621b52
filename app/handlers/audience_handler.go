package handlers

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/amirphl/broadcast-hub/app/dto"
	businessflow "github.com/amirphl/broadcast-hub/business_flow"
)

// AudienceHandlerInterface defines the audience endpoints
type AudienceHandlerInterface interface {
	Preview(c fiber.Ctx) error
	Resolve(c fiber.Ctx) error
}

// AudienceHandler handles audience preview and resolution
type AudienceHandler struct {
	flow      businessflow.AudienceFlow
	validator *validator.Validate
}

func NewAudienceHandler(flow businessflow.AudienceFlow) AudienceHandlerInterface {
	return &AudienceHandler{
		flow:      flow,
		validator: validator.New(),
	}
}

// Preview resolves a bounded audience and returns its size and a sample
// @Summary Preview audience
// @Tags Audiences
// @Accept json
// @Produce json
// @Param request body dto.AudiencePreviewRequest true "Target and optional limit"
// @Success 200 {object} dto.APIResponse{data=dto.AudiencePreviewResponse}
// @Failure 400 {object} dto.APIResponse "Invalid target or SQL"
// @Failure 500 {object} dto.APIResponse "Resolution failed"
// @Router /api/v1/audiences/preview [post]
func (h *AudienceHandler) Preview(c fiber.Ctx) error {
	var req dto.AudiencePreviewRequest
	if err := c.Bind().JSON(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationDetails(err))
	}

	ctx, cancel := createRequestContext(c, "/api/v1/audiences/preview", defaultRequestTimeout)
	defer cancel()

	res, err := h.flow.Preview(ctx, &req)
	if err != nil {
		return flowErrorResponse(c, err, "Audience preview failed", "AUDIENCE_PREVIEW_FAILED")
	}

	return successResponse(c, fiber.StatusOK, "Audience preview generated", res)
}

// Resolve returns every user id of a target
// @Summary Resolve audience
// @Tags Audiences
// @Accept json
// @Produce json
// @Param request body dto.AudienceResolveRequest true "Target and optional limit"
// @Success 200 {object} dto.APIResponse{data=dto.AudienceResolveResponse}
// @Failure 400 {object} dto.APIResponse "Invalid target or SQL"
// @Failure 500 {object} dto.APIResponse "Resolution failed"
// @Router /api/v1/audiences/resolve [post]
func (h *AudienceHandler) Resolve(c fiber.Ctx) error {
	var req dto.AudienceResolveRequest
	if err := c.Bind().JSON(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationDetails(err))
	}

	ctx, cancel := createRequestContext(c, "/api/v1/audiences/resolve", bulkRequestTimeout)
	defer cancel()

	res, err := h.flow.Resolve(ctx, &req)
	if err != nil {
		return flowErrorResponse(c, err, "Audience resolution failed", "AUDIENCE_RESOLVE_FAILED")
	}

	return successResponse(c, fiber.StatusOK, "Audience resolved", res)
}
