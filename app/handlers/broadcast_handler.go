package handlers

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/amirphl/broadcast-hub/app/dto"
	businessflow "github.com/amirphl/broadcast-hub/business_flow"
)

// BroadcastHandlerInterface defines broadcast and target management endpoints
type BroadcastHandlerInterface interface {
	Create(c fiber.Ctx) error
	Get(c fiber.Ctx) error
	List(c fiber.Ctx) error
	Update(c fiber.Ctx) error
	Delete(c fiber.Ctx) error
	SendNow(c fiber.Ctx) error
	GetTarget(c fiber.Ctx) error
	PutTarget(c fiber.Ctx) error
}

// BroadcastHandler handles broadcast management
type BroadcastHandler struct {
	flow      businessflow.BroadcastFlow
	validator *validator.Validate
}

func NewBroadcastHandler(flow businessflow.BroadcastFlow) BroadcastHandlerInterface {
	return &BroadcastHandler{
		flow:      flow,
		validator: validator.New(),
	}
}

// Create creates a broadcast
// @Summary Create broadcast
// @Tags Broadcasts
// @Accept json
// @Produce json
// @Param request body dto.CreateBroadcastRequest true "Broadcast"
// @Success 201 {object} dto.APIResponse{data=dto.BroadcastDTO}
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Router /api/v1/broadcasts [post]
func (h *BroadcastHandler) Create(c fiber.Ctx) error {
	var req dto.CreateBroadcastRequest
	if err := c.Bind().JSON(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationDetails(err))
	}

	ctx, cancel := createRequestContext(c, "/api/v1/broadcasts", defaultRequestTimeout)
	defer cancel()

	res, err := h.flow.CreateBroadcast(ctx, &req)
	if err != nil {
		return flowErrorResponse(c, err, "Failed to create broadcast", "CREATE_BROADCAST_FAILED")
	}

	return successResponse(c, fiber.StatusCreated, "Broadcast created", res)
}

// Get returns one broadcast
// @Summary Get broadcast
// @Tags Broadcasts
// @Produce json
// @Param id path int true "Broadcast ID"
// @Success 200 {object} dto.APIResponse{data=dto.BroadcastDTO}
// @Failure 404 {object} dto.APIResponse "Broadcast not found"
// @Router /api/v1/broadcasts/{id} [get]
func (h *BroadcastHandler) Get(c fiber.Ctx) error {
	id, err := parseBroadcastID(c)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error(), "INVALID_BROADCAST_ID", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/broadcasts/:id", defaultRequestTimeout)
	defer cancel()

	res, err := h.flow.GetBroadcast(ctx, id)
	if err != nil {
		return flowErrorResponse(c, err, "Failed to get broadcast", "GET_BROADCAST_FAILED")
	}

	return successResponse(c, fiber.StatusOK, "Broadcast retrieved", res)
}

// List returns broadcasts newest first
// @Summary List broadcasts
// @Tags Broadcasts
// @Produce json
// @Param kind query string false "Kind"
// @Param status query string false "Status"
// @Param enabled query bool false "Enabled"
// @Param limit query int false "Page size (1-1000, default 100)"
// @Param offset query int false "Offset"
// @Success 200 {object} dto.APIResponse{data=dto.ListBroadcastsResponse}
// @Router /api/v1/broadcasts [get]
func (h *BroadcastHandler) List(c fiber.Ctx) error {
	var req dto.ListBroadcastsRequest
	if err := c.Bind().Query(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationDetails(err))
	}

	ctx, cancel := createRequestContext(c, "/api/v1/broadcasts", defaultRequestTimeout)
	defer cancel()

	res, err := h.flow.ListBroadcasts(ctx, &req)
	if err != nil {
		return flowErrorResponse(c, err, "Failed to list broadcasts", "LIST_BROADCASTS_FAILED")
	}

	return successResponse(c, fiber.StatusOK, "Broadcasts retrieved", res)
}

// Update patches a broadcast
// @Summary Update broadcast
// @Tags Broadcasts
// @Accept json
// @Produce json
// @Param id path int true "Broadcast ID"
// @Param request body dto.UpdateBroadcastRequest true "Fields to change"
// @Success 200 {object} dto.APIResponse{data=dto.BroadcastDTO}
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 404 {object} dto.APIResponse "Broadcast not found"
// @Router /api/v1/broadcasts/{id} [patch]
func (h *BroadcastHandler) Update(c fiber.Ctx) error {
	id, err := parseBroadcastID(c)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error(), "INVALID_BROADCAST_ID", nil)
	}

	var req dto.UpdateBroadcastRequest
	if err := c.Bind().JSON(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationDetails(err))
	}

	ctx, cancel := createRequestContext(c, "/api/v1/broadcasts/:id", defaultRequestTimeout)
	defer cancel()

	res, err := h.flow.UpdateBroadcast(ctx, id, &req)
	if err != nil {
		return flowErrorResponse(c, err, "Failed to update broadcast", "UPDATE_BROADCAST_FAILED")
	}

	return successResponse(c, fiber.StatusOK, "Broadcast updated", res)
}

// Delete removes a broadcast with its target and deliveries
// @Summary Delete broadcast
// @Tags Broadcasts
// @Produce json
// @Param id path int true "Broadcast ID"
// @Success 200 {object} dto.APIResponse
// @Failure 404 {object} dto.APIResponse "Broadcast not found"
// @Router /api/v1/broadcasts/{id} [delete]
func (h *BroadcastHandler) Delete(c fiber.Ctx) error {
	id, err := parseBroadcastID(c)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error(), "INVALID_BROADCAST_ID", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/broadcasts/:id", defaultRequestTimeout)
	defer cancel()

	if err := h.flow.DeleteBroadcast(ctx, id); err != nil {
		return flowErrorResponse(c, err, "Failed to delete broadcast", "DELETE_BROADCAST_FAILED")
	}

	return successResponse(c, fiber.StatusOK, "Broadcast deleted", fiber.Map{"id": id})
}

// SendNow schedules a broadcast for immediate dispatch
// @Summary Send broadcast now
// @Tags Broadcasts
// @Produce json
// @Param id path int true "Broadcast ID"
// @Success 200 {object} dto.APIResponse{data=dto.SendNowResponse}
// @Failure 404 {object} dto.APIResponse "Broadcast not found"
// @Router /api/v1/broadcasts/{id}/send-now [post]
func (h *BroadcastHandler) SendNow(c fiber.Ctx) error {
	id, err := parseBroadcastID(c)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error(), "INVALID_BROADCAST_ID", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/broadcasts/:id/send-now", defaultRequestTimeout)
	defer cancel()

	res, err := h.flow.SendNow(ctx, id)
	if err != nil {
		return flowErrorResponse(c, err, "Failed to schedule broadcast", "SEND_NOW_FAILED")
	}

	return successResponse(c, fiber.StatusOK, "Broadcast scheduled", res)
}

// GetTarget returns the stored audience target
// @Summary Get broadcast target
// @Tags Broadcasts
// @Produce json
// @Param id path int true "Broadcast ID"
// @Success 200 {object} dto.APIResponse{data=dto.BroadcastTargetDTO}
// @Failure 404 {object} dto.APIResponse "Broadcast or target not found"
// @Router /api/v1/broadcasts/{id}/target [get]
func (h *BroadcastHandler) GetTarget(c fiber.Ctx) error {
	id, err := parseBroadcastID(c)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error(), "INVALID_BROADCAST_ID", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/broadcasts/:id/target", defaultRequestTimeout)
	defer cancel()

	res, err := h.flow.GetTarget(ctx, id)
	if err != nil {
		return flowErrorResponse(c, err, "Failed to get broadcast target", "GET_TARGET_FAILED")
	}

	return successResponse(c, fiber.StatusOK, "Broadcast target retrieved", res)
}

// PutTarget replaces the stored audience target
// @Summary Replace broadcast target
// @Tags Broadcasts
// @Accept json
// @Produce json
// @Param id path int true "Broadcast ID"
// @Param request body dto.AudienceTargetRequest true "Target"
// @Success 200 {object} dto.APIResponse{data=dto.BroadcastTargetDTO}
// @Failure 400 {object} dto.APIResponse "Invalid target or SQL"
// @Failure 404 {object} dto.APIResponse "Broadcast not found"
// @Router /api/v1/broadcasts/{id}/target [put]
func (h *BroadcastHandler) PutTarget(c fiber.Ctx) error {
	id, err := parseBroadcastID(c)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error(), "INVALID_BROADCAST_ID", nil)
	}

	var req dto.AudienceTargetRequest
	if err := c.Bind().JSON(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationDetails(err))
	}

	ctx, cancel := createRequestContext(c, "/api/v1/broadcasts/:id/target", defaultRequestTimeout)
	defer cancel()

	res, err := h.flow.PutTarget(ctx, id, &req)
	if err != nil {
		return flowErrorResponse(c, err, "Failed to store broadcast target", "PUT_TARGET_FAILED")
	}

	return successResponse(c, fiber.StatusOK, "Broadcast target stored", res)
}
