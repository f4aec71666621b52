package handlers

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/amirphl/broadcast-hub/app/dto"
	businessflow "github.com/amirphl/broadcast-hub/business_flow"
)

// DeliveryHandlerInterface defines the delivery endpoints of a broadcast
type DeliveryHandlerInterface interface {
	Materialize(c fiber.Ctx) error
	Report(c fiber.Ctx) error
	ListDeliveries(c fiber.Ctx) error
	ExportDeliveries(c fiber.Ctx) error
}

// DeliveryHandler handles delivery materialization and reporting
type DeliveryHandler struct {
	flow      businessflow.DeliveryFlow
	validator *validator.Validate
}

func NewDeliveryHandler(flow businessflow.DeliveryFlow) DeliveryHandlerInterface {
	return &DeliveryHandler{
		flow:      flow,
		validator: validator.New(),
	}
}

// Materialize creates pending deliveries for the broadcast audience
// @Summary Materialize deliveries
// @Tags Deliveries
// @Accept json
// @Produce json
// @Param id path int true "Broadcast ID"
// @Param request body dto.MaterializeDeliveriesRequest true "Inline ids, inline target or nothing for the stored target"
// @Success 200 {object} dto.APIResponse{data=dto.MaterializeDeliveriesResponse}
// @Failure 400 {object} dto.APIResponse "Invalid audience"
// @Failure 404 {object} dto.APIResponse "Broadcast not found"
// @Failure 409 {object} dto.APIResponse "Materialize already running"
// @Failure 500 {object} dto.APIResponse "Materialize failed"
// @Router /api/v1/broadcasts/{id}/deliveries/materialize [post]
func (h *DeliveryHandler) Materialize(c fiber.Ctx) error {
	broadcastID, err := parseBroadcastID(c)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error(), "INVALID_BROADCAST_ID", nil)
	}

	var req dto.MaterializeDeliveriesRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return errorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
	}
	if err := h.validator.Struct(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationDetails(err))
	}

	ctx, cancel := createRequestContext(c, "/api/v1/broadcasts/:id/deliveries/materialize", bulkRequestTimeout)
	defer cancel()

	res, err := h.flow.Materialize(ctx, broadcastID, &req)
	if err != nil {
		return flowErrorResponse(c, err, "Failed to materialize deliveries", "MATERIALIZE_FAILED")
	}

	return successResponse(c, fiber.StatusOK, "Deliveries materialized", res)
}

// Report applies delivery outcomes reported by the sender
// @Summary Report delivery outcomes
// @Tags Deliveries
// @Accept json
// @Produce json
// @Param id path int true "Broadcast ID"
// @Param request body dto.ReportDeliveriesRequest true "Delivery outcomes"
// @Success 200 {object} dto.APIResponse{data=dto.ReportDeliveriesResponse}
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 404 {object} dto.APIResponse "Broadcast not found"
// @Failure 500 {object} dto.APIResponse "Report failed"
// @Router /api/v1/broadcasts/{id}/deliveries/report [post]
func (h *DeliveryHandler) Report(c fiber.Ctx) error {
	broadcastID, err := parseBroadcastID(c)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error(), "INVALID_BROADCAST_ID", nil)
	}

	var req dto.ReportDeliveriesRequest
	if err := c.Bind().JSON(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationDetails(err))
	}

	ctx, cancel := createRequestContext(c, "/api/v1/broadcasts/:id/deliveries/report", bulkRequestTimeout)
	defer cancel()

	res, err := h.flow.Report(ctx, broadcastID, &req)
	if err != nil {
		return flowErrorResponse(c, err, "Failed to apply delivery report", "REPORT_FAILED")
	}

	return successResponse(c, fiber.StatusOK, "Delivery report applied", res)
}

// ListDeliveries returns a page of the broadcast's deliveries
// @Summary List deliveries
// @Tags Deliveries
// @Produce json
// @Param id path int true "Broadcast ID"
// @Param status query string false "Delivery status"
// @Param limit query int false "Page size (1-1000, default 200)"
// @Param offset query int false "Offset"
// @Success 200 {object} dto.APIResponse{data=dto.ListDeliveriesResponse}
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 404 {object} dto.APIResponse "Broadcast not found"
// @Router /api/v1/broadcasts/{id}/deliveries [get]
func (h *DeliveryHandler) ListDeliveries(c fiber.Ctx) error {
	broadcastID, err := parseBroadcastID(c)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error(), "INVALID_BROADCAST_ID", nil)
	}

	var req dto.ListDeliveriesRequest
	if err := c.Bind().Query(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationDetails(err))
	}

	ctx, cancel := createRequestContext(c, "/api/v1/broadcasts/:id/deliveries", defaultRequestTimeout)
	defer cancel()

	res, err := h.flow.ListDeliveries(ctx, broadcastID, &req)
	if err != nil {
		return flowErrorResponse(c, err, "Failed to list deliveries", "LIST_DELIVERIES_FAILED")
	}

	return successResponse(c, fiber.StatusOK, "Deliveries retrieved", res)
}

// ExportDeliveries downloads every delivery of the broadcast as xlsx
// @Summary Export deliveries
// @Tags Deliveries
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param id path int true "Broadcast ID"
// @Success 200 {file} file
// @Failure 404 {object} dto.APIResponse "Broadcast not found"
// @Router /api/v1/broadcasts/{id}/deliveries/export [get]
func (h *DeliveryHandler) ExportDeliveries(c fiber.Ctx) error {
	broadcastID, err := parseBroadcastID(c)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error(), "INVALID_BROADCAST_ID", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/broadcasts/:id/deliveries/export", bulkRequestTimeout)
	defer cancel()

	filename, content, err := h.flow.ExportDeliveries(ctx, broadcastID)
	if err != nil {
		return flowErrorResponse(c, err, "Failed to export deliveries", "EXPORT_DELIVERIES_FAILED")
	}

	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Status(fiber.StatusOK).Send(content)
}
