package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"waitroom/internal/domain"
	"waitroom/internal/dto"
	"waitroom/internal/metrics"
	"waitroom/internal/service"
	"waitroom/pkg/telemetry"
)

// QueueHandler handles waiting queue HTTP requests
type QueueHandler struct {
	queueService service.QueueService
}

// NewQueueHandler creates a new queue handler
func NewQueueHandler(queueService service.QueueService) *QueueHandler {
	return &QueueHandler{
		queueService: queueService,
	}
}

// SubmitEntry handles POST /api/queue/entry
func (h *QueueHandler) SubmitEntry(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.queue.entry")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	start := time.Now()
	defer func() {
		metrics.RecordRequestDuration("entry", time.Since(start).Seconds())
	}()

	var req dto.EntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		metrics.RecordEntryRequest("rejected")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid request",
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		})
		return
	}

	span.SetAttributes(attribute.String("nickname", req.Nickname))

	result, err := h.queueService.SubmitEntry(ctx, req.Nickname)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordEntryRequest("rejected")
		h.handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	metrics.RecordEntryRequest("accepted")
	c.JSON(http.StatusCreated, result)
}

// QueryStatus handles GET /api/queue/status
func (h *QueueHandler) QueryStatus(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.queue.status")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	start := time.Now()
	defer func() {
		metrics.RecordRequestDuration("status", time.Since(start).Seconds())
	}()

	userID := c.Query("userId")
	if userID == "" {
		span.SetStatus(codes.Error, "userId required")
		metrics.RecordStatusRequest("rejected")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "userId required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	span.SetAttributes(attribute.String("user_id", userID))

	result, err := h.queueService.QueryStatus(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordStatusRequest("error")
		h.handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	metrics.RecordStatusRequest(result.Status)
	c.JSON(http.StatusOK, result)
}

// GetTicket handles GET /api/queue/ticket/:ticket_id
func (h *QueueHandler) GetTicket(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.queue.ticket")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	start := time.Now()
	defer func() {
		metrics.RecordRequestDuration("ticket", time.Since(start).Seconds())
	}()

	ticketID := c.Param("ticket_id")
	if ticketID == "" {
		span.SetStatus(codes.Error, "ticket_id required")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "ticket_id required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	span.SetAttributes(attribute.String("ticket_id", ticketID))

	result, err := h.queueService.GetTicket(ctx, ticketID, c.Query("token"))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, result)
}

// handleError converts domain errors to HTTP responses
func (h *QueueHandler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidNickname):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_NICKNAME",
		})
	case errors.Is(err, domain.ErrInvalidUserID):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_USER_ID",
		})
	case errors.Is(err, domain.ErrInvalidTicketID):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_TICKET_ID",
		})
	case errors.Is(err, domain.ErrNotInQueue):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{
			Error: err.Error(),
			Code:  "NOT_IN_QUEUE",
		})
	case errors.Is(err, domain.ErrTicketNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{
			Error: err.Error(),
			Code:  "TICKET_NOT_FOUND",
		})
	case errors.Is(err, domain.ErrNoLongerWaiting):
		c.JSON(http.StatusGone, dto.ErrorResponse{
			Error: err.Error(),
			Code:  "NO_LONGER_WAITING",
		})
	case errors.Is(err, domain.ErrInvalidAdmissionToken):
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_ADMISSION_TOKEN",
		})
	case errors.Is(err, domain.ErrTicketMismatch):
		c.JSON(http.StatusForbidden, dto.ErrorResponse{
			Error: err.Error(),
			Code:  "TICKET_MISMATCH",
		})
	case errors.Is(err, domain.ErrEnqueueFailed), errors.Is(err, domain.ErrCorruptTicket):
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error: "internal server error",
			Code:  "INTERNAL_ERROR",
		})
	default:
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{
			Error: "service unavailable",
			Code:  "SERVICE_UNAVAILABLE",
		})
	}
}
