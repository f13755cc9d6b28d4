package api

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"queueworker/internal/consumer"
	"queueworker/internal/pause"
)

// StatusSource reports the state of a consumer.
type StatusSource interface {
	Status() consumer.Status
}

// ConsumerHandler handles HTTP requests for consumer status and pause control.
type ConsumerHandler struct {
	status StatusSource
	gate   pause.Switch
	logger *slog.Logger
}

// NewConsumerHandler creates a new consumer handler. gate may be nil, in
// which case pause and resume are not supported.
func NewConsumerHandler(status StatusSource, gate pause.Switch, logger *slog.Logger) *ConsumerHandler {
	return &ConsumerHandler{
		status: status,
		gate:   gate,
		logger: logger,
	}
}

// Status handles GET /v1/status
func (h *ConsumerHandler) Status(c *fiber.Ctx) error {
	return Success(c, h.status.Status())
}

// Pause handles POST /v1/pause
// The consumer stops before its next receive; work in progress finishes.
func (h *ConsumerHandler) Pause(c *fiber.Ctx) error {
	return h.setPaused(c, true)
}

// Resume handles POST /v1/resume
func (h *ConsumerHandler) Resume(c *fiber.Ctx) error {
	return h.setPaused(c, false)
}

func (h *ConsumerHandler) setPaused(c *fiber.Ctx, paused bool) error {
	if h.gate == nil {
		return Conflict(c, "pause control is not configured")
	}
	if err := h.gate.SetPaused(c.Context(), paused); err != nil {
		h.logger.Error("failed to set pause state", "paused", paused, "error", err)
		return InternalError(c, "failed to set pause state")
	}

	h.logger.Info("pause state changed", "paused", paused)
	return Accepted(c, map[string]bool{"paused": paused})
}
