package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"queueworker/internal/codec"
	"queueworker/internal/queue"
)

// EnqueueRequest is the body of POST /v1/queues/:name/messages.
type EnqueueRequest struct {
	Payload     any    `json:"payload"`
	Serializer  string `json:"serializer,omitempty"`
	Compression string `json:"compression,omitempty"`
}

// QueueHandler handles HTTP requests that put messages on queues.
type QueueHandler struct {
	registry *queue.Registry
	logger   *slog.Logger
}

// NewQueueHandler creates a new queue handler.
func NewQueueHandler(registry *queue.Registry, logger *slog.Logger) *QueueHandler {
	return &QueueHandler{
		registry: registry,
		logger:   logger,
	}
}

// Enqueue handles POST /v1/queues/:name/messages
// Puts the payload on the named queue with the requested codec.
func (h *QueueHandler) Enqueue(c *fiber.Ctx) error {
	name := c.Params("name")
	if name == "" {
		return BadRequest(c, "queue name is required")
	}

	var req EnqueueRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Debug("failed to parse enqueue body", "error", err)
		return BadRequest(c, "invalid request body")
	}
	if req.Payload == nil {
		return ValidationError(c, "payload is required")
	}

	handle, err := h.registry.Resolve(c.Context(), name, req.Serializer, req.Compression)
	if err != nil {
		if errors.Is(err, codec.ErrUnknownSerializer) || errors.Is(err, codec.ErrUnknownCompression) {
			return ValidationError(c, err.Error())
		}
		h.logger.Error("failed to resolve queue", "queue", name, "error", err)
		return InternalError(c, "failed to open queue")
	}

	if err := handle.Put(c.Context(), req.Payload); err != nil {
		h.logger.Error("failed to enqueue message", "queue", name, "error", err)
		return InternalError(c, "failed to enqueue message")
	}

	h.logger.Debug("message enqueued", "queue", name)
	return Accepted(c, map[string]string{
		"status":      "accepted",
		"queue":       name,
		"serializer":  handle.Serializer(),
		"compression": handle.Compression(),
	})
}
