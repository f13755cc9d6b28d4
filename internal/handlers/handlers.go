// Package handlers provides the processing callbacks the queueworker
// binary can run without custom code.
package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"queueworker/internal/config"
	"queueworker/internal/consumer"
)

// Names accepted by Lookup.
const (
	NameForward = "forward"
	NameLog     = "log"
)

// Forward returns a handler that copies every payload to each route.
func Forward(routes []config.RouteConfig) consumer.Handler {
	return func(_ context.Context, payload any) ([]consumer.Outgoing, error) {
		return fanOut(routes, payload), nil
	}
}

// ForwardBatch forwards each payload of a batch to each route, payload
// by payload.
func ForwardBatch(routes []config.RouteConfig) consumer.BatchHandler {
	return func(_ context.Context, payloads []any) ([]consumer.Outgoing, error) {
		out := make([]consumer.Outgoing, 0, len(payloads)*len(routes))
		for _, p := range payloads {
			out = append(out, fanOut(routes, p)...)
		}
		return out, nil
	}
}

func fanOut(routes []config.RouteConfig, payload any) []consumer.Outgoing {
	out := make([]consumer.Outgoing, 0, len(routes))
	for _, r := range routes {
		out = append(out, consumer.Outgoing{
			Queue:       r.Queue,
			Payload:     payload,
			Serializer:  r.Serializer,
			Compression: r.Compression,
		})
	}
	return out
}

// Log returns a handler that logs every payload and forwards nothing.
func Log(logger *slog.Logger) consumer.Handler {
	return func(_ context.Context, payload any) ([]consumer.Outgoing, error) {
		logger.Info("received message", "payload", payload)
		return nil, nil
	}
}

// LogBatch logs the size and payloads of every batch.
func LogBatch(logger *slog.Logger) consumer.BatchHandler {
	return func(_ context.Context, payloads []any) ([]consumer.Outgoing, error) {
		logger.Info("received batch", "batch_size", len(payloads), "payloads", payloads)
		return nil, nil
	}
}

// Lookup returns the single and batch handlers registered under name.
// An empty name picks forward when routes are configured and log otherwise.
func Lookup(name string, routes []config.RouteConfig, logger *slog.Logger) (consumer.Handler, consumer.BatchHandler, error) {
	if name == "" {
		name = NameLog
		if len(routes) > 0 {
			name = NameForward
		}
	}

	switch name {
	case NameForward:
		if len(routes) == 0 {
			return nil, nil, fmt.Errorf("handler %q needs at least one route", name)
		}
		return Forward(routes), ForwardBatch(routes), nil
	case NameLog:
		return Log(logger), LogBatch(logger), nil
	default:
		return nil, nil, fmt.Errorf("unknown handler %q", name)
	}
}
