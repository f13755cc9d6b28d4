// Package broker selects and connects the queue backend named by the
// scheme of the configured broker address.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"queueworker/internal/config"
	"queueworker/internal/queue"
	"queueworker/internal/queue/amqp"
	"queueworker/internal/queue/kafka"
	"queueworker/internal/queue/memory"
	"queueworker/internal/queue/nats"
	"queueworker/internal/queue/postgres"
	"queueworker/internal/queue/redis"
)

// ErrUnsupportedScheme is returned for a broker address no backend handles.
var ErrUnsupportedScheme = errors.New("unsupported broker scheme")

// Scheme returns the lower-cased scheme of a broker address.
func Scheme(address string) (string, error) {
	if !strings.Contains(address, "://") {
		return "", fmt.Errorf("%w: %q has no scheme", ErrUnsupportedScheme, address)
	}
	// kafka://host1,host2 is not a valid URL host, so split by hand.
	scheme, _, _ := strings.Cut(address, "://")
	if scheme == "" {
		return "", fmt.Errorf("%w: %q has no scheme", ErrUnsupportedScheme, address)
	}
	return strings.ToLower(scheme), nil
}

// Open connects the backend selected by cfg.Address.
func Open(ctx context.Context, cfg *config.BrokerConfig, logger *slog.Logger) (queue.Broker, error) {
	scheme, err := Scheme(cfg.Address)
	if err != nil {
		return nil, err
	}

	logger.Info("opening broker", "scheme", scheme, "address", Redacted(cfg.Address))

	switch scheme {
	case "memory":
		return memory.NewBroker(cfg.Memory.BufferSize), nil
	case "redis", "rediss":
		return redis.NewBroker(ctx, cfg.Address, cfg)
	case "kafka":
		return kafka.NewBroker(cfg.Address, &cfg.Kafka, logger)
	case "nats", "tls":
		return nats.NewBroker(ctx, cfg.Address, cfg, logger)
	case "amqp", "amqps":
		return amqp.NewBroker(cfg.Address, cfg, logger)
	case "postgres", "postgresql":
		return postgres.NewBroker(ctx, cfg.Address, cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}
}

// Redacted hides the password of an address for logging.
func Redacted(address string) string {
	u, err := url.Parse(address)
	if err != nil || u.User == nil {
		return address
	}
	return u.Redacted()
}
