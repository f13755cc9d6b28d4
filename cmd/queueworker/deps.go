package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"queueworker/internal/api"
	"queueworker/internal/broker"
	"queueworker/internal/config"
	"queueworker/internal/consumer"
	"queueworker/internal/handlers"
	"queueworker/internal/metrics"
	"queueworker/internal/pause"
)

// dependencies holds all initialized service dependencies.
type dependencies struct {
	cfg      *config.Config
	consumer *consumer.Consumer
	server   *api.Server
	pusher   *metrics.Pusher
}

// initDependencies creates and wires all service dependencies based on config.
// Returns the dependencies and a cleanup function.
func initDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*dependencies, func(), error) {
	var cleanupFuncs []func()
	cleanup := func() {
		for i := len(cleanupFuncs) - 1; i >= 0; i-- {
			cleanupFuncs[i]()
		}
	}

	// Broker
	b, err := broker.Open(ctx, &cfg.Broker, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanupFuncs = append(cleanupFuncs, func() {
		if err := b.Close(); err != nil {
			logger.Error("broker close error", "error", err)
		}
	})

	// Pause gate: the shared redis flag when configured, an in-process switch otherwise
	gate, closeFlag, err := newPauseFlag(cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if gate != nil {
		cleanupFuncs = append(cleanupFuncs, closeFlag)
	} else {
		gate = &pause.Manual{}
	}

	// Processing callback
	handler, batchHandler, err := handlers.Lookup(cfg.Consumer.Handler, cfg.Routes, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var sink metrics.Sink
	if cfg.Metrics.SinkAddress != "" {
		sink = metrics.NewPrometheusSink(reg, cfg.Metrics.Prefix)
	}

	c, err := consumer.New(consumer.Options{
		Queue:            cfg.Consumer.Queue,
		Handler:          handler,
		BatchHandler:     batchHandler,
		Broker:           b,
		Serializer:       cfg.Consumer.Serializer,
		Compression:      cfg.Consumer.Compression,
		PauseDelay:       cfg.Consumer.PauseDelay,
		PauseGate:        gate,
		MetricsSink:      sink,
		MetricsPrefix:    cfg.Metrics.Prefix,
		WorkerID:         cfg.Consumer.WorkerID,
		RequeueOnFailure: cfg.Consumer.RequeueOnFailure,
		RejectOnFailure:  cfg.Consumer.RejectOnFailure,
		Logger:           logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	// Registry close runs before broker close.
	cleanupFuncs = append(cleanupFuncs, func() {
		if err := c.Close(); err != nil {
			logger.Error("registry close error", "error", err)
		}
	})

	deps := &dependencies{cfg: cfg, consumer: c}

	if sink != nil {
		ns := metrics.Namespace(cfg.Metrics.Prefix, cfg.Consumer.Queue, "", cfg.Consumer.WorkerID)
		deps.pusher = metrics.NewPusher(cfg.Metrics.SinkAddress, cfg.Metrics.Job, ns, reg, cfg.Metrics.PushInterval, logger)
	}

	if cfg.Admin.Enabled {
		deps.server = api.NewServer(api.ServerDeps{
			Config:          &cfg.Admin,
			Logger:          logger,
			Gatherer:        reg,
			ConsumerHandler: api.NewConsumerHandler(c, gate, logger),
			QueueHandler:    api.NewQueueHandler(c.Registry(), logger),
		})
	}

	return deps, cleanup, nil
}

// newPauseFlag connects the redis pause flag. It returns a nil switch
// when pause.redis_address is empty.
func newPauseFlag(cfg *config.Config, logger *slog.Logger) (pause.Switch, func(), error) {
	if cfg.Pause.RedisAddress == "" {
		return nil, func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.Pause.RedisAddress)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse pause redis address: %w", err)
	}
	client := redis.NewClient(opts)
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Error("pause redis close error", "error", err)
		}
	}

	return pause.NewRedisFlag(client, cfg.Pause.RedisKey, logger), closeFn, nil
}
