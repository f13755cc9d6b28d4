// Package main is the entry point for queueworker.
// It consumes one queue with a built-in handler and serves the admin API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"queueworker/internal/banner"
	"queueworker/internal/broker"
	"queueworker/internal/config"
	"queueworker/internal/queue"
)

func main() {
	app := &cli.App{
		Name:    "queueworker",
		Usage:   "consume a queue, process messages and forward the results",
		Version: banner.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config/config.yaml",
				Usage:   "path to configuration file",
				EnvVars: []string{"QUEUEWORKER_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			runCommand,
			batchCommand,
			putCommand,
			pauseCommand,
			resumeCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "process messages one at a time",
	Action: func(c *cli.Context) error {
		return serve(c, func(ctx context.Context, deps *dependencies) error {
			return deps.consumer.RunForever(ctx)
		})
	},
}

var batchCommand = &cli.Command{
	Name:  "batch",
	Usage: "process messages in batches",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "size", Usage: "maximum batch size (default from config)"},
		&cli.DurationFlag{Name: "wait", Usage: "receive timeout that flushes a partial batch (default from config)"},
	},
	Action: func(c *cli.Context) error {
		return serve(c, func(ctx context.Context, deps *dependencies) error {
			size := deps.cfg.Consumer.Batch.Size
			if c.IsSet("size") {
				size = c.Int("size")
			}
			wait := deps.cfg.Consumer.Batch.WaitTimeout
			if c.IsSet("wait") {
				wait = c.Duration("wait")
			}
			return deps.consumer.BatchedRunForever(ctx, size, wait)
		})
	},
}

var putCommand = &cli.Command{
	Name:      "put",
	Usage:     "put a message on a queue",
	ArgsUsage: "<queue> <payload>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "serializer", Usage: "serializer name (default from config)"},
		&cli.StringFlag{Name: "compression", Usage: "compression name (default from config)"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return errors.New("put takes a queue name and a payload")
		}
		cfg, logger, err := setup(c)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
		defer cancel()

		b, err := broker.Open(ctx, &cfg.Broker, logger)
		if err != nil {
			return err
		}
		defer b.Close()

		registry := queue.NewRegistry(b, cfg.Consumer.Serializer, cfg.Consumer.Compression)
		defer registry.Close()

		h, err := registry.Resolve(ctx, c.Args().Get(0), c.String("serializer"), c.String("compression"))
		if err != nil {
			return err
		}
		if err := h.Put(ctx, parsePayload(c.Args().Get(1))); err != nil {
			return err
		}
		logger.Info("message enqueued", "queue", h.Name(), "serializer", h.Serializer(), "compression", h.Compression())
		return nil
	},
}

var pauseCommand = &cli.Command{
	Name:  "pause",
	Usage: "pause every worker watching the redis pause flag",
	Action: func(c *cli.Context) error {
		return setPauseFlag(c, true)
	},
}

var resumeCommand = &cli.Command{
	Name:  "resume",
	Usage: "resume every worker watching the redis pause flag",
	Action: func(c *cli.Context) error {
		return setPauseFlag(c, false)
	},
}

// setup loads the configuration and creates the logger.
func setup(c *cli.Context) (*config.Config, *slog.Logger, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	logger := initLogger(&cfg.Logger)
	logger.Debug("configuration loaded", "path", path, "broker", cfg.Broker.Address)
	return cfg, logger, nil
}

// serve wires the dependencies, starts the admin server and metrics
// pusher, and runs loop until SIGINT or SIGTERM.
func serve(c *cli.Context, loop func(ctx context.Context, deps *dependencies) error) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Create context that listens for shutdown signals
	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	deps, cleanup, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", "error", err)
		return err
	}
	defer cleanup()

	banner.Print(os.Stderr, cfg.Consumer.Queue)

	if deps.server != nil {
		go func() {
			if err := deps.server.Start(); err != nil {
				logger.Error("server error", "error", err)
				cancel()
			}
		}()
	}

	pusherDone := make(chan struct{})
	if deps.pusher != nil {
		go func() {
			deps.pusher.Run(ctx)
			close(pusherDone)
		}()
	} else {
		close(pusherDone)
	}

	logger.Info("queueworker started",
		"queue", cfg.Consumer.Queue,
		"broker", broker.Redacted(cfg.Broker.Address),
		"admin", cfg.Admin.Enabled,
	)

	loopErr := loop(ctx, deps)
	cancel()
	logger.Info("consumer loop finished, shutting down")

	if deps.server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Admin.WriteTimeout)
		defer shutdownCancel()
		if err := deps.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}
	<-pusherDone

	logger.Info("queueworker stopped", "status", deps.consumer.Status())
	return loopErr
}

func setPauseFlag(c *cli.Context, paused bool) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}

	flag, closeFlag, err := newPauseFlag(cfg, logger)
	if err != nil {
		return err
	}
	if flag == nil {
		return errors.New("pause.redis_address is not configured")
	}
	defer closeFlag()

	if err := flag.SetPaused(c.Context, paused); err != nil {
		return fmt.Errorf("failed to set pause flag: %w", err)
	}
	logger.Info("pause flag updated", "key", cfg.Pause.RedisKey, "paused", paused)
	return nil
}

// parsePayload decodes arg as JSON and falls back to the raw string.
func parsePayload(arg string) any {
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err != nil {
		return arg
	}
	return v
}

// initLogger creates and configures the application logger.
func initLogger(cfg *config.LoggerConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}
