// Package consumer implements the consume loop: it pulls units of work
// from one source queue, hands them to a processing callback, forwards
// the callback's outgoing messages and settles every received message
// exactly once.
//
// Two modes are provided. RunForever processes one message at a time.
// BatchedRunForever collects messages into a batch that is processed as
// one atomic unit. Both loops run until their context is cancelled and
// finish the unit of work in progress before returning.
package consumer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"queueworker/internal/metrics"
	"queueworker/internal/pause"
	"queueworker/internal/queue"
)

// Run modes reported by Status.
const (
	ModeIdle   = "idle"
	ModeSingle = "single"
	ModeBatch  = "batch"
)

// Default option values.
const (
	DefaultPauseDelay    = 5 * time.Second
	DefaultMetricsPrefix = "queue_util"
)

// Handler processes one payload and returns the messages to forward.
type Handler func(ctx context.Context, payload any) ([]Outgoing, error)

// BatchHandler processes the payloads of a batch in receive order.
type BatchHandler func(ctx context.Context, payloads []any) ([]Outgoing, error)

// ExceptionHook is called with every processing or dispatch error.
type ExceptionHook func(ctx context.Context, err error)

// PostHook is called after a unit of work was acked. In batch mode the
// payload is the []any handed to the BatchHandler.
type PostHook func(ctx context.Context, payload any)

// Options configures a Consumer.
type Options struct {
	Queue        string
	Handler      Handler
	BatchHandler BatchHandler
	Broker       queue.Broker

	// Serializer and Compression are the defaults for the source queue
	// and for outgoing messages without overrides.
	Serializer  string
	Compression string

	PauseDelay time.Duration
	PauseGate  pause.Gate

	// Reporter takes precedence over MetricsSink. With neither set
	// metrics are disabled.
	Reporter      *metrics.Reporter
	MetricsSink   metrics.Sink
	MetricsPrefix string
	WorkerID      string

	// Fate flags. Nil means the default: requeue on, reject off.
	RequeueOnFailure *bool
	RejectOnFailure  *bool

	ExceptionHook ExceptionHook
	PostHook      PostHook

	// Backoff builds the retry policy for failed receives.
	// Defaults to exponential backoff without a deadline.
	Backoff func() backoff.BackOff

	Logger *slog.Logger
}

// DefaultOptions returns options with the documented defaults: a 5s
// pause delay, requeue on failure and the "queue_util" metrics prefix.
func DefaultOptions() Options {
	return Options{
		PauseDelay:       DefaultPauseDelay,
		MetricsPrefix:    DefaultMetricsPrefix,
		RequeueOnFailure: Bool(true),
		RejectOnFailure:  Bool(false),
	}
}

// Bool returns a pointer to v, for the fate flags of Options.
func Bool(v bool) *bool {
	return &v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// Consumer consumes one source queue. Run at most one of RunForever or
// BatchedRunForever at a time; Status and Registry are safe to call from
// other goroutines.
type Consumer struct {
	queue        string
	handler      Handler
	batchHandler BatchHandler
	registry     *queue.Registry
	gate         pause.Gate
	pauseDelay   time.Duration
	reporter     *metrics.Reporter
	fate         Fate
	onException  ExceptionHook
	onSuccess    PostHook
	newBackoff   func() backoff.BackOff
	logger       *slog.Logger

	// sleep waits while paused; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	batchSeq uint64

	running   atomic.Bool
	paused    atomic.Bool
	mode      atomic.Value
	received  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64

	mu      sync.Mutex
	lastErr string
}

// New validates opts and creates a consumer with its own handle registry.
func New(opts Options) (*Consumer, error) {
	if opts.Queue == "" {
		return nil, ErrNoQueue
	}
	if opts.Broker == nil {
		return nil, ErrNoBroker
	}
	if opts.Handler == nil && opts.BatchHandler == nil {
		return nil, ErrNoHandler
	}

	if opts.PauseDelay <= 0 {
		opts.PauseDelay = DefaultPauseDelay
	}
	if opts.PauseGate == nil {
		opts.PauseGate = pause.Never{}
	}
	if opts.MetricsPrefix == "" {
		opts.MetricsPrefix = DefaultMetricsPrefix
	}
	if opts.Reporter == nil && opts.MetricsSink != nil {
		ns := metrics.Namespace(opts.MetricsPrefix, opts.Queue, "", opts.WorkerID)
		opts.Reporter = metrics.NewReporter(opts.MetricsSink, ns)
	}
	if opts.Backoff == nil {
		opts.Backoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 0
			return b
		}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Consumer{
		queue:        opts.Queue,
		handler:      opts.Handler,
		batchHandler: opts.BatchHandler,
		registry:     queue.NewRegistry(opts.Broker, opts.Serializer, opts.Compression),
		gate:         opts.PauseGate,
		pauseDelay:   opts.PauseDelay,
		reporter:     opts.Reporter,
		fate:         FateFor(boolOr(opts.RequeueOnFailure, true), boolOr(opts.RejectOnFailure, false)),
		onException:  opts.ExceptionHook,
		onSuccess:    opts.PostHook,
		newBackoff:   opts.Backoff,
		logger:       opts.Logger.With("queue", opts.Queue),
		sleep:        sleepContext,
	}
	c.mode.Store(ModeIdle)
	return c, nil
}

// Registry returns the consumer's handle registry.
func (c *Consumer) Registry() *queue.Registry {
	return c.registry
}

// Fate returns the policy applied to failed units of work.
func (c *Consumer) Fate() Fate {
	return c.fate
}

// Close closes every queue handle the consumer opened. The broker is
// left open.
func (c *Consumer) Close() error {
	return c.registry.Close()
}

// Status is a point-in-time snapshot of a consumer.
type Status struct {
	Queue     string `json:"queue"`
	Mode      string `json:"mode"`
	Running   bool   `json:"running"`
	Paused    bool   `json:"paused"`
	Fate      string `json:"fate"`
	Namespace string `json:"metrics_namespace,omitempty"`
	Received  int64  `json:"received"`
	Succeeded int64  `json:"succeeded"`
	Failed    int64  `json:"failed"`
	LastError string `json:"last_error,omitempty"`
}

// Status returns the current state and counters. Succeeded and Failed
// count units of work: messages in single mode, batches in batch mode.
func (c *Consumer) Status() Status {
	c.mu.Lock()
	lastErr := c.lastErr
	c.mu.Unlock()

	return Status{
		Queue:     c.queue,
		Mode:      c.mode.Load().(string),
		Running:   c.running.Load(),
		Paused:    c.paused.Load(),
		Fate:      c.fate.String(),
		Namespace: c.reporter.Namespace(),
		Received:  c.received.Load(),
		Succeeded: c.succeeded.Load(),
		Failed:    c.failed.Load(),
		LastError: lastErr,
	}
}

func (c *Consumer) start(mode string) {
	c.mode.Store(mode)
	c.running.Store(true)
	c.logger.Info("consumer started", "mode", mode, "fate", c.fate.String())
}

func (c *Consumer) stop() {
	c.running.Store(false)
	c.paused.Store(false)
	c.mode.Store(ModeIdle)
	c.logger.Info("consumer stopped",
		"received", c.received.Load(),
		"succeeded", c.succeeded.Load(),
		"failed", c.failed.Load(),
	)
}

func (c *Consumer) recordError(err error) {
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
}
