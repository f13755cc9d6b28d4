package integration

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"queueworker/internal/consumer"
	"queueworker/internal/metrics"
	"queueworker/internal/queue"
	"queueworker/internal/queue/memory"
)

// countingSink counts Reporter events by name.
type countingSink struct {
	mu     sync.Mutex
	counts map[string]int
}

func (s *countingSink) Incr(_, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[name]++
}

func (s *countingSink) Timing(string, string, time.Duration) {}

func (s *countingSink) Count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[name]
}

func put(b queue.Broker, name string, payloads ...any) {
	h, err := queue.NewRegistry(b, "", "").Resolve(context.Background(), name, "", "")
	Expect(err).NotTo(HaveOccurred())
	for _, p := range payloads {
		Expect(h.Put(context.Background(), p)).To(Succeed())
	}
}

func takeAll(b queue.Broker, name string) []any {
	h, err := queue.NewRegistry(b, "", "").Resolve(context.Background(), name, "", "")
	Expect(err).NotTo(HaveOccurred())
	var out []any
	for {
		msg, err := h.Get(context.Background(), false, 0)
		if err != nil {
			return out
		}
		out = append(out, msg.Payload())
		Expect(msg.Ack(context.Background())).To(Succeed())
	}
}

func settleActions(b *memory.Broker, name string) []memory.Action {
	var out []memory.Action
	for _, s := range b.Settlements(name) {
		out = append(out, s.Action)
	}
	return out
}

var _ = Describe("Consumer flow", func() {
	var (
		broker *memory.Broker
		sink   *countingSink
		opts   consumer.Options
		ctx    context.Context
		cancel context.CancelFunc
		done   chan error
	)

	start := func(loop func(c *consumer.Consumer) error) *consumer.Consumer {
		c, err := consumer.New(opts)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(c.Close)

		done = make(chan error, 1)
		go func() { done <- loop(c) }()
		return c
	}

	stop := func() {
		cancel()
		Eventually(done, 5*time.Second).Should(Receive(BeNil()))
	}

	BeforeEach(func() {
		broker = memory.NewBroker(100)
		sink = &countingSink{counts: make(map[string]int)}
		ctx, cancel = context.WithCancel(context.Background())

		opts = consumer.DefaultOptions()
		opts.Queue = "in"
		opts.Broker = broker
		opts.MetricsSink = sink
		opts.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	})

	AfterEach(func() {
		cancel()
	})

	Context("single-message mode", func() {
		It("acks a message whose callback returns nothing", func() {
			opts.Handler = func(context.Context, any) ([]consumer.Outgoing, error) { return nil, nil }
			put(broker, "in", "hello")
			start(func(c *consumer.Consumer) error { return c.RunForever(ctx) })

			Eventually(func() []memory.Action { return settleActions(broker, "in") }).
				Should(Equal([]memory.Action{memory.ActionAck}))
			stop()
			Expect(sink.Count(metrics.EventSuccess)).To(Equal(1))
		})

		It("forwards outgoing messages and acks the original", func() {
			opts.Handler = func(_ context.Context, payload any) ([]consumer.Outgoing, error) {
				if payload != "in" {
					return nil, errors.New("unexpected payload")
				}
				return []consumer.Outgoing{{Queue: "out_queue", Payload: "X", Serializer: "msgpack", Compression: "zstd"}}, nil
			}
			put(broker, "in", "in")
			start(func(c *consumer.Consumer) error { return c.RunForever(ctx) })

			Eventually(func() int { return broker.Len("out_queue") }).Should(Equal(1))
			Eventually(func() []memory.Action { return settleActions(broker, "in") }).
				Should(Equal([]memory.Action{memory.ActionAck}))
			stop()
			Expect(takeAll(broker, "out_queue")).To(Equal([]any{"X"}))
		})

		It("requeues a failing message and never acks it", func() {
			var calls int
			var mu sync.Mutex
			opts.Handler = func(context.Context, any) ([]consumer.Outgoing, error) {
				mu.Lock()
				defer mu.Unlock()
				calls++
				if calls == 1 {
					return nil, errors.New("bad payload")
				}
				return nil, nil
			}
			put(broker, "in", "bad")
			start(func(c *consumer.Consumer) error { return c.RunForever(ctx) })

			Eventually(func() []memory.Action { return settleActions(broker, "in") }).
				Should(Equal([]memory.Action{memory.ActionRequeue, memory.ActionAck}))
			stop()
			Expect(sink.Count(metrics.EventFailure)).To(Equal(1))
			Expect(sink.Count(metrics.EventSuccess)).To(Equal(1))
		})
	})

	Context("batched mode", func() {
		var (
			mu      sync.Mutex
			batches [][]any
		)

		BeforeEach(func() {
			batches = nil
			opts.BatchHandler = func(_ context.Context, payloads []any) ([]consumer.Outgoing, error) {
				mu.Lock()
				defer mu.Unlock()
				batches = append(batches, payloads)
				return nil, nil
			}
		})

		recorded := func() [][]any {
			mu.Lock()
			defer mu.Unlock()
			return append([][]any(nil), batches...)
		}

		It("processes a full batch in one callback", func() {
			put(broker, "in", "a", "b", "c")
			start(func(c *consumer.Consumer) error { return c.BatchedRunForever(ctx, 3, time.Second) })

			Eventually(recorded).Should(Equal([][]any{{"a", "b", "c"}}))
			Eventually(func() int { return len(broker.Settlements("in")) }).Should(Equal(3))
			stop()
			Expect(settleActions(broker, "in")).To(HaveEach(memory.ActionAck))
			Expect(sink.Count(metrics.EventSuccess)).To(Equal(1))
		})

		It("flushes a short batch when the queue runs dry", func() {
			put(broker, "in", "x", "y")
			start(func(c *consumer.Consumer) error { return c.BatchedRunForever(ctx, 5, 50*time.Millisecond) })

			Eventually(recorded).Should(Equal([][]any{{"x", "y"}}))
			Consistently(recorded, 200*time.Millisecond).Should(HaveLen(1))
			stop()
		})

		It("requeues every message of a failed batch", func() {
			opts.BatchHandler = func(context.Context, []any) ([]consumer.Outgoing, error) {
				return nil, errors.New("batch failed")
			}
			opts.ExceptionHook = func(context.Context, error) { cancel() }
			put(broker, "in", "a", "b")
			start(func(c *consumer.Consumer) error { return c.BatchedRunForever(ctx, 2, time.Second) })

			Eventually(done, 5*time.Second).Should(Receive(BeNil()))
			Expect(settleActions(broker, "in")).To(Equal([]memory.Action{memory.ActionRequeue, memory.ActionRequeue}))
			Expect(broker.Len("in")).To(Equal(2))
			Expect(sink.Count(metrics.EventFailure)).To(Equal(1))
		})
	})
})
