package consumer

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"queueworker/internal/queue"
	"queueworker/internal/queue/memory"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newBufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// recordingSink counts Reporter events by name.
type recordingSink struct {
	mu      sync.Mutex
	counts  map[string]int
	timings int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{counts: make(map[string]int)}
}

func (s *recordingSink) Incr(_, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[name]++
}

func (s *recordingSink) Timing(string, string, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timings++
}

func (s *recordingSink) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[name]
}

// testOptions returns default options on broker with fast retries.
func testOptions(broker queue.Broker, sink *recordingSink) Options {
	opts := DefaultOptions()
	opts.Queue = "jobs"
	opts.Broker = broker
	opts.WorkerID = "1"
	opts.Logger = newTestLogger()
	opts.Backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	if sink != nil {
		opts.MetricsSink = sink
	}
	return opts
}

func newTestConsumer(t *testing.T, opts Options) *Consumer {
	t.Helper()
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// seed puts payloads on a queue through a separate registry.
func seed(t *testing.T, broker queue.Broker, name string, payloads ...any) {
	t.Helper()
	h, err := queue.NewRegistry(broker, "", "").Resolve(context.Background(), name, "", "")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	for _, p := range payloads {
		if err := h.Put(context.Background(), p); err != nil {
			t.Fatalf("Put error: %v", err)
		}
	}
}

// drain receives every ready payload of a queue.
func drain(t *testing.T, broker queue.Broker, name string) []any {
	t.Helper()
	h, err := queue.NewRegistry(broker, "", "").Resolve(context.Background(), name, "", "")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	var out []any
	for {
		msg, err := h.Get(context.Background(), false, 0)
		if err != nil {
			return out
		}
		out = append(out, msg.Payload())
		_ = msg.Ack(context.Background())
	}
}

// actions returns the settle actions seen on a memory queue.
func actions(b *memory.Broker, name string) []memory.Action {
	var out []memory.Action
	for _, s := range b.Settlements(name) {
		out = append(out, s.Action)
	}
	return out
}

// run starts fn in a goroutine and fails the test if it does not return
// within timeout.
func run(t *testing.T, timeout time.Duration, fn func() error) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(timeout):
		t.Fatal("run did not return in time")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// eventLog records publishes and acks across wrapped channels in order.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type orderBroker struct {
	queue.Broker
	log *eventLog
}

func (b *orderBroker) Open(ctx context.Context, name string) (queue.Channel, error) {
	ch, err := b.Broker.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &orderChannel{Channel: ch, name: name, log: b.log}, nil
}

type orderChannel struct {
	queue.Channel
	name string
	log  *eventLog
}

func (c *orderChannel) Publish(ctx context.Context, body []byte, headers map[string]string) error {
	c.log.add("put:" + c.name)
	return c.Channel.Publish(ctx, body, headers)
}

func (c *orderChannel) Receive(ctx context.Context, block bool, timeout time.Duration) (queue.Delivery, error) {
	d, err := c.Channel.Receive(ctx, block, timeout)
	if err != nil {
		return nil, err
	}
	return &orderDelivery{Delivery: d, name: c.name, log: c.log}, nil
}

type orderDelivery struct {
	queue.Delivery
	name string
	log  *eventLog
}

func (d *orderDelivery) Ack(ctx context.Context) error {
	d.log.add("ack:" + d.name)
	return d.Delivery.Ack(ctx)
}
