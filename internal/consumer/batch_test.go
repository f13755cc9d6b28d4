package consumer

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"queueworker/internal/metrics"
	"queueworker/internal/queue/memory"
)

// batchRecorder records the payloads of every batch handler call.
type batchRecorder struct {
	mu    sync.Mutex
	calls [][]any
}

func (r *batchRecorder) record(payloads []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]any(nil), payloads...))
}

func (r *batchRecorder) list() [][]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestBatchedRunForever_FlushesWhenFull(t *testing.T) {
	broker := memory.NewBroker(10)
	sink := newRecordingSink()
	seed(t, broker, "jobs", "a", "b", "c")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &batchRecorder{}
	opts := testOptions(broker, sink)
	opts.BatchHandler = func(_ context.Context, payloads []any) ([]Outgoing, error) {
		rec.record(payloads)
		return nil, nil
	}
	opts.PostHook = func(context.Context, any) { cancel() }
	c := newTestConsumer(t, opts)

	run(t, 5*time.Second, func() error { return c.BatchedRunForever(ctx, 3, time.Second) })

	calls := rec.list()
	if len(calls) != 1 || !slices.Equal(calls[0], []any{"a", "b", "c"}) {
		t.Errorf("batch calls = %v, want one call with [a b c]", calls)
	}
	want := []memory.Action{memory.ActionAck, memory.ActionAck, memory.ActionAck}
	if a := actions(broker, "jobs"); !slices.Equal(a, want) {
		t.Errorf("settlements = %v, want %v", a, want)
	}
	if sink.count(metrics.EventSuccess) != 1 {
		t.Errorf("success count = %d, want one per batch", sink.count(metrics.EventSuccess))
	}
}

func TestBatchedRunForever_FlushesWhenQueueRunsDry(t *testing.T) {
	broker := memory.NewBroker(10)
	seed(t, broker, "jobs", "x", "y")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &batchRecorder{}
	opts := testOptions(broker, nil)
	opts.BatchHandler = func(_ context.Context, payloads []any) ([]Outgoing, error) {
		rec.record(payloads)
		return nil, nil
	}
	opts.PostHook = func(context.Context, any) { cancel() }
	c := newTestConsumer(t, opts)

	run(t, 5*time.Second, func() error { return c.BatchedRunForever(ctx, 5, 20*time.Millisecond) })

	calls := rec.list()
	if len(calls) != 1 || !slices.Equal(calls[0], []any{"x", "y"}) {
		t.Errorf("batch calls = %v, want one call with [x y]", calls)
	}
	if len(actions(broker, "jobs")) != 2 {
		t.Errorf("settlements = %v, want two acks", actions(broker, "jobs"))
	}
}

func TestBatchedRunForever_EmptyTimeoutDoesNothing(t *testing.T) {
	broker := memory.NewBroker(10)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	calls := 0
	opts := testOptions(broker, nil)
	opts.BatchHandler = func(context.Context, []any) ([]Outgoing, error) {
		calls++
		return nil, nil
	}
	c := newTestConsumer(t, opts)

	run(t, 5*time.Second, func() error { return c.BatchedRunForever(ctx, 5, 10*time.Millisecond) })

	if calls != 0 {
		t.Errorf("batch handler called %d times on an empty queue", calls)
	}
}

func TestBatchedRunForever_FailureSettlesWholeBatch(t *testing.T) {
	broker := memory.NewBroker(10)
	sink := newRecordingSink()
	seed(t, broker, "jobs", "a", "b", "c")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := testOptions(broker, sink)
	opts.RequeueOnFailure = Bool(false)
	opts.RejectOnFailure = Bool(true)
	opts.BatchHandler = func(context.Context, []any) ([]Outgoing, error) {
		return []Outgoing{{Queue: "out", Payload: "partial"}}, errors.New("boom")
	}
	opts.ExceptionHook = func(context.Context, error) { cancel() }
	c := newTestConsumer(t, opts)

	run(t, 5*time.Second, func() error { return c.BatchedRunForever(ctx, 3, time.Second) })

	want := []memory.Action{memory.ActionReject, memory.ActionReject, memory.ActionReject}
	if a := actions(broker, "jobs"); !slices.Equal(a, want) {
		t.Errorf("settlements = %v, want %v", a, want)
	}
	if broker.Len("out") != 0 {
		t.Error("outgoing messages of a failed batch must not be dispatched")
	}
	if sink.count(metrics.EventFailure) != 1 {
		t.Errorf("failure count = %d, want one per batch", sink.count(metrics.EventFailure))
	}
}

func TestBatchedRunForever_ContinuesAfterFailure(t *testing.T) {
	broker := memory.NewBroker(10)
	seed(t, broker, "jobs", "a", "b", "c", "d")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &batchRecorder{}
	opts := testOptions(broker, nil)
	opts.RequeueOnFailure = Bool(false)
	opts.RejectOnFailure = Bool(true)
	opts.BatchHandler = func(_ context.Context, payloads []any) ([]Outgoing, error) {
		rec.record(payloads)
		if len(rec.list()) == 1 {
			return nil, errors.New("first batch fails")
		}
		return []Outgoing{{Queue: "out", Payload: len(payloads)}}, nil
	}
	opts.PostHook = func(context.Context, any) { cancel() }
	c := newTestConsumer(t, opts)

	run(t, 5*time.Second, func() error { return c.BatchedRunForever(ctx, 2, time.Second) })

	calls := rec.list()
	if len(calls) != 2 || !slices.Equal(calls[0], []any{"a", "b"}) || !slices.Equal(calls[1], []any{"c", "d"}) {
		t.Errorf("batch calls = %v", calls)
	}
	want := []memory.Action{memory.ActionReject, memory.ActionReject, memory.ActionAck, memory.ActionAck}
	if a := actions(broker, "jobs"); !slices.Equal(a, want) {
		t.Errorf("settlements = %v, want %v", a, want)
	}
	if got := drain(t, broker, "out"); len(got) != 1 || got[0] != float64(2) {
		t.Errorf("out = %v, want [2]", got)
	}
	if st := c.Status(); st.Succeeded != 1 || st.Failed != 1 || st.Received != 4 {
		t.Errorf("status = %+v", st)
	}
}

func TestBatchedRunForever_FlushesPendingBatchOnCancel(t *testing.T) {
	broker := memory.NewBroker(10)
	seed(t, broker, "jobs", "a", "b")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &batchRecorder{}
	opts := testOptions(broker, nil)
	opts.BatchHandler = func(_ context.Context, payloads []any) ([]Outgoing, error) {
		rec.record(payloads)
		return nil, nil
	}
	c := newTestConsumer(t, opts)

	go func() {
		for broker.Inflight("jobs") < 2 {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
	}()
	run(t, 5*time.Second, func() error { return c.BatchedRunForever(ctx, 10, time.Minute) })

	calls := rec.list()
	if len(calls) != 1 || !slices.Equal(calls[0], []any{"a", "b"}) {
		t.Errorf("batch calls = %v, want the pending [a b]", calls)
	}
	if broker.Inflight("jobs") != 0 {
		t.Error("no message should be left unsettled")
	}
}

func TestBatchedRunForever_InvalidArguments(t *testing.T) {
	opts := testOptions(memory.NewBroker(1), nil)
	opts.Handler = func(context.Context, any) ([]Outgoing, error) { return nil, nil }
	c := newTestConsumer(t, opts)

	if err := c.BatchedRunForever(context.Background(), 3, time.Second); !errors.Is(err, ErrNoHandler) {
		t.Errorf("error = %v, want ErrNoHandler", err)
	}

	opts.BatchHandler = func(context.Context, []any) ([]Outgoing, error) { return nil, nil }
	c = newTestConsumer(t, opts)
	if err := c.BatchedRunForever(context.Background(), 0, time.Second); !errors.Is(err, ErrInvalidBatch) {
		t.Errorf("error = %v, want ErrInvalidBatch", err)
	}
	if err := c.BatchedRunForever(context.Background(), 3, 0); !errors.Is(err, ErrInvalidBatch) {
		t.Errorf("error = %v, want ErrInvalidBatch", err)
	}
}

func TestBatchedRunForever_RequeueWhileQueueRefills(t *testing.T) {
	broker := memory.NewBroker(2)
	seed(t, broker, "jobs", "a", "b")

	producer, err := broker.Open(context.Background(), "jobs")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := testOptions(broker, nil)
	opts.BatchHandler = func(ctx context.Context, _ []any) ([]Outgoing, error) {
		// Refill the source queue to capacity before failing.
		for _, body := range []string{`"c"`, `"d"`} {
			if err := producer.Publish(ctx, []byte(body), nil); err != nil {
				return nil, err
			}
		}
		return nil, errors.New("boom")
	}
	opts.ExceptionHook = func(context.Context, error) { cancel() }
	c := newTestConsumer(t, opts)

	run(t, 5*time.Second, func() error { return c.BatchedRunForever(ctx, 2, time.Second) })

	want := []memory.Action{memory.ActionRequeue, memory.ActionRequeue}
	if a := actions(broker, "jobs"); !slices.Equal(a, want) {
		t.Errorf("settlements = %v, want %v", a, want)
	}
	if n := broker.Len("jobs"); n != 4 {
		t.Errorf("ready = %d, want 4", n)
	}
	if n := broker.Inflight("jobs"); n != 0 {
		t.Errorf("inflight = %d, want 0", n)
	}
}
