// Package memory provides an in-memory implementation of the queue interfaces.
// This is useful for testing and development without external dependencies.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"queueworker/internal/queue"
)

// Action records how a delivery was settled.
type Action string

const (
	ActionAck     Action = "ack"
	ActionRequeue Action = "requeue"
	ActionReject  Action = "reject"
)

// Settlement is one settle event observed by the broker.
type Settlement struct {
	ID     string
	Body   []byte
	Action Action
}

type message struct {
	id      string
	body    []byte
	headers map[string]string
}

// namedQueue is the shared storage behind every channel opened on a name.
// Requeued messages go to the unbounded redelivery list, which receives
// drain before the buffered channel, so a requeue never waits for capacity.
type namedQueue struct {
	messages    chan *message
	redelivered chan struct{}

	mu          sync.Mutex
	redelivery  []*message
	inflight    map[string]*message
	deadLetters []*message
	settlements []Settlement
}

func (q *namedQueue) requeue(m *message) {
	q.mu.Lock()
	q.redelivery = append(q.redelivery, m)
	q.mu.Unlock()

	select {
	case q.redelivered <- struct{}{}:
	default:
	}
}

func (q *namedQueue) popRedelivery() (*message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.redelivery) == 0 {
		return nil, false
	}
	m := q.redelivery[0]
	q.redelivery[0] = nil
	q.redelivery = q.redelivery[1:]
	return m, true
}

// Broker is an in-memory implementation of queue.Broker.
// Messages are stored in buffered channels, one per queue name.
// This implementation is safe for concurrent use.
type Broker struct {
	bufferSize int

	mu     sync.RWMutex
	queues map[string]*namedQueue
	closed bool
}

// NewBroker creates a new in-memory broker. bufferSize bounds each queue;
// Publish blocks when a queue is full until space frees up or ctx is done.
// Requeue is not bounded.
func NewBroker(bufferSize int) *Broker {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Broker{
		bufferSize: bufferSize,
		queues:     make(map[string]*namedQueue),
	}
}

func (b *Broker) queue(name string) (*namedQueue, error) {
	b.mu.RLock()
	q, ok := b.queues[name]
	closed := b.closed
	b.mu.RUnlock()
	if ok && !closed {
		return q, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, queue.ErrClosed
	}
	q, ok = b.queues[name]
	if !ok {
		q = &namedQueue{
			messages:    make(chan *message, b.bufferSize),
			redelivered: make(chan struct{}, 1),
			inflight:    make(map[string]*message),
		}
		b.queues[name] = q
	}
	return q, nil
}

// Open returns a channel on the named queue, creating it if needed.
func (b *Broker) Open(_ context.Context, name string) (queue.Channel, error) {
	q, err := b.queue(name)
	if err != nil {
		return nil, err
	}
	return &channel{broker: b, q: q}, nil
}

// Close shuts the broker down. Pending receives return queue.ErrClosed.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, q := range b.queues {
		close(q.messages)
	}
	return nil
}

func (b *Broker) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// send enqueues under the read lock so Close cannot close the channel mid-send.
func (b *Broker) send(ctx context.Context, q *namedQueue, m *message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return queue.ErrClosed
	}
	select {
	case q.messages <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of ready messages in the named queue, requeued
// ones included.
func (b *Broker) Len(name string) int {
	q, err := b.queue(name)
	if err != nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages) + len(q.redelivery)
}

// Inflight returns the number of received but unsettled messages.
func (b *Broker) Inflight(name string) int {
	q, err := b.queue(name)
	if err != nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// DeadLetters returns the bodies of rejected messages in rejection order.
func (b *Broker) DeadLetters(name string) [][]byte {
	q, err := b.queue(name)
	if err != nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([][]byte, 0, len(q.deadLetters))
	for _, m := range q.deadLetters {
		out = append(out, m.body)
	}
	return out
}

// Settlements returns every settle event on the named queue in order.
func (b *Broker) Settlements(name string) []Settlement {
	q, err := b.queue(name)
	if err != nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Settlement, len(q.settlements))
	copy(out, q.settlements)
	return out
}

type channel struct {
	broker *Broker
	q      *namedQueue
}

func (c *channel) Publish(ctx context.Context, body []byte, headers map[string]string) error {
	m := &message{
		id:      uuid.New().String(),
		body:    body,
		headers: headers,
	}
	return c.broker.send(ctx, c.q, m)
}

func (c *channel) Receive(ctx context.Context, block bool, timeout time.Duration) (queue.Delivery, error) {
	var expired <-chan time.Time
	if !block && timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		if m, ok := c.q.popRedelivery(); ok {
			return c.deliver(m, true)
		}

		if !block && timeout <= 0 {
			select {
			case m, ok := <-c.q.messages:
				return c.deliver(m, ok)
			default:
				return nil, queue.ErrEmpty
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-expired:
			return nil, queue.ErrEmpty
		case <-c.q.redelivered:
		case m, ok := <-c.q.messages:
			return c.deliver(m, ok)
		}
	}
}

func (c *channel) deliver(m *message, ok bool) (queue.Delivery, error) {
	if !ok {
		return nil, queue.ErrClosed
	}
	c.q.mu.Lock()
	c.q.inflight[m.id] = m
	c.q.mu.Unlock()
	return &delivery{channel: c, msg: m}, nil
}

// Close is a no-op; the storage belongs to the broker.
func (c *channel) Close() error {
	return nil
}

type delivery struct {
	channel *channel
	msg     *message
}

func (d *delivery) Body() []byte               { return d.msg.body }
func (d *delivery) Headers() map[string]string { return d.msg.headers }

func (d *delivery) settle(action Action) {
	q := d.channel.q
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inflight, d.msg.id)
	q.settlements = append(q.settlements, Settlement{ID: d.msg.id, Body: d.msg.body, Action: action})
	if action == ActionReject {
		q.deadLetters = append(q.deadLetters, d.msg)
	}
}

func (d *delivery) Ack(context.Context) error {
	d.settle(ActionAck)
	return nil
}

// Requeue makes the message the next one received on its queue.
func (d *delivery) Requeue(context.Context) error {
	if d.channel.broker.isClosed() {
		return queue.ErrClosed
	}
	d.settle(ActionRequeue)
	d.channel.q.requeue(d.msg)
	return nil
}

func (d *delivery) Reject(context.Context) error {
	d.settle(ActionReject)
	return nil
}

var _ queue.Broker = (*Broker)(nil)
