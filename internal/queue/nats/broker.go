// Package nats provides a JetStream backed implementation of the queue interfaces.
//
// All queues share one stream. A queue named "jobs" is the subject
// "<stream>.jobs" and is read through a durable pull consumer filtered on
// that subject. Requeue naks the message and Reject terminates it.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"queueworker/internal/config"
	"queueworker/internal/queue"
)

// Broker implements queue.Broker on a JetStream stream.
type Broker struct {
	nc            *nats.Conn
	js            jetstream.JetStream
	stream        string
	durablePrefix string
	pollInterval  time.Duration
	logger        *slog.Logger
}

// NewBroker connects to the NATS server at address and makes sure the
// backing stream exists.
func NewBroker(ctx context.Context, address string, cfg *config.BrokerConfig, logger *slog.Logger) (*Broker, error) {
	nc, err := nats.Connect(address, nats.Name("queueworker"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	b := &Broker{
		nc:            nc,
		js:            js,
		stream:        cfg.NATS.Stream,
		durablePrefix: cfg.NATS.DurablePrefix,
		pollInterval:  cfg.PollInterval,
		logger:        logger,
	}
	if b.pollInterval <= 0 {
		b.pollInterval = time.Second
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     b.stream,
		Subjects: []string{b.stream + ".>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream %s: %w", b.stream, err)
	}

	logger.Info("connected to nats", "url", nc.ConnectedUrl(), "stream", b.stream)
	return b, nil
}

// Subject returns the subject a queue is published on.
func (b *Broker) Subject(name string) string {
	return b.stream + "." + name
}

// Durable returns the durable consumer name for a queue.
func (b *Broker) Durable(name string) string {
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")
	return r.Replace(b.durablePrefix + "_" + name)
}

// Open returns a channel on the subject of the named queue.
func (b *Broker) Open(_ context.Context, name string) (queue.Channel, error) {
	return &channel{broker: b, name: name, subject: b.Subject(name)}, nil
}

// Close closes the NATS connection.
func (b *Broker) Close() error {
	b.nc.Close()
	return nil
}

type channel struct {
	broker  *Broker
	name    string
	subject string

	mu       sync.Mutex
	consumer jetstream.Consumer
}

func (c *channel) Publish(ctx context.Context, body []byte, headers map[string]string) error {
	msg := nats.NewMsg(c.subject)
	msg.Data = body
	for k, v := range headers {
		msg.Header.Set(k, v)
	}
	if _, err := c.broker.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", c.subject, err)
	}
	return nil
}

func (c *channel) pull(ctx context.Context) (jetstream.Consumer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.consumer != nil {
		return c.consumer, nil
	}
	cons, err := c.broker.js.CreateOrUpdateConsumer(ctx, c.broker.stream, jetstream.ConsumerConfig{
		Durable:       c.broker.Durable(c.name),
		FilterSubject: c.subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer for %s: %w", c.subject, err)
	}
	c.consumer = cons
	return cons, nil
}

func (c *channel) Receive(ctx context.Context, block bool, timeout time.Duration) (queue.Delivery, error) {
	cons, err := c.pull(ctx)
	if err != nil {
		return nil, err
	}

	wait := timeout
	if block || wait > c.broker.pollInterval {
		wait = c.broker.pollInterval
	}
	if wait <= 0 {
		wait = time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msg, err := cons.Next(jetstream.FetchMaxWait(wait))
		switch {
		case err == nil:
			return &delivery{msg: msg}, nil
		case errors.Is(err, nats.ErrTimeout), errors.Is(err, jetstream.ErrNoMessages):
			if !block && !time.Now().Before(deadline) {
				return nil, queue.ErrEmpty
			}
		default:
			return nil, fmt.Errorf("failed to fetch from %s: %w", c.subject, err)
		}
	}
}

func (c *channel) Close() error {
	return nil
}

type delivery struct {
	msg jetstream.Msg
}

func (d *delivery) Body() []byte { return d.msg.Data() }

func (d *delivery) Headers() map[string]string {
	hdr := d.msg.Headers()
	headers := make(map[string]string, len(hdr))
	for k, v := range hdr {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	return headers
}

func (d *delivery) Ack(context.Context) error {
	return d.msg.Ack()
}

func (d *delivery) Requeue(context.Context) error {
	return d.msg.Nak()
}

func (d *delivery) Reject(context.Context) error {
	return d.msg.Term()
}

var _ queue.Broker = (*Broker)(nil)
