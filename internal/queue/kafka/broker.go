// Package kafka provides Kafka-based implementations of the queue interfaces.
// Every queue name maps to a topic. Ack commits the offset; Requeue and
// Reject re-publish (to the same topic or the dead-letter topic) and then commit.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"queueworker/internal/config"
	"queueworker/internal/queue"
)

// Broker implements queue.Broker on a Kafka cluster.
type Broker struct {
	brokers          []string
	groupID          string
	deadLetterSuffix string
	logger           *slog.Logger
}

// NewBroker creates a broker for a kafka://host1:9092,host2:9092 address.
// Connections are made lazily by the per-topic readers and writers.
func NewBroker(address string, cfg *config.KafkaConfig, logger *slog.Logger) (*Broker, error) {
	hosts := strings.TrimPrefix(address, "kafka://")
	if hosts == "" {
		return nil, errors.New("kafka address has no brokers")
	}
	return &Broker{
		brokers:          strings.Split(hosts, ","),
		groupID:          cfg.ConsumerGroup,
		deadLetterSuffix: cfg.DeadLetterSuffix,
		logger:           logger,
	}, nil
}

func (b *Broker) writer(topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(b.brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{}, // Use key-based partitioning
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// Open returns a channel on the topic named after the queue.
func (b *Broker) Open(_ context.Context, name string) (queue.Channel, error) {
	return &channel{
		broker: b,
		topic:  name,
		writer: b.writer(name),
	}, nil
}

// Close is a no-op; channels own their readers and writers.
func (b *Broker) Close() error {
	return nil
}

type channel struct {
	broker *Broker
	topic  string
	writer *kafka.Writer

	mu     sync.Mutex
	reader *kafka.Reader
	dlq    *kafka.Writer
}

func (c *channel) Publish(ctx context.Context, body []byte, headers map[string]string) error {
	return write(ctx, c.writer, body, toKafkaHeaders(headers))
}

func write(ctx context.Context, w *kafka.Writer, body []byte, headers []kafka.Header) error {
	msg := kafka.Message{
		Value:   body,
		Headers: headers,
	}
	if err := w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}
	return nil
}

// consumer returns the group reader, creating it on the first receive so
// handles that only publish never join the consumer group.
func (c *channel) consumer() *kafka.Reader {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reader == nil {
		c.reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  c.broker.brokers,
			Topic:    c.topic,
			GroupID:  c.broker.groupID,
			MinBytes: 1,
			MaxBytes: 10e6, // 10MB
		})
		c.broker.logger.Info("starting kafka reader",
			"topic", c.topic,
			"group", c.broker.groupID,
		)
	}
	return c.reader
}

func (c *channel) deadLetters() *kafka.Writer {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dlq == nil {
		c.dlq = c.broker.writer(c.topic + c.broker.deadLetterSuffix)
	}
	return c.dlq
}

func (c *channel) Receive(ctx context.Context, block bool, timeout time.Duration) (queue.Delivery, error) {
	fetchCtx := ctx
	if !block {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	msg, err := c.consumer().FetchMessage(fetchCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, queue.ErrEmpty
		}
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}

	return &delivery{channel: c, msg: msg}, nil
}

func (c *channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	errs := []error{c.writer.Close()}
	if c.reader != nil {
		errs = append(errs, c.reader.Close())
	}
	if c.dlq != nil {
		errs = append(errs, c.dlq.Close())
	}
	return errors.Join(errs...)
}

type delivery struct {
	channel *channel
	msg     kafka.Message
}

func (d *delivery) Body() []byte { return d.msg.Value }

func (d *delivery) Headers() map[string]string {
	headers := make(map[string]string, len(d.msg.Headers))
	for _, h := range d.msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return headers
}

func (d *delivery) Ack(ctx context.Context) error {
	return d.commit(ctx)
}

func (d *delivery) Requeue(ctx context.Context) error {
	if err := write(ctx, d.channel.writer, d.msg.Value, d.msg.Headers); err != nil {
		return fmt.Errorf("failed to requeue message: %w", err)
	}
	return d.commit(ctx)
}

func (d *delivery) Reject(ctx context.Context) error {
	if err := write(ctx, d.channel.deadLetters(), d.msg.Value, d.msg.Headers); err != nil {
		return fmt.Errorf("failed to dead-letter message: %w", err)
	}
	return d.commit(ctx)
}

func (d *delivery) commit(ctx context.Context) error {
	if err := d.channel.consumer().CommitMessages(ctx, d.msg); err != nil {
		return fmt.Errorf("failed to commit message (partition %d, offset %d): %w",
			d.msg.Partition, d.msg.Offset, err)
	}
	return nil
}

func toKafkaHeaders(headers map[string]string) []kafka.Header {
	if len(headers) == 0 {
		return nil
	}
	out := make([]kafka.Header, 0, len(headers))
	for k, v := range headers {
		out = append(out, kafka.Header{Key: k, Value: []byte(v)})
	}
	return out
}

var _ queue.Broker = (*Broker)(nil)
