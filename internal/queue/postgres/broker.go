// Package postgres provides a PostgreSQL table backed implementation of the queue interfaces.
//
// All queues share one table. Receive checks a row out by stamping its
// checkout column inside an UPDATE ... FOR UPDATE SKIP LOCKED, so
// concurrent consumers never see the same row. A row whose checkout is
// older than the visibility timeout is handed out again.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"queueworker/internal/config"
	"queueworker/internal/queue"
)

// Broker implements queue.Broker on a PostgreSQL table.
type Broker struct {
	pool         *pgxpool.Pool
	table        string
	deadTable    string
	visibility   time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewBroker creates a connection pool for a postgres:// address and
// creates the queue tables if they do not exist.
func NewBroker(ctx context.Context, address string, cfg *config.BrokerConfig, logger *slog.Logger) (*Broker, error) {
	poolConfig, err := pgxpool.ParseConfig(address)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	poolConfig.MaxConns = cfg.Postgres.MaxConns
	poolConfig.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	b := NewBrokerWithPool(pool, cfg.Postgres.Table, cfg.Postgres.VisibilityTimeout, cfg.PollInterval, logger)
	if err := b.RunMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

// NewBrokerWithPool wraps an existing pool. RunMigrations is not called.
func NewBrokerWithPool(pool *pgxpool.Pool, table string, visibility, pollInterval time.Duration, logger *slog.Logger) *Broker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Broker{
		pool:         pool,
		table:        pgx.Identifier{table}.Sanitize(),
		deadTable:    pgx.Identifier{table + "_dead"}.Sanitize(),
		visibility:   visibility,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// RunMigrations creates the queue and dead-letter tables.
func (b *Broker) RunMigrations(ctx context.Context) error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id BIGSERIAL PRIMARY KEY,
			queue TEXT NOT NULL,
			headers JSONB NOT NULL DEFAULT '{}',
			body BYTEA NOT NULL,
			enqueued_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
			checkout TIMESTAMP WITH TIME ZONE
		);

		CREATE INDEX IF NOT EXISTS %[3]s ON %[1]s(queue, id);

		CREATE TABLE IF NOT EXISTS %[2]s (
			id BIGINT PRIMARY KEY,
			queue TEXT NOT NULL,
			headers JSONB NOT NULL DEFAULT '{}',
			body BYTEA NOT NULL,
			enqueued_at TIMESTAMP WITH TIME ZONE NOT NULL,
			rejected_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
		);
	`, b.table, b.deadTable, pgx.Identifier{"idx_" + unquote(b.table) + "_queue"}.Sanitize())

	if _, err := b.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func unquote(ident string) string {
	if len(ident) >= 2 && ident[0] == '"' && ident[len(ident)-1] == '"' {
		return ident[1 : len(ident)-1]
	}
	return ident
}

// Open returns a channel on the rows of the named queue.
func (b *Broker) Open(_ context.Context, name string) (queue.Channel, error) {
	return &channel{broker: b, name: name}, nil
}

// Close closes the connection pool.
func (b *Broker) Close() error {
	if b.pool != nil {
		b.pool.Close()
	}
	return nil
}

type channel struct {
	broker *Broker
	name   string
}

func (c *channel) Publish(ctx context.Context, body []byte, headers map[string]string) error {
	if headers == nil {
		headers = map[string]string{}
	}
	query := fmt.Sprintf(`INSERT INTO %s (queue, headers, body) VALUES ($1, $2, $3)`, c.broker.table)
	if _, err := c.broker.pool.Exec(ctx, query, c.name, headers, body); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// checkout claims the oldest available row of the queue.
func (c *channel) checkout(ctx context.Context) (*delivery, error) {
	query := fmt.Sprintf(`
		UPDATE %[1]s SET checkout = now()
		WHERE id = (
			SELECT id FROM %[1]s
			WHERE queue = $1
			  AND (checkout IS NULL OR checkout < now() - make_interval(secs => $2))
			ORDER BY id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, headers, body`, c.broker.table)

	d := &delivery{channel: c}
	err := c.broker.pool.QueryRow(ctx, query, c.name, c.broker.visibility.Seconds()).
		Scan(&d.id, &d.headers, &d.body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrEmpty
		}
		return nil, fmt.Errorf("failed to check out message: %w", err)
	}
	return d, nil
}

func (c *channel) Receive(ctx context.Context, block bool, timeout time.Duration) (queue.Delivery, error) {
	deadline := time.Now().Add(timeout)

	for {
		d, err := c.checkout(ctx)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, queue.ErrEmpty) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}

		wait := c.broker.pollInterval
		if !block {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, queue.ErrEmpty
			}
			wait = min(wait, remaining)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *channel) Close() error {
	return nil
}

type delivery struct {
	channel *channel
	id      int64
	headers map[string]string
	body    []byte
}

func (d *delivery) Body() []byte               { return d.body }
func (d *delivery) Headers() map[string]string { return d.headers }

func (d *delivery) Ack(ctx context.Context) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, d.channel.broker.table)
	if _, err := d.channel.broker.pool.Exec(ctx, query, d.id); err != nil {
		return fmt.Errorf("failed to delete message %d: %w", d.id, err)
	}
	return nil
}

func (d *delivery) Requeue(ctx context.Context) error {
	query := fmt.Sprintf(`UPDATE %s SET checkout = NULL WHERE id = $1`, d.channel.broker.table)
	if _, err := d.channel.broker.pool.Exec(ctx, query, d.id); err != nil {
		return fmt.Errorf("failed to requeue message %d: %w", d.id, err)
	}
	return nil
}

func (d *delivery) Reject(ctx context.Context) error {
	query := fmt.Sprintf(`
		WITH moved AS (
			DELETE FROM %s WHERE id = $1
			RETURNING id, queue, headers, body, enqueued_at
		)
		INSERT INTO %s (id, queue, headers, body, enqueued_at)
		SELECT id, queue, headers, body, enqueued_at FROM moved
		ON CONFLICT (id) DO NOTHING`, d.channel.broker.table, d.channel.broker.deadTable)
	if _, err := d.channel.broker.pool.Exec(ctx, query, d.id); err != nil {
		return fmt.Errorf("failed to dead-letter message %d: %w", d.id, err)
	}
	return nil
}

var _ queue.Broker = (*Broker)(nil)
