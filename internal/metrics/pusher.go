package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Pusher periodically pushes a gatherer to a Prometheus Pushgateway.
type Pusher struct {
	pusher   *push.Pusher
	interval time.Duration
	logger   *slog.Logger
}

// NewPusher creates a pusher for the gateway at url under job.
// The namespace is added as a grouping label so workers do not
// overwrite each other.
func NewPusher(url, job, namespace string, gatherer prometheus.Gatherer, interval time.Duration, logger *slog.Logger) *Pusher {
	return &Pusher{
		pusher: push.New(url, job).
			Gatherer(gatherer).
			Grouping("worker", namespace),
		interval: interval,
		logger:   logger,
	}
}

// Run pushes every interval until ctx is done, then pushes once more so
// the final counts reach the gateway.
func (p *Pusher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			p.push(flushCtx)
			cancel()
			return
		case <-ticker.C:
			p.push(ctx)
		}
	}
}

func (p *Pusher) push(ctx context.Context) {
	if err := p.pusher.PushContext(ctx); err != nil {
		p.logger.Warn("failed to push metrics", "error", err)
	}
}
