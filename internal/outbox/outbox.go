// Package outbox relays order lifecycle events recorded alongside state
// changes to a message broker.
package outbox

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Message is an outbox row waiting to be published.
type Message struct {
	ID        int64
	Topic     string
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

// Store reads pending messages and records their publication.
type Store interface {
	Pending(ctx context.Context, limit int) ([]Message, error)
	MarkPublished(ctx context.Context, ids []int64) error
}

// Publisher delivers messages to a broker. Publish returns only after every
// message was acknowledged.
type Publisher interface {
	Publish(ctx context.Context, msgs []Message) error
}

// RelayConfig tunes the polling loop.
type RelayConfig struct {
	Interval  time.Duration
	BatchSize int
}

// Relay moves pending outbox messages to a Publisher. Delivery is at least
// once: a crash between Publish and MarkPublished republishes the batch.
type Relay struct {
	store     Store
	publisher Publisher
	interval  time.Duration
	batch     int
}

// NewRelay creates a Relay.
func NewRelay(store Store, publisher Publisher, cfg RelayConfig) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		interval:  cfg.Interval,
		batch:     cfg.BatchSize,
	}
}

// Run polls until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	lg := zctx.From(ctx).Named("outbox")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		for {
			n, err := r.Flush(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				lg.Warn("Outbox flush failed", zap.Error(err))
				break
			}
			// A full batch means more rows are likely waiting.
			if n < r.batch {
				break
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Flush publishes one batch and returns how many messages it held.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	msgs, err := r.store.Pending(ctx, r.batch)
	if err != nil {
		return 0, errors.Wrap(err, "read pending")
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	if err := r.publisher.Publish(ctx, msgs); err != nil {
		return 0, errors.Wrap(err, "publish")
	}

	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	if err := r.store.MarkPublished(ctx, ids); err != nil {
		return 0, errors.Wrap(err, "mark published")
	}
	zctx.From(ctx).Debug("Outbox batch published", zap.Int("count", len(msgs)))
	return len(msgs), nil
}
