package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/outbox"
)

const (
	pendingOutboxSQL = `SELECT id, topic, key, payload, created_at FROM outbox
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1`

	markOutboxPublishedSQL = `UPDATE outbox SET published_at = now() WHERE id = ANY($1)`
)

var _ outbox.Store = (*OutboxStore)(nil)

// OutboxStore reads and acknowledges outbox rows.
type OutboxStore struct {
	pool *pgxpool.Pool
}

// NewOutboxStore returns an OutboxStore that uses the given pool.
func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{pool: pool}
}

// Pending returns up to limit unpublished messages in insertion order.
func (s *OutboxStore) Pending(ctx context.Context, limit int) ([]outbox.Message, error) {
	rows, err := s.pool.Query(ctx, pendingOutboxSQL, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query outbox")
	}
	msgs, err := pgx.CollectRows(rows, pgx.RowToStructByPos[outbox.Message])
	if err != nil {
		return nil, errors.Wrap(err, "scan outbox")
	}
	return msgs, nil
}

// MarkPublished stamps the given messages as sent.
func (s *OutboxStore) MarkPublished(ctx context.Context, ids []int64) error {
	if _, err := s.pool.Exec(ctx, markOutboxPublishedSQL, ids); err != nil {
		return errors.Wrap(err, "mark outbox published")
	}
	return nil
}
