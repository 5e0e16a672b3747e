package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/code-and-chill/chessmate-sub001/internal/models"
	"github.com/code-and-chill/chessmate-sub001/pkg/database"
)

// PostgresOutboxRepository is the durable event outbox. Rows are
// normally appended inside another repository's transaction via
// appendOutboxTx; ClaimBatch uses FOR UPDATE SKIP LOCKED so multiple
// publishers can drain concurrently without double-claiming.
type PostgresOutboxRepository struct {
	db *database.DB
}

func NewPostgresOutboxRepository(db *database.DB) *PostgresOutboxRepository {
	return &PostgresOutboxRepository{db: db}
}

func appendOutboxTx(ctx context.Context, tx *sql.Tx, ev *models.OutboxEvent) error {
	if ev == nil {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO event_outbox (event_id, tenant_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ev.EventID, ev.TenantID, ev.EventType, []byte(ev.Payload), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append outbox event: %w", err)
	}
	return nil
}

func (r *PostgresOutboxRepository) Append(ctx context.Context, ev *models.OutboxEvent) error {
	return r.db.WithinTx(ctx, func(tx *sql.Tx) error {
		return appendOutboxTx(ctx, tx, ev)
	})
}

func (r *PostgresOutboxRepository) ClaimBatch(ctx context.Context, limit int, now time.Time, visibility time.Duration) ([]*models.OutboxEvent, error) {
	var out []*models.OutboxEvent

	err := r.db.WithinTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT event_id, tenant_id, event_type, payload, created_at
			FROM event_outbox
			WHERE published_at IS NULL
			  AND (claimed_at IS NULL OR claimed_at < $2)
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		`, limit, now.Add(-visibility))
		if err != nil {
			return fmt.Errorf("failed to select outbox batch: %w", err)
		}
		defer rows.Close()

		var ids []string
		for rows.Next() {
			ev := &models.OutboxEvent{}
			var payload []byte
			if err := rows.Scan(&ev.EventID, &ev.TenantID, &ev.EventType, &payload, &ev.CreatedAt); err != nil {
				return fmt.Errorf("failed to scan outbox event: %w", err)
			}
			ev.Payload = payload
			out = append(out, ev)
			ids = append(ids, ev.EventID)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to iterate outbox events: %w", err)
		}

		if len(ids) == 0 {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE event_outbox SET claimed_at = $1 WHERE event_id = ANY($2)`,
			now, pq.Array(ids))
		if err != nil {
			return fmt.Errorf("failed to claim outbox events: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresOutboxRepository) MarkPublished(ctx context.Context, eventIDs []string, at time.Time) error {
	if len(eventIDs) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE event_outbox SET published_at = $1 WHERE event_id = ANY($2)`,
		at, pq.Array(eventIDs))
	if err != nil {
		return fmt.Errorf("failed to mark events published: %w", err)
	}
	return nil
}
