package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/code-and-chill/chessmate-sub001/internal/models"
	"github.com/code-and-chill/chessmate-sub001/pkg/database"
)

const ticketColumns = `
	ticket_id, tenant_id, user_id, ticket_type,
	pool_key, base_seconds, increment_seconds,
	rating_snapshot, rating_floor, rating_ceiling, rated,
	max_latency_ms, preferred_color,
	widening_stage, widening_rating_window, widening_latency_ms, last_widened_at,
	status, mutation_seq, shard,
	proposal_id, proposal_timeout_at, leader_player_id,
	match_id, game_id, idempotency_key, client_request_id,
	created_at, updated_at, last_heartbeat_at`

// PostgresTicketRepository is the durable ticket store. Every write is
// committed before the method returns.
type PostgresTicketRepository struct {
	db *database.DB
}

func NewPostgresTicketRepository(db *database.DB) *PostgresTicketRepository {
	return &PostgresTicketRepository{db: db}
}

func (r *PostgresTicketRepository) Create(ctx context.Context, t *models.Ticket) error {
	// Freshly created tickets start at sequence 1.
	t.MutationSeq = 1
	query := `
		INSERT INTO tickets (` + ticketColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30)
	`
	_, err := r.db.ExecContext(ctx, query,
		t.TicketID, t.TenantID, t.UserID, t.TicketType,
		t.PoolKey.String(), t.TimeControl.BaseSeconds, t.TimeControl.IncrementSeconds,
		t.HardConstraints.RatingSnapshot, t.HardConstraints.RatingFloor, t.HardConstraints.RatingCeiling, t.HardConstraints.Rated,
		t.SoftConstraints.MaxLatencyMs, t.SoftConstraints.PreferredColor,
		t.WideningState.Stage, t.WideningState.CurrentRatingWindow, t.WideningState.CurrentLatencyMs, t.WideningState.LastWidenedAt,
		t.Status, t.MutationSeq, t.Shard,
		t.ProposalID, t.ProposalTimeoutAt, t.LeaderPlayerID,
		t.MatchID, t.GameID, t.IdempotencyKey, t.ClientRequestID,
		t.CreatedAt, t.UpdatedAt, t.LastHeartbeatAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert ticket: %w", err)
	}
	return nil
}

func (r *PostgresTicketRepository) Get(ctx context.Context, tenantID, ticketID string) (*models.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE tenant_id = $1 AND ticket_id = $2`
	return scanTicket(r.db.QueryRowContext(ctx, query, tenantID, ticketID))
}

func (r *PostgresTicketRepository) GetByIdempotencyKey(ctx context.Context, tenantID, key string) (*models.Ticket, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE tenant_id = $1 AND idempotency_key = $2`
	return scanTicket(r.db.QueryRowContext(ctx, query, tenantID, key))
}

func (r *PostgresTicketRepository) GetActiveForUser(ctx context.Context, tenantID, userID string) (*models.Ticket, error) {
	query := `
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE tenant_id = $1 AND user_id = $2 AND status IN ('QUEUED', 'PROPOSING')
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanTicket(r.db.QueryRowContext(ctx, query, tenantID, userID))
}

func (r *PostgresTicketRepository) ListByUser(ctx context.Context, tenantID, userID string) ([]*models.Ticket, error) {
	query := `
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE tenant_id = $1 AND user_id = $2
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets by user: %w", err)
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *PostgresTicketRepository) ListByStatus(ctx context.Context, status models.TicketStatus) ([]*models.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE status = $1 ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets by status: %w", err)
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *PostgresTicketRepository) UpdateCAS(ctx context.Context, t *models.Ticket, expectedSeq int64) error {
	res, err := r.db.ExecContext(ctx, updateTicketSQL, ticketUpdateArgs(t, expectedSeq)...)
	if err != nil {
		return fmt.Errorf("failed to update ticket: %w", err)
	}
	return r.finishCAS(ctx, t, expectedSeq, res)
}

func (r *PostgresTicketRepository) UpdateCASWithOutbox(ctx context.Context, t *models.Ticket, expectedSeq int64, ev *models.OutboxEvent) error {
	err := r.db.WithinTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, updateTicketSQL, ticketUpdateArgs(t, expectedSeq)...)
		if err != nil {
			return fmt.Errorf("failed to update ticket: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrCASConflict
		}
		return appendOutboxTx(ctx, tx, ev)
	})
	if err != nil {
		return err
	}
	t.MutationSeq = expectedSeq + 1
	return nil
}

func (r *PostgresTicketRepository) Heartbeat(ctx context.Context, tenantID, ticketID string, at time.Time) error {
	// Heartbeats bump mutation_seq without compare-and-swap so clients
	// never race the matcher's CAS writes.
	query := `
		UPDATE tickets
		SET last_heartbeat_at = $3, updated_at = $3, mutation_seq = mutation_seq + 1
		WHERE tenant_id = $1 AND ticket_id = $2 AND status IN ('QUEUED', 'PROPOSING')
	`
	res, err := r.db.ExecContext(ctx, query, tenantID, ticketID, at)
	if err != nil {
		return fmt.Errorf("failed to heartbeat ticket: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var status string
	err = r.db.QueryRowContext(ctx,
		`SELECT status FROM tickets WHERE tenant_id = $1 AND ticket_id = $2`,
		tenantID, ticketID).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check ticket status: %w", err)
	}
	return ErrGone
}

func (r *PostgresTicketRepository) SetGameIDByMatch(ctx context.Context, tenantID, matchID, gameID string) error {
	query := `
		UPDATE tickets
		SET game_id = $3, mutation_seq = mutation_seq + 1, updated_at = NOW()
		WHERE tenant_id = $1 AND match_id = $2
	`
	if _, err := r.db.ExecContext(ctx, query, tenantID, matchID, gameID); err != nil {
		return fmt.Errorf("failed to set game id on tickets: %w", err)
	}
	return nil
}

func (r *PostgresTicketRepository) finishCAS(ctx context.Context, t *models.Ticket, expectedSeq int64, res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM tickets WHERE tenant_id = $1 AND ticket_id = $2)`,
			t.TenantID, t.TicketID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check ticket existence: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrCASConflict
	}
	t.MutationSeq = expectedSeq + 1
	return nil
}

const updateTicketSQL = `
	UPDATE tickets
	SET widening_stage = $4, widening_rating_window = $5, widening_latency_ms = $6, last_widened_at = $7,
	    status = $8, proposal_id = $9, proposal_timeout_at = $10, leader_player_id = $11,
	    match_id = $12, game_id = $13, last_heartbeat_at = $14, updated_at = $15,
	    mutation_seq = $3 + 1
	WHERE tenant_id = $1 AND ticket_id = $2 AND mutation_seq = $3
`

func ticketUpdateArgs(t *models.Ticket, expectedSeq int64) []interface{} {
	return []interface{}{
		t.TenantID, t.TicketID, expectedSeq,
		t.WideningState.Stage, t.WideningState.CurrentRatingWindow, t.WideningState.CurrentLatencyMs, t.WideningState.LastWidenedAt,
		t.Status, t.ProposalID, t.ProposalTimeoutAt, t.LeaderPlayerID,
		t.MatchID, t.GameID, t.LastHeartbeatAt, t.UpdatedAt,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTicket(row rowScanner) (*models.Ticket, error) {
	t := &models.Ticket{}
	var poolKey string
	var proposalTimeoutAt sql.NullTime

	err := row.Scan(
		&t.TicketID, &t.TenantID, &t.UserID, &t.TicketType,
		&poolKey, &t.TimeControl.BaseSeconds, &t.TimeControl.IncrementSeconds,
		&t.HardConstraints.RatingSnapshot, &t.HardConstraints.RatingFloor, &t.HardConstraints.RatingCeiling, &t.HardConstraints.Rated,
		&t.SoftConstraints.MaxLatencyMs, &t.SoftConstraints.PreferredColor,
		&t.WideningState.Stage, &t.WideningState.CurrentRatingWindow, &t.WideningState.CurrentLatencyMs, &t.WideningState.LastWidenedAt,
		&t.Status, &t.MutationSeq, &t.Shard,
		&t.ProposalID, &proposalTimeoutAt, &t.LeaderPlayerID,
		&t.MatchID, &t.GameID, &t.IdempotencyKey, &t.ClientRequestID,
		&t.CreatedAt, &t.UpdatedAt, &t.LastHeartbeatAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan ticket: %w", err)
	}

	key, err := models.ParsePoolKey(poolKey)
	if err != nil {
		return nil, err
	}
	t.PoolKey = key

	if proposalTimeoutAt.Valid {
		at := proposalTimeoutAt.Time
		t.ProposalTimeoutAt = &at
	}

	return t, nil
}

func scanTickets(rows *sql.Rows) ([]*models.Ticket, error) {
	var out []*models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tickets: %w", err)
	}
	return out, nil
}
