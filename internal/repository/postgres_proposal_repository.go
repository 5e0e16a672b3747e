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

const proposalColumns = `
	proposal_id, tenant_id, pool_key,
	leader_ticket_id, follower_ticket_id, leader_user_id, follower_user_id,
	status, acceptances, created_at, deadline_at`

type PostgresProposalRepository struct {
	db *database.DB
}

func NewPostgresProposalRepository(db *database.DB) *PostgresProposalRepository {
	return &PostgresProposalRepository{db: db}
}

func (r *PostgresProposalRepository) Create(ctx context.Context, p *models.Proposal) error {
	query := `
		INSERT INTO proposals (` + proposalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		p.ProposalID, p.TenantID, p.PoolKey,
		p.LeaderTicketID, p.FollowerTicketID, p.LeaderUserID, p.FollowerUserID,
		p.Status, pq.Array(p.Acceptances), p.CreatedAt, p.DeadlineAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert proposal: %w", err)
	}
	return nil
}

func (r *PostgresProposalRepository) Get(ctx context.Context, tenantID, proposalID string) (*models.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE tenant_id = $1 AND proposal_id = $2`
	return scanProposal(r.db.QueryRowContext(ctx, query, tenantID, proposalID))
}

func (r *PostgresProposalRepository) Update(ctx context.Context, p *models.Proposal) error {
	query := `
		UPDATE proposals
		SET status = $3, acceptances = $4, deadline_at = $5
		WHERE tenant_id = $1 AND proposal_id = $2
	`
	res, err := r.db.ExecContext(ctx, query,
		p.TenantID, p.ProposalID, p.Status, pq.Array(p.Acceptances), p.DeadlineAt)
	if err != nil {
		return fmt.Errorf("failed to update proposal: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AddAcceptance appends in a single guarded UPDATE so two simultaneous
// accepts serialize on the row lock instead of overwriting each other.
// When nothing matches (already recorded, or no longer PENDING) the
// current row is returned unchanged.
func (r *PostgresProposalRepository) AddAcceptance(ctx context.Context, tenantID, proposalID, userID string) (*models.Proposal, error) {
	query := `
		UPDATE proposals
		SET acceptances = array_append(acceptances, $3)
		WHERE tenant_id = $1 AND proposal_id = $2
		  AND status = 'PENDING'
		  AND NOT (acceptances @> ARRAY[$3]::text[])
		RETURNING ` + proposalColumns
	p, err := scanProposal(r.db.QueryRowContext(ctx, query, tenantID, proposalID, userID))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return r.Get(ctx, tenantID, proposalID)
}

func (r *PostgresProposalRepository) ListPendingExpired(ctx context.Context, before time.Time) ([]*models.Proposal, error) {
	query := `
		SELECT ` + proposalColumns + `
		FROM proposals
		WHERE status = 'PENDING' AND deadline_at < $1
		ORDER BY deadline_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired proposals: %w", err)
	}
	defer rows.Close()

	var out []*models.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate proposals: %w", err)
	}
	return out, nil
}

// Finalize commits the whole match in one transaction. Either every
// row lands (proposal, both tickets, match record, outbox event) or
// none do.
func (r *PostgresProposalRepository) Finalize(ctx context.Context, p *models.Proposal,
	leader, follower *models.Ticket, leaderSeq, followerSeq int64,
	rec *models.MatchRecord, ev *models.OutboxEvent) error {

	err := r.db.WithinTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE proposals
			SET status = $3, acceptances = $4
			WHERE tenant_id = $1 AND proposal_id = $2 AND status = 'PENDING'
		`, p.TenantID, p.ProposalID, models.ProposalStatusCompleted, pq.Array(p.Acceptances))
		if err != nil {
			return fmt.Errorf("failed to complete proposal: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrCASConflict
		}

		for _, side := range []struct {
			t   *models.Ticket
			seq int64
		}{{leader, leaderSeq}, {follower, followerSeq}} {
			res, err := tx.ExecContext(ctx, updateTicketSQL, ticketUpdateArgs(side.t, side.seq)...)
			if err != nil {
				return fmt.Errorf("failed to mark ticket matched: %w", err)
			}
			if n, err := res.RowsAffected(); err != nil {
				return err
			} else if n == 0 {
				return ErrCASConflict
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO match_records (
				match_id, tenant_id, game_id, white_user_id, black_user_id,
				base_seconds, increment_seconds, mode, variant,
				rating_white, rating_black, queue_entry_ids, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, rec.MatchID, rec.TenantID, rec.GameID, rec.WhiteUserID, rec.BlackUserID,
			rec.TimeControl.BaseSeconds, rec.TimeControl.IncrementSeconds, rec.Mode, rec.Variant,
			rec.RatingSnapshot.White, rec.RatingSnapshot.Black, pq.Array(rec.QueueEntryIDs), rec.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert match record: %w", err)
		}

		return appendOutboxTx(ctx, tx, ev)
	})
	if err != nil {
		return err
	}

	p.Status = models.ProposalStatusCompleted
	leader.MutationSeq = leaderSeq + 1
	follower.MutationSeq = followerSeq + 1
	return nil
}

func scanProposal(row rowScanner) (*models.Proposal, error) {
	p := &models.Proposal{}
	var acceptances pq.StringArray

	err := row.Scan(
		&p.ProposalID, &p.TenantID, &p.PoolKey,
		&p.LeaderTicketID, &p.FollowerTicketID, &p.LeaderUserID, &p.FollowerUserID,
		&p.Status, &acceptances, &p.CreatedAt, &p.DeadlineAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan proposal: %w", err)
	}

	p.Acceptances = []string(acceptances)
	return p, nil
}
