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

const challengeColumns = `
	challenge_id, tenant_id, challenger_user_id, opponent_user_id,
	base_seconds, increment_seconds, mode, variant, preferred_color,
	status, game_id, created_at, expires_at`

type PostgresChallengeRepository struct {
	db *database.DB
}

func NewPostgresChallengeRepository(db *database.DB) *PostgresChallengeRepository {
	return &PostgresChallengeRepository{db: db}
}

func (r *PostgresChallengeRepository) Create(ctx context.Context, c *models.Challenge) error {
	query := `
		INSERT INTO challenges (` + challengeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.ExecContext(ctx, query,
		c.ChallengeID, c.TenantID, c.ChallengerUserID, c.OpponentUserID,
		c.TimeControl.BaseSeconds, c.TimeControl.IncrementSeconds, c.Mode, c.Variant, c.PreferredColor,
		c.Status, c.GameID, c.CreatedAt, c.ExpiresAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert challenge: %w", err)
	}
	return nil
}

func (r *PostgresChallengeRepository) Get(ctx context.Context, tenantID, challengeID string) (*models.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE tenant_id = $1 AND challenge_id = $2`
	return scanChallenge(r.db.QueryRowContext(ctx, query, tenantID, challengeID))
}

func (r *PostgresChallengeRepository) Update(ctx context.Context, c *models.Challenge) error {
	query := `
		UPDATE challenges
		SET status = $3, game_id = $4, expires_at = $5
		WHERE tenant_id = $1 AND challenge_id = $2
	`
	res, err := r.db.ExecContext(ctx, query, c.TenantID, c.ChallengeID, c.Status, c.GameID, c.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to update challenge: %w", err)
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

func (r *PostgresChallengeRepository) ListIncoming(ctx context.Context, tenantID, userID string, now time.Time) ([]*models.Challenge, error) {
	query := `
		SELECT ` + challengeColumns + `
		FROM challenges
		WHERE tenant_id = $1 AND opponent_user_id = $2 AND status = 'PENDING' AND expires_at > $3
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list incoming challenges: %w", err)
	}
	defer rows.Close()

	var out []*models.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate challenges: %w", err)
	}
	return out, nil
}

func (r *PostgresChallengeRepository) ExpireOlder(ctx context.Context, now time.Time) (int, error) {
	query := `
		UPDATE challenges
		SET status = 'EXPIRED'
		WHERE status = 'PENDING' AND expires_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire challenges: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func scanChallenge(row rowScanner) (*models.Challenge, error) {
	c := &models.Challenge{}
	err := row.Scan(
		&c.ChallengeID, &c.TenantID, &c.ChallengerUserID, &c.OpponentUserID,
		&c.TimeControl.BaseSeconds, &c.TimeControl.IncrementSeconds, &c.Mode, &c.Variant, &c.PreferredColor,
		&c.Status, &c.GameID, &c.CreatedAt, &c.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan challenge: %w", err)
	}
	return c, nil
}
