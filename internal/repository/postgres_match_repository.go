package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/code-and-chill/chessmate-sub001/internal/models"
	"github.com/code-and-chill/chessmate-sub001/pkg/database"
)

type PostgresMatchRepository struct {
	db *database.DB
}

func NewPostgresMatchRepository(db *database.DB) *PostgresMatchRepository {
	return &PostgresMatchRepository{db: db}
}

func (r *PostgresMatchRepository) Get(ctx context.Context, tenantID, matchID string) (*models.MatchRecord, error) {
	query := `
		SELECT match_id, tenant_id, game_id, white_user_id, black_user_id,
		       base_seconds, increment_seconds, mode, variant,
		       rating_white, rating_black, queue_entry_ids, created_at
		FROM match_records
		WHERE tenant_id = $1 AND match_id = $2
	`

	rec := &models.MatchRecord{}
	var queueEntryIDs pq.StringArray

	err := r.db.QueryRowContext(ctx, query, tenantID, matchID).Scan(
		&rec.MatchID, &rec.TenantID, &rec.GameID, &rec.WhiteUserID, &rec.BlackUserID,
		&rec.TimeControl.BaseSeconds, &rec.TimeControl.IncrementSeconds, &rec.Mode, &rec.Variant,
		&rec.RatingSnapshot.White, &rec.RatingSnapshot.Black, &queueEntryIDs, &rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan match record: %w", err)
	}

	rec.QueueEntryIDs = []string(queueEntryIDs)
	return rec, nil
}

func (r *PostgresMatchRepository) SetGameID(ctx context.Context, tenantID, matchID, gameID string) error {
	query := `UPDATE match_records SET game_id = $3 WHERE tenant_id = $1 AND match_id = $2`
	res, err := r.db.ExecContext(ctx, query, tenantID, matchID, gameID)
	if err != nil {
		return fmt.Errorf("failed to set game id: %w", err)
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
