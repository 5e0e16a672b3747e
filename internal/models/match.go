package models

import "time"

// RatingSnapshot freezes both players' ratings at match time; the
// rating service consumes it when the game finishes.
type RatingSnapshot struct {
	White int `db:"white" json:"white"`
	Black int `db:"black" json:"black"`
}

// MatchRecord is emitted when a proposal completes. GameID is filled
// once the live-game service confirms creation.
type MatchRecord struct {
	MatchID  string `db:"match_id" json:"matchId"`
	TenantID string `db:"tenant_id" json:"tenantId"`
	GameID   string `db:"game_id" json:"gameId,omitempty"`

	WhiteUserID string `db:"white_user_id" json:"whiteUserId"`
	BlackUserID string `db:"black_user_id" json:"blackUserId"`

	TimeControl TimeControl `db:"time_control" json:"timeControl"`
	Mode        Mode        `db:"mode" json:"mode"`
	Variant     string      `db:"variant" json:"variant"`

	RatingSnapshot RatingSnapshot `db:"rating_snapshot" json:"ratingSnapshot"`

	// QueueEntryIDs keeps the legacy name for the two ticket ids.
	QueueEntryIDs []string `db:"queue_entry_ids" json:"queueEntryIds"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
