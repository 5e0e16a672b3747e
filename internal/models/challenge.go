package models

import "time"

type ChallengeStatus string

const (
	ChallengeStatusPending   ChallengeStatus = "PENDING"
	ChallengeStatusAccepted  ChallengeStatus = "ACCEPTED"
	ChallengeStatusDeclined  ChallengeStatus = "DECLINED"
	ChallengeStatusExpired   ChallengeStatus = "EXPIRED"
	ChallengeStatusCancelled ChallengeStatus = "CANCELLED"
)

// Challenge is a directed offer between two known users, bypassing
// the pools.
type Challenge struct {
	ChallengeID string `db:"challenge_id" json:"challengeId"`
	TenantID    string `db:"tenant_id" json:"tenantId"`

	ChallengerUserID string `db:"challenger_user_id" json:"challengerUserId"`
	OpponentUserID   string `db:"opponent_user_id" json:"opponentUserId"`

	TimeControl    TimeControl `db:"time_control" json:"timeControl"`
	Mode           Mode        `db:"mode" json:"mode"`
	Variant        string      `db:"variant" json:"variant"`
	PreferredColor Color       `db:"preferred_color" json:"preferredColor"`

	Status ChallengeStatus `db:"status" json:"status"`
	GameID string          `db:"game_id" json:"gameId,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	ExpiresAt time.Time `db:"expires_at" json:"expiresAt"`
}

// Pending reports whether the challenge can still be answered.
func (c *Challenge) Pending() bool {
	return c.Status == ChallengeStatusPending
}

// Expired reports whether the expiry window has passed.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
