package models

import (
	"encoding/json"
	"time"
)

const (
	EventTypeMatchCreated  = "match.created"
	EventTypeTicketExpired = "ticket.expired"
)

// Expiry reasons carried on ticket.expired events.
const (
	ExpireReasonHeartbeatTimeout = "heartbeat_timeout"
	ExpireReasonQueueTimeout     = "queue_timeout"
)

// OutboxEvent is one row of the transactional outbox. Rows are written
// in the same transaction as the state change they describe and
// drained to the bus by a background publisher. Consumers deduplicate
// on EventID; delivery is at-least-once.
type OutboxEvent struct {
	EventID   string          `db:"event_id" json:"eventId"`
	TenantID  string          `db:"tenant_id" json:"tenantId"`
	EventType string          `db:"event_type" json:"eventType"`
	Payload   json.RawMessage `db:"payload" json:"payload"`

	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	ClaimedAt   *time.Time `db:"claimed_at" json:"claimedAt,omitempty"`
	PublishedAt *time.Time `db:"published_at" json:"publishedAt,omitempty"`
}

// MatchCreatedEvent is the payload of match.created.
type MatchCreatedEvent struct {
	EventID       string      `json:"event_id"`
	MatchID       string      `json:"match_id"`
	WhitePlayerID string      `json:"white_player_id"`
	BlackPlayerID string      `json:"black_player_id"`
	GameID        string      `json:"game_id,omitempty"`
	TimeControl   TimeControl `json:"time_control"`
	CreatedAt     time.Time   `json:"created_at"`
	Version       int         `json:"version"`
}

// TicketExpiredEvent is the payload of ticket.expired.
type TicketExpiredEvent struct {
	EventID  string    `json:"event_id"`
	TicketID string    `json:"ticket_id"`
	UserID   string    `json:"user_id"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// NewOutboxEvent wraps a payload for the outbox.
func NewOutboxEvent(eventID, tenantID, eventType string, payload interface{}, now time.Time) (*OutboxEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &OutboxEvent{
		EventID:   eventID,
		TenantID:  tenantID,
		EventType: eventType,
		Payload:   raw,
		CreatedAt: now,
	}, nil
}
