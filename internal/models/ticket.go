package models

import "time"

type TicketStatus string

const (
	TicketStatusQueued    TicketStatus = "QUEUED"
	TicketStatusProposing TicketStatus = "PROPOSING"
	TicketStatusMatched   TicketStatus = "MATCHED"
	TicketStatusExpired   TicketStatus = "EXPIRED"
	TicketStatusCancelled TicketStatus = "CANCELLED"
	// TicketStatusErrored is the shard's dead-letter state for tickets
	// whose worker pass panicked.
	TicketStatusErrored TicketStatus = "ERRORED"
)

// Terminal reports whether the status never transitions again.
func (s TicketStatus) Terminal() bool {
	switch s {
	case TicketStatusMatched, TicketStatusExpired, TicketStatusCancelled, TicketStatusErrored:
		return true
	}
	return false
}

type TicketType string

const (
	TicketTypeSolo  TicketType = "SOLO"
	TicketTypeParty TicketType = "PARTY"
)

type Color string

const (
	ColorWhite  Color = "white"
	ColorBlack  Color = "black"
	ColorRandom Color = "random"
)

// HardConstraints never relax over a ticket's lifetime.
type HardConstraints struct {
	RatingSnapshot int  `db:"rating_snapshot" json:"ratingSnapshot"`
	RatingFloor    int  `db:"rating_floor" json:"ratingFloor"`
	RatingCeiling  int  `db:"rating_ceiling" json:"ratingCeiling"`
	Rated          bool `db:"rated" json:"rated"`
}

// SoftConstraints start strict and widen over time.
type SoftConstraints struct {
	MaxLatencyMs   int   `db:"max_latency_ms" json:"maxLatencyMs"`
	PreferredColor Color `db:"preferred_color" json:"preferredColor"`
}

// WideningState tracks how far a ticket's acceptance window has been
// relaxed. Windows are monotone: they never shrink.
type WideningState struct {
	Stage               int       `db:"stage" json:"stage"`
	CurrentRatingWindow int       `db:"current_rating_window" json:"currentRatingWindow"`
	CurrentLatencyMs    int       `db:"current_latency_ms" json:"currentLatencyMs"`
	LastWidenedAt       time.Time `db:"last_widened_at" json:"lastWidenedAt"`
}

// Ticket is a player's persistent expression of intent to play within
// a pool. The queue_entry naming in JSON aliases survives from the
// legacy model consumed by older clients.
type Ticket struct {
	TicketID   string     `db:"ticket_id" json:"ticketId"`
	TenantID   string     `db:"tenant_id" json:"tenantId"`
	UserID     string     `db:"user_id" json:"userId"`
	TicketType TicketType `db:"ticket_type" json:"ticketType"`

	PoolKey     PoolKey     `db:"pool_key" json:"poolKey"`
	TimeControl TimeControl `db:"time_control" json:"timeControl"`

	HardConstraints HardConstraints `db:"hard_constraints" json:"hardConstraints"`
	SoftConstraints SoftConstraints `db:"soft_constraints" json:"softConstraints"`
	WideningState   WideningState   `db:"widening_state" json:"wideningState"`

	Status      TicketStatus `db:"status" json:"status"`
	MutationSeq int64        `db:"mutation_seq" json:"mutationSeq"`
	Shard       int          `db:"shard" json:"shard"`

	ProposalID        string     `db:"proposal_id" json:"proposalId,omitempty"`
	ProposalTimeoutAt *time.Time `db:"proposal_timeout_at" json:"proposalTimeoutAt,omitempty"`
	LeaderPlayerID    string     `db:"leader_player_id" json:"leaderPlayerId,omitempty"`

	MatchID string `db:"match_id" json:"matchId,omitempty"`
	GameID  string `db:"game_id" json:"gameId,omitempty"`

	IdempotencyKey  string `db:"idempotency_key" json:"idempotencyKey,omitempty"`
	ClientRequestID string `db:"client_request_id" json:"clientRequestId,omitempty"`

	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
	LastHeartbeatAt time.Time `db:"last_heartbeat_at" json:"lastHeartbeatAt"`
}

// QueueEntryID aliases the ticket id for the legacy queue terminology.
func (t *Ticket) QueueEntryID() string { return t.TicketID }

// Active reports whether the ticket still participates in matchmaking.
func (t *Ticket) Active() bool {
	return t.Status == TicketStatusQueued || t.Status == TicketStatusProposing
}

// AcceptsRating reports whether the candidate rating falls inside this
// ticket's current window.
func (t *Ticket) AcceptsRating(rating int) bool {
	window := t.WideningState.CurrentRatingWindow
	if window >= Unbounded {
		return true
	}
	delta := t.HardConstraints.RatingSnapshot - rating
	if delta < 0 {
		delta = -delta
	}
	return delta <= window
}

// WaitingSince returns how long the ticket has been queued.
func (t *Ticket) WaitingSince(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

// Clone returns a deep copy, detaching the pointer fields.
func (t *Ticket) Clone() *Ticket {
	cp := *t
	if t.ProposalTimeoutAt != nil {
		at := *t.ProposalTimeoutAt
		cp.ProposalTimeoutAt = &at
	}
	return &cp
}
