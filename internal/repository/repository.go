// Package repository defines the persistence boundaries of the
// matchmaking core. Each boundary is an interface with two variants:
// a durable SQL-backed one here, and an in-memory one under memory/
// for tests. Services depend only on the interfaces.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/code-and-chill/chessmate-sub001/internal/models"
)

var (
	// ErrNotFound is returned for unknown ids.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a user already has an active
	// ticket for the pool, or an id collides.
	ErrDuplicate = errors.New("duplicate record")
	// ErrCASConflict is returned when mutation_seq moved underneath a
	// compare-and-swap write.
	ErrCASConflict = errors.New("mutation sequence conflict")
	// ErrGone is returned when a ticket is terminal and no longer
	// actionable.
	ErrGone = errors.New("record gone")
)

// TicketRepository is the durable record of every ticket. Every write
// is flushed before returning; the in-memory pool index is rebuilt
// from ListByStatus on startup.
type TicketRepository interface {
	// Create persists a fresh ticket at mutation_seq 1, writing the
	// sequence back into t. ErrDuplicate when the user already has an
	// active ticket in the same pool.
	Create(ctx context.Context, t *models.Ticket) error

	Get(ctx context.Context, tenantID, ticketID string) (*models.Ticket, error)

	// GetByIdempotencyKey resolves a replayed create request.
	GetByIdempotencyKey(ctx context.Context, tenantID, key string) (*models.Ticket, error)

	// GetActiveForUser returns the user's QUEUED or PROPOSING ticket,
	// or ErrNotFound.
	GetActiveForUser(ctx context.Context, tenantID, userID string) (*models.Ticket, error)

	ListByUser(ctx context.Context, tenantID, userID string) ([]*models.Ticket, error)

	// ListByStatus scans all tenants; used for startup rebuild and the
	// reaper's sweeps.
	ListByStatus(ctx context.Context, status models.TicketStatus) ([]*models.Ticket, error)

	// UpdateCAS persists t only if the stored mutation_seq equals
	// expectedSeq, then bumps it. On success t.MutationSeq holds the
	// new sequence. ErrCASConflict otherwise.
	UpdateCAS(ctx context.Context, t *models.Ticket, expectedSeq int64) error

	// UpdateCASWithOutbox is UpdateCAS plus an outbox row in the same
	// durable transaction (ticket.expired and similar).
	UpdateCASWithOutbox(ctx context.Context, t *models.Ticket, expectedSeq int64, ev *models.OutboxEvent) error

	// Heartbeat stamps last_heartbeat_at iff the ticket is still
	// active. ErrGone when terminal, ErrNotFound when unknown.
	Heartbeat(ctx context.Context, tenantID, ticketID string, at time.Time) error

	// SetGameIDByMatch backfills game_id onto the matched tickets once
	// the live-game service confirms creation.
	SetGameIDByMatch(ctx context.Context, tenantID, matchID, gameID string) error
}

// ProposalRepository stores the ephemeral two-sided commitments.
type ProposalRepository interface {
	Create(ctx context.Context, p *models.Proposal) error
	Get(ctx context.Context, tenantID, proposalID string) (*models.Proposal, error)
	Update(ctx context.Context, p *models.Proposal) error

	// AddAcceptance atomically appends userID to a PENDING proposal's
	// acceptances, skipping the append when already recorded, and
	// returns the resulting row. Concurrent accepts serialize here, so
	// exactly one caller sees the both-accepted transition.
	AddAcceptance(ctx context.Context, tenantID, proposalID, userID string) (*models.Proposal, error)

	// ListPendingExpired returns PENDING proposals whose deadline has
	// passed; the reaper rolls them back.
	ListPendingExpired(ctx context.Context, before time.Time) ([]*models.Proposal, error)

	// Finalize commits a completed proposal in one durable
	// transaction: proposal COMPLETED, both tickets MATCHED (CAS on
	// their expected sequences), match record inserted, match.created
	// outbox row appended. ErrCASConflict aborts the whole
	// transaction.
	Finalize(ctx context.Context, p *models.Proposal, leader, follower *models.Ticket,
		leaderSeq, followerSeq int64, rec *models.MatchRecord, ev *models.OutboxEvent) error
}

// MatchRepository reads match records produced by Finalize.
type MatchRepository interface {
	Get(ctx context.Context, tenantID, matchID string) (*models.MatchRecord, error)
	SetGameID(ctx context.Context, tenantID, matchID, gameID string) error
}

// ChallengeRepository stores directed offers.
type ChallengeRepository interface {
	Create(ctx context.Context, c *models.Challenge) error
	Get(ctx context.Context, tenantID, challengeID string) (*models.Challenge, error)
	Update(ctx context.Context, c *models.Challenge) error
	ListIncoming(ctx context.Context, tenantID, userID string, now time.Time) ([]*models.Challenge, error)

	// ExpireOlder marks PENDING challenges past their expiry and
	// returns how many changed.
	ExpireOlder(ctx context.Context, now time.Time) (int, error)
}

// OutboxRepository is the event outbox. Append usually happens inside
// another repository's transaction; the standalone form exists for
// events with no accompanying state change.
type OutboxRepository interface {
	Append(ctx context.Context, ev *models.OutboxEvent) error

	// ClaimBatch marks up to limit unpublished rows as claimed and
	// returns them. Rows claimed longer than the visibility timeout
	// ago are reclaimed, so a crashed publisher's work is retried.
	ClaimBatch(ctx context.Context, limit int, now time.Time, visibility time.Duration) ([]*models.OutboxEvent, error)

	MarkPublished(ctx context.Context, eventIDs []string, at time.Time) error
}
