package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"go.uber.org/zap"

	"github.com/code-and-chill/chessmate-sub001/internal/clients"
	"github.com/code-and-chill/chessmate-sub001/internal/models"
	"github.com/code-and-chill/chessmate-sub001/internal/pool"
	"github.com/code-and-chill/chessmate-sub001/internal/repository"
	"github.com/code-and-chill/chessmate-sub001/pkg/clock"
	"github.com/code-and-chill/chessmate-sub001/pkg/distributed"
)

// GameCreator creates the game shell once both sides accepted.
type GameCreator interface {
	CreateGame(ctx context.Context, req clients.CreateGameRequest) (string, error)
}

// PoolNotifier fans dirty-pool events out to peer instances.
// *distributed.PoolSignal satisfies it.
type PoolNotifier interface {
	Publish(ctx context.Context, event distributed.PoolEvent) error
}

// PlayerNotifier pushes lifecycle updates to connected players.
// *websocket.Hub satisfies it.
type PlayerNotifier interface {
	NotifyProposal(userID, proposalID, ticketID, deadlineAt string)
	NotifyMatch(rec *models.MatchRecord)
	NotifyExpired(userID, ticketID, reason string)
}

// AcceptResult reports the state of a proposal after one side answered.
type AcceptResult struct {
	Proposal *models.Proposal
	Match    *models.MatchRecord
	// Completed is true once both sides accepted and the match exists.
	Completed bool
}

// Proposer runs the bilateral acceptance protocol. A proposal holds
// both tickets in PROPOSING; mutual acceptance finalizes them to
// MATCHED in one durable transaction, and any abort returns the
// innocent side to QUEUED with its widening state intact.
type Proposer struct {
	tickets   repository.TicketRepository
	proposals repository.ProposalRepository
	matches   repository.MatchRepository
	index     *pool.Index
	games     GameCreator
	signal    PoolNotifier
	clk       clock.Clock
	deadline  time.Duration
	notify    PlayerNotifier
	logger    *zap.Logger
}

// SetPlayerNotifier attaches the push channel. Optional; nil means no
// websocket pushes.
func (p *Proposer) SetPlayerNotifier(n PlayerNotifier) { p.notify = n }

func NewProposer(
	tickets repository.TicketRepository,
	proposals repository.ProposalRepository,
	matches repository.MatchRepository,
	index *pool.Index,
	games GameCreator,
	signal PoolNotifier,
	clk clock.Clock,
	deadline time.Duration,
	logger *zap.Logger,
) *Proposer {
	return &Proposer{
		tickets:   tickets,
		proposals: proposals,
		matches:   matches,
		index:     index,
		games:     games,
		signal:    signal,
		clk:       clk,
		deadline:  deadline,
		logger:    logger,
	}
}

// Propose locks two QUEUED tickets into a pending proposal. The leader
// is the lexicographically lower ticket id, so every process names the
// same side first. Returns ErrStaleMutation when either ticket moved
// underneath us; the caller tries the next candidate.
func (p *Proposer) Propose(ctx context.Context, a, b *models.Ticket) (*models.Proposal, error) {
	leader, follower := models.OrderTicketPair(a, b)
	now := p.clk.Now()
	deadlineAt := now.Add(p.deadline)
	proposalID := models.NewProposalID()

	leaderNext := leader.Clone()
	if err := models.Apply(leaderNext, models.EventPropose{
		ProposalID:     proposalID,
		DeadlineAt:     deadlineAt,
		LeaderPlayerID: leader.UserID,
	}); err != nil {
		return nil, err
	}
	leaderNext.UpdatedAt = now

	if err := p.tickets.UpdateCAS(ctx, leaderNext, leader.MutationSeq); err != nil {
		if errors.Is(err, repository.ErrCASConflict) {
			return nil, ErrStaleMutation
		}
		return nil, fmt.Errorf("failed to lock leader ticket: %w", err)
	}

	followerNext := follower.Clone()
	if err := models.Apply(followerNext, models.EventPropose{
		ProposalID:     proposalID,
		DeadlineAt:     deadlineAt,
		LeaderPlayerID: leader.UserID,
	}); err != nil {
		p.unlockLeader(ctx, leaderNext)
		return nil, err
	}
	followerNext.UpdatedAt = now

	if err := p.tickets.UpdateCAS(ctx, followerNext, follower.MutationSeq); err != nil {
		// The leader is already PROPOSING against a proposal that will
		// never exist; put it back before reporting.
		p.unlockLeader(ctx, leaderNext)
		if errors.Is(err, repository.ErrCASConflict) {
			return nil, ErrStaleMutation
		}
		return nil, fmt.Errorf("failed to lock follower ticket: %w", err)
	}

	proposal := &models.Proposal{
		ProposalID:       proposalID,
		TenantID:         leader.TenantID,
		PoolKey:          leader.PoolKey.String(),
		LeaderTicketID:   leaderNext.TicketID,
		FollowerTicketID: followerNext.TicketID,
		LeaderUserID:     leaderNext.UserID,
		FollowerUserID:   followerNext.UserID,
		Status:           models.ProposalStatusPending,
		CreatedAt:        now,
		DeadlineAt:       deadlineAt,
	}
	if err := p.proposals.Create(ctx, proposal); err != nil {
		p.unlockLeader(ctx, leaderNext)
		p.unlockTicket(ctx, followerNext)
		return nil, fmt.Errorf("failed to create proposal: %w", err)
	}

	p.index.Remove(leader.PoolKey.String(), leader.TicketID)
	p.index.Remove(follower.PoolKey.String(), follower.TicketID)

	p.logger.Info("Proposal created",
		zap.String("proposal_id", proposalID),
		zap.String("leader_ticket", leaderNext.TicketID),
		zap.String("follower_ticket", followerNext.TicketID),
		zap.Time("deadline_at", deadlineAt))

	if p.notify != nil {
		deadline := deadlineAt.Format(time.RFC3339)
		p.notify.NotifyProposal(leaderNext.UserID, proposalID, leaderNext.TicketID, deadline)
		p.notify.NotifyProposal(followerNext.UserID, proposalID, followerNext.TicketID, deadline)
	}

	return proposal, nil
}

func (p *Proposer) unlockLeader(ctx context.Context, t *models.Ticket) {
	p.unlockTicket(ctx, t)
}

func (p *Proposer) unlockTicket(ctx context.Context, t *models.Ticket) {
	next := t.Clone()
	if err := models.Apply(next, models.EventRollback{}); err != nil {
		p.logger.Error("Failed to roll back half-locked ticket",
			zap.String("ticket_id", t.TicketID), zap.Error(err))
		return
	}
	next.UpdatedAt = p.clk.Now()
	if err := p.tickets.UpdateCAS(ctx, next, t.MutationSeq); err != nil {
		p.logger.Error("Failed to persist half-lock rollback",
			zap.String("ticket_id", t.TicketID), zap.Error(err))
		return
	}
	p.index.Insert(next)
}

// Accept records one side's acceptance. Idempotent: re-accepting after
// completion returns the finished match again.
func (p *Proposer) Accept(ctx context.Context, tenantID, userID, proposalID string) (*AcceptResult, error) {
	proposal, err := p.proposals.Get(ctx, tenantID, proposalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrProposalNotFound
		}
		return nil, err
	}
	if !proposal.Participant(userID) {
		return nil, ErrNotParticipant
	}

	switch proposal.Status {
	case models.ProposalStatusCompleted:
		rec, err := p.matches.Get(ctx, tenantID, matchIDFor(proposal))
		if err != nil {
			return nil, err
		}
		return &AcceptResult{Proposal: proposal, Match: rec, Completed: true}, nil
	case models.ProposalStatusTimedOut:
		return nil, ErrProposalClosed
	}

	now := p.clk.Now()
	if now.After(proposal.DeadlineAt) {
		// The reaper will roll this back shortly; a late accept loses.
		return nil, ErrProposalClosed
	}

	// The append is atomic in the repository so two simultaneous accepts
	// serialize there and exactly one caller observes the transition to
	// both-accepted.
	updated, err := p.proposals.AddAcceptance(ctx, tenantID, proposalID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrProposalNotFound
		}
		return nil, err
	}
	if updated.Status != models.ProposalStatusPending {
		if updated.Status == models.ProposalStatusCompleted {
			rec, err := p.matches.Get(ctx, tenantID, matchIDFor(updated))
			if err != nil {
				return nil, err
			}
			return &AcceptResult{Proposal: updated, Match: rec, Completed: true}, nil
		}
		return nil, ErrProposalClosed
	}
	if !updated.BothAccepted() {
		return &AcceptResult{Proposal: updated, Completed: false}, nil
	}

	return p.finalize(ctx, updated, now)
}

// finalize commits the mutual acceptance: both tickets MATCHED, the
// match record written, and match.created queued on the outbox, all in
// one transaction held by the proposal repository.
func (p *Proposer) finalize(ctx context.Context, proposal *models.Proposal, now time.Time) (*AcceptResult, error) {
	leader, err := p.tickets.Get(ctx, proposal.TenantID, proposal.LeaderTicketID)
	if err != nil {
		return nil, err
	}
	follower, err := p.tickets.Get(ctx, proposal.TenantID, proposal.FollowerTicketID)
	if err != nil {
		return nil, err
	}
	if leader.Status != models.TicketStatusProposing || follower.Status != models.TicketStatusProposing ||
		leader.ProposalID != proposal.ProposalID || follower.ProposalID != proposal.ProposalID {
		return nil, ErrProposalClosed
	}

	matchID := matchIDFor(proposal)
	whiteTicket, blackTicket := resolveColors(proposal.ProposalID, leader, follower)

	rec := &models.MatchRecord{
		MatchID:     matchID,
		TenantID:    proposal.TenantID,
		WhiteUserID: whiteTicket.UserID,
		BlackUserID: blackTicket.UserID,
		TimeControl: leader.TimeControl,
		Mode:        leader.PoolKey.Mode,
		Variant:     leader.PoolKey.Variant,
		RatingSnapshot: models.RatingSnapshot{
			White: whiteTicket.HardConstraints.RatingSnapshot,
			Black: blackTicket.HardConstraints.RatingSnapshot,
		},
		QueueEntryIDs: []string{leader.TicketID, follower.TicketID},
		CreatedAt:     now,
	}

	eventID := models.NewEventID()
	ev, err := models.NewOutboxEvent(eventID, proposal.TenantID, models.EventTypeMatchCreated, models.MatchCreatedEvent{
		EventID:       eventID,
		MatchID:       matchID,
		WhitePlayerID: rec.WhiteUserID,
		BlackPlayerID: rec.BlackUserID,
		TimeControl:   rec.TimeControl,
		CreatedAt:     now,
		Version:       1,
	}, now)
	if err != nil {
		return nil, err
	}

	leaderNext := leader.Clone()
	followerNext := follower.Clone()
	if err := models.Apply(leaderNext, models.EventMatch{MatchID: matchID}); err != nil {
		return nil, err
	}
	if err := models.Apply(followerNext, models.EventMatch{MatchID: matchID}); err != nil {
		return nil, err
	}
	leaderNext.UpdatedAt = now
	followerNext.UpdatedAt = now

	if err := p.proposals.Finalize(ctx, proposal, leaderNext, followerNext,
		leader.MutationSeq, follower.MutationSeq, rec, ev); err != nil {
		if errors.Is(err, repository.ErrCASConflict) {
			// A concurrent accepter may have finalized first; hand back
			// its result rather than failing the losing caller.
			current, gerr := p.proposals.Get(ctx, proposal.TenantID, proposal.ProposalID)
			if gerr == nil && current.Status == models.ProposalStatusCompleted {
				if match, merr := p.matches.Get(ctx, proposal.TenantID, matchIDFor(current)); merr == nil {
					return &AcceptResult{Proposal: current, Match: match, Completed: true}, nil
				}
			}
			return nil, ErrProposalClosed
		}
		return nil, fmt.Errorf("failed to finalize proposal: %w", err)
	}

	p.logger.Info("Match created",
		zap.String("match_id", matchID),
		zap.String("white", rec.WhiteUserID),
		zap.String("black", rec.BlackUserID),
		zap.Int("rating_white", rec.RatingSnapshot.White),
		zap.Int("rating_black", rec.RatingSnapshot.Black))

	p.createGame(ctx, rec)

	if p.notify != nil {
		p.notify.NotifyMatch(rec)
	}

	return &AcceptResult{Proposal: proposal, Match: rec, Completed: true}, nil
}

// createGame asks the live-game service for the board. Best effort: a
// failure leaves game_id empty for later backfill, never unwinds the
// match.
func (p *Proposer) createGame(ctx context.Context, rec *models.MatchRecord) {
	if p.games == nil {
		return
	}

	gameID, err := p.games.CreateGame(ctx, clients.CreateGameRequest{
		MatchID:     rec.MatchID,
		TenantID:    rec.TenantID,
		WhiteUserID: rec.WhiteUserID,
		BlackUserID: rec.BlackUserID,
		TimeControl: rec.TimeControl,
		Mode:        rec.Mode,
		Variant:     rec.Variant,
	})
	if err != nil {
		p.logger.Error("Failed to create game, leaving game_id for backfill",
			zap.String("match_id", rec.MatchID), zap.Error(err))
		return
	}

	rec.GameID = gameID
	if err := p.matches.SetGameID(ctx, rec.TenantID, rec.MatchID, gameID); err != nil {
		p.logger.Error("Failed to store game_id on match",
			zap.String("match_id", rec.MatchID), zap.Error(err))
	}
	if err := p.tickets.SetGameIDByMatch(ctx, rec.TenantID, rec.MatchID, gameID); err != nil {
		p.logger.Error("Failed to backfill game_id on tickets",
			zap.String("match_id", rec.MatchID), zap.Error(err))
	}
}

// Decline aborts the proposal: the declining side's ticket is
// CANCELLED, the peer returns to QUEUED with its widening preserved.
func (p *Proposer) Decline(ctx context.Context, tenantID, userID, proposalID string) error {
	proposal, err := p.proposals.Get(ctx, tenantID, proposalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrProposalNotFound
		}
		return err
	}
	if !proposal.Participant(userID) {
		return ErrNotParticipant
	}
	if proposal.Status != models.ProposalStatusPending {
		return ErrProposalClosed
	}

	return p.abort(ctx, proposal, func(t *models.Ticket) bool {
		return t.UserID != userID
	})
}

// Timeout rolls back a proposal whose deadline passed: sides that
// accepted in time return to QUEUED, silent sides are CANCELLED.
func (p *Proposer) Timeout(ctx context.Context, proposal *models.Proposal) error {
	if proposal.Status != models.ProposalStatusPending {
		return ErrProposalClosed
	}
	return p.abort(ctx, proposal, func(t *models.Ticket) bool {
		return proposal.HasAccepted(t.UserID)
	})
}

// abort tears the proposal down. requeue decides per ticket whether it
// goes back to QUEUED or is CANCELLED.
func (p *Proposer) abort(ctx context.Context, proposal *models.Proposal, requeue func(*models.Ticket) bool) error {
	now := p.clk.Now()

	for _, ticketID := range []string{proposal.LeaderTicketID, proposal.FollowerTicketID} {
		t, err := p.tickets.Get(ctx, proposal.TenantID, ticketID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return err
		}
		// Only tickets still bound to this proposal move.
		if t.Status != models.TicketStatusProposing || t.ProposalID != proposal.ProposalID {
			continue
		}

		next := t.Clone()
		var ev models.TicketEvent = models.EventCancel{}
		if requeue(t) {
			ev = models.EventRollback{}
		}
		if err := models.Apply(next, ev); err != nil {
			return err
		}
		next.UpdatedAt = now

		if err := p.tickets.UpdateCAS(ctx, next, t.MutationSeq); err != nil {
			if errors.Is(err, repository.ErrCASConflict) {
				continue
			}
			return err
		}

		if next.Status == models.TicketStatusQueued {
			p.index.Insert(next)
			p.notifyPool(ctx, next, "proposal_rolled_back")
		}
	}

	proposal.Status = models.ProposalStatusTimedOut
	if err := p.proposals.Update(ctx, proposal); err != nil {
		return err
	}

	p.logger.Info("Proposal aborted",
		zap.String("proposal_id", proposal.ProposalID),
		zap.Strings("accepted_by", proposal.Acceptances))
	return nil
}

func (p *Proposer) notifyPool(ctx context.Context, t *models.Ticket, eventType string) {
	if p.signal == nil {
		return
	}
	err := p.signal.Publish(ctx, distributed.PoolEvent{
		Type:     eventType,
		TenantID: t.TenantID,
		PoolKey:  t.PoolKey.String(),
		TicketID: t.TicketID,
	})
	if err != nil {
		p.logger.Warn("Failed to publish pool event", zap.Error(err))
	}
}

// matchIDFor derives the match id from the proposal id so finalize is
// idempotent across retries.
func matchIDFor(p *models.Proposal) string {
	return "m_" + p.ProposalID[len("p_"):]
}

// resolveColors honors compatible color preferences; otherwise the
// proposal id hash decides, so both processes agree without
// coordination.
func resolveColors(proposalID string, leader, follower *models.Ticket) (white, black *models.Ticket) {
	lp := leader.SoftConstraints.PreferredColor
	fp := follower.SoftConstraints.PreferredColor

	switch {
	case lp == models.ColorWhite && fp != models.ColorWhite:
		return leader, follower
	case lp == models.ColorBlack && fp != models.ColorBlack:
		return follower, leader
	case fp == models.ColorWhite && lp != models.ColorWhite:
		return follower, leader
	case fp == models.ColorBlack && lp != models.ColorBlack:
		return leader, follower
	}

	h := fnv.New32a()
	h.Write([]byte(proposalID))
	if h.Sum32()%2 == 0 {
		return leader, follower
	}
	return follower, leader
}
