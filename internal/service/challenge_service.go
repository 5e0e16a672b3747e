package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/code-and-chill/chessmate-sub001/internal/models"
	"github.com/code-and-chill/chessmate-sub001/internal/repository"
	"github.com/code-and-chill/chessmate-sub001/pkg/clock"
)

// CreateChallengeRequest is a directed offer to a known opponent.
type CreateChallengeRequest struct {
	TenantID         string
	ChallengerUserID string
	OpponentUserID   string

	Mode           models.Mode
	Variant        string
	TimeControl    models.TimeControl
	Region         string
	PreferredColor models.Color
}

// AcceptChallengeResult carries the match the acceptance produced.
type AcceptChallengeResult struct {
	Challenge *models.Challenge
	Match     *models.MatchRecord
}

// ChallengeService handles directed offers. Accepting one routes
// through the same proposer pipeline as pool matches, so colors,
// match records, and match.created events behave identically.
type ChallengeService struct {
	challenges repository.ChallengeRepository
	tickets    repository.TicketRepository
	ratings    RatingSource
	proposer   *Proposer
	clk        clock.Clock

	ttl    time.Duration
	logger *zap.Logger
}

func NewChallengeService(
	challenges repository.ChallengeRepository,
	tickets repository.TicketRepository,
	ratings RatingSource,
	proposer *Proposer,
	clk clock.Clock,
	ttl time.Duration,
	logger *zap.Logger,
) *ChallengeService {
	return &ChallengeService{
		challenges: challenges,
		tickets:    tickets,
		ratings:    ratings,
		proposer:   proposer,
		clk:        clk,
		ttl:        ttl,
		logger:     logger,
	}
}

// CreateChallenge issues the offer. It expires after the configured TTL
// unless answered.
func (s *ChallengeService) CreateChallenge(ctx context.Context, req CreateChallengeRequest) (*models.Challenge, error) {
	if req.TenantID == "" {
		req.TenantID = "default"
	}
	if req.ChallengerUserID == "" || req.OpponentUserID == "" {
		return nil, fmt.Errorf("%w: both users are required", ErrInvalidInput)
	}
	if req.ChallengerUserID == req.OpponentUserID {
		return nil, ErrSelfChallenge
	}
	if req.TimeControl.BaseSeconds <= 0 {
		return nil, fmt.Errorf("%w: base_seconds must be positive", ErrInvalidInput)
	}
	switch req.Mode {
	case models.ModeRated, models.ModeCasual:
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, req.Mode)
	}
	if req.Variant == "" {
		req.Variant = "standard"
	}
	if req.Region == "" {
		req.Region = "GLOBAL"
	}

	now := s.clk.Now()
	c := &models.Challenge{
		ChallengeID:      models.NewChallengeID(),
		TenantID:         req.TenantID,
		ChallengerUserID: req.ChallengerUserID,
		OpponentUserID:   req.OpponentUserID,
		TimeControl:      req.TimeControl,
		Mode:             req.Mode,
		Variant:          req.Variant,
		PreferredColor:   req.PreferredColor,
		Status:           models.ChallengeStatusPending,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.ttl),
	}

	if err := s.challenges.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create challenge: %w", err)
	}

	s.logger.Info("Challenge created",
		zap.String("challenge_id", c.ChallengeID),
		zap.String("challenger", c.ChallengerUserID),
		zap.String("opponent", c.OpponentUserID))
	return c, nil
}

// GetChallenge returns the challenge for either participant.
func (s *ChallengeService) GetChallenge(ctx context.Context, tenantID, userID, challengeID string) (*models.Challenge, error) {
	c, err := s.challenges.Get(ctx, tenantID, challengeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, err
	}
	if c.ChallengerUserID != userID && c.OpponentUserID != userID {
		return nil, ErrChallengeNotFound
	}
	return c, nil
}

// ListIncoming returns the pending challenges addressed to the user.
func (s *ChallengeService) ListIncoming(ctx context.Context, tenantID, userID string) ([]*models.Challenge, error) {
	return s.challenges.ListIncoming(ctx, tenantID, userID, s.clk.Now())
}

// AcceptChallenge converts the offer into a match: both users get a
// synthetic ticket pair, a proposal binds them, and both sides are
// auto-accepted. The challenger committed by issuing the offer, the
// opponent by accepting it.
func (s *ChallengeService) AcceptChallenge(ctx context.Context, tenantID, userID, challengeID string) (*AcceptChallengeResult, error) {
	c, err := s.challenges.Get(ctx, tenantID, challengeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, err
	}
	if c.OpponentUserID != userID {
		return nil, ErrChallengeNotFound
	}
	if !c.Pending() || c.Expired(s.clk.Now()) {
		return nil, ErrChallengeClosed
	}

	challengerTicket, err := s.createDirectTicket(ctx, c, c.ChallengerUserID, c.PreferredColor)
	if err != nil {
		return nil, err
	}
	opponentTicket, err := s.createDirectTicket(ctx, c, c.OpponentUserID, "")
	if err != nil {
		s.discardTicket(ctx, challengerTicket)
		return nil, err
	}

	proposal, err := s.proposer.Propose(ctx, challengerTicket, opponentTicket)
	if err != nil {
		s.discardTicket(ctx, challengerTicket)
		s.discardTicket(ctx, opponentTicket)
		return nil, err
	}

	if _, err := s.proposer.Accept(ctx, tenantID, c.ChallengerUserID, proposal.ProposalID); err != nil {
		return nil, err
	}
	res, err := s.proposer.Accept(ctx, tenantID, c.OpponentUserID, proposal.ProposalID)
	if err != nil {
		return nil, err
	}
	if !res.Completed {
		return nil, fmt.Errorf("challenge acceptance did not complete proposal %s", proposal.ProposalID)
	}

	c.Status = models.ChallengeStatusAccepted
	c.GameID = res.Match.GameID
	if err := s.challenges.Update(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info("Challenge accepted",
		zap.String("challenge_id", c.ChallengeID),
		zap.String("match_id", res.Match.MatchID))

	return &AcceptChallengeResult{Challenge: c, Match: res.Match}, nil
}

// createDirectTicket persists a QUEUED ticket used solely to carry the
// challenge through the proposer. It never enters a pool index.
func (s *ChallengeService) createDirectTicket(ctx context.Context, c *models.Challenge, userID string, color models.Color) (*models.Ticket, error) {
	now := s.clk.Now()
	rating := 1500
	if s.ratings != nil {
		poolKey := models.NewPoolKey(c.Mode, c.Variant, c.TimeControl, "GLOBAL")
		if ratings, err := s.ratings.GetBulkRatings(ctx, c.TenantID, poolKey.String(), []string{userID}); err == nil {
			if r, ok := ratings[userID]; ok && r > 0 {
				rating = r
			}
		}
	}

	t := &models.Ticket{
		TicketID:    models.NewTicketID(),
		TenantID:    c.TenantID,
		UserID:      userID,
		TicketType:  models.TicketTypeSolo,
		PoolKey:     models.NewPoolKey(c.Mode, c.Variant, c.TimeControl, "GLOBAL"),
		TimeControl: c.TimeControl,
		HardConstraints: models.HardConstraints{
			RatingSnapshot: rating,
			Rated:          c.Mode == models.ModeRated,
		},
		SoftConstraints: models.SoftConstraints{PreferredColor: color},
		WideningState:   models.InitialWideningState(models.DefaultWideningSchedule(), now),
		Status:          models.TicketStatusQueued,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastHeartbeatAt: now,
	}

	if err := s.tickets.Create(ctx, t); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrAlreadyQueued
		}
		return nil, err
	}
	return t, nil
}

func (s *ChallengeService) discardTicket(ctx context.Context, t *models.Ticket) {
	next := t.Clone()
	if err := models.Apply(next, models.EventCancel{}); err != nil {
		return
	}
	next.UpdatedAt = s.clk.Now()
	if err := s.tickets.UpdateCAS(ctx, next, t.MutationSeq); err != nil {
		s.logger.Warn("Failed to discard challenge ticket",
			zap.String("ticket_id", t.TicketID), zap.Error(err))
	}
}

// DeclineChallenge lets the opponent refuse the offer.
func (s *ChallengeService) DeclineChallenge(ctx context.Context, tenantID, userID, challengeID string) (*models.Challenge, error) {
	c, err := s.challenges.Get(ctx, tenantID, challengeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, err
	}
	if c.OpponentUserID != userID {
		return nil, ErrChallengeNotFound
	}
	if !c.Pending() {
		return nil, ErrChallengeClosed
	}

	c.Status = models.ChallengeStatusDeclined
	if err := s.challenges.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// CancelChallenge lets the challenger withdraw a pending offer.
func (s *ChallengeService) CancelChallenge(ctx context.Context, tenantID, userID, challengeID string) (*models.Challenge, error) {
	c, err := s.challenges.Get(ctx, tenantID, challengeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, err
	}
	if c.ChallengerUserID != userID {
		return nil, ErrChallengeNotFound
	}
	if !c.Pending() {
		return nil, ErrChallengeClosed
	}

	c.Status = models.ChallengeStatusCancelled
	if err := s.challenges.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}
