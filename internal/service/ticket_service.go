package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/code-and-chill/chessmate-sub001/internal/models"
	"github.com/code-and-chill/chessmate-sub001/internal/pool"
	"github.com/code-and-chill/chessmate-sub001/internal/repository"
	"github.com/code-and-chill/chessmate-sub001/pkg/clock"
	"github.com/code-and-chill/chessmate-sub001/pkg/distributed"
	"github.com/code-and-chill/chessmate-sub001/pkg/shard"
)

// RatingSource hydrates rating snapshots at enqueue time.
// *clients.RatingClient satisfies it.
type RatingSource interface {
	GetBulkRatings(ctx context.Context, tenantID, pool string, userIDs []string) (map[string]int, error)
}

// CreateTicketRequest carries everything a player submits to enqueue.
type CreateTicketRequest struct {
	TenantID string
	UserID   string

	Mode        models.Mode
	Variant     string
	TimeControl models.TimeControl
	Region      string

	RatingFloor    int
	RatingCeiling  int
	MaxLatencyMs   int
	PreferredColor models.Color

	IdempotencyKey  string
	ClientRequestID string
}

// CreateTicketResult is the ticket plus its queue estimate. Replayed
// reports an idempotency-key hit: the stored ticket was returned and
// nothing was created.
type CreateTicketResult struct {
	Ticket               *models.Ticket
	EstimatedWaitSeconds int
	Replayed             bool
}

// TicketService owns the ticket lifecycle: enqueue, heartbeat, cancel,
// and the player/queue read paths. Matching itself lives in Matcher and
// Proposer.
type TicketService struct {
	tickets  repository.TicketRepository
	index    *pool.Index
	ratings  RatingSource
	proposer *Proposer
	signal   PoolNotifier
	clk      clock.Clock

	schedule   []models.WideningStage
	shardCount int
	logger     *zap.Logger
}

func NewTicketService(
	tickets repository.TicketRepository,
	index *pool.Index,
	ratings RatingSource,
	proposer *Proposer,
	signal PoolNotifier,
	clk clock.Clock,
	schedule []models.WideningStage,
	shardCount int,
	logger *zap.Logger,
) *TicketService {
	return &TicketService{
		tickets:    tickets,
		index:      index,
		ratings:    ratings,
		proposer:   proposer,
		signal:     signal,
		clk:        clk,
		schedule:   schedule,
		shardCount: shardCount,
		logger:     logger,
	}
}

// CreateTicket enqueues the user. Safe to retry with the same
// idempotency key; the stored ticket is returned instead of a
// duplicate.
func (s *TicketService) CreateTicket(ctx context.Context, req CreateTicketRequest) (*CreateTicketResult, error) {
	if err := validateCreate(&req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.tickets.GetByIdempotencyKey(ctx, req.TenantID, req.IdempotencyKey)
		if err == nil {
			return &CreateTicketResult{
				Ticket:               existing,
				EstimatedWaitSeconds: s.estimateWait(existing.PoolKey.String()),
				Replayed:             true,
			}, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}

	now := s.clk.Now()
	poolKey := models.NewPoolKey(req.Mode, req.Variant, req.TimeControl, req.Region)
	rating := s.hydrateRating(ctx, req.TenantID, poolKey.String(), req.UserID)

	t := &models.Ticket{
		TicketID:    models.NewTicketID(),
		TenantID:    req.TenantID,
		UserID:      req.UserID,
		TicketType:  models.TicketTypeSolo,
		PoolKey:     poolKey,
		TimeControl: req.TimeControl,
		HardConstraints: models.HardConstraints{
			RatingSnapshot: rating,
			RatingFloor:    req.RatingFloor,
			RatingCeiling:  req.RatingCeiling,
			Rated:          req.Mode == models.ModeRated,
		},
		SoftConstraints: models.SoftConstraints{
			MaxLatencyMs:   req.MaxLatencyMs,
			PreferredColor: req.PreferredColor,
		},
		WideningState:   models.InitialWideningState(s.schedule, now),
		Status:          models.TicketStatusQueued,
		Shard:           shard.ForID(poolKey.String(), s.shardCount),
		IdempotencyKey:  req.IdempotencyKey,
		ClientRequestID: req.ClientRequestID,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastHeartbeatAt: now,
	}

	if err := s.tickets.Create(ctx, t); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrAlreadyQueued
		}
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}

	s.index.Insert(t)
	s.notifyPool(ctx, t, "ticket_enqueued")

	s.logger.Info("Ticket enqueued",
		zap.String("ticket_id", t.TicketID),
		zap.String("user_id", t.UserID),
		zap.String("pool_key", t.PoolKey.String()),
		zap.Int("rating", rating))

	return &CreateTicketResult{
		Ticket:               t,
		EstimatedWaitSeconds: s.estimateWait(t.PoolKey.String()),
	}, nil
}

func validateCreate(req *CreateTicketRequest) error {
	if req.TenantID == "" {
		req.TenantID = "default"
	}
	if req.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	switch req.Mode {
	case models.ModeRated, models.ModeCasual:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, req.Mode)
	}
	if req.Variant == "" {
		req.Variant = "standard"
	}
	if req.Region == "" {
		return fmt.Errorf("%w: region is required", ErrInvalidInput)
	}
	if req.TimeControl.BaseSeconds <= 0 {
		return fmt.Errorf("%w: base_seconds must be positive", ErrInvalidInput)
	}
	if req.TimeControl.IncrementSeconds < 0 {
		return fmt.Errorf("%w: increment_seconds cannot be negative", ErrInvalidInput)
	}
	if req.RatingCeiling != 0 && req.RatingCeiling < req.RatingFloor {
		return fmt.Errorf("%w: rating_ceiling below rating_floor", ErrInvalidInput)
	}
	switch req.PreferredColor {
	case "", models.ColorWhite, models.ColorBlack, models.ColorRandom:
	default:
		return fmt.Errorf("%w: unknown preferred_color %q", ErrInvalidInput, req.PreferredColor)
	}
	return nil
}

// hydrateRating asks the rating service for the player's snapshot,
// falling back to the seed rating when the service is down or the
// player is unrated. Enqueue never blocks on rating history.
func (s *TicketService) hydrateRating(ctx context.Context, tenantID, poolKey, userID string) int {
	const seed = 1500
	if s.ratings == nil {
		return seed
	}

	ratings, err := s.ratings.GetBulkRatings(ctx, tenantID, poolKey, []string{userID})
	if err != nil {
		s.logger.Warn("Rating hydration failed, using seed rating",
			zap.String("user_id", userID), zap.Error(err))
		return seed
	}
	if r, ok := ratings[userID]; ok && r > 0 {
		return r
	}
	return seed
}

// estimateWait reports a rough queue estimate from the pool's current
// average wait; an empty pool gets a flat optimistic guess.
func (s *TicketService) estimateWait(poolKey string) int {
	stats := s.index.PoolStats(poolKey, s.clk.Now())
	if stats.WaitingCount == 0 {
		return 30
	}
	return int(math.Ceil(stats.AvgWaitSeconds))
}

// GetTicket returns the caller's ticket. Non-owners get not-found, not
// forbidden, so ticket ids carry no information.
func (s *TicketService) GetTicket(ctx context.Context, tenantID, userID, ticketID string) (*models.Ticket, error) {
	t, err := s.tickets.Get(ctx, tenantID, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}
	if t.UserID != userID {
		return nil, ErrTicketNotFound
	}
	return t, nil
}

// CancelTicket cancels the caller's ticket. Cancelling a PROPOSING
// ticket also aborts the proposal and returns the peer to the queue.
// Cancelling an already CANCELLED ticket is a no-op.
func (s *TicketService) CancelTicket(ctx context.Context, tenantID, userID, ticketID string) (*models.Ticket, error) {
	t, err := s.GetTicket(ctx, tenantID, userID, ticketID)
	if err != nil {
		return nil, err
	}

	switch t.Status {
	case models.TicketStatusCancelled:
		return t, nil
	case models.TicketStatusMatched, models.TicketStatusExpired, models.TicketStatusErrored:
		return nil, ErrTicketGone
	case models.TicketStatusProposing:
		if err := s.proposer.Decline(ctx, tenantID, userID, t.ProposalID); err != nil &&
			!errors.Is(err, ErrProposalClosed) && !errors.Is(err, ErrProposalNotFound) {
			return nil, err
		}
		return s.tickets.Get(ctx, tenantID, ticketID)
	}

	next := t.Clone()
	if err := models.Apply(next, models.EventCancel{}); err != nil {
		return nil, err
	}
	next.UpdatedAt = s.clk.Now()

	if err := s.tickets.UpdateCAS(ctx, next, t.MutationSeq); err != nil {
		if errors.Is(err, repository.ErrCASConflict) {
			// Raced with the matcher; re-read and retry through the
			// proposal path.
			return s.CancelTicket(ctx, tenantID, userID, ticketID)
		}
		return nil, err
	}

	s.index.Remove(next.PoolKey.String(), next.TicketID)

	s.logger.Info("Ticket cancelled",
		zap.String("ticket_id", ticketID),
		zap.String("user_id", userID))
	return next, nil
}

// Heartbeat keeps the ticket alive. ErrTicketGone once terminal, so
// clients learn to stop pinging.
func (s *TicketService) Heartbeat(ctx context.Context, tenantID, userID, ticketID string) (*models.Ticket, error) {
	t, err := s.GetTicket(ctx, tenantID, userID, ticketID)
	if err != nil {
		return nil, err
	}
	if !t.Active() {
		return nil, ErrTicketGone
	}

	if err := s.tickets.Heartbeat(ctx, tenantID, ticketID, s.clk.Now()); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrTicketNotFound
		case errors.Is(err, repository.ErrGone):
			return nil, ErrTicketGone
		}
		return nil, err
	}

	fresh, err := s.tickets.Get(ctx, tenantID, ticketID)
	if err != nil {
		return nil, err
	}

	// The heartbeat bumped mutation_seq; refresh the pool snapshot so
	// the matcher and widener CAS against the current value instead of
	// conflicting forever.
	if fresh.Status == models.TicketStatusQueued {
		s.index.UpdatePosition(fresh)
	}
	return fresh, nil
}

// GetActiveTicket returns the user's QUEUED or PROPOSING ticket.
func (s *TicketService) GetActiveTicket(ctx context.Context, tenantID, userID string) (*models.Ticket, error) {
	t, err := s.tickets.GetActiveForUser(ctx, tenantID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}
	return t, nil
}

// QueueSummary reports waiting statistics per pool for the internal
// operations endpoint.
func (s *TicketService) QueueSummary(_ context.Context) map[string]pool.Stats {
	now := s.clk.Now()
	out := make(map[string]pool.Stats)
	for _, key := range s.index.Keys() {
		out[key] = s.index.PoolStats(key, now)
	}
	return out
}

// RebuildIndex reloads every QUEUED ticket into the in-memory pool
// index. Runs once at startup; the durable store is the source of
// truth.
func (s *TicketService) RebuildIndex(ctx context.Context) error {
	queued, err := s.tickets.ListByStatus(ctx, models.TicketStatusQueued)
	if err != nil {
		return fmt.Errorf("failed to list queued tickets: %w", err)
	}
	for _, t := range queued {
		s.index.Insert(t)
	}
	s.logger.Info("Pool index rebuilt", zap.Int("tickets", len(queued)))
	return nil
}

func (s *TicketService) notifyPool(ctx context.Context, t *models.Ticket, eventType string) {
	if s.signal == nil {
		return
	}
	err := s.signal.Publish(ctx, distributed.PoolEvent{
		Type:     eventType,
		TenantID: t.TenantID,
		PoolKey:  t.PoolKey.String(),
		TicketID: t.TicketID,
	})
	if err != nil {
		s.logger.Warn("Failed to publish pool event", zap.Error(err))
	}
}
