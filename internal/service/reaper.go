package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/code-and-chill/chessmate-sub001/internal/models"
	"github.com/code-and-chill/chessmate-sub001/internal/pool"
	"github.com/code-and-chill/chessmate-sub001/internal/repository"
	"github.com/code-and-chill/chessmate-sub001/pkg/clock"
	"github.com/code-and-chill/chessmate-sub001/pkg/shard"
)

// Reaper sweeps the three time-based failure modes: tickets whose
// heartbeats stopped, tickets queued past the maximum wait, and
// proposals whose acceptance deadline lapsed. It also expires stale
// challenges.
type Reaper struct {
	tickets    repository.TicketRepository
	proposals  repository.ProposalRepository
	challenges repository.ChallengeRepository
	index      *pool.Index
	proposer   *Proposer
	clk        clock.Clock

	interval     time.Duration
	heartbeatTTL time.Duration
	maxQueueTime time.Duration
	shardIndex   int
	shardCount   int
	notify       PlayerNotifier
	logger       *zap.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

func NewReaper(
	tickets repository.TicketRepository,
	proposals repository.ProposalRepository,
	challenges repository.ChallengeRepository,
	index *pool.Index,
	proposer *Proposer,
	clk clock.Clock,
	interval, heartbeatTTL, maxQueueTime time.Duration,
	shardIndex, shardCount int,
	logger *zap.Logger,
) *Reaper {
	return &Reaper{
		tickets:      tickets,
		proposals:    proposals,
		challenges:   challenges,
		index:        index,
		proposer:     proposer,
		clk:          clk,
		interval:     interval,
		heartbeatTTL: heartbeatTTL,
		maxQueueTime: maxQueueTime,
		shardIndex:   shardIndex,
		shardCount:   shardCount,
		logger:       logger,
		stopChan:     make(chan struct{}),
	}
}

// SetPlayerNotifier attaches the push channel. Optional.
func (r *Reaper) SetPlayerNotifier(n PlayerNotifier) { r.notify = n }

func (r *Reaper) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	r.logger.Info("Starting reaper",
		zap.Duration("interval", r.interval),
		zap.Duration("heartbeat_ttl", r.heartbeatTTL),
		zap.Duration("max_queue_time", r.maxQueueTime))

	r.wg.Add(1)
	go r.loop()
}

func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopChan)
	r.wg.Wait()
	r.logger.Info("Reaper stopped")
}

func (r *Reaper) loop() {
	defer r.wg.Done()

	ticker := r.clk.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			r.RunOnce(context.Background())
		case <-r.stopChan:
			return
		}
	}
}

// RunOnce runs one full sweep.
func (r *Reaper) RunOnce(ctx context.Context) {
	now := r.clk.Now()
	r.expireStaleTickets(ctx, now)
	r.rollbackTimedOutProposals(ctx, now)
	r.expireChallenges(ctx, now)
}

// expireStaleTickets moves QUEUED tickets whose heartbeat stopped or
// whose queue wait exceeded the cap to EXPIRED, with a ticket.expired
// outbox row carrying the reason.
func (r *Reaper) expireStaleTickets(ctx context.Context, now time.Time) {
	queued, err := r.tickets.ListByStatus(ctx, models.TicketStatusQueued)
	if err != nil {
		r.logger.Error("Failed to list queued tickets", zap.Error(err))
		return
	}

	expired := 0
	for _, t := range queued {
		if !shard.Owns(t.PoolKey.String(), r.shardIndex, r.shardCount) {
			continue
		}

		var reason string
		switch {
		case now.Sub(t.LastHeartbeatAt) > r.heartbeatTTL:
			reason = models.ExpireReasonHeartbeatTimeout
		case r.maxQueueTime > 0 && now.Sub(t.CreatedAt) > r.maxQueueTime:
			reason = models.ExpireReasonQueueTimeout
		default:
			continue
		}

		if r.expireTicket(ctx, t, reason, now) {
			expired++
		}
	}

	if expired > 0 {
		r.logger.Info("Expired stale tickets", zap.Int("count", expired))
	}
}

func (r *Reaper) expireTicket(ctx context.Context, t *models.Ticket, reason string, now time.Time) bool {
	next := t.Clone()
	if err := models.Apply(next, models.EventExpire{}); err != nil {
		return false
	}
	next.UpdatedAt = now

	eventID := models.NewEventID()
	ev, err := models.NewOutboxEvent(eventID, t.TenantID, models.EventTypeTicketExpired, models.TicketExpiredEvent{
		EventID:  eventID,
		TicketID: t.TicketID,
		UserID:   t.UserID,
		Reason:   reason,
		At:       now,
	}, now)
	if err != nil {
		r.logger.Error("Failed to build ticket.expired event", zap.Error(err))
		return false
	}

	if err := r.tickets.UpdateCASWithOutbox(ctx, next, t.MutationSeq, ev); err != nil {
		if !errors.Is(err, repository.ErrCASConflict) {
			r.logger.Error("Failed to expire ticket",
				zap.String("ticket_id", t.TicketID), zap.Error(err))
		}
		return false
	}

	r.index.Remove(next.PoolKey.String(), next.TicketID)

	if r.notify != nil {
		r.notify.NotifyExpired(t.UserID, t.TicketID, reason)
	}

	r.logger.Info("Ticket expired",
		zap.String("ticket_id", t.TicketID),
		zap.String("user_id", t.UserID),
		zap.String("reason", reason))
	return true
}

// rollbackTimedOutProposals aborts PENDING proposals past their
// deadline. Sides that accepted return to QUEUED; silent sides are
// CANCELLED.
func (r *Reaper) rollbackTimedOutProposals(ctx context.Context, now time.Time) {
	stale, err := r.proposals.ListPendingExpired(ctx, now)
	if err != nil {
		r.logger.Error("Failed to list expired proposals", zap.Error(err))
		return
	}

	for _, p := range stale {
		if !shard.Owns(p.PoolKey, r.shardIndex, r.shardCount) {
			continue
		}
		if err := r.proposer.Timeout(ctx, p); err != nil && !errors.Is(err, ErrProposalClosed) {
			r.logger.Error("Failed to roll back proposal",
				zap.String("proposal_id", p.ProposalID), zap.Error(err))
		}
	}
}

func (r *Reaper) expireChallenges(ctx context.Context, now time.Time) {
	n, err := r.challenges.ExpireOlder(ctx, now)
	if err != nil {
		r.logger.Error("Failed to expire challenges", zap.Error(err))
		return
	}
	if n > 0 {
		r.logger.Info("Expired challenges", zap.Int("count", n))
	}
}
