package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/code-and-chill/chessmate-sub001/internal/models"
	"github.com/code-and-chill/chessmate-sub001/internal/pool"
	"github.com/code-and-chill/chessmate-sub001/internal/repository"
	"github.com/code-and-chill/chessmate-sub001/pkg/clock"
	"github.com/code-and-chill/chessmate-sub001/pkg/distributed"
	"github.com/code-and-chill/chessmate-sub001/pkg/shard"
)

// PoolLocker serializes matching passes per pool across the instances
// of a shard. *distributed.RedisLockManager satisfies it; nil means
// single-instance deployment and only the local mutex applies.
type PoolLocker interface {
	AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (*distributed.RedisLock, error)
}

// Matcher periodically scans each owned pool oldest-ticket-first and
// hands compatible pairs to the Proposer. Pools also get an immediate
// pass when a dirty signal arrives.
type Matcher struct {
	index    *pool.Index
	tickets  repository.TicketRepository
	proposer *Proposer
	locks    PoolLocker
	clk      clock.Clock

	interval   time.Duration
	shardIndex int
	shardCount int
	instanceID string
	logger     *zap.Logger

	dirty    chan string
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex

	poolMu sync.Map // pool key -> *sync.Mutex
}

func NewMatcher(
	index *pool.Index,
	tickets repository.TicketRepository,
	proposer *Proposer,
	locks PoolLocker,
	clk clock.Clock,
	interval time.Duration,
	shardIndex, shardCount int,
	logger *zap.Logger,
) *Matcher {
	return &Matcher{
		index:      index,
		tickets:    tickets,
		proposer:   proposer,
		locks:      locks,
		clk:        clk,
		interval:   interval,
		shardIndex: shardIndex,
		shardCount: shardCount,
		instanceID: uuid.New().String(),
		logger:     logger,
		dirty:      make(chan string, 256),
		stopChan:   make(chan struct{}),
	}
}

// MarkDirty requests an immediate pass over the pool. Safe from any
// goroutine; drops the hint when the channel is full because the next
// tick covers it anyway.
func (m *Matcher) MarkDirty(poolKey string) {
	select {
	case m.dirty <- poolKey:
	default:
	}
}

func (m *Matcher) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	m.logger.Info("Starting matcher",
		zap.Duration("interval", m.interval),
		zap.Int("shard_index", m.shardIndex),
		zap.Int("shard_count", m.shardCount))

	m.wg.Add(1)
	go m.loop()
}

func (m *Matcher) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopChan)
	m.wg.Wait()
	m.logger.Info("Matcher stopped")
}

func (m *Matcher) loop() {
	defer m.wg.Done()

	ticker := m.clk.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			m.RunOnce(context.Background())
		case poolKey := <-m.dirty:
			m.RunPool(context.Background(), poolKey)
		case <-m.stopChan:
			return
		}
	}
}

// RunOnce runs one matching pass over every owned pool.
func (m *Matcher) RunOnce(ctx context.Context) {
	for _, key := range m.index.Keys() {
		select {
		case <-m.stopChan:
			return
		default:
		}
		m.RunPool(ctx, key)
	}
}

// RunPool matches one pool. Per-pool passes are serialized locally and,
// when a lock manager is configured, across instances too.
func (m *Matcher) RunPool(ctx context.Context, poolKey string) {
	if !shard.Owns(poolKey, m.shardIndex, m.shardCount) {
		return
	}

	muIface, _ := m.poolMu.LoadOrStore(poolKey, &sync.Mutex{})
	poolMu := muIface.(*sync.Mutex)
	poolMu.Lock()
	defer poolMu.Unlock()

	if m.locks != nil {
		lock, err := m.locks.AcquireLock(ctx, "matchmaking:pool-lock:"+poolKey, m.instanceID, 5*time.Second)
		if err != nil {
			if !errors.Is(err, distributed.ErrLockNotAcquired) {
				m.logger.Warn("Pool lock error", zap.String("pool_key", poolKey), zap.Error(err))
			}
			return
		}
		defer func() {
			if err := lock.Release(ctx); err != nil {
				m.logger.Warn("Pool lock release failed", zap.String("pool_key", poolKey), zap.Error(err))
			}
		}()
	}

	m.matchPool(ctx, poolKey)
}

func (m *Matcher) matchPool(ctx context.Context, poolKey string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Matching pass panicked",
				zap.String("pool_key", poolKey), zap.Any("panic", r))
		}
	}()

	matched := 0
	taken := make(map[string]bool)

	for _, asker := range m.index.OldestFirst(poolKey) {
		if taken[asker.TicketID] {
			continue
		}

		cand := m.pickCandidate(asker, taken)
		if cand == nil {
			continue
		}

		if err := m.propose(ctx, asker, cand); err != nil {
			if errors.Is(err, ErrStaleMutation) {
				// One of the snapshots is behind the store, usually
				// after a heartbeat. Reconcile both so the next pass
				// proposes against current sequences.
				m.refreshSnapshot(ctx, asker)
				m.refreshSnapshot(ctx, cand)
				continue
			}
			m.logger.Error("Proposal failed",
				zap.String("asker", asker.TicketID),
				zap.String("candidate", cand.TicketID),
				zap.Error(err))
			continue
		}

		taken[asker.TicketID] = true
		taken[cand.TicketID] = true
		matched++
	}

	if matched > 0 {
		m.logger.Info("Matching pass completed",
			zap.String("pool_key", poolKey),
			zap.Int("pairs", matched))
	}
}

// pickCandidate returns the closest-rated compatible opponent for the
// asker, skipping tickets already taken this pass.
func (m *Matcher) pickCandidate(asker *models.Ticket, taken map[string]bool) *models.Ticket {
	for _, cand := range m.index.RangeCandidates(asker) {
		if taken[cand.TicketID] {
			continue
		}
		if !compatible(asker, cand) {
			continue
		}
		return cand
	}
	return nil
}

// compatible checks the pairing constraints beyond the rating window:
// different users, hard floor/ceiling bounds, and latency tolerances
// at their current widening.
func compatible(a, b *models.Ticket) bool {
	if a.UserID == b.UserID {
		return false
	}
	if !withinHardBounds(a, b.HardConstraints.RatingSnapshot) {
		return false
	}
	if !withinHardBounds(b, a.HardConstraints.RatingSnapshot) {
		return false
	}
	return latencyOK(a, b) && latencyOK(b, a)
}

func withinHardBounds(t *models.Ticket, rating int) bool {
	hc := t.HardConstraints
	if hc.RatingFloor > 0 && rating < hc.RatingFloor {
		return false
	}
	if hc.RatingCeiling > 0 && rating > hc.RatingCeiling {
		return false
	}
	return true
}

// latencyOK checks the asker's declared latency tolerance against its
// current widening stage. With no declared tolerance everything
// matches.
func latencyOK(asker, cand *models.Ticket) bool {
	declared := cand.SoftConstraints.MaxLatencyMs
	if declared == 0 {
		return true
	}
	limit := asker.WideningState.CurrentLatencyMs
	if limit >= models.Unbounded {
		return true
	}
	return declared <= limit
}

// propose hands the pair to the proposer, dead-lettering the asker if
// the proposer itself panics so a poisoned ticket cannot wedge the
// pool forever.
func (m *Matcher) propose(ctx context.Context, asker, cand *models.Ticket) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Proposer panicked, dead-lettering ticket",
				zap.String("ticket_id", asker.TicketID), zap.Any("panic", r))
			m.deadLetter(ctx, asker)
			err = ErrStaleMutation
		}
	}()

	_, err = m.proposer.Propose(ctx, asker, cand)
	return err
}

// refreshSnapshot replaces a stale index entry with the ticket's
// current stored state, or drops it when the ticket left the queue.
func (m *Matcher) refreshSnapshot(ctx context.Context, t *models.Ticket) {
	fresh, err := m.tickets.Get(ctx, t.TenantID, t.TicketID)
	if err != nil || fresh.Status != models.TicketStatusQueued {
		m.index.Remove(t.PoolKey.String(), t.TicketID)
		return
	}
	m.index.UpdatePosition(fresh)
}

func (m *Matcher) deadLetter(ctx context.Context, t *models.Ticket) {
	next := t.Clone()
	if applyErr := models.Apply(next, models.EventError{}); applyErr != nil {
		return
	}
	next.UpdatedAt = m.clk.Now()
	if casErr := m.tickets.UpdateCAS(ctx, next, t.MutationSeq); casErr != nil {
		m.logger.Error("Failed to dead-letter ticket",
			zap.String("ticket_id", t.TicketID), zap.Error(casErr))
		return
	}
	m.index.Remove(next.PoolKey.String(), next.TicketID)
}
