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

// WideningScheduler advances queued tickets through the relaxation
// schedule. Each advance is a CAS write; a conflict just means another
// worker moved the ticket first and the next tick retries.
type WideningScheduler struct {
	index   *pool.Index
	tickets repository.TicketRepository
	matcher *Matcher
	clk     clock.Clock

	schedule   []models.WideningStage
	interval   time.Duration
	shardIndex int
	shardCount int
	logger     *zap.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

func NewWideningScheduler(
	index *pool.Index,
	tickets repository.TicketRepository,
	matcher *Matcher,
	clk clock.Clock,
	schedule []models.WideningStage,
	interval time.Duration,
	shardIndex, shardCount int,
	logger *zap.Logger,
) *WideningScheduler {
	return &WideningScheduler{
		index:      index,
		tickets:    tickets,
		matcher:    matcher,
		clk:        clk,
		schedule:   schedule,
		interval:   interval,
		shardIndex: shardIndex,
		shardCount: shardCount,
		logger:     logger,
		stopChan:   make(chan struct{}),
	}
}

func (w *WideningScheduler) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("Starting widening scheduler", zap.Duration("interval", w.interval))

	w.wg.Add(1)
	go w.loop()
}

func (w *WideningScheduler) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Widening scheduler stopped")
}

func (w *WideningScheduler) loop() {
	defer w.wg.Done()

	ticker := w.clk.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			w.RunOnce(context.Background())
		case <-w.stopChan:
			return
		}
	}
}

// RunOnce widens every due ticket in every owned pool, then marks the
// pools that changed dirty so the matcher rescans them with the wider
// windows.
func (w *WideningScheduler) RunOnce(ctx context.Context) {
	now := w.clk.Now()

	for _, key := range w.index.Keys() {
		if !shard.Owns(key, w.shardIndex, w.shardCount) {
			continue
		}

		widened := 0
		for _, t := range w.index.OldestFirst(key) {
			if w.widenTicket(ctx, t, now) {
				widened++
			}
		}

		if widened > 0 {
			w.logger.Debug("Pool widened",
				zap.String("pool_key", key),
				zap.Int("tickets", widened))
			if w.matcher != nil {
				w.matcher.MarkDirty(key)
			}
		}
	}
}

func (w *WideningScheduler) widenTicket(ctx context.Context, t *models.Ticket, now time.Time) bool {
	next := t.Clone()
	if !models.AdvanceWidening(&next.WideningState, w.schedule, now) {
		return false
	}
	next.UpdatedAt = now

	if err := w.tickets.UpdateCAS(ctx, next, t.MutationSeq); err != nil {
		if !errors.Is(err, repository.ErrCASConflict) {
			w.logger.Error("Failed to persist widening",
				zap.String("ticket_id", t.TicketID), zap.Error(err))
			return false
		}
		// The snapshot is stale, typically because a heartbeat bumped
		// the sequence. Re-read, reconcile the index, and retry once
		// against the current sequence.
		fresh, gerr := w.tickets.Get(ctx, t.TenantID, t.TicketID)
		if gerr != nil || fresh.Status != models.TicketStatusQueued {
			w.index.Remove(t.PoolKey.String(), t.TicketID)
			return false
		}
		w.index.UpdatePosition(fresh)

		next = fresh.Clone()
		if !models.AdvanceWidening(&next.WideningState, w.schedule, now) {
			return false
		}
		next.UpdatedAt = now
		if err := w.tickets.UpdateCAS(ctx, next, fresh.MutationSeq); err != nil {
			return false
		}
	}

	w.index.UpdatePosition(next)
	return true
}
