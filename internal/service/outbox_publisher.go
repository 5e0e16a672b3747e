package service

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/code-and-chill/chessmate-sub001/internal/repository"
	"github.com/code-and-chill/chessmate-sub001/pkg/clock"
)

// OutboxPublisher drains the event outbox to the Redis bus. Events are
// published at least once; consumers deduplicate on event_id. Rows a
// crashed publisher claimed but never published become visible again
// after the visibility timeout.
type OutboxPublisher struct {
	outbox repository.OutboxRepository
	bus    *redis.Client
	clk    clock.Clock

	batchSize  int
	interval   time.Duration
	visibility time.Duration
	logger     *zap.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

func NewOutboxPublisher(
	outbox repository.OutboxRepository,
	bus *redis.Client,
	clk clock.Clock,
	batchSize int,
	interval, visibility time.Duration,
	logger *zap.Logger,
) *OutboxPublisher {
	return &OutboxPublisher{
		outbox:     outbox,
		bus:        bus,
		clk:        clk,
		batchSize:  batchSize,
		interval:   interval,
		visibility: visibility,
		logger:     logger,
		stopChan:   make(chan struct{}),
	}
}

func (p *OutboxPublisher) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	p.logger.Info("Starting outbox publisher",
		zap.Duration("interval", p.interval),
		zap.Int("batch_size", p.batchSize))

	p.wg.Add(1)
	go p.loop()
}

func (p *OutboxPublisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopChan)
	p.wg.Wait()
	p.logger.Info("Outbox publisher stopped")
}

func (p *OutboxPublisher) loop() {
	defer p.wg.Done()

	ticker := p.clk.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			p.RunOnce(context.Background())
		case <-p.stopChan:
			return
		}
	}
}

// RunOnce claims one batch and publishes it. Returns how many events
// were confirmed published.
func (p *OutboxPublisher) RunOnce(ctx context.Context) int {
	now := p.clk.Now()

	batch, err := p.outbox.ClaimBatch(ctx, p.batchSize, now, p.visibility)
	if err != nil {
		p.logger.Error("Failed to claim outbox batch", zap.Error(err))
		return 0
	}
	if len(batch) == 0 {
		return 0
	}

	var published []string
	for _, ev := range batch {
		channel := "matchmaking." + ev.EventType
		if err := p.bus.Publish(ctx, channel, []byte(ev.Payload)).Err(); err != nil {
			p.logger.Error("Failed to publish event, will retry",
				zap.String("event_id", ev.EventID),
				zap.String("channel", channel),
				zap.Error(err))
			continue
		}
		published = append(published, ev.EventID)
	}

	if len(published) > 0 {
		if err := p.outbox.MarkPublished(ctx, published, p.clk.Now()); err != nil {
			p.logger.Error("Failed to mark events published", zap.Error(err))
			return 0
		}
		p.logger.Debug("Published outbox events", zap.Int("count", len(published)))
	}
	return len(published)
}
