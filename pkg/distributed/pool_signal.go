package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PoolEvent notifies peer instances that a pool needs a matching pass:
// a ticket was inserted, widened, or returned to the queue.
type PoolEvent struct {
	Type      string    `json:"type"` // "ticket_enqueued", "pool_widened", "proposal_rolled_back"
	TenantID  string    `json:"tenant_id"`
	PoolKey   string    `json:"pool_key"`
	TicketID  string    `json:"ticket_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PoolSignal is a Redis pub/sub fan-out of dirty-pool events between
// the instances sharing a shard.
type PoolSignal struct {
	client     *redis.Client
	logger     *zap.Logger
	instanceID string

	channel   string
	stopChan  chan struct{}
	cancelSub context.CancelFunc
}

func NewPoolSignal(client *redis.Client, logger *zap.Logger) *PoolSignal {
	return &PoolSignal{
		client:     client,
		logger:     logger,
		instanceID: uuid.New().String(),
		channel:    "matchmaking:pool-events",
		stopChan:   make(chan struct{}),
	}
}

// Publish broadcasts a dirty-pool event. Local delivery happens
// through the subscription like everyone else's.
func (s *PoolSignal) Publish(ctx context.Context, event PoolEvent) error {
	event.Timestamp = time.Now().UTC()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal pool event: %w", err)
	}

	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish pool event: %w", err)
	}

	return nil
}

// Start subscribes and forwards events to handler until Stop or
// context cancellation. Blocks; run in a goroutine.
func (s *PoolSignal) Start(ctx context.Context, handler func(event PoolEvent)) error {
	subCtx, cancel := context.WithCancel(ctx)
	s.cancelSub = cancel

	pubsub := s.client.Subscribe(subCtx, s.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(subCtx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	s.logger.Info("Pool signal subscriber started",
		zap.String("instance_id", s.instanceID),
		zap.String("channel", s.channel))

	ch := pubsub.Channel()
	for {
		select {
		case msg := <-ch:
			if msg == nil {
				continue
			}

			var event PoolEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				s.logger.Error("Failed to unmarshal pool event", zap.Error(err))
				continue
			}

			handler(event)

		case <-s.stopChan:
			s.logger.Info("Pool signal subscriber stopped")
			return nil

		case <-subCtx.Done():
			return subCtx.Err()
		}
	}
}

func (s *PoolSignal) Stop() {
	close(s.stopChan)
	if s.cancelSub != nil {
		s.cancelSub()
	}
}
