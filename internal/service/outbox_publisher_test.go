package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/code-and-chill/chessmate-sub001/internal/models"
	"github.com/code-and-chill/chessmate-sub001/internal/repository/memory"
	"github.com/code-and-chill/chessmate-sub001/pkg/clock"
)

func appendEvent(t *testing.T, store *memory.Store, eventType string, payload any, now time.Time) *models.OutboxEvent {
	t.Helper()
	ev, err := models.NewOutboxEvent(models.NewEventID(), "default", eventType, payload, now)
	require.NoError(t, err)
	require.NoError(t, store.Outbox().Append(context.Background(), ev))
	return ev
}

func TestOutboxPublisherDeliversAndMarks(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := memory.NewStore()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	pub := NewOutboxPublisher(store.Outbox(), client, clk, 100,
		500*time.Millisecond, 30*time.Second, zap.NewNop())

	ctx := context.Background()
	sub := client.Subscribe(ctx, "matchmaking.match.created")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	appendEvent(t, store, models.EventTypeMatchCreated,
		map[string]string{"matchId": "m_123"}, clk.Now())

	assert.Equal(t, 1, pub.RunOnce(ctx))

	select {
	case msg := <-sub.Channel():
		assert.Contains(t, msg.Payload, "m_123")
	case <-time.After(2 * time.Second):
		t.Fatal("expected a published message")
	}

	// Marked published: the next run claims nothing.
	assert.Equal(t, 0, pub.RunOnce(ctx))
}

func TestOutboxPublisherRetriesOnBusFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := memory.NewStore()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	pub := NewOutboxPublisher(store.Outbox(), client, clk, 100,
		500*time.Millisecond, 30*time.Second, zap.NewNop())

	ctx := context.Background()
	appendEvent(t, store, models.EventTypeTicketExpired,
		map[string]string{"ticketId": "t_1"}, clk.Now())

	// Bus down: nothing is confirmed, the row stays claimed.
	mr.Close()
	assert.Equal(t, 0, pub.RunOnce(ctx))

	// Within the visibility window the claim holds.
	clk.Advance(time.Second)
	assert.Equal(t, 0, pub.RunOnce(ctx))

	// After it lapses the row is reclaimed and delivered.
	mr.Restart()
	clk.Advance(31 * time.Second)
	assert.Equal(t, 1, pub.RunOnce(ctx))
}
