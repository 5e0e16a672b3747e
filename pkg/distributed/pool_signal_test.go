package distributed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPoolSignal_PublishReceive(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	signal := NewPoolSignal(client, zap.NewNop())

	received := make(chan PoolEvent, 1)
	go func() {
		_ = signal.Start(context.Background(), func(event PoolEvent) {
			received <- event
		})
	}()
	defer signal.Stop()

	// Give the subscriber a moment to attach.
	time.Sleep(50 * time.Millisecond)

	err := signal.Publish(context.Background(), PoolEvent{
		Type:     "ticket_enqueued",
		TenantID: "acme",
		PoolKey:  "rated|standard|blitz|ASIA",
		TicketID: "t_abc123",
	})
	require.NoError(t, err)

	select {
	case event := <-received:
		assert.Equal(t, "ticket_enqueued", event.Type)
		assert.Equal(t, "rated|standard|blitz|ASIA", event.PoolKey)
		assert.Equal(t, "t_abc123", event.TicketID)
		assert.False(t, event.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("pool event not received")
	}
}
