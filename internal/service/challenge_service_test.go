package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-and-chill/chessmate-sub001/internal/models"
)

func createChallenge(t *testing.T, env *testEnv) *models.Challenge {
	t.Helper()
	c, err := env.chals.CreateChallenge(context.Background(), CreateChallengeRequest{
		ChallengerUserID: "u_alice",
		OpponentUserID:   "u_bob",
		Mode:             models.ModeCasual,
		TimeControl:      models.TimeControl{BaseSeconds: 180, IncrementSeconds: 2},
		PreferredColor:   models.ColorWhite,
	})
	require.NoError(t, err)
	return c
}

func TestChallengeAcceptProducesMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := createChallenge(t, env)
	assert.Equal(t, models.ChallengeStatusPending, c.Status)

	res, err := env.chals.AcceptChallenge(ctx, "default", "u_bob", c.ChallengeID)
	require.NoError(t, err)

	assert.Equal(t, models.ChallengeStatusAccepted, res.Challenge.Status)
	require.NotNil(t, res.Match)

	// Challenger asked for white and nothing conflicts.
	assert.Equal(t, "u_alice", res.Match.WhiteUserID)
	assert.Equal(t, "u_bob", res.Match.BlackUserID)

	// Same pipeline as pool matches, so the event lands on the outbox.
	events := env.store.OutboxEvents()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTypeMatchCreated, events[0].EventType)
}

func TestChallengeAcceptOnlyByOpponent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := createChallenge(t, env)

	_, err := env.chals.AcceptChallenge(ctx, "default", "u_alice", c.ChallengeID)
	assert.ErrorIs(t, err, ErrChallengeNotFound)

	_, err = env.chals.AcceptChallenge(ctx, "default", "u_mallory", c.ChallengeID)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestChallengeExpiresAfterTTL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := createChallenge(t, env)

	env.clk.Advance(5*time.Minute + time.Second)
	_, err := env.chals.AcceptChallenge(ctx, "default", "u_bob", c.ChallengeID)
	assert.ErrorIs(t, err, ErrChallengeClosed)

	// The reaper flips it to EXPIRED durably.
	env.reaper.RunOnce(ctx)
	got, err := env.chals.GetChallenge(ctx, "default", "u_alice", c.ChallengeID)
	require.NoError(t, err)
	assert.Equal(t, models.ChallengeStatusExpired, got.Status)
}

func TestChallengeDeclineAndCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := createChallenge(t, env)
	declined, err := env.chals.DeclineChallenge(ctx, "default", "u_bob", c.ChallengeID)
	require.NoError(t, err)
	assert.Equal(t, models.ChallengeStatusDeclined, declined.Status)

	// Closed challenges reject further answers.
	_, err = env.chals.AcceptChallenge(ctx, "default", "u_bob", c.ChallengeID)
	assert.ErrorIs(t, err, ErrChallengeClosed)

	c2 := createChallenge(t, env)
	_, err = env.chals.CancelChallenge(ctx, "default", "u_bob", c2.ChallengeID)
	assert.ErrorIs(t, err, ErrChallengeNotFound)

	cancelled, err := env.chals.CancelChallenge(ctx, "default", "u_alice", c2.ChallengeID)
	require.NoError(t, err)
	assert.Equal(t, models.ChallengeStatusCancelled, cancelled.Status)
}

func TestSelfChallengeRejected(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.chals.CreateChallenge(context.Background(), CreateChallengeRequest{
		ChallengerUserID: "u_alice",
		OpponentUserID:   "u_alice",
		Mode:             models.ModeCasual,
		TimeControl:      models.TimeControl{BaseSeconds: 180},
	})
	assert.ErrorIs(t, err, ErrSelfChallenge)
}

func TestListIncomingOnlyPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := createChallenge(t, env)

	incoming, err := env.chals.ListIncoming(ctx, "default", "u_bob")
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, c.ChallengeID, incoming[0].ChallengeID)

	// Nothing addressed to the challenger.
	incoming, err = env.chals.ListIncoming(ctx, "default", "u_alice")
	require.NoError(t, err)
	assert.Empty(t, incoming)

	_, err = env.chals.DeclineChallenge(ctx, "default", "u_bob", c.ChallengeID)
	require.NoError(t, err)

	incoming, err = env.chals.ListIncoming(ctx, "default", "u_bob")
	require.NoError(t, err)
	assert.Empty(t, incoming)
}

func TestChallengeAcceptBlockedWhileOpponentQueued(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := createChallenge(t, env)

	// Bob already has an active pool ticket; the synthetic pair would
	// violate one-active-ticket-per-user.
	env.enqueue(t, "u_bob", 1500)

	_, err := env.chals.AcceptChallenge(ctx, "default", "u_bob", c.ChallengeID)
	assert.ErrorIs(t, err, ErrAlreadyQueued)

	// Alice's synthetic ticket was rolled back, so she can still queue.
	env.enqueue(t, "u_alice", 1500)
}
