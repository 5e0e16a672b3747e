package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-and-chill/chessmate-sub001/internal/models"
	"github.com/code-and-chill/chessmate-sub001/internal/repository"
)

func testTicket(ticketID, userID string) *models.Ticket {
	now := time.Now().UTC()
	tc := models.TimeControl{BaseSeconds: 300, IncrementSeconds: 0}
	return &models.Ticket{
		TicketID:    ticketID,
		TenantID:    "default",
		UserID:      userID,
		TicketType:  models.TicketTypeSolo,
		Status:      models.TicketStatusQueued,
		PoolKey:     models.NewPoolKey(models.ModeRated, "standard", tc, "ASIA"),
		TimeControl: tc,
		HardConstraints: models.HardConstraints{
			RatingSnapshot: 1500,
			Rated:          true,
		},
		WideningState:   models.InitialWideningState(models.DefaultWideningSchedule(), now),
		CreatedAt:       now,
		UpdatedAt:       now,
		LastHeartbeatAt: now,
	}
}

func TestTicketCreateAndGet(t *testing.T) {
	store := NewStore()
	repo := store.Tickets()
	ctx := context.Background()

	ticket := testTicket("t_aaa000000001", "u_alice")
	require.NoError(t, repo.Create(ctx, ticket))

	got, err := repo.Get(ctx, "default", "t_aaa000000001")
	require.NoError(t, err)
	assert.Equal(t, "u_alice", got.UserID)
	assert.Equal(t, models.TicketStatusQueued, got.Status)

	_, err = repo.Get(ctx, "default", "t_missing00000")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestTicketCreateRejectsSecondActive(t *testing.T) {
	store := NewStore()
	repo := store.Tickets()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testTicket("t_aaa000000001", "u_alice")))

	err := repo.Create(ctx, testTicket("t_aaa000000002", "u_alice"))
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	// A ticket for another user is fine.
	require.NoError(t, repo.Create(ctx, testTicket("t_bbb000000001", "u_bob")))
}

func TestTicketCreateAllowsAfterTerminal(t *testing.T) {
	store := NewStore()
	repo := store.Tickets()
	ctx := context.Background()

	first := testTicket("t_aaa000000001", "u_alice")
	require.NoError(t, repo.Create(ctx, first))

	first.Status = models.TicketStatusCancelled
	require.NoError(t, repo.UpdateCAS(ctx, first, first.MutationSeq))

	require.NoError(t, repo.Create(ctx, testTicket("t_aaa000000002", "u_alice")))
}

func TestUpdateCASConflict(t *testing.T) {
	store := NewStore()
	repo := store.Tickets()
	ctx := context.Background()

	ticket := testTicket("t_aaa000000001", "u_alice")
	require.NoError(t, repo.Create(ctx, ticket))
	assert.Equal(t, int64(1), ticket.MutationSeq)

	require.NoError(t, repo.UpdateCAS(ctx, ticket, ticket.MutationSeq))
	assert.Equal(t, int64(2), ticket.MutationSeq)

	stale := testTicket("t_aaa000000001", "u_alice")
	err := repo.UpdateCAS(ctx, stale, 1)
	assert.ErrorIs(t, err, repository.ErrCASConflict)
}

func TestUpdateCASSingleWinnerUnderContention(t *testing.T) {
	store := NewStore()
	repo := store.Tickets()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testTicket("t_aaa000000001", "u_alice")))

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			attempt := testTicket("t_aaa000000001", "u_alice")
			attempt.Status = models.TicketStatusProposing
			if err := repo.UpdateCAS(ctx, attempt, 1); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)

	got, err := repo.Get(ctx, "default", "t_aaa000000001")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.MutationSeq)
}

func TestHeartbeatBumpsSeqAndRejectsTerminal(t *testing.T) {
	store := NewStore()
	repo := store.Tickets()
	ctx := context.Background()

	ticket := testTicket("t_aaa000000001", "u_alice")
	require.NoError(t, repo.Create(ctx, ticket))

	at := time.Now().UTC().Add(2 * time.Second)
	require.NoError(t, repo.Heartbeat(ctx, "default", "t_aaa000000001", at))

	got, err := repo.Get(ctx, "default", "t_aaa000000001")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.MutationSeq)
	assert.WithinDuration(t, at, got.LastHeartbeatAt, time.Millisecond)

	got.Status = models.TicketStatusCancelled
	require.NoError(t, repo.UpdateCAS(ctx, got, got.MutationSeq))

	err = repo.Heartbeat(ctx, "default", "t_aaa000000001", at.Add(time.Second))
	assert.ErrorIs(t, err, repository.ErrGone)
}

func TestGetByIdempotencyKey(t *testing.T) {
	store := NewStore()
	repo := store.Tickets()
	ctx := context.Background()

	ticket := testTicket("t_aaa000000001", "u_alice")
	ticket.IdempotencyKey = "idem-123"
	require.NoError(t, repo.Create(ctx, ticket))

	got, err := repo.GetByIdempotencyKey(ctx, "default", "idem-123")
	require.NoError(t, err)
	assert.Equal(t, "t_aaa000000001", got.TicketID)

	_, err = repo.GetByIdempotencyKey(ctx, "default", "")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestFinalizeCompletesAllOrNothing(t *testing.T) {
	store := NewStore()
	tickets := store.Tickets()
	proposals := store.Proposals()
	ctx := context.Background()
	now := time.Now().UTC()

	leader := testTicket("t_aaa000000001", "u_alice")
	follower := testTicket("t_bbb000000001", "u_bob")
	require.NoError(t, tickets.Create(ctx, leader))
	require.NoError(t, tickets.Create(ctx, follower))

	deadline := now.Add(10 * time.Second)
	p := &models.Proposal{
		ProposalID:       "m_ccc000000001",
		TenantID:         "default",
		LeaderTicketID:   leader.TicketID,
		FollowerTicketID: follower.TicketID,
		LeaderUserID:     leader.UserID,
		FollowerUserID:   follower.UserID,
		Status:           models.ProposalStatusPending,
		DeadlineAt:       deadline,
		CreatedAt:        now,
	}
	require.NoError(t, proposals.Create(ctx, p))

	leader.Status = models.TicketStatusMatched
	leader.MatchID = p.ProposalID
	follower.Status = models.TicketStatusMatched
	follower.MatchID = p.ProposalID

	rec := &models.MatchRecord{
		MatchID:       p.ProposalID,
		TenantID:      "default",
		WhiteUserID:   leader.UserID,
		BlackUserID:   follower.UserID,
		QueueEntryIDs: []string{leader.TicketID, follower.TicketID},
		CreatedAt:     now,
	}
	ev, err := models.NewOutboxEvent(models.NewEventID(), "default", models.EventTypeMatchCreated,
		map[string]string{"match_id": p.ProposalID}, now)
	require.NoError(t, err)

	require.NoError(t, proposals.Finalize(ctx, p, leader, follower, 1, 1, rec, ev))

	assert.Equal(t, models.ProposalStatusCompleted, p.Status)
	assert.Equal(t, int64(2), leader.MutationSeq)
	assert.Equal(t, int64(2), follower.MutationSeq)

	got, err := store.Matches().Get(ctx, "default", p.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, "u_alice", got.WhiteUserID)

	assert.Len(t, store.OutboxEvents(), 1)

	// Replays after completion conflict.
	err = proposals.Finalize(ctx, p, leader, follower, 2, 2, rec, nil)
	assert.ErrorIs(t, err, repository.ErrCASConflict)
}

func TestFinalizeStaleSeqLeavesNoPartialWrites(t *testing.T) {
	store := NewStore()
	tickets := store.Tickets()
	proposals := store.Proposals()
	ctx := context.Background()
	now := time.Now().UTC()

	leader := testTicket("t_aaa000000001", "u_alice")
	follower := testTicket("t_bbb000000001", "u_bob")
	require.NoError(t, tickets.Create(ctx, leader))
	require.NoError(t, tickets.Create(ctx, follower))

	p := &models.Proposal{
		ProposalID:       "m_ccc000000001",
		TenantID:         "default",
		LeaderTicketID:   leader.TicketID,
		FollowerTicketID: follower.TicketID,
		Status:           models.ProposalStatusPending,
		DeadlineAt:       now.Add(10 * time.Second),
		CreatedAt:        now,
	}
	require.NoError(t, proposals.Create(ctx, p))

	rec := &models.MatchRecord{MatchID: p.ProposalID, TenantID: "default", CreatedAt: now}

	// Follower seq is stale. Leader must remain untouched.
	err := proposals.Finalize(ctx, p, leader, follower, 1, 5, rec, nil)
	assert.ErrorIs(t, err, repository.ErrCASConflict)

	got, err := tickets.Get(ctx, "default", leader.TicketID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.MutationSeq)
	assert.Equal(t, models.TicketStatusQueued, got.Status)

	_, err = store.Matches().Get(ctx, "default", p.ProposalID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestOutboxClaimAndMarkPublished(t *testing.T) {
	store := NewStore()
	outbox := store.Outbox()
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		ev, err := models.NewOutboxEvent(models.NewEventID(), "default", models.EventTypeTicketExpired, map[string]int{"n": i}, now)
		require.NoError(t, err)
		require.NoError(t, outbox.Append(ctx, ev))
	}

	claimed, err := outbox.ClaimBatch(ctx, 2, now, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	// Claimed events stay invisible until the visibility window lapses.
	again, err := outbox.ClaimBatch(ctx, 10, now.Add(time.Second), 30*time.Second)
	require.NoError(t, err)
	assert.Len(t, again, 1)

	require.NoError(t, outbox.MarkPublished(ctx, []string{claimed[0].EventID}, now))

	// Both unpublished claims become reclaimable once their visibility
	// windows lapse.
	later, err := outbox.ClaimBatch(ctx, 10, now.Add(time.Minute), 30*time.Second)
	require.NoError(t, err)
	require.Len(t, later, 2)
	assert.Equal(t, claimed[1].EventID, later[0].EventID)
	assert.Equal(t, again[0].EventID, later[1].EventID)
}

func TestChallengeListIncomingAndExpire(t *testing.T) {
	store := NewStore()
	repo := store.Challenges()
	ctx := context.Background()
	now := time.Now().UTC()

	fresh := &models.Challenge{
		ChallengeID:      "c_aaa000000001",
		TenantID:         "default",
		ChallengerUserID: "u_alice",
		OpponentUserID:   "u_bob",
		Status:           models.ChallengeStatusPending,
		ExpiresAt:        now.Add(5 * time.Minute),
		CreatedAt:        now,
	}
	stale := &models.Challenge{
		ChallengeID:      "c_bbb000000001",
		TenantID:         "default",
		ChallengerUserID: "u_carol",
		OpponentUserID:   "u_bob",
		Status:           models.ChallengeStatusPending,
		ExpiresAt:        now.Add(-time.Minute),
		CreatedAt:        now.Add(-6 * time.Minute),
	}
	require.NoError(t, repo.Create(ctx, fresh))
	require.NoError(t, repo.Create(ctx, stale))

	incoming, err := repo.ListIncoming(ctx, "default", "u_bob", now)
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, "c_aaa000000001", incoming[0].ChallengeID)

	n, err := repo.ExpireOlder(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := repo.Get(ctx, "default", "c_bbb000000001")
	require.NoError(t, err)
	assert.Equal(t, models.ChallengeStatusExpired, got.Status)
}
