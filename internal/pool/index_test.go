package pool

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-and-chill/chessmate-sub001/internal/models"
)

var testPool = models.PoolKey{
	Mode:    models.ModeRated,
	Variant: "standard",
	Bucket:  models.BucketBlitz,
	Region:  "ASIA",
}

func queuedTicket(id string, rating, window int, createdAt time.Time) *models.Ticket {
	return &models.Ticket{
		TicketID:        id,
		TenantID:        "acme",
		UserID:          "u_" + id,
		Status:          models.TicketStatusQueued,
		PoolKey:         testPool,
		HardConstraints: models.HardConstraints{RatingSnapshot: rating, Rated: true},
		WideningState:   models.WideningState{CurrentRatingWindow: window, CurrentLatencyMs: 150},
		CreatedAt:       createdAt,
	}
}

func TestIndex_InsertRemove(t *testing.T) {
	ix := NewIndex()
	now := time.Now()

	a := queuedTicket("t_a", 1500, 100, now)
	ix.Insert(a)

	require.True(t, ix.Contains(testPool.String(), "t_a"))
	require.Equal(t, 1, ix.Len(testPool.String()))

	// Non-QUEUED tickets are never indexed.
	b := queuedTicket("t_b", 1510, 100, now)
	b.Status = models.TicketStatusProposing
	ix.Insert(b)
	assert.False(t, ix.Contains(testPool.String(), "t_b"))

	ix.Remove(testPool.String(), "t_a")
	assert.False(t, ix.Contains(testPool.String(), "t_a"))
	assert.Equal(t, 0, ix.Len(testPool.String()))
}

func TestIndex_InsertIsIdempotentPerID(t *testing.T) {
	ix := NewIndex()
	now := time.Now()

	a := queuedTicket("t_a", 1500, 100, now)
	ix.Insert(a)

	// Re-insert with a widened snapshot; membership count must not grow.
	widened := a.Clone()
	widened.WideningState.CurrentRatingWindow = 200
	ix.UpdatePosition(widened)

	assert.Equal(t, 1, ix.Len(testPool.String()))
}

func TestIndex_RangeCandidates_MutualAcceptance(t *testing.T) {
	ix := NewIndex()
	now := time.Now()

	asker := queuedTicket("t_ask", 1500, 100, now)
	inside := queuedTicket("t_in", 1560, 100, now)       // mutual: 60 <= 100 both ways
	oneSided := queuedTicket("t_one", 1590, 50, now)     // asker accepts 90, candidate only 50
	outside := queuedTicket("t_out", 1700, 1000, now)    // outside asker's window
	proposing := queuedTicket("t_prop", 1505, 100, now)  // excluded by status

	ix.Insert(asker)
	ix.Insert(inside)
	ix.Insert(oneSided)
	ix.Insert(outside)
	ix.Insert(proposing)
	proposing.Status = models.TicketStatusProposing

	got := ix.RangeCandidates(asker)

	ids := make([]string, 0, len(got))
	for _, c := range got {
		ids = append(ids, c.TicketID)
	}
	assert.Equal(t, []string{"t_in"}, ids)
}

func TestIndex_RangeCandidates_Ordering(t *testing.T) {
	ix := NewIndex()
	base := time.Now()

	asker := queuedTicket("t_ask", 1500, 400, base)
	far := queuedTicket("t_far", 1700, 400, base)
	near := queuedTicket("t_near", 1520, 400, base)
	tieOld := queuedTicket("t_tie_old", 1450, 400, base.Add(-time.Minute))
	tieNew := queuedTicket("t_tie_new", 1550, 400, base)

	for _, tk := range []*models.Ticket{asker, far, near, tieOld, tieNew} {
		ix.Insert(tk)
	}

	got := ix.RangeCandidates(asker)
	require.Len(t, got, 4)

	// Closest delta first; equal deltas (50) break by earliest created_at.
	assert.Equal(t, "t_near", got[0].TicketID)
	assert.Equal(t, "t_tie_old", got[1].TicketID)
	assert.Equal(t, "t_tie_new", got[2].TicketID)
	assert.Equal(t, "t_far", got[3].TicketID)
}

func TestIndex_RangeCandidates_UnboundedWindow(t *testing.T) {
	ix := NewIndex()
	now := time.Now()

	asker := queuedTicket("t_ask", 2600, models.Unbounded, now)
	other := queuedTicket("t_other", 2000, models.Unbounded, now)
	ix.Insert(asker)
	ix.Insert(other)

	got := ix.RangeCandidates(asker)
	require.Len(t, got, 1)
	assert.Equal(t, "t_other", got[0].TicketID)
}

func TestIndex_OldestFirst(t *testing.T) {
	ix := NewIndex()
	base := time.Now()

	for i := 0; i < 5; i++ {
		// Insert newest first with descending ratings so rating order
		// and age order disagree.
		tk := queuedTicket(fmt.Sprintf("t_%d", i), 2000-i*100, 100, base.Add(-time.Duration(i)*time.Minute))
		ix.Insert(tk)
	}

	got := ix.OldestFirst(testPool.String())
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.True(t, !got[i].CreatedAt.Before(got[i-1].CreatedAt),
			"tickets must be ordered oldest first")
	}
}

func TestIndex_UniqueMembership(t *testing.T) {
	ix := NewIndex()
	now := time.Now()

	a := queuedTicket("t_a", 1500, 100, now)
	ix.Insert(a)

	// Moving pools: the caller removes from the old pool before
	// inserting into the new one; membership stays unique.
	otherPool := testPool
	otherPool.Region = "EU"
	moved := a.Clone()
	moved.PoolKey = otherPool

	ix.Remove(testPool.String(), a.TicketID)
	ix.Insert(moved)

	assert.False(t, ix.Contains(testPool.String(), "t_a"))
	assert.True(t, ix.Contains(otherPool.String(), "t_a"))

	total := 0
	for _, key := range ix.Keys() {
		total += ix.Len(key)
	}
	assert.Equal(t, 1, total)
}

func TestIndex_PoolStats(t *testing.T) {
	ix := NewIndex()
	now := time.Now()

	ix.Insert(queuedTicket("t_a", 1500, 100, now.Add(-10*time.Second)))
	ix.Insert(queuedTicket("t_b", 1600, 100, now.Add(-30*time.Second)))

	stats := ix.PoolStats(testPool.String(), now)
	assert.Equal(t, 2, stats.WaitingCount)
	assert.InDelta(t, 20.0, stats.AvgWaitSeconds, 0.1)
	assert.InDelta(t, 30.0, stats.P95WaitSeconds, 0.1)

	empty := ix.PoolStats("missing", now)
	assert.Equal(t, 0, empty.WaitingCount)
}
