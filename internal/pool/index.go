// Package pool holds the in-memory per-pool view of QUEUED tickets,
// sorted by rating for range queries. It is a read-through projection
// of the durable ticket store, rebuilt on startup.
package pool

import (
	"sort"
	"sync"
	"time"

	"github.com/code-and-chill/chessmate-sub001/internal/models"
)

// Index maps pool keys to rating-ordered ticket sets. A ticket is
// present iff its status is QUEUED, and in at most one pool.
type Index struct {
	mu    sync.RWMutex
	pools map[string][]*models.Ticket // sorted by rating, then created_at, then id
}

func NewIndex() *Index {
	return &Index{pools: make(map[string][]*models.Ticket)}
}

// Insert adds a QUEUED ticket to its pool. Re-inserting an id replaces
// the stored snapshot.
func (ix *Index) Insert(t *models.Ticket) {
	if t.Status != models.TicketStatusQueued {
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	key := t.PoolKey.String()
	entries := ix.removeLocked(key, t.TicketID)

	i := sort.Search(len(entries), func(i int) bool {
		return !lessTicket(entries[i], t)
	})
	entries = append(entries, nil)
	copy(entries[i+1:], entries[i:])
	entries[i] = t
	ix.pools[key] = entries
}

// Remove drops the ticket from the pool, if present.
func (ix *Index) Remove(poolKey, ticketID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	entries := ix.removeLocked(poolKey, ticketID)
	if len(entries) == 0 {
		delete(ix.pools, poolKey)
	} else {
		ix.pools[poolKey] = entries
	}
}

// UpdatePosition refreshes the stored snapshot after a widening or
// rating change.
func (ix *Index) UpdatePosition(t *models.Ticket) {
	ix.Insert(t)
}

func (ix *Index) removeLocked(poolKey, ticketID string) []*models.Ticket {
	entries := ix.pools[poolKey]
	for i, e := range entries {
		if e.TicketID == ticketID {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	return entries
}

// Contains reports whether the ticket id is indexed in the pool.
func (ix *Index) Contains(poolKey, ticketID string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	for _, e := range ix.pools[poolKey] {
		if e.TicketID == ticketID {
			return true
		}
	}
	return false
}

// Len returns the number of indexed tickets in the pool.
func (ix *Index) Len(poolKey string) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.pools[poolKey])
}

// Keys returns every pool key with at least one indexed ticket.
func (ix *Index) Keys() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	keys := make([]string, 0, len(ix.pools))
	for k := range ix.pools {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// OldestFirst returns the pool's tickets ordered by created_at
// ascending: the matcher scans oldest tickets first so nobody starves.
func (ix *Index) OldestFirst(poolKey string) []*models.Ticket {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]*models.Ticket, len(ix.pools[poolKey]))
	copy(out, ix.pools[poolKey])
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].TicketID < out[j].TicketID
	})
	return out
}

// RangeCandidates yields the tickets a given asker could be paired
// with: inside the asker's rating window, mutually accepting, not the
// asker itself, and still QUEUED. Results are ordered by ascending
// absolute rating delta, ties broken by earliest created_at.
func (ix *Index) RangeCandidates(asker *models.Ticket) []*models.Ticket {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	entries := ix.pools[asker.PoolKey.String()]
	rating := asker.HardConstraints.RatingSnapshot
	window := asker.WideningState.CurrentRatingWindow

	lo, hi := 0, len(entries)
	if window < models.Unbounded {
		lo = sort.Search(len(entries), func(i int) bool {
			return entries[i].HardConstraints.RatingSnapshot >= rating-window
		})
		hi = sort.Search(len(entries), func(i int) bool {
			return entries[i].HardConstraints.RatingSnapshot > rating+window
		})
	}

	var out []*models.Ticket
	for _, cand := range entries[lo:hi] {
		if cand.TicketID == asker.TicketID {
			continue
		}
		if cand.Status != models.TicketStatusQueued {
			continue
		}
		// Mutual acceptance: the candidate's own window must cover the
		// asker's rating too.
		if !cand.AcceptsRating(rating) {
			continue
		}
		out = append(out, cand)
	}

	sort.Slice(out, func(i, j int) bool {
		di := absDelta(out[i].HardConstraints.RatingSnapshot, rating)
		dj := absDelta(out[j].HardConstraints.RatingSnapshot, rating)
		if di != dj {
			return di < dj
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Stats summarizes the pool for the internal queue summary endpoint.
type Stats struct {
	WaitingCount   int     `json:"waiting_count"`
	AvgWaitSeconds float64 `json:"avg_wait_seconds"`
	P95WaitSeconds float64 `json:"p95_wait_seconds"`
}

// PoolStats computes waiting statistics for one pool.
func (ix *Index) PoolStats(poolKey string, now time.Time) Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	entries := ix.pools[poolKey]
	if len(entries) == 0 {
		return Stats{}
	}

	waits := make([]float64, 0, len(entries))
	var total float64
	for _, e := range entries {
		w := now.Sub(e.CreatedAt).Seconds()
		if w < 0 {
			w = 0
		}
		waits = append(waits, w)
		total += w
	}
	sort.Float64s(waits)

	p95 := waits[(len(waits)*95)/100]
	if len(waits) == 1 {
		p95 = waits[0]
	}

	return Stats{
		WaitingCount:   len(entries),
		AvgWaitSeconds: total / float64(len(waits)),
		P95WaitSeconds: p95,
	}
}

func lessTicket(a, b *models.Ticket) bool {
	if a.HardConstraints.RatingSnapshot != b.HardConstraints.RatingSnapshot {
		return a.HardConstraints.RatingSnapshot < b.HardConstraints.RatingSnapshot
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.TicketID < b.TicketID
}

func absDelta(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
