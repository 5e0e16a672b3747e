// Package memory holds in-memory implementations of the repository
// interfaces with the same semantics as the postgres variants,
// including CAS and the all-or-nothing finalize transaction. Service
// tests run against these.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/code-and-chill/chessmate-sub001/internal/models"
	"github.com/code-and-chill/chessmate-sub001/internal/repository"
)

// Store is the shared backing for every in-memory repository so that
// Finalize can touch tickets, proposals, matches, and the outbox under
// one lock, mirroring the single SQL transaction.
type Store struct {
	mu         sync.Mutex
	tickets    map[string]*models.Ticket // key tenant|ticket_id
	proposals  map[string]*models.Proposal
	challenges map[string]*models.Challenge
	matches    map[string]*models.MatchRecord
	outbox     []*models.OutboxEvent
}

func NewStore() *Store {
	return &Store{
		tickets:    make(map[string]*models.Ticket),
		proposals:  make(map[string]*models.Proposal),
		challenges: make(map[string]*models.Challenge),
		matches:    make(map[string]*models.MatchRecord),
	}
}

func key(tenantID, id string) string { return tenantID + "|" + id }

func (s *Store) Tickets() *TicketRepository       { return &TicketRepository{s: s} }
func (s *Store) Proposals() *ProposalRepository   { return &ProposalRepository{s: s} }
func (s *Store) Matches() *MatchRepository        { return &MatchRepository{s: s} }
func (s *Store) Challenges() *ChallengeRepository { return &ChallengeRepository{s: s} }
func (s *Store) Outbox() *OutboxRepository        { return &OutboxRepository{s: s} }

// OutboxEvents returns a snapshot of every appended event, for tests.
func (s *Store) OutboxEvents() []*models.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.OutboxEvent, len(s.outbox))
	copy(out, s.outbox)
	return out
}

type TicketRepository struct {
	s *Store
}

var _ repository.TicketRepository = (*TicketRepository)(nil)

func (r *TicketRepository) Create(_ context.Context, t *models.Ticket) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.tickets[key(t.TenantID, t.TicketID)]; ok {
		return repository.ErrDuplicate
	}
	for _, existing := range r.s.tickets {
		if existing.TenantID == t.TenantID && existing.UserID == t.UserID && existing.Active() {
			return repository.ErrDuplicate
		}
	}

	// Freshly created tickets start at sequence 1; written back to the
	// caller's struct so in-process snapshots start current.
	t.MutationSeq = 1
	r.s.tickets[key(t.TenantID, t.TicketID)] = t.Clone()
	return nil
}

func (r *TicketRepository) Get(_ context.Context, tenantID, ticketID string) (*models.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.tickets[key(tenantID, ticketID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return t.Clone(), nil
}

func (r *TicketRepository) GetByIdempotencyKey(_ context.Context, tenantID, k string) (*models.Ticket, error) {
	if k == "" {
		return nil, repository.ErrNotFound
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, t := range r.s.tickets {
		if t.TenantID == tenantID && t.IdempotencyKey == k {
			return t.Clone(), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *TicketRepository) GetActiveForUser(_ context.Context, tenantID, userID string) (*models.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var newest *models.Ticket
	for _, t := range r.s.tickets {
		if t.TenantID == tenantID && t.UserID == userID && t.Active() {
			if newest == nil || t.CreatedAt.After(newest.CreatedAt) {
				newest = t
			}
		}
	}
	if newest == nil {
		return nil, repository.ErrNotFound
	}
	return newest.Clone(), nil
}

func (r *TicketRepository) ListByUser(_ context.Context, tenantID, userID string) ([]*models.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*models.Ticket
	for _, t := range r.s.tickets {
		if t.TenantID == tenantID && t.UserID == userID {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *TicketRepository) ListByStatus(_ context.Context, status models.TicketStatus) ([]*models.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*models.Ticket
	for _, t := range r.s.tickets {
		if t.Status == status {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *TicketRepository) UpdateCAS(_ context.Context, t *models.Ticket, expectedSeq int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.updateTicketLocked(t, expectedSeq)
}

func (r *TicketRepository) UpdateCASWithOutbox(_ context.Context, t *models.Ticket, expectedSeq int64, ev *models.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.updateTicketLocked(t, expectedSeq); err != nil {
		return err
	}
	if ev != nil {
		r.s.outbox = append(r.s.outbox, ev)
	}
	return nil
}

func (r *TicketRepository) Heartbeat(_ context.Context, tenantID, ticketID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.tickets[key(tenantID, ticketID)]
	if !ok {
		return repository.ErrNotFound
	}
	if !t.Active() {
		return repository.ErrGone
	}

	t.LastHeartbeatAt = at
	t.UpdatedAt = at
	t.MutationSeq++
	return nil
}

func (r *TicketRepository) SetGameIDByMatch(_ context.Context, tenantID, matchID, gameID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, t := range r.s.tickets {
		if t.TenantID == tenantID && t.MatchID == matchID {
			t.GameID = gameID
			t.MutationSeq++
		}
	}
	return nil
}

func (s *Store) updateTicketLocked(t *models.Ticket, expectedSeq int64) error {
	stored, ok := s.tickets[key(t.TenantID, t.TicketID)]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.MutationSeq != expectedSeq {
		return repository.ErrCASConflict
	}

	updated := t.Clone()
	updated.MutationSeq = expectedSeq + 1
	s.tickets[key(t.TenantID, t.TicketID)] = updated
	t.MutationSeq = updated.MutationSeq
	return nil
}

type ProposalRepository struct {
	s *Store
}

var _ repository.ProposalRepository = (*ProposalRepository)(nil)

func (r *ProposalRepository) Create(_ context.Context, p *models.Proposal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.proposals[key(p.TenantID, p.ProposalID)]; ok {
		return repository.ErrDuplicate
	}
	r.s.proposals[key(p.TenantID, p.ProposalID)] = cloneProposal(p)
	return nil
}

func (r *ProposalRepository) Get(_ context.Context, tenantID, proposalID string) (*models.Proposal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.proposals[key(tenantID, proposalID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneProposal(p), nil
}

func (r *ProposalRepository) Update(_ context.Context, p *models.Proposal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.proposals[key(p.TenantID, p.ProposalID)]; !ok {
		return repository.ErrNotFound
	}
	r.s.proposals[key(p.TenantID, p.ProposalID)] = cloneProposal(p)
	return nil
}

// AddAcceptance appends under the store mutex, matching the guarded
// single-statement UPDATE of the SQL repository.
func (r *ProposalRepository) AddAcceptance(_ context.Context, tenantID, proposalID, userID string) (*models.Proposal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.proposals[key(tenantID, proposalID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if p.Status == models.ProposalStatusPending && !p.HasAccepted(userID) {
		p.Acceptances = append(p.Acceptances, userID)
	}
	return cloneProposal(p), nil
}

func (r *ProposalRepository) ListPendingExpired(_ context.Context, before time.Time) ([]*models.Proposal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*models.Proposal
	for _, p := range r.s.proposals {
		if p.Status == models.ProposalStatusPending && p.DeadlineAt.Before(before) {
			out = append(out, cloneProposal(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeadlineAt.Before(out[j].DeadlineAt) })
	return out, nil
}

func (r *ProposalRepository) Finalize(_ context.Context, p *models.Proposal,
	leader, follower *models.Ticket, leaderSeq, followerSeq int64,
	rec *models.MatchRecord, ev *models.OutboxEvent) error {

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.proposals[key(p.TenantID, p.ProposalID)]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Status != models.ProposalStatusPending {
		return repository.ErrCASConflict
	}

	// Validate both CAS preconditions before touching anything so a
	// failure leaves no partial writes, like the SQL rollback.
	for _, side := range []struct {
		t   *models.Ticket
		seq int64
	}{{leader, leaderSeq}, {follower, followerSeq}} {
		st, ok := r.s.tickets[key(side.t.TenantID, side.t.TicketID)]
		if !ok {
			return repository.ErrNotFound
		}
		if st.MutationSeq != side.seq {
			return repository.ErrCASConflict
		}
	}

	if err := r.s.updateTicketLocked(leader, leaderSeq); err != nil {
		return err
	}
	if err := r.s.updateTicketLocked(follower, followerSeq); err != nil {
		return err
	}

	completed := cloneProposal(p)
	completed.Status = models.ProposalStatusCompleted
	r.s.proposals[key(p.TenantID, p.ProposalID)] = completed
	p.Status = models.ProposalStatusCompleted

	recCopy := *rec
	recCopy.QueueEntryIDs = append([]string(nil), rec.QueueEntryIDs...)
	r.s.matches[key(rec.TenantID, rec.MatchID)] = &recCopy

	if ev != nil {
		r.s.outbox = append(r.s.outbox, ev)
	}
	return nil
}

type MatchRepository struct {
	s *Store
}

var _ repository.MatchRepository = (*MatchRepository)(nil)

func (r *MatchRepository) Get(_ context.Context, tenantID, matchID string) (*models.MatchRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rec, ok := r.s.matches[key(tenantID, matchID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	cp.QueueEntryIDs = append([]string(nil), rec.QueueEntryIDs...)
	return &cp, nil
}

func (r *MatchRepository) SetGameID(_ context.Context, tenantID, matchID, gameID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rec, ok := r.s.matches[key(tenantID, matchID)]
	if !ok {
		return repository.ErrNotFound
	}
	rec.GameID = gameID
	return nil
}

type ChallengeRepository struct {
	s *Store
}

var _ repository.ChallengeRepository = (*ChallengeRepository)(nil)

func (r *ChallengeRepository) Create(_ context.Context, c *models.Challenge) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.challenges[key(c.TenantID, c.ChallengeID)]; ok {
		return repository.ErrDuplicate
	}
	cp := *c
	r.s.challenges[key(c.TenantID, c.ChallengeID)] = &cp
	return nil
}

func (r *ChallengeRepository) Get(_ context.Context, tenantID, challengeID string) (*models.Challenge, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.challenges[key(tenantID, challengeID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *ChallengeRepository) Update(_ context.Context, c *models.Challenge) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.challenges[key(c.TenantID, c.ChallengeID)]; !ok {
		return repository.ErrNotFound
	}
	cp := *c
	r.s.challenges[key(c.TenantID, c.ChallengeID)] = &cp
	return nil
}

func (r *ChallengeRepository) ListIncoming(_ context.Context, tenantID, userID string, now time.Time) ([]*models.Challenge, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*models.Challenge
	for _, c := range r.s.challenges {
		if c.TenantID == tenantID && c.OpponentUserID == userID && c.Pending() && !c.Expired(now) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *ChallengeRepository) ExpireOlder(_ context.Context, now time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for _, c := range r.s.challenges {
		if c.Pending() && c.Expired(now) {
			c.Status = models.ChallengeStatusExpired
			n++
		}
	}
	return n, nil
}

type OutboxRepository struct {
	s *Store
}

var _ repository.OutboxRepository = (*OutboxRepository)(nil)

func (r *OutboxRepository) Append(_ context.Context, ev *models.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.outbox = append(r.s.outbox, ev)
	return nil
}

func (r *OutboxRepository) ClaimBatch(_ context.Context, limit int, now time.Time, visibility time.Duration) ([]*models.OutboxEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*models.OutboxEvent
	for _, ev := range r.s.outbox {
		if len(out) >= limit {
			break
		}
		if ev.PublishedAt != nil {
			continue
		}
		if ev.ClaimedAt != nil && ev.ClaimedAt.After(now.Add(-visibility)) {
			continue
		}
		at := now
		ev.ClaimedAt = &at
		out = append(out, ev)
	}
	return out, nil
}

func (r *OutboxRepository) MarkPublished(_ context.Context, eventIDs []string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ids := make(map[string]bool, len(eventIDs))
	for _, id := range eventIDs {
		ids[id] = true
	}
	for _, ev := range r.s.outbox {
		if ids[ev.EventID] {
			published := at
			ev.PublishedAt = &published
		}
	}
	return nil
}

func cloneProposal(p *models.Proposal) *models.Proposal {
	cp := *p
	cp.Acceptances = append([]string(nil), p.Acceptances...)
	return &cp
}
