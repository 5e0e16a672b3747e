package models

import "time"

type ProposalStatus string

const (
	ProposalStatusPending   ProposalStatus = "PENDING"
	ProposalStatusCompleted ProposalStatus = "COMPLETED"
	ProposalStatusTimedOut  ProposalStatus = "TIMED_OUT"
)

// Proposal is the ephemeral two-sided commitment created when the
// matcher picks a pair. The leader is the ticket with the lower id
// (lexicographic, deterministic across processes).
type Proposal struct {
	ProposalID string `db:"proposal_id" json:"proposalId"`
	TenantID   string `db:"tenant_id" json:"tenantId"`
	PoolKey    string `db:"pool_key" json:"poolKey"`

	LeaderTicketID   string `db:"leader_ticket_id" json:"leaderTicketId"`
	FollowerTicketID string `db:"follower_ticket_id" json:"followerTicketId"`
	LeaderUserID     string `db:"leader_user_id" json:"leaderUserId"`
	FollowerUserID   string `db:"follower_user_id" json:"followerUserId"`

	Status      ProposalStatus `db:"status" json:"status"`
	Acceptances []string       `db:"acceptances" json:"acceptances"`

	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	DeadlineAt time.Time `db:"deadline_at" json:"deadlineAt"`
}

// OrderTicketPair returns (leader, follower) by lexicographic ticket id.
func OrderTicketPair(a, b *Ticket) (*Ticket, *Ticket) {
	if a.TicketID <= b.TicketID {
		return a, b
	}
	return b, a
}

// HasAccepted reports whether the user already accepted.
func (p *Proposal) HasAccepted(userID string) bool {
	for _, u := range p.Acceptances {
		if u == userID {
			return true
		}
	}
	return false
}

// AddAcceptance records the user's acceptance; idempotent.
func (p *Proposal) AddAcceptance(userID string) {
	if !p.HasAccepted(userID) {
		p.Acceptances = append(p.Acceptances, userID)
	}
}

// BothAccepted reports whether leader and follower have accepted.
func (p *Proposal) BothAccepted() bool {
	return p.HasAccepted(p.LeaderUserID) && p.HasAccepted(p.FollowerUserID)
}

// Participant reports whether the user is one of the two sides.
func (p *Proposal) Participant(userID string) bool {
	return userID == p.LeaderUserID || userID == p.FollowerUserID
}

// PeerTicketID returns the other side's ticket id.
func (p *Proposal) PeerTicketID(ticketID string) string {
	if ticketID == p.LeaderTicketID {
		return p.FollowerTicketID
	}
	return p.LeaderTicketID
}
