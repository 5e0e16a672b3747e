package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when an event does not apply to the
// ticket's current status.
var ErrInvalidTransition = errors.New("invalid ticket transition")

// TicketEvent drives the ticket state machine. Every mutation other
// than heartbeats and widening goes through Apply so the status
// invariants live in one place.
type TicketEvent interface {
	ticketEvent()
}

// EventPropose moves QUEUED -> PROPOSING and binds the proposal.
type EventPropose struct {
	ProposalID     string
	DeadlineAt     time.Time
	LeaderPlayerID string
}

// EventMatch moves PROPOSING -> MATCHED.
type EventMatch struct {
	MatchID string
	GameID  string
}

// EventRollback returns PROPOSING -> QUEUED, clearing proposal fields
// and preserving the widening state.
type EventRollback struct{}

// EventCancel moves QUEUED or PROPOSING -> CANCELLED.
type EventCancel struct{}

// EventExpire moves QUEUED -> EXPIRED.
type EventExpire struct{}

// EventError dead-letters the ticket after a worker panic.
type EventError struct{}

func (EventPropose) ticketEvent()  {}
func (EventMatch) ticketEvent()    {}
func (EventRollback) ticketEvent() {}
func (EventCancel) ticketEvent()   {}
func (EventExpire) ticketEvent()   {}
func (EventError) ticketEvent()    {}

// Apply mutates the ticket according to the event, or reports
// ErrInvalidTransition. Terminal states never transition out.
func Apply(t *Ticket, ev TicketEvent) error {
	if t.Status.Terminal() {
		return fmt.Errorf("%w: ticket %s is terminal (%s)", ErrInvalidTransition, t.TicketID, t.Status)
	}

	switch e := ev.(type) {
	case EventPropose:
		if t.Status != TicketStatusQueued {
			return transitionErr(t, "propose")
		}
		t.Status = TicketStatusProposing
		t.ProposalID = e.ProposalID
		deadline := e.DeadlineAt
		t.ProposalTimeoutAt = &deadline
		t.LeaderPlayerID = e.LeaderPlayerID

	case EventMatch:
		if t.Status != TicketStatusProposing {
			return transitionErr(t, "match")
		}
		t.Status = TicketStatusMatched
		t.MatchID = e.MatchID
		t.GameID = e.GameID

	case EventRollback:
		if t.Status != TicketStatusProposing {
			return transitionErr(t, "rollback")
		}
		t.Status = TicketStatusQueued
		t.ProposalID = ""
		t.ProposalTimeoutAt = nil
		t.LeaderPlayerID = ""

	case EventCancel:
		// Valid from QUEUED and PROPOSING.
		t.Status = TicketStatusCancelled
		t.ProposalID = ""
		t.ProposalTimeoutAt = nil
		t.LeaderPlayerID = ""

	case EventExpire:
		if t.Status != TicketStatusQueued {
			return transitionErr(t, "expire")
		}
		t.Status = TicketStatusExpired

	case EventError:
		t.Status = TicketStatusErrored

	default:
		return fmt.Errorf("unknown ticket event %T", ev)
	}

	return nil
}

func transitionErr(t *Ticket, event string) error {
	return fmt.Errorf("%w: cannot %s ticket %s in status %s", ErrInvalidTransition, event, t.TicketID, t.Status)
}
