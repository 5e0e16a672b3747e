package models

import (
	"strings"

	"github.com/google/uuid"
)

// Domain ids use short prefixed forms: t_<12 hex> for tickets,
// p_ proposals, m_ matches, c_ challenges, ev_ outbox events.

func newID(prefix string) string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return prefix + hex[:12]
}

func NewTicketID() string    { return newID("t_") }
func NewProposalID() string  { return newID("p_") }
func NewMatchID() string     { return newID("m_") }
func NewChallengeID() string { return newID("c_") }
func NewEventID() string     { return newID("ev_") }
