package service

import "errors"

// Common service errors
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("resource not found")
	ErrUnavailable  = errors.New("service unavailable")
)

// Ticket service specific errors
var (
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrAlreadyQueued   = errors.New("user already has an active ticket")
	ErrTicketGone      = errors.New("ticket is no longer active")
	ErrStaleMutation   = errors.New("ticket changed concurrently")
	ErrNotTicketOwner  = errors.New("ticket belongs to another user")
	ErrIdempotentRepay = errors.New("idempotency key bound to different parameters")
)

// Proposal service specific errors
var (
	ErrProposalNotFound = errors.New("proposal not found")
	ErrProposalClosed   = errors.New("proposal is no longer pending")
	ErrNotParticipant   = errors.New("user is not part of this proposal")
)

// Challenge service specific errors
var (
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrChallengeClosed   = errors.New("challenge is no longer pending")
	ErrSelfChallenge     = errors.New("cannot challenge yourself")
)
