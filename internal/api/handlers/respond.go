package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/code-and-chill/chessmate-sub001/internal/service"
)

// respondError maps service errors onto HTTP statuses: validation 400,
// identity 401/403, unknown ids 404, duplicate-intent 409, answered or
// terminal resources 410, downstream outage 503.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrSelfChallenge):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden),
		errors.Is(err, service.ErrNotTicketOwner),
		errors.Is(err, service.ErrNotParticipant):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, service.ErrTicketNotFound),
		errors.Is(err, service.ErrProposalNotFound),
		errors.Is(err, service.ErrChallengeNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrAlreadyQueued),
		errors.Is(err, service.ErrStaleMutation),
		errors.Is(err, service.ErrIdempotentRepay):
		status = http.StatusConflict
	case errors.Is(err, service.ErrTicketGone),
		errors.Is(err, service.ErrProposalClosed),
		errors.Is(err, service.ErrChallengeClosed):
		status = http.StatusGone
	case errors.Is(err, service.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func callerIdentity(c *gin.Context) (tenantID, userID string) {
	tenantID = c.GetString("tenantId")
	if tenantID == "" {
		tenantID = "default"
	}
	userID = c.GetString("userId")
	return tenantID, userID
}
