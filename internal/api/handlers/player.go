package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/code-and-chill/chessmate-sub001/internal/service"
)

type PlayerHandler struct {
	tickets *service.TicketService
}

func NewPlayerHandler(tickets *service.TicketService) *PlayerHandler {
	return &PlayerHandler{tickets: tickets}
}

// GetActiveTicket returns the player's QUEUED or PROPOSING ticket, or
// 204 when nothing is active. Players can only query themselves.
func (h *PlayerHandler) GetActiveTicket(c *gin.Context) {
	tenantID, userID := callerIdentity(c)

	if c.Param("id") != userID {
		respondError(c, service.ErrForbidden)
		return
	}

	ticket, err := h.tickets.GetActiveTicket(c.Request.Context(), tenantID, userID)
	if err != nil {
		if errors.Is(err, service.ErrTicketNotFound) {
			c.Status(http.StatusNoContent)
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": ticket})
}
