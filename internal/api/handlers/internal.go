package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/code-and-chill/chessmate-sub001/internal/service"
)

type InternalHandler struct {
	tickets *service.TicketService
}

func NewInternalHandler(tickets *service.TicketService) *InternalHandler {
	return &InternalHandler{tickets: tickets}
}

// QueueSummary reports per-pool waiting counts and wait-time
// percentiles for operations dashboards.
func (h *InternalHandler) QueueSummary(c *gin.Context) {
	summary := h.tickets.QueueSummary(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"pools": summary,
		"total": len(summary),
	})
}
