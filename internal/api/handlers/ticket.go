package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/code-and-chill/chessmate-sub001/internal/models"
	"github.com/code-and-chill/chessmate-sub001/internal/service"
)

type TicketHandler struct {
	tickets *service.TicketService
}

func NewTicketHandler(tickets *service.TicketService) *TicketHandler {
	return &TicketHandler{tickets: tickets}
}

type createTicketRequest struct {
	Mode        string `json:"mode" binding:"required"`
	Variant     string `json:"variant"`
	TimeControl struct {
		BaseSeconds      int `json:"baseSeconds" binding:"required"`
		IncrementSeconds int `json:"incrementSeconds"`
	} `json:"timeControl" binding:"required"`
	Region         string `json:"region" binding:"required"`
	RatingFloor    int    `json:"ratingFloor"`
	RatingCeiling  int    `json:"ratingCeiling"`
	MaxLatencyMs   int    `json:"maxLatencyMs"`
	PreferredColor string `json:"preferredColor"`
}

// CreateTicket enqueues the caller. Retrying with the same
// Idempotency-Key header returns the stored ticket with 200 instead of
// creating a duplicate.
func (h *TicketHandler) CreateTicket(c *gin.Context) {
	var req createTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	tenantID, userID := callerIdentity(c)

	result, err := h.tickets.CreateTicket(c.Request.Context(), service.CreateTicketRequest{
		TenantID: tenantID,
		UserID:   userID,
		Mode:     models.Mode(req.Mode),
		Variant:  req.Variant,
		TimeControl: models.TimeControl{
			BaseSeconds:      req.TimeControl.BaseSeconds,
			IncrementSeconds: req.TimeControl.IncrementSeconds,
		},
		Region:          req.Region,
		RatingFloor:     req.RatingFloor,
		RatingCeiling:   req.RatingCeiling,
		MaxLatencyMs:    req.MaxLatencyMs,
		PreferredColor:  models.Color(req.PreferredColor),
		IdempotencyKey:  c.GetHeader("Idempotency-Key"),
		ClientRequestID: c.GetHeader("X-Request-Id"),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"ticket":               result.Ticket,
		"estimatedWaitSeconds": result.EstimatedWaitSeconds,
	})
}

// GetTicket returns the caller's ticket by id.
func (h *TicketHandler) GetTicket(c *gin.Context) {
	tenantID, userID := callerIdentity(c)

	ticket, err := h.tickets.GetTicket(c.Request.Context(), tenantID, userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": ticket})
}

// CancelTicket cancels the caller's ticket; if it was mid-proposal the
// peer is returned to the queue.
func (h *TicketHandler) CancelTicket(c *gin.Context) {
	tenantID, userID := callerIdentity(c)

	if _, err := h.tickets.CancelTicket(c.Request.Context(), tenantID, userID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Heartbeat keeps the ticket alive.
func (h *TicketHandler) Heartbeat(c *gin.Context) {
	tenantID, userID := callerIdentity(c)

	if _, err := h.tickets.Heartbeat(c.Request.Context(), tenantID, userID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
