package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/code-and-chill/chessmate-sub001/internal/models"
	"github.com/code-and-chill/chessmate-sub001/internal/service"
)

type ChallengeHandler struct {
	challenges *service.ChallengeService
}

func NewChallengeHandler(challenges *service.ChallengeService) *ChallengeHandler {
	return &ChallengeHandler{challenges: challenges}
}

type createChallengeRequest struct {
	OpponentUserID string `json:"opponentUserId" binding:"required"`
	Mode           string `json:"mode" binding:"required"`
	Variant        string `json:"variant"`
	TimeControl    struct {
		BaseSeconds      int `json:"baseSeconds" binding:"required"`
		IncrementSeconds int `json:"incrementSeconds"`
	} `json:"timeControl" binding:"required"`
	Region         string `json:"region"`
	PreferredColor string `json:"preferredColor"`
}

// CreateChallenge issues a directed offer to a known opponent.
func (h *ChallengeHandler) CreateChallenge(c *gin.Context) {
	var req createChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	tenantID, userID := callerIdentity(c)

	challenge, err := h.challenges.CreateChallenge(c.Request.Context(), service.CreateChallengeRequest{
		TenantID:         tenantID,
		ChallengerUserID: userID,
		OpponentUserID:   req.OpponentUserID,
		Mode:             models.Mode(req.Mode),
		Variant:          req.Variant,
		TimeControl: models.TimeControl{
			BaseSeconds:      req.TimeControl.BaseSeconds,
			IncrementSeconds: req.TimeControl.IncrementSeconds,
		},
		Region:         req.Region,
		PreferredColor: models.Color(req.PreferredColor),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"challenge": challenge})
}

// GetChallenge returns one challenge for either participant.
func (h *ChallengeHandler) GetChallenge(c *gin.Context) {
	tenantID, userID := callerIdentity(c)

	challenge, err := h.challenges.GetChallenge(c.Request.Context(), tenantID, userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenge": challenge})
}

// ListIncoming returns pending challenges addressed to the caller.
func (h *ChallengeHandler) ListIncoming(c *gin.Context) {
	tenantID, userID := callerIdentity(c)

	challenges, err := h.challenges.ListIncoming(c.Request.Context(), tenantID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if challenges == nil {
		challenges = []*models.Challenge{}
	}
	c.JSON(http.StatusOK, gin.H{
		"challenges": challenges,
		"total":      len(challenges),
	})
}

// Accept converts the challenge into a match.
func (h *ChallengeHandler) Accept(c *gin.Context) {
	tenantID, userID := callerIdentity(c)

	result, err := h.challenges.AcceptChallenge(c.Request.Context(), tenantID, userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"challenge": result.Challenge,
		"match":     result.Match,
	})
}

// Decline refuses the offer.
func (h *ChallengeHandler) Decline(c *gin.Context) {
	tenantID, userID := callerIdentity(c)

	challenge, err := h.challenges.DeclineChallenge(c.Request.Context(), tenantID, userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenge": challenge})
}

// Cancel withdraws the caller's own pending offer.
func (h *ChallengeHandler) Cancel(c *gin.Context) {
	tenantID, userID := callerIdentity(c)

	challenge, err := h.challenges.CancelChallenge(c.Request.Context(), tenantID, userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenge": challenge})
}
