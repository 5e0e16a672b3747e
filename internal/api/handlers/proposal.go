package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/code-and-chill/chessmate-sub001/internal/service"
)

type ProposalHandler struct {
	proposer *service.Proposer
}

func NewProposalHandler(proposer *service.Proposer) *ProposalHandler {
	return &ProposalHandler{proposer: proposer}
}

// Accept records the caller's acceptance. Returns the match once both
// sides accepted; before that, the pending proposal.
func (h *ProposalHandler) Accept(c *gin.Context) {
	tenantID, userID := callerIdentity(c)

	result, err := h.proposer.Accept(c.Request.Context(), tenantID, userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{
		"proposal":  result.Proposal,
		"completed": result.Completed,
	}
	if result.Match != nil {
		resp["match"] = result.Match
	}
	c.JSON(http.StatusOK, resp)
}

// Decline aborts the proposal: the caller's ticket is cancelled and the
// peer re-queued.
func (h *ProposalHandler) Decline(c *gin.Context) {
	tenantID, userID := callerIdentity(c)

	if err := h.proposer.Decline(c.Request.Context(), tenantID, userID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"declined": true})
}
