// Package websocket pushes matchmaking state changes to connected
// players: proposal.created when the matcher pairs them, match.created
// once both sides accepted, ticket.expired when the reaper removes
// them.
package websocket

import (
	"sync"

	"go.uber.org/zap"

	"github.com/code-and-chill/chessmate-sub001/internal/models"
)

// Hub keeps one connection per user and routes messages to them.
type Hub struct {
	clients map[string]*Client // userID -> connection
	mu      sync.RWMutex

	broadcast  chan *Message
	register   chan *Client
	unregister chan *Client

	logger *zap.Logger
}

// Message is one frame pushed to a player. An empty UserID broadcasts.
type Message struct {
	UserID  string      `json:"-"`
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ProposalCreatedMessage tells a player to accept or decline.
type ProposalCreatedMessage struct {
	ProposalID string `json:"proposalId"`
	TicketID   string `json:"ticketId"`
	DeadlineAt string `json:"deadlineAt"`
}

// MatchCreatedMessage carries the finished pairing.
type MatchCreatedMessage struct {
	MatchID string `json:"matchId"`
	GameID  string `json:"gameId,omitempty"`
	Color   string `json:"color"`
}

// TicketExpiredMessage tells the player their ticket left the queue.
type TicketExpiredMessage struct {
	TicketID string `json:"ticketId"`
	Reason   string `json:"reason"`
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// Run processes register/unregister/broadcast until the process exits.
// Run in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// One connection per user; a reconnect closes the old one.
	if oldClient, exists := h.clients[client.userID]; exists {
		close(oldClient.send)
		h.logger.Info("Replaced existing WebSocket connection",
			zap.String("userId", client.userID))
	}

	h.clients[client.userID] = client
	h.logger.Info("WebSocket client registered",
		zap.String("userId", client.userID),
		zap.Int("totalClients", len(h.clients)))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, exists := h.clients[client.userID]; exists && current == client {
		delete(h.clients, client.userID)
		close(client.send)
		h.logger.Info("WebSocket client unregistered",
			zap.String("userId", client.userID),
			zap.Int("totalClients", len(h.clients)))
	}
}

func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if message.UserID == "" {
		for _, client := range h.clients {
			select {
			case client.send <- message:
			default:
				h.logger.Warn("Client send channel full, unregistering",
					zap.String("userId", client.userID))
				go func(c *Client) {
					h.unregister <- c
				}(client)
			}
		}
		return
	}

	if client, exists := h.clients[message.UserID]; exists {
		select {
		case client.send <- message:
		default:
			h.logger.Warn("Client send channel full",
				zap.String("userId", message.UserID))
		}
	}
}

// SendToUser queues a message for one user. Drops silently when the
// user is not connected; the durable state is always readable over
// HTTP.
func (h *Hub) SendToUser(userID string, msgType string, payload interface{}) {
	h.broadcast <- &Message{
		UserID:  userID,
		Type:    msgType,
		Payload: payload,
	}
}

// NotifyProposal pushes proposal.created to one side of a proposal.
func (h *Hub) NotifyProposal(userID, proposalID, ticketID, deadlineAt string) {
	h.SendToUser(userID, "proposal.created", ProposalCreatedMessage{
		ProposalID: proposalID,
		TicketID:   ticketID,
		DeadlineAt: deadlineAt,
	})
}

// NotifyMatch pushes match.created to both players with their colors.
func (h *Hub) NotifyMatch(rec *models.MatchRecord) {
	h.SendToUser(rec.WhiteUserID, "match.created", MatchCreatedMessage{
		MatchID: rec.MatchID,
		GameID:  rec.GameID,
		Color:   string(models.ColorWhite),
	})
	h.SendToUser(rec.BlackUserID, "match.created", MatchCreatedMessage{
		MatchID: rec.MatchID,
		GameID:  rec.GameID,
		Color:   string(models.ColorBlack),
	})
}

// NotifyExpired pushes ticket.expired to the ticket owner.
func (h *Hub) NotifyExpired(userID, ticketID, reason string) {
	h.SendToUser(userID, "ticket.expired", TicketExpiredMessage{
		TicketID: ticketID,
		Reason:   reason,
	})
}
