package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/code-and-chill/chessmate-sub001/internal/websocket"
)

type WebSocketHandler struct {
	hub    *websocket.Hub
	logger *zap.Logger
}

func NewWebSocketHandler(hub *websocket.Hub, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, logger: logger}
}

// HandleWebSocket upgrades the connection and subscribes the caller to
// their matchmaking pushes.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	userID := c.GetString("userId")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	websocket.ServeWs(h.hub, c.Writer, c.Request, userID, h.logger)
}
