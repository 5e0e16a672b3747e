package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/code-and-chill/chessmate-sub001/internal/api/handlers"
	"github.com/code-and-chill/chessmate-sub001/internal/api/middleware"
	"github.com/code-and-chill/chessmate-sub001/internal/config"
	"github.com/code-and-chill/chessmate-sub001/internal/service"
	"github.com/code-and-chill/chessmate-sub001/internal/websocket"
)

// Deps carries the wired services into the router. Construction
// happens in cmd/server so background loops share the instances.
type Deps struct {
	Config     *config.Config
	Tickets    *service.TicketService
	Proposer   *service.Proposer
	Challenges *service.ChallengeService
	Hub        *websocket.Hub
	Logger     *zap.Logger
}

// SetupRouter builds the HTTP surface.
func SetupRouter(deps Deps) *gin.Engine {
	cfg := deps.Config

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	ticketHandler := handlers.NewTicketHandler(deps.Tickets)
	proposalHandler := handlers.NewProposalHandler(deps.Proposer)
	challengeHandler := handlers.NewChallengeHandler(deps.Challenges)
	playerHandler := handlers.NewPlayerHandler(deps.Tickets)
	internalHandler := handlers.NewInternalHandler(deps.Tickets)
	wsHandler := handlers.NewWebSocketHandler(deps.Hub, deps.Logger)

	router.GET("/health", handlers.HealthCheck)

	v1 := router.Group("/v1")
	v1.Use(middleware.Auth(cfg))
	{
		v1.GET("/ws", wsHandler.HandleWebSocket)

		tickets := v1.Group("/tickets")
		{
			tickets.POST("", middleware.EnqueueRateLimit(), ticketHandler.CreateTicket)
			tickets.GET("/:id", ticketHandler.GetTicket)
			tickets.DELETE("/:id", ticketHandler.CancelTicket)
			tickets.POST("/:id/heartbeat", middleware.HeartbeatRateLimit(), ticketHandler.Heartbeat)
		}

		proposals := v1.Group("/proposals")
		{
			proposals.POST("/:id/accept", proposalHandler.Accept)
			proposals.POST("/:id/decline", proposalHandler.Decline)
		}

		challenges := v1.Group("/challenges")
		{
			challenges.POST("", middleware.EnqueueRateLimit(), challengeHandler.CreateChallenge)
			challenges.GET("/incoming", challengeHandler.ListIncoming)
			challenges.GET("/:id", challengeHandler.GetChallenge)
			challenges.POST("/:id/accept", challengeHandler.Accept)
			challenges.POST("/:id/decline", challengeHandler.Decline)
			challenges.DELETE("/:id", challengeHandler.Cancel)
		}

		players := v1.Group("/players")
		{
			players.GET("/:id/active", playerHandler.GetActiveTicket)
		}
	}

	internal := router.Group("/internal")
	internal.Use(middleware.ServiceAuth(cfg))
	{
		internal.GET("/queues/summary", internalHandler.QueueSummary)
	}

	return router
}
