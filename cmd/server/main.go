package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/code-and-chill/chessmate-sub001/internal/api"
	"github.com/code-and-chill/chessmate-sub001/internal/clients"
	"github.com/code-and-chill/chessmate-sub001/internal/config"
	"github.com/code-and-chill/chessmate-sub001/internal/pool"
	"github.com/code-and-chill/chessmate-sub001/internal/repository"
	"github.com/code-and-chill/chessmate-sub001/internal/service"
	"github.com/code-and-chill/chessmate-sub001/internal/websocket"
	"github.com/code-and-chill/chessmate-sub001/pkg/clock"
	"github.com/code-and-chill/chessmate-sub001/pkg/database"
	"github.com/code-and-chill/chessmate-sub001/pkg/distributed"
	"github.com/code-and-chill/chessmate-sub001/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("Starting matchmaking service",
		"port", cfg.Port,
		"env", cfg.Env,
		"shard_index", cfg.ShardIndex,
		"shard_count", cfg.ShardCount,
	)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	logger.Info("Database connection established")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("Invalid Redis URL", "error", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", "error", err)
	}
	logger.Info("Redis connection established")

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to build zap logger: %v", err)
	}
	defer zapLogger.Sync()

	// Repositories
	ticketRepo := repository.NewPostgresTicketRepository(db)
	proposalRepo := repository.NewPostgresProposalRepository(db)
	matchRepo := repository.NewPostgresMatchRepository(db)
	challengeRepo := repository.NewPostgresChallengeRepository(db)
	outboxRepo := repository.NewPostgresOutboxRepository(db)

	// Shared infrastructure
	clk := clock.New()
	index := pool.NewIndex()
	lockManager := distributed.NewRedisLockManager(redisClient)
	poolSignal := distributed.NewPoolSignal(redisClient, zapLogger)

	liveGameClient := clients.NewLiveGameClient(cfg.LiveGameURL, cfg.ServiceToken)
	ratingClient := clients.NewRatingClient(cfg.RatingURL, cfg.ServiceToken)

	// WebSocket hub
	wsHub := websocket.NewHub(zapLogger)
	go wsHub.Run()

	// Services
	proposer := service.NewProposer(ticketRepo, proposalRepo, matchRepo, index,
		liveGameClient, poolSignal, clk, cfg.ProposalDeadline, zapLogger)
	proposer.SetPlayerNotifier(wsHub)

	ticketService := service.NewTicketService(ticketRepo, index, ratingClient,
		proposer, poolSignal, clk, cfg.WideningSchedule, cfg.ShardCount, zapLogger)

	challengeService := service.NewChallengeService(challengeRepo, ticketRepo,
		ratingClient, proposer, clk, cfg.ChallengeTTL, zapLogger)

	matcher := service.NewMatcher(index, ticketRepo, proposer, lockManager, clk,
		cfg.MatcherInterval, cfg.ShardIndex, cfg.ShardCount, zapLogger)

	widening := service.NewWideningScheduler(index, ticketRepo, matcher, clk,
		cfg.WideningSchedule, cfg.WideningInterval, cfg.ShardIndex, cfg.ShardCount, zapLogger)

	reaper := service.NewReaper(ticketRepo, proposalRepo, challengeRepo, index,
		proposer, clk, cfg.ReaperInterval, cfg.HeartbeatTTL, cfg.MaxQueueTime,
		cfg.ShardIndex, cfg.ShardCount, zapLogger)
	reaper.SetPlayerNotifier(wsHub)

	publisher := service.NewOutboxPublisher(outboxRepo, redisClient, clk,
		cfg.OutboxBatchSize, cfg.OutboxInterval, cfg.OutboxVisibility, zapLogger)

	// The durable store is the source of truth; rebuild the in-memory
	// pools before accepting traffic.
	if err := ticketService.RebuildIndex(context.Background()); err != nil {
		logger.Fatal("Failed to rebuild pool index", "error", err)
	}

	// Peer instances mark pools dirty through Redis pub/sub.
	signalCtx, stopSignal := context.WithCancel(context.Background())
	go func() {
		err := poolSignal.Start(signalCtx, func(event distributed.PoolEvent) {
			matcher.MarkDirty(event.PoolKey)
		})
		if err != nil && signalCtx.Err() == nil {
			logger.Error("Pool signal subscriber exited", "error", err)
		}
	}()

	matcher.Start()
	widening.Start()
	reaper.Start()
	publisher.Start()

	router := api.SetupRouter(api.Deps{
		Config:     cfg,
		Tickets:    ticketService,
		Proposer:   proposer,
		Challenges: challengeService,
		Hub:        wsHub,
		Logger:     zapLogger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", "error", err)
	}

	publisher.Stop()
	reaper.Stop()
	widening.Stop()
	matcher.Stop()
	stopSignal()
	poolSignal.Stop()

	logger.Info("Server exited")
}
