package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/code-and-chill/chessmate-sub001/internal/models"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Auth
	JWTSecret     string
	JWTExpiration time.Duration
	ServiceToken  string

	// CORS
	CORSAllowedOrigins []string

	// Matchmaking
	MatcherInterval  time.Duration
	WideningInterval time.Duration
	ReaperInterval   time.Duration
	ProposalDeadline time.Duration
	HeartbeatTTL     time.Duration
	MaxQueueTime     time.Duration
	ChallengeTTL     time.Duration
	WideningSchedule []models.WideningStage

	// Sharding
	ShardCount int
	ShardIndex int

	// Outbox publisher
	OutboxBatchSize  int
	OutboxInterval   time.Duration
	OutboxVisibility time.Duration

	// Downstream services
	LiveGameURL string
	RatingURL   string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	schedule, err := parseWideningSchedule(getEnv("WIDENING_SCHEDULE", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		JWTSecret:          getEnv("JWT_SECRET", "your-secret-key"),
		JWTExpiration:      parseDuration(getEnv("JWT_EXPIRATION", "24h"), 24*time.Hour),
		ServiceToken:       getEnv("SERVICE_TOKEN", ""),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		MatcherInterval:    parseDuration(getEnv("MATCHER_INTERVAL", "500ms"), 500*time.Millisecond),
		WideningInterval:   parseDuration(getEnv("WIDENING_INTERVAL", "1s"), time.Second),
		ReaperInterval:     parseDuration(getEnv("REAPER_INTERVAL", "2s"), 2*time.Second),
		ProposalDeadline:   parseDuration(getEnv("PROPOSAL_DEADLINE", "10s"), 10*time.Second),
		HeartbeatTTL:       parseDuration(getEnv("HEARTBEAT_TTL", "30s"), 30*time.Second),
		MaxQueueTime:       parseDuration(getEnv("MAX_QUEUE_TIME", "10m"), 10*time.Minute),
		ChallengeTTL:       parseDuration(getEnv("CHALLENGE_TTL", "5m"), 5*time.Minute),
		WideningSchedule:   schedule,
		ShardCount:         parseInt(getEnv("SHARD_COUNT", "1"), 1),
		ShardIndex:         parseInt(getEnv("SHARD_INDEX", "0"), 0),
		OutboxBatchSize:    parseInt(getEnv("OUTBOX_BATCH_SIZE", "100"), 100),
		OutboxInterval:     parseDuration(getEnv("OUTBOX_INTERVAL", "500ms"), 500*time.Millisecond),
		OutboxVisibility:   parseDuration(getEnv("OUTBOX_VISIBILITY", "30s"), 30*time.Second),
		LiveGameURL:        getEnv("LIVE_GAME_URL", "http://localhost:8081"),
		RatingURL:          getEnv("RATING_URL", "http://localhost:8082"),
	}

	if cfg.ShardCount < 1 {
		cfg.ShardCount = 1
	}
	if cfg.ShardIndex < 0 || cfg.ShardIndex >= cfg.ShardCount {
		return nil, fmt.Errorf("SHARD_INDEX %d out of range for SHARD_COUNT %d", cfg.ShardIndex, cfg.ShardCount)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parseWideningSchedule reads a comma-separated list of
// dwell:ratingWindow:maxLatencyMs stages, e.g.
// "0s:50:150,5s:100:250,15s:200:400,30s:400:600,60s:inf:inf".
// An empty value means the default production schedule.
func parseWideningSchedule(s string) ([]models.WideningStage, error) {
	if s == "" {
		return models.DefaultWideningSchedule(), nil
	}

	var stages []models.WideningStage
	for _, part := range strings.Split(s, ",") {
		fields := strings.Split(strings.TrimSpace(part), ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("invalid widening stage %q", part)
		}
		dwell, err := time.ParseDuration(fields[0])
		if err != nil {
			return nil, fmt.Errorf("invalid widening dwell %q: %w", fields[0], err)
		}
		window, err := parseBound(fields[1])
		if err != nil {
			return nil, err
		}
		latency, err := parseBound(fields[2])
		if err != nil {
			return nil, err
		}
		stages = append(stages, models.WideningStage{
			Dwell:        dwell,
			RatingWindow: window,
			MaxLatencyMs: latency,
		})
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("empty widening schedule")
	}
	for i := 1; i < len(stages); i++ {
		if stages[i].Dwell <= stages[i-1].Dwell {
			return nil, fmt.Errorf("widening dwells must increase, stage %d does not", i)
		}
	}
	return stages, nil
}

func parseBound(s string) (int, error) {
	if strings.EqualFold(s, "inf") {
		return models.Unbounded, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid widening bound %q: %w", s, err)
	}
	return n, nil
}
