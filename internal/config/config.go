package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string
	HTTPAddr string

	// Postgres DSN
	DBDSN string

	// Optional cross-instance store; empty disables sharing
	RedisURL string

	// Optional audit broker; empty disables alert publishing
	RabbitURL      string
	RabbitExchange string

	// JWT verification; empty allows only anonymous connections
	JWTSecret string

	// Vote limiter
	VoteLimit  int
	VoteWindow time.Duration

	// Broadcast batching
	BatchMaxSize int
	BatchDelay   time.Duration

	// Fraud engine
	FraudBlockScore float64

	// Quadratic voting credit allowance per actor; 0 disables
	QuadraticBudget int

	// Health monitor
	HealthInterval time.Duration

	// Persistence write bound for one vote
	StoreTimeout time.Duration

	// Connection liveness
	ConnIdleTimeout time.Duration

	// Plain HTTP rate limit
	RLRequestsPerMinute int

	// Logging
	LogLevel string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	cfg.AppEnv = getEnv("APP_ENV", "dev")
	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")

	cfg.DBDSN = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	cfg.RedisURL = getEnv("REDIS_URL", "")

	cfg.RabbitURL = firstNonEmpty(
		strings.TrimSpace(os.Getenv("RABBITMQ_URL")),
		strings.TrimSpace(os.Getenv("RABBIT_URL")),
	)
	cfg.RabbitExchange = getEnv("RABBITMQ_EXCHANGE", "nestfest.votes")

	cfg.JWTSecret = getEnv("JWT_SECRET", "")

	cfg.VoteLimit = getInt("VOTE_RATE_LIMIT", 10)
	cfg.VoteWindow = getDuration("VOTE_RATE_WINDOW", time.Minute)

	cfg.BatchMaxSize = getInt("BATCH_MAX_SIZE", 10)
	cfg.BatchDelay = getDuration("BATCH_MAX_DELAY", 100*time.Millisecond)

	cfg.FraudBlockScore = getFloat("FRAUD_BLOCK_SCORE", 80)
	cfg.QuadraticBudget = getInt("QUADRATIC_BUDGET", 100)

	cfg.HealthInterval = getDuration("HEALTH_INTERVAL", 30*time.Second)
	cfg.StoreTimeout = getDuration("STORE_TIMEOUT", 5*time.Second)
	cfg.ConnIdleTimeout = getDuration("CONN_IDLE_TIMEOUT", 5*time.Minute)

	cfg.RLRequestsPerMinute = getInt("RL_REQUESTS_PER_MINUTE", 120)

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("missing DATABASE_URL")
	}
	if cfg.VoteLimit <= 0 {
		return nil, fmt.Errorf("VOTE_RATE_LIMIT must be positive")
	}
	if cfg.FraudBlockScore <= 0 || cfg.FraudBlockScore > 100 {
		return nil, fmt.Errorf("FRAUD_BLOCK_SCORE must be in (0, 100]")
	}
	if cfg.AppEnv != "dev" && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("missing JWT_SECRET (required when APP_ENV != dev)")
	}

	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getFloat(k string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
