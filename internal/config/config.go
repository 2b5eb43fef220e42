package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	Environment string

	// Database (empty URL falls back to the in-memory store)
	DatabaseURL string

	// Redis (empty URL disables result caching and ws pub/sub)
	RedisURL string

	// Server
	Port        string
	FrontendURL string

	// Tournament settings
	StakeTiers            []int64
	PrizeMultiplier       float64
	InitialBalance        int64
	QueueExpiryMinutes    int
	MatchmakerPollSeconds int

	// Security
	JWTSecret         string
	SessionTimeoutMin int
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		// Environment
		Environment: getEnv("APP_ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),

		// Redis
		RedisURL: getEnv("REDIS_URL", ""),

		// Server
		Port:        getEnv("APP_PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),

		// Tournament settings
		StakeTiers:            getEnvInt64List("STAKE_TIERS", []int64{100, 250, 500, 1000, 2000}),
		PrizeMultiplier:       getEnvFloat("PRIZE_MULTIPLIER", 1.8),
		InitialBalance:        int64(getEnvInt("INITIAL_BALANCE", 5000)),
		QueueExpiryMinutes:    getEnvInt("QUEUE_EXPIRY_MINUTES", 10),
		MatchmakerPollSeconds: getEnvInt("MATCHMAKER_POLL_SECONDS", 5),

		// Security
		JWTSecret:         getEnv("JWT_SECRET", "change-me-in-production"),
		SessionTimeoutMin: getEnvInt("SESSION_TIMEOUT_MINUTES", 240),
	}
}

// IsValidStake reports whether the given stake is one of the configured tiers.
func (c *Config) IsValidStake(stake int64) bool {
	for _, tier := range c.StakeTiers {
		if tier == stake {
			return true
		}
	}
	return false
}

// Prize computes the winner payout for a stake: floor(stake * multiplier).
func (c *Config) Prize(stake int64) int64 {
	return int64(float64(stake) * c.PrizeMultiplier)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvInt64List(key string, defaultValue []int64) []int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []int64
	for _, part := range strings.Split(value, ",") {
		v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return defaultValue
		}
		out = append(out, v)
	}
	return out
}
