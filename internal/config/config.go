// Package config は環境変数からのアプリケーション設定読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Tournament
	TournamentID string
	JoinCode     string
	SignupsOpen  bool

	// Matcherino API
	MatcherinoBaseURL string
	FetchTimeout      time.Duration
	FetchMaxSize      int64
	FetchMaxAttempts  int
	FetchBackoffBase  time.Duration

	// Matching policy
	FuzzyThreshold float64
	FuzzyMargin    float64

	// Sync worker
	SyncInterval time.Duration

	// Rate Limit（req/min単位）
	RateLimitGeneral int
	RateLimitSync    int

	// Server
	ServerPort string
	AdminToken string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.TournamentID = os.Getenv("MATCHERINO_TOURNAMENT_ID")
	if cfg.TournamentID == "" {
		missing = append(missing, "MATCHERINO_TOURNAMENT_ID")
	}

	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	if cfg.AdminToken == "" {
		missing = append(missing, "ADMIN_TOKEN")
	}

	cfg.JoinCode = os.Getenv("TOURNAMENT_JOIN_CODE")
	if cfg.JoinCode == "" {
		missing = append(missing, "TOURNAMENT_JOIN_CODE")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SignupsOpen = getEnvBool("SIGNUPS_OPEN", false)
	cfg.MatcherinoBaseURL = getEnvString("MATCHERINO_BASE_URL", "https://api.matcherino.com")
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchMaxAttempts = getEnvInt("FETCH_MAX_ATTEMPTS", 4)
	cfg.FetchBackoffBase = getEnvDuration("FETCH_BACKOFF_BASE", 500*time.Millisecond)
	cfg.FuzzyThreshold = getEnvFloat("MATCH_FUZZY_THRESHOLD", 0.80)
	cfg.FuzzyMargin = getEnvFloat("MATCH_FUZZY_MARGIN", 0.05)
	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", 30*time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSync = getEnvInt("RATE_LIMIT_SYNC", 6)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	if cfg.FuzzyThreshold <= 0 || cfg.FuzzyThreshold > 1 {
		return nil, fmt.Errorf("MATCH_FUZZY_THRESHOLD must be in (0, 1]: %v", cfg.FuzzyThreshold)
	}
	if cfg.FuzzyMargin < 0 || cfg.FuzzyMargin >= 1 {
		return nil, fmt.Errorf("MATCH_FUZZY_MARGIN must be in [0, 1): %v", cfg.FuzzyMargin)
	}
	if cfg.SyncInterval <= 0 {
		return nil, fmt.Errorf("SYNC_INTERVAL must be positive: %v", cfg.SyncInterval)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
