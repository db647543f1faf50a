package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the signal core.
// Domain tunables (thresholds, TTLs, retry counts, risk percentages) live
// in the YAML settings file referenced by SettingsPath.
type Config struct {
	Port string
	Mode string // "production" or "dev"

	// Logging
	LogLevel  string
	LogFormat string // json or console

	// Database
	DBPath string

	// Feeds
	SentimentFeedURL string
	UseMockFeed      bool
	MockSymbols      []string

	// Execution
	Simulate       bool    // route orders to the paper venue, never a live one
	InitialBalance float64 // starting paper portfolio value in USD

	// Exchange request budget
	ExchangeRPS   float64
	ExchangeBurst int

	// Auth
	JWTSecret    string
	AdminKeyHash string // bcrypt hash of the admin key

	// Domain configuration files
	SettingsPath   string
	StrategiesPath string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:             getEnv("PORT", "8080"),
		Mode:             strings.ToLower(getEnv("MODE", "dev")),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "console"),
		DBPath:           getEnv("DB_PATH", "./data/signal.db"),
		SentimentFeedURL: getEnv("SENTIMENT_FEED_URL", ""),
		UseMockFeed:      getEnv("USE_MOCK_FEED", "true") == "true",
		MockSymbols:      splitAndTrim(getEnv("MOCK_SYMBOLS", "BTC/USDT,ETH/USDT")),
		Simulate:         getEnv("SIMULATE", "true") == "true",
		InitialBalance:   getEnvFloat("INITIAL_BALANCE", 100000),
		ExchangeRPS:      getEnvFloat("EXCHANGE_RPS", 10),
		ExchangeBurst:    getEnvInt("EXCHANGE_BURST", 20),
		JWTSecret:        getEnv("JWT_SECRET", "dev-secret"),
		AdminKeyHash:     os.Getenv("ADMIN_KEY_HASH"),
		SettingsPath:     getEnv("SETTINGS_PATH", "settings.yaml"),
		StrategiesPath:   getEnv("STRATEGIES_PATH", "strategies.yaml"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
