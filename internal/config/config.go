package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	SearchCacheTTLSeconds int
	AuthSecret            string
	AccessTokenTTLMinutes int
	LowStockThreshold     int
	LogLevel              string
	LogFormat             string
	APIBaseURL            string
	CashierUsername       string
	CashierPassword       string
}

// Load reads the process environment after merging an optional .env file from
// the working directory. Variables already set in the environment win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(), nil
}

// FromEnv builds a Config from the current environment only.
func FromEnv() Config {
	return Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getEnvInt("REDIS_DB", 0, 0),
		SearchCacheTTLSeconds: getEnvInt("SEARCH_CACHE_TTL_SECONDS", 30, 1),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 480, 1),
		LowStockThreshold:     getEnvInt("LOW_STOCK_THRESHOLD", 5, 0),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
		APIBaseURL:            getEnv("API_BASE_URL", "http://127.0.0.1:8080"),
		CashierUsername:       os.Getenv("CASHIER_USERNAME"),
		CashierPassword:       os.Getenv("CASHIER_PASSWORD"),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

// getEnvInt falls back when the value is missing, malformed or below min.
func getEnvInt(key string, fallback int, min int) int {
	n, err := strconv.Atoi(strings.TrimSpace(getEnv(key, strconv.Itoa(fallback))))
	if err != nil || n < min {
		return fallback
	}
	return n
}
