package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 应用配置
type Config struct {
	Port   string
	DBPath string

	// External processing backend (upload/results API in front of NodeODM)
	BackendURL     string
	PollInterval   time.Duration
	HealthInterval time.Duration
	HTTPTimeout    time.Duration
	MaxUploadFiles int

	// StateBackend selects where tracker state lives: "sqlite" or "redis"
	StateBackend string
	RedisAddr    string
	NATSURL      string

	// StatusSynonymsFile points to a YAML synonym table; empty means built-in defaults
	StatusSynonymsFile string

	JWTSecret string
	RateLimit int // requests per minute per client

	LogLevel  string
	LogFormat string
}

// Load 加载配置
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", ":8080"),
		DBPath:             getEnv("DB_PATH", "./data/dashboard.db"),
		BackendURL:         strings.TrimRight(getEnv("BACKEND_URL", "http://localhost:8001"), "/"),
		PollInterval:       getDuration("POLL_INTERVAL", 3*time.Second),
		HealthInterval:     getDuration("HEALTH_INTERVAL", 30*time.Second),
		HTTPTimeout:        getDuration("HTTP_TIMEOUT", 30*time.Second),
		MaxUploadFiles:     getInt("MAX_UPLOAD_FILES", 50),
		StateBackend:       strings.ToLower(getEnv("STATE_BACKEND", "sqlite")),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		NATSURL:            os.Getenv("NATS_URL"),
		StatusSynonymsFile: os.Getenv("STATUS_SYNONYMS_FILE"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		RateLimit:          getInt("RATE_LIMIT", 600),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getDuration accepts Go duration strings ("3s") or plain seconds ("3").
func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
