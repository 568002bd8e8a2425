package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the server-side configuration, read from the environment.
type Config struct {
	HTTPAddr      string
	PublicBaseURL string

	DBDSN     string
	JWTSecret string
	JWTTTL    time.Duration

	// Token revocation lives in Redis when RedisAddr is set, in memory otherwise.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// AI provider
	AIProvider        string
	OllamaBaseURL     string
	OllamaModel       string
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterSiteURL string
	OpenRouterAppName string
	StaticReply       string
	CompletionTimeout time.Duration
	HistoryWindow     int

	// /chat rate limit, per client IP
	ChatRatePerSec float64
	ChatRateBurst  int

	// rabbitMQ; jobs are queued in process when RabbitURL is empty
	RabbitURL         string
	RabbitQueue       string
	WorkerConcurrency int

	StorageDir     string
	MaxAvatarBytes int64

	LogLevel string
}

func Load() Config {
	return Config{
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		PublicBaseURL: getenv("PUBLIC_BASE_URL", "http://localhost:8080"),

		// mysql DSN demo:
		// app:apppass@tcp(127.0.0.1:3306)/keystone?charset=utf8mb4&parseTime=true&loc=Local
		DBDSN:     getenv("DB_DSN", "sqlite:keystone.db"),
		JWTSecret: getenv("JWT_SECRET", "dev-secret-change-me"),
		JWTTTL:    getDuration("JWT_TTL", 24*time.Hour),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),

		AIProvider:        getenv("AI_PROVIDER", "ollama"),
		OllamaBaseURL:     getenv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:       getenv("OLLAMA_MODEL", "llama3:latest"),
		OpenRouterBaseURL: getenv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterModel:   getenv("OPENROUTER_MODEL", "openrouter/auto"),
		OpenRouterSiteURL: os.Getenv("OPENROUTER_SITE_URL"),
		OpenRouterAppName: getenv("OPENROUTER_APP_NAME", "keystone"),
		StaticReply:       os.Getenv("STATIC_REPLY"),
		CompletionTimeout: getDuration("COMPLETION_TIMEOUT", 90*time.Second),
		HistoryWindow:     getInt("HISTORY_WINDOW", 20),

		ChatRatePerSec: getFloat("CHAT_RATE_PER_SEC", 1),
		ChatRateBurst:  getInt("CHAT_RATE_BURST", 5),

		RabbitURL:         os.Getenv("RABBIT_URL"),
		RabbitQueue:       getenv("RABBIT_QUEUE", "chat_jobs"),
		WorkerConcurrency: clamp(getInt("WORKER_CONCURRENCY", 2), 1, 50),

		StorageDir:     getenv("STORAGE_DIR", "./data/storage"),
		MaxAvatarBytes: int64(getInt("MAX_AVATAR_BYTES", 5<<20)),

		LogLevel: getenv("LOG_LEVEL", "info"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
