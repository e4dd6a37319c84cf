package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Thread store backends
const (
	ThreadStoreMemory = "memory"
	ThreadStoreRedis  = "redis"
	ThreadStoreBolt   = "bolt"
)

// Config holds the application configuration
type Config struct {
	TelegramToken  string
	AllowedUserIDs []int64 // Empty means every user is allowed

	// Bot mode configuration
	WebhookMode bool   // If true, use webhook mode; if false, use polling mode
	WebhookURL  string // URL for webhook (required if WebhookMode is true)
	Port        string

	// OpenAI configuration
	OpenAIKey          string
	AssistantID        string
	ChatModel          string
	TranscriptionModel string
	SpeechModel        string
	Voice              string
	PollInterval       time.Duration
	RunTimeout         time.Duration

	// Persistence
	DatabaseURL string
	UseMockDB   bool

	// Conversation thread store
	ThreadStore     string
	RedisURL        string
	ThreadStorePath string
	ThreadTTL       time.Duration

	// Analytics
	AmplitudeKey     string
	AnalyticsWorkers int

	FFmpegPath string
	TempDir    string
	LogLevel   string
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	config := &Config{}

	// Telegram Bot Token (required)
	config.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if config.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	// Allowed User IDs (optional)
	if allowedIDsStr := os.Getenv("ALLOWED_USER_IDS"); allowedIDsStr != "" {
		for _, idStr := range strings.Split(allowedIDsStr, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID in ALLOWED_USER_IDS: %s", idStr)
			}
			config.AllowedUserIDs = append(config.AllowedUserIDs, id)
		}
	}

	// Bot mode configuration
	config.WebhookMode = os.Getenv("WEBHOOK_MODE") == "true"
	if config.WebhookMode {
		config.WebhookURL = os.Getenv("WEBHOOK_URL")
		if config.WebhookURL == "" {
			return nil, fmt.Errorf("WEBHOOK_URL is required when WEBHOOK_MODE is true")
		}
	}
	config.Port = getEnv("PORT", "8080")

	// OpenAI configuration
	config.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	if config.OpenAIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	config.AssistantID = os.Getenv("OPENAI_ASSISTANT_ID")
	if config.AssistantID == "" {
		return nil, fmt.Errorf("OPENAI_ASSISTANT_ID is required (create one with: provision create)")
	}
	config.ChatModel = getEnv("CHAT_MODEL", "gpt-4o")
	config.TranscriptionModel = getEnv("STT_MODEL", "whisper-1")
	config.SpeechModel = getEnv("TTS_MODEL", "tts-1")
	config.Voice = getEnv("TTS_VOICE", "alloy")

	var err error
	if config.PollInterval, err = getDuration("RUN_POLL_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}
	if config.RunTimeout, err = getDuration("RUN_TIMEOUT", 2*time.Minute); err != nil {
		return nil, err
	}

	// Use Mock DB (default: false)
	config.UseMockDB = os.Getenv("USE_MOCK_DB") == "true"
	if !config.UseMockDB {
		config.DatabaseURL = os.Getenv("DATABASE_URL")
		if config.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when USE_MOCK_DB is not set")
		}
		if !strings.HasPrefix(config.DatabaseURL, "postgres") && !strings.HasPrefix(config.DatabaseURL, "clickhouse") {
			return nil, fmt.Errorf("DATABASE_URL must use the postgres:// or clickhouse:// scheme")
		}
	}

	// Thread store configuration
	config.ThreadStore = getEnv("THREAD_STORE", ThreadStoreMemory)
	switch config.ThreadStore {
	case ThreadStoreMemory:
	case ThreadStoreRedis:
		config.RedisURL = os.Getenv("REDIS_URL")
		if config.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required when THREAD_STORE is redis")
		}
	case ThreadStoreBolt:
		config.ThreadStorePath = getEnv("THREAD_STORE_PATH", "data/threads.bolt")
	default:
		return nil, fmt.Errorf("unknown THREAD_STORE %q (expected memory, redis or bolt)", config.ThreadStore)
	}
	if config.ThreadTTL, err = getDuration("THREAD_TTL", 0); err != nil {
		return nil, err
	}

	// Analytics (key is optional; events are only logged without it)
	config.AmplitudeKey = os.Getenv("AMPLITUDE_API_KEY")
	config.AnalyticsWorkers = 5
	if workers := os.Getenv("ANALYTICS_WORKERS"); workers != "" {
		n, err := strconv.Atoi(workers)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid ANALYTICS_WORKERS: %s", workers)
		}
		config.AnalyticsWorkers = n
	}

	config.FFmpegPath = getEnv("FFMPEG_PATH", "ffmpeg")
	config.TempDir = getEnv("TEMP_DIR", os.TempDir())
	config.LogLevel = getEnv("LOG_LEVEL", "info")

	return config, nil
}

// getEnv retrieves environment variable or returns default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
