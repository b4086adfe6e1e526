package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	AppBaseURL  string

	TelegramBotToken string
	AdminUserIDs     []int64

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	YooKassaShopID        string
	YooKassaSecretKey     string
	YooKassaReturnURL     string
	YooKassaWebhookSecret string

	TrialRequests    int
	MaxContextTokens int
	StreamTimeout    time.Duration

	GeoIPDBPath    string
	AllowedOrigins []string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		AppBaseURL:  getEnv("APP_BASE_URL", "http://localhost:8080"),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		AdminUserIDs:     parseInt64List(os.Getenv("ADMIN_USER_IDS")),

		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),

		YooKassaShopID:        os.Getenv("YOOKASSA_SHOP_ID"),
		YooKassaSecretKey:     os.Getenv("YOOKASSA_SECRET_KEY"),
		YooKassaReturnURL:     os.Getenv("YOOKASSA_RETURN_URL"),
		YooKassaWebhookSecret: os.Getenv("YOOKASSA_WEBHOOK_SECRET"),

		TrialRequests:    getEnvInt("TRIAL_REQUESTS", 30),
		MaxContextTokens: getEnvInt("MAX_CONTEXT_TOKENS", 8192),
		StreamTimeout:    time.Second * time.Duration(getEnvInt("STREAM_TIMEOUT_SECONDS", 40)),

		GeoIPDBPath:    os.Getenv("GEOIP_DB_PATH"),
		AllowedOrigins: parseList(os.Getenv("CORS_ALLOWED_ORIGINS")),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 60)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 20),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.TelegramBotToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	return cfg, nil
}

// IsAdmin reports whether the Telegram id belongs to a configured admin.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func parseList(value string) []string {
	var items []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

func parseInt64List(value string) []int64 {
	var ids []int64
	for _, part := range strings.Split(value, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		if id, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
