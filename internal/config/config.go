// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	Redis     RedisConfig
	Challenge ChallengeConfig
	Quota     QuotaConfig
	Contact   ContactConfig
	OpenAI    OpenAIConfig

	AnalyticsRetentionDays int
}

// RedisConfig holds the optional Redis backend settings. An empty Addr
// means Redis is not configured and in-memory fallbacks are used.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ChallengeConfig controls anti-bot challenge verification.
type ChallengeConfig struct {
	Provider          string // "turnstile" or "recaptcha"
	TurnstileSiteKey  string
	TurnstileSecret   string
	RecaptchaSecret   string
	RecaptchaMinScore float64
	TrustTTL          time.Duration
	BurstLimit        int
	BurstWindow       time.Duration
	DevBypass         bool
}

// QuotaConfig controls the daily per-IP message quota.
type QuotaConfig struct {
	DailyLimit int
}

// ContactConfig controls the contact form pipeline.
type ContactConfig struct {
	Window       time.Duration
	MaxPerWindow int
	MinFillTime  time.Duration
	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPass     string
	ToAddress    string
}

// OpenAIConfig holds model settings for the RAG pipeline.
type OpenAIConfig struct {
	APIKey         string
	ChatModel      string
	EmbeddingModel string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/mr-m.db"),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Challenge: ChallengeConfig{
			Provider:          strings.ToLower(getEnv("CHALLENGE_PROVIDER", "turnstile")),
			TurnstileSiteKey:  getEnv("TURNSTILE_SITE_KEY", ""),
			TurnstileSecret:   getEnv("TURNSTILE_SECRET", ""),
			RecaptchaSecret:   getEnv("RECAPTCHA_SECRET", ""),
			RecaptchaMinScore: getEnvFloat("RECAPTCHA_MIN_SCORE", 0.6),
			TrustTTL:          getEnvDuration("TRUST_TTL", 2*time.Hour),
			BurstLimit:        getEnvInt("BURST_LIMIT", 1),
			BurstWindow:       getEnvDuration("BURST_WINDOW", 3*time.Second),
			DevBypass:         getEnvBool("DEV_BYPASS_CHALLENGE", true),
		},
		Quota: QuotaConfig{
			DailyLimit: getEnvInt("RATE_LIMIT", 6),
		},
		Contact: ContactConfig{
			Window:       getEnvDuration("CONTACT_WINDOW", time.Hour),
			MaxPerWindow: getEnvInt("CONTACT_MAX_PER_WINDOW", 5),
			MinFillTime:  getEnvDuration("CONTACT_MIN_FILL_TIME", 3*time.Second),
			SMTPHost:     getEnv("SMTP_HOST", ""),
			SMTPPort:     getEnv("SMTP_PORT", "587"),
			SMTPUser:     getEnv("SMTP_USER", ""),
			SMTPPass:     getEnv("SMTP_PASS", ""),
			ToAddress:    getEnv("CONTACT_TO", ""),
		},
		OpenAI: OpenAIConfig{
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			ChatModel:      getEnv("OPENAI_CHAT_MODEL", "gpt-3.5-turbo"),
			EmbeddingModel: getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
		},
		AnalyticsRetentionDays: getEnvInt("ANALYTICS_RETENTION_DAYS", 30),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	switch c.Challenge.Provider {
	case "turnstile", "recaptcha":
	default:
		return fmt.Errorf("unknown CHALLENGE_PROVIDER %q", c.Challenge.Provider)
	}
	if c.Quota.DailyLimit <= 0 {
		return fmt.Errorf("RATE_LIMIT must be > 0")
	}
	if c.Challenge.BurstLimit <= 0 {
		return fmt.Errorf("BURST_LIMIT must be > 0")
	}
	if c.AnalyticsRetentionDays <= 0 {
		return fmt.Errorf("ANALYTICS_RETENTION_DAYS must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
