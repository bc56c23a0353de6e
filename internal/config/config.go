package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUser        string
	DBPassword    string
	DBName        string
	DBHost        string
	DBPort        string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisEnabled  bool
	BotToken      string
	BotUsername   string
	WebAppURL     string
	HTTPAddr      string
	LogLevel      string

	// AllowedWebAppCIDRs limits who may post earnings. Loopback by default;
	// an empty list rejects every request.
	AllowedWebAppCIDRs []string

	VerificationBonus    int64
	ReferralMaxDepth     int
	ReferralRepeatAwards bool
	ReconcileInterval    time.Duration
	NotifyDedupTTL       time.Duration
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}
	return Load()
}

// Load reads the process environment only; LoadConfig additionally reads .env.
func Load() (*Config, error) {
	cfg := &Config{
		DBUser:             getEnv("DB_USER", "postgres"),
		DBPassword:         getEnv("DB_PASSWORD", "postgres"),
		DBName:             getEnv("DB_NAME", "cookcoin_bot"),
		DBHost:             getEnv("DB_HOST", "localhost"),
		DBPort:             getEnv("DB_PORT", "5432"),
		RedisHost:          getEnv("REDIS_HOST", "localhost"),
		RedisPort:          getEnv("REDIS_PORT", "6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		BotToken:           getEnv("TELEGRAM_BOT_TOKEN", ""),
		BotUsername:        getEnv("BOT_USERNAME", ""),
		WebAppURL:          getEnv("WEBAPP_URL", "https://referal-testrer.netlify.app"),
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		AllowedWebAppCIDRs: splitList(getEnv("ALLOWED_WEBAPP_CIDRS", "127.0.0.0/8,::1/128")),
	}

	if cfg.BotToken == "" {
		return nil, errors.New("TELEGRAM_BOT_TOKEN is required")
	}

	var err error
	if cfg.RedisEnabled, err = getBool("REDIS_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.VerificationBonus, err = getInt64("VERIFICATION_BONUS", 5000); err != nil {
		return nil, err
	}
	if cfg.VerificationBonus <= 0 {
		return nil, fmt.Errorf("VERIFICATION_BONUS must be positive, got %d", cfg.VerificationBonus)
	}
	depth, err := getInt64("REFERRAL_MAX_DEPTH", 16)
	if err != nil {
		return nil, err
	}
	if depth < 1 {
		return nil, fmt.Errorf("REFERRAL_MAX_DEPTH must be at least 1, got %d", depth)
	}
	cfg.ReferralMaxDepth = int(depth)
	if cfg.ReferralRepeatAwards, err = getBool("REFERRAL_REPEAT_AWARDS", false); err != nil {
		return nil, err
	}
	if cfg.ReconcileInterval, err = getDuration("RECONCILE_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.NotifyDedupTTL, err = getDuration("NOTIFY_DEDUP_TTL", 24*time.Hour); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getInt64(key string, fallback int64) (int64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
