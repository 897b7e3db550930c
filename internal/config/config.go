package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                    string
	AllowedOrigin           string
	DatabaseURL             string
	RedisAddr               string
	RedisPassword           string
	RedisDB                 int
	BookID                  string
	AuthSecret              string
	AccessTokenTTLMinutes   int
	AuditCronSpec           string
	AuditSettleDelaySeconds int
	CollectCooldownMillis   int
}

func Load() Config {
	// Optional .env for local development; real deployments set env vars.
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	settleDelay, err := strconv.Atoi(getEnv("AUDIT_SETTLE_DELAY_SECONDS", "3"))
	if err != nil || settleDelay < 1 {
		settleDelay = 3
	}
	cooldown, err := strconv.Atoi(getEnv("COLLECT_COOLDOWN_MILLIS", "500"))
	if err != nil || cooldown < 1 {
		cooldown = 500
	}

	cfg := Config{
		Port:                    getEnv("PORT", "8080"),
		AllowedOrigin:           getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		RedisPassword:           os.Getenv("REDIS_PASSWORD"),
		RedisDB:                 redisDB,
		BookID:                  getEnv("DEFAULT_BOOK_ID", "main-book"),
		AuthSecret:              strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:   tokenTTL,
		AuditCronSpec:           getEnv("AUDIT_CRON_SPEC", "*/5 * * * *"),
		AuditSettleDelaySeconds: settleDelay,
		CollectCooldownMillis:   cooldown,
	}

	return cfg
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
