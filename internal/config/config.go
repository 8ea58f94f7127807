package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Port                 string
	StoreDriver          string
	DatabaseURL          string
	SQLitePath           string
	Location             *time.Location
	NumberingMaxAttempts int
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	DayLockTTL           time.Duration
	RateLimitPerMinute   int
	RateLimitBurst       int
	SubscriberBuffer     int
	OTLPEndpoint         string
	OTLPInsecure         bool
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists.
func Load() (Config, error) {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	driver := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_DRIVER")))
	if driver == "" {
		driver = DriverPostgres
	}
	if driver != DriverPostgres && driver != DriverSQLite {
		return Config{}, fmt.Errorf("STORE_DRIVER must be %s or %s, got %q", DriverPostgres, DriverSQLite, driver)
	}

	cfg := Config{
		Port:                 port,
		StoreDriver:          driver,
		DatabaseURL:          os.Getenv("DB_DSN"),
		SQLitePath:           readString("SQLITE_PATH", "turno.db"),
		NumberingMaxAttempts: readInt("NUMBERING_MAX_ATTEMPTS", 3),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              readInt("REDIS_DB", 0),
		DayLockTTL:           readDurationSeconds("DAY_LOCK_TTL_SECONDS", 5),
		RateLimitPerMinute:   readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:       readInt("RATE_LIMIT_BURST", 30),
		SubscriberBuffer:     readInt("SUBSCRIBER_BUFFER", 16),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:         readBool("OTEL_EXPORTER_OTLP_INSECURE", false),
	}
	if driver == DriverPostgres && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DB_DSN is required for the %s store", DriverPostgres)
	}

	location, err := time.LoadLocation(readString("QUEUE_TIMEZONE", "Local"))
	if err != nil {
		return Config{}, fmt.Errorf("QUEUE_TIMEZONE: %w", err)
	}
	cfg.Location = location
	return cfg, nil
}

func readString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
