package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	DatabaseURL           string
	Timezone              string
	MaxPrioritySlots      int
	DefaultServiceMinutes float64
	PublishTimeout        time.Duration
	RedisURL              string
	RedisChannelPattern   string
	KafkaBrokers          []string
	KafkaTopic            string
	LogLevel              slog.Level
}

// Load reads the environment, after filling it from a .env file in the
// working directory when one exists. Real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:                  port,
		DatabaseURL:           os.Getenv("DB_DSN"),
		Timezone:              readString("QUEUE_TIMEZONE", "Asia/Jakarta"),
		MaxPrioritySlots:      readInt("MAX_PRIORITY_SLOTS", 30),
		DefaultServiceMinutes: readFloat("DEFAULT_SERVICE_MINUTES", 15),
		PublishTimeout:        readDurationSeconds("PUBLISH_TIMEOUT_SECONDS", 2),
		RedisURL:              os.Getenv("REDIS_URL"),
		RedisChannelPattern:   readString("REDIS_CHANNEL_PATTERN", "queue.%s.broadcast"),
		KafkaBrokers:          readList("KAFKA_BROKERS"),
		KafkaTopic:            readString("KAFKA_TOPIC", "queue.changed"),
		LogLevel:              readLevel("LOG_LEVEL", slog.LevelInfo),
	}
}

// Location resolves the queue time zone, falling back to UTC when the name
// is unknown to the system tz database.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func readString(key, fallback string) string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	return raw
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

func readFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func readList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func readLevel(key string, fallback slog.Level) slog.Level {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return fallback
	}
	return level
}
