package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures server and core tuning knobs. FromEnv keeps main lean;
// every value has a working default so the server runs with no env at all
// (in-memory store, no redis, no kafka).
type Config struct {
	Addr string

	// PostgresDSN selects the durable visit store; empty means in-memory.
	PostgresDSN string

	Redis RedisConfig
	Kafka KafkaConfig

	// DedupeTTL bounds the idempotency-token window.
	DedupeTTL time.Duration
	// EventTimeout is the per-event deadline inside a sync batch.
	EventTimeout time.Duration
	// BusBuffer is the per-subscriber backlog before a slow subscriber is
	// dropped.
	BusBuffer int
}

// RedisConfig mirrors the knobs the redis client wrapper applies.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig enables the transition relay when Brokers is set.
type KafkaConfig struct {
	Brokers string // comma-separated seed brokers
	Topic   string
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Addr:        envString("FIELDTRACK_ADDR", ":8080"),
		PostgresDSN: os.Getenv("FIELDTRACK_POSTGRES_DSN"),
		Redis: RedisConfig{
			URL:          os.Getenv("FIELDTRACK_REDIS_URL"),
			PoolSize:     envInt("FIELDTRACK_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("FIELDTRACK_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("FIELDTRACK_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("FIELDTRACK_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("FIELDTRACK_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: os.Getenv("FIELDTRACK_KAFKA_BROKERS"),
			Topic:   envString("FIELDTRACK_KAFKA_TOPIC", "fieldtrack.transitions"),
		},
		DedupeTTL:    envDuration("FIELDTRACK_DEDUPE_TTL", 24*time.Hour),
		EventTimeout: envDuration("FIELDTRACK_EVENT_TIMEOUT", 5*time.Second),
		BusBuffer:    envInt("FIELDTRACK_BUS_BUFFER", 256),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
