package config

import (
	"os"
	"strings"
	"time"
)

// Config captures process-level configuration. Built from environment
// variables so main stays lean; every backing service is optional and the
// zero value degrades to in-memory operation.
type Config struct {
	Addr          string
	PostgresDSN   string
	Redis         RedisConfig
	KafkaBrokers  []string
	KafkaTopic    string
	JWTSigningKey string
}

// RedisConfig holds connection settings for the attribution cache.
type RedisConfig struct {
	URL          string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// LocationTimeout bounds the wait for a location snapshot during session
// creation. On expiry the snapshot degrades to a denial-shaped record.
var LocationTimeout = 10 * time.Second

// MergeWindow is the span within which a new attribution touch folds into an
// existing lead instead of creating a new one. Exclusive above: an age of
// exactly 24h counts as expired.
var MergeWindow = 24 * time.Hour

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	addr := os.Getenv("LEDGER_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	topic := os.Getenv("LEDGER_KAFKA_TOPIC")
	if topic == "" {
		topic = "ledger.events"
	}

	var brokers []string
	if raw := os.Getenv("LEDGER_KAFKA_BROKERS"); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}

	return Config{
		Addr:         addr,
		PostgresDSN:  os.Getenv("LEDGER_POSTGRES_DSN"),
		KafkaBrokers: brokers,
		KafkaTopic:   topic,
		Redis: RedisConfig{
			URL:          os.Getenv("LEDGER_REDIS_URL"),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		JWTSigningKey: os.Getenv("LEDGER_JWT_SIGNING_KEY"),
	}
}
