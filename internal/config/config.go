package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DSN           string
	MigrationsDir string
	HTTPPort      string
	Username      string
	Password      string
	AuditFilter   string

	KafkaBrokers []string
	KafkaGroupID string
	KafkaTopic   string
	ConsumeFeed  bool

	RelayPollInterval time.Duration
	RelayBatchLimit   int
	CacheRefresh      time.Duration
}

func LoadConfig() *Config {
	brokersStr := getEnv("KAFKA_BROKERS", "localhost:9092")
	return &Config{
		DSN:           getEnv("APP_DSN", "host=localhost user=postgres password=postgres dbname=freightdesk sslmode=disable"),
		MigrationsDir: getEnv("APP_MIGRATIONS", "migrations"),
		HTTPPort:      getEnv("APP_PORT", "9000"),
		Username:      getEnv("APP_USER", "admin"),
		Password:      getEnv("APP_PASS", "secret"),
		AuditFilter:   getEnv("APP_AUDIT_FILTER", ""),

		KafkaBrokers: strings.Split(brokersStr, ","),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "tracking-feed"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "tracking-events"),
		ConsumeFeed:  getEnvBool("KAFKA_CONSUME_FEED", false),

		RelayPollInterval: getEnvDuration("RELAY_POLL_INTERVAL", 5*time.Second),
		RelayBatchLimit:   getEnvInt("RELAY_BATCH_LIMIT", 50),
		CacheRefresh:      getEnvDuration("CACHE_REFRESH_INTERVAL", time.Minute),
	}
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%s", c.HTTPPort)
}
