package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Upstream order platform configuration
	UpstreamBaseURL    string
	UpstreamAPIToken   string
	UpstreamHMACKey    string
	UpstreamTimeout    time.Duration
	UpstreamRetries    int
	UpstreamBackoff    time.Duration
	UpstreamBackoffCap time.Duration

	// Webhook configuration
	WebhookSecret   string
	WebhookDedupTTL time.Duration
	TicketTagMarker string

	// Bulk import configuration
	ImportPageSize int
	ImportLookback time.Duration
	ImportInterval time.Duration
	AdminTokenHash string

	// Reconciliation configuration
	OrderLockTTL time.Duration

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string
	StaffChannel       string

	// Monitoring
	EnableMetrics bool
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// Upstream platform
		UpstreamBaseURL:    getEnv("UPSTREAM_BASE_URL", "https://orders.example.com"),
		UpstreamAPIToken:   getEnv("UPSTREAM_API_TOKEN", ""),
		UpstreamHMACKey:    getEnv("UPSTREAM_HMAC_KEY", ""),
		UpstreamTimeout:    getEnvAsDuration("UPSTREAM_TIMEOUT", "10s"),
		UpstreamRetries:    getEnvAsInt("UPSTREAM_RETRIES", 3),
		UpstreamBackoff:    getEnvAsDuration("UPSTREAM_BACKOFF", "500ms"),
		UpstreamBackoffCap: getEnvAsDuration("UPSTREAM_BACKOFF_CAP", "5s"),

		// Webhooks
		WebhookSecret:   getEnv("WEBHOOK_SECRET", ""),
		WebhookDedupTTL: getEnvAsDuration("WEBHOOK_DEDUP_TTL", "24h"),
		TicketTagMarker: getEnv("TICKET_TAG_MARKER", "admission-ticket"),

		// Bulk import
		ImportPageSize: getEnvAsInt("IMPORT_PAGE_SIZE", 50),
		ImportLookback: getEnvAsDuration("IMPORT_LOOKBACK", "720h"),
		ImportInterval: getEnvAsDuration("IMPORT_INTERVAL", "6h"),
		AdminTokenHash: getEnv("ADMIN_TOKEN_HASH", ""),

		// Reconciliation
		OrderLockTTL: getEnvAsDuration("ORDER_LOCK_TTL", "30s"),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),
		StaffChannel:       getEnv("STAFF_CHANNEL", "gate-staff"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
