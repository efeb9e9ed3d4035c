package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; only DATABASE_URL is required.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Database
	DatabaseURL    string
	DBMaxConns     int32
	DBMinConns     int32
	DBConnMaxIdle  time.Duration
	MigrationsPath string

	// Upstream services
	ProfileBaseURL  string
	TemplateBaseURL string
	ClientTimeout   time.Duration

	// Channel gateways
	SMSGatewayURL   string
	EmailGatewayURL string
	PushGatewayURL  string
	GatewayTimeout  time.Duration

	// Rate limiting: maximum gateway calls per second per channel
	RateLimit int

	// Outbox drain engines
	PollInterval time.Duration
	BatchSize    int
	Parallelism  int
	NotifyBuffer int

	// Retry budgets and backoff per outbox kind
	RequestMaxRetries int
	RequestBackoff    time.Duration
	RequestBackoffCap time.Duration
	MessageMaxRetries int
	MessageBackoff    time.Duration
	MessageBackoffCap time.Duration

	// Stuck IN_PROGRESS recovery
	SweepInterval time.Duration
	StuckAfter    time.Duration
}

func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL:    dbURL,
		DBMaxConns:     int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:     int32(getInt("DB_MIN_CONNS", 5)),
		DBConnMaxIdle:  getDuration("DB_CONN_MAX_IDLE", 5*time.Minute),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),

		ProfileBaseURL:  getEnv("PROFILE_BASE_URL", "http://localhost:8081"),
		TemplateBaseURL: getEnv("TEMPLATE_BASE_URL", "http://localhost:8082"),
		ClientTimeout:   getDuration("CLIENT_TIMEOUT", 5*time.Second),

		SMSGatewayURL:   getEnv("SMS_GATEWAY_URL", "http://localhost:9081/sms"),
		EmailGatewayURL: getEnv("EMAIL_GATEWAY_URL", "http://localhost:9082/email"),
		PushGatewayURL:  getEnv("PUSH_GATEWAY_URL", "http://localhost:9083/push"),
		GatewayTimeout:  getDuration("GATEWAY_TIMEOUT", 10*time.Second),

		RateLimit: getInt("RATE_LIMIT_PER_CHANNEL", 100),

		PollInterval: getDuration("OUTBOX_POLL_INTERVAL", 5*time.Second),
		BatchSize:    getInt("OUTBOX_BATCH_SIZE", 50),
		Parallelism:  getInt("OUTBOX_PARALLELISM", 10),
		NotifyBuffer: getInt("OUTBOX_NOTIFY_BUFFER", 256),

		RequestMaxRetries: getInt("REQUEST_MAX_RETRIES", 5),
		RequestBackoff:    getDuration("REQUEST_RETRY_BACKOFF", 30*time.Second),
		RequestBackoffCap: getDuration("REQUEST_RETRY_BACKOFF_CAP", 30*time.Minute),
		MessageMaxRetries: getInt("MESSAGE_MAX_RETRIES", 10),
		MessageBackoff:    getDuration("MESSAGE_RETRY_BACKOFF", 30*time.Second),
		MessageBackoffCap: getDuration("MESSAGE_RETRY_BACKOFF_CAP", 5*time.Hour),

		SweepInterval: getDuration("OUTBOX_SWEEP_INTERVAL", time.Minute),
		StuckAfter:    getDuration("OUTBOX_STUCK_AFTER", time.Minute),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
