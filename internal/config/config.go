package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Config struct {
	// HTTP Server
	Port               string
	CORSAllowedOrigin  string
	RateLimitPerMinute int
	MaxUploadMB        int64

	// Storage
	SQLiteDBPath string
	FilesDir     string

	// AMQP; an empty URL disables change notifications
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Mirror
	MirrorBackend            string
	GoogleSpreadsheetID      string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	GoogleTabPrefix          string

	// Worker
	SyncBatchSize  int
	SyncInterval   time.Duration
	SyncMaxRetries int
	SyncSchedule   string

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		CORSAllowedOrigin:  getEnv("CORS_ALLOWED_ORIGIN", "*"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		MaxUploadMB:        int64(getEnvInt("MAX_UPLOAD_MB", 20)),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/bizdash.db"),
		FilesDir:     getEnv("FILES_DIR", "./data/files"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "bizdash"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "bizdash_changes"),

		MirrorBackend:            getEnv("MIRROR_BACKEND", "memory"),
		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		GoogleTabPrefix:          getEnv("GOOGLE_SHEET_TAB_PREFIX", ""),

		SyncBatchSize:  getEnvInt("SYNC_BATCH_SIZE", 10),
		SyncInterval:   getEnvDuration("SYNC_INTERVAL", 30*time.Second),
		SyncMaxRetries: getEnvInt("SYNC_MAX_RETRIES", 3),
		SyncSchedule:   getEnv("SYNC_SCHEDULE", "@every 5m"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if strings.TrimSpace(c.SQLiteDBPath) == "" {
		errs = append(errs, "SQLITE_DB_PATH cannot be empty")
	}
	if strings.TrimSpace(c.FilesDir) == "" {
		errs = append(errs, "FILES_DIR cannot be empty")
	}

	if c.AMQPURL != "" {
		if parsed, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsed.Scheme))
		}
		if c.AMQPExchange == "" {
			errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errs = append(errs, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	switch c.MirrorBackend {
	case "memory":
	case "sheets":
		if c.GoogleSpreadsheetID == "" {
			errs = append(errs, "GOOGLE_SPREADSHEET_ID is required when using the sheets mirror")
		}
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" && os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
			errs = append(errs, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided for the sheets mirror")
		}
		if f := c.GoogleServiceAccountFile; f != "" {
			if _, err := os.Stat(f); os.IsNotExist(err) {
				errs = append(errs, fmt.Sprintf("Google service account file does not exist: %s", f))
			}
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid mirror backend '%s': must be one of [memory sheets]", c.MirrorBackend))
	}

	if c.SyncBatchSize < 1 || c.SyncBatchSize > 1000 {
		errs = append(errs, fmt.Sprintf("invalid sync batch size %d: must be between 1 and 1000", c.SyncBatchSize))
	}
	if c.SyncInterval < time.Second || c.SyncInterval > 24*time.Hour {
		errs = append(errs, fmt.Sprintf("invalid sync interval %v: must be between 1s and 24h", c.SyncInterval))
	}
	if c.SyncMaxRetries < 1 {
		errs = append(errs, fmt.Sprintf("invalid sync max retries %d: must be at least 1", c.SyncMaxRetries))
	}
	if _, err := cron.ParseStandard(c.SyncSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("invalid sync schedule '%s': %v", c.SyncSchedule, err))
	}

	if c.RateLimitPerMinute < 1 {
		errs = append(errs, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	}
	if c.MaxUploadMB < 1 || c.MaxUploadMB > 100 {
		errs = append(errs, fmt.Sprintf("invalid max upload size %dMB: must be between 1 and 100", c.MaxUploadMB))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("invalid log format '%s': must be text or json", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

// MaxUploadBytes is the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
